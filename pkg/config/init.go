package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// sectionComments are written above the top-level keys of a generated file.
var sectionComments = map[string]string{
	"logging":  "Logging: level (DEBUG, INFO, WARN, ERROR), format (text, json), output (stdout, stderr, path)",
	"server":   "Server-wide settings. Adapters inherit shutdown_timeout unless they set their own.",
	"adapters": "Endpoints. mode is threaded or cooperative; overflow is reject or queue.",
	"transfer": "File transfer receiver limits (0 = unlimited)",
	"store":    "Where received files are committed: filesystem, memory or s3",
	"ledger":   "Transfer history (BadgerDB)",
}

// InitConfig writes the default configuration to the default location and
// returns its path. An existing file is kept unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes the default configuration to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := GenerateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateYAMLWithComments renders cfg as YAML with a header and a comment
// per section. Durations are written in their readable form ("30s").
func GenerateYAMLWithComments(cfg *Config) (string, error) {
	var root yaml.Node
	if err := root.Encode(cfg); err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}

	humanizeDurations(&root)

	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i]
		if comment, ok := sectionComments[key.Value]; ok {
			key.HeadComment = comment
		}
	}

	var b strings.Builder
	b.WriteString("# knsock configuration file\n")
	b.WriteString("#\n")
	b.WriteString("# Every value can be overridden with an environment variable:\n")
	b.WriteString("# KNSOCK_<SECTION>_<KEY>, e.g. KNSOCK_LOGGING_LEVEL=DEBUG\n\n")

	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("failed to render config: %w", err)
	}
	return b.String(), nil
}

// humanizeDurations rewrites integer values of duration keys as strings.
func humanizeDurations(n *yaml.Node) {
	if n.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(n.Content); i += 2 {
			key, value := n.Content[i], n.Content[i+1]
			if isDurationKey(key.Value) && value.Kind == yaml.ScalarNode && value.Tag == "!!int" {
				var d int64
				if err := value.Decode(&d); err == nil {
					value.SetString(time.Duration(d).String())
				}
			}
		}
	}
	for _, child := range n.Content {
		humanizeDurations(child)
	}
}

func isDurationKey(key string) bool {
	return strings.HasSuffix(key, "_timeout") ||
		strings.HasSuffix(key, "_interval") ||
		key == "retention"
}
