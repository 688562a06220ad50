package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestInitConfig_DefaultLocation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}
	if configPath != GetDefaultConfigPath() {
		t.Errorf("Expected %s, got %s", GetDefaultConfigPath(), configPath)
	}
	if !ConfigExists() {
		t.Fatal("Config file was not created at the default location")
	}

	_, err = InitConfig(false)
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}
}

func TestInitConfigToPath(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

		if err := InitConfigToPath(configPath, false); err != nil {
			t.Fatalf("InitConfigToPath failed: %v", err)
		}

		content, err := os.ReadFile(configPath)
		if err != nil {
			t.Fatalf("Failed to read config file: %v", err)
		}

		expectedSections := []string{
			"# knsock configuration file",
			"logging:",
			"server:",
			"adapters:",
			"transfer:",
			"store:",
			"ledger:",
		}
		for _, section := range expectedSections {
			if !strings.Contains(string(content), section) {
				t.Errorf("Config file missing section: %s", section)
			}
		}

		var parsed map[string]any
		if err := yaml.Unmarshal(content, &parsed); err != nil {
			t.Fatalf("Generated config is not valid YAML: %v", err)
		}
	})

	t.Run("ForceOverwrite", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(configPath, []byte("custom: true\n"), 0644); err != nil {
			t.Fatal(err)
		}

		if err := InitConfigToPath(configPath, false); err == nil {
			t.Fatal("Expected error when config already exists")
		}
		if err := InitConfigToPath(configPath, true); err != nil {
			t.Fatalf("Force InitConfigToPath failed: %v", err)
		}

		content, _ := os.ReadFile(configPath)
		if strings.Contains(string(content), "custom: true") {
			t.Error("Expected file to be overwritten")
		}
	})
}

func TestGenerateYAMLWithComments_Durations(t *testing.T) {
	out, err := GenerateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		t.Fatalf("GenerateYAMLWithComments failed: %v", err)
	}

	for _, want := range []string{"shutdown_timeout: 30s", "idle_timeout: 5m0s", "linger_timeout: 5s", "# Transfer history"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected generated YAML to contain %q", want)
		}
	}
	if strings.Contains(out, "30000000000") {
		t.Error("Durations must not be written as nanoseconds")
	}
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Generated config does not load: %v", err)
	}

	want := GetDefaultConfig()
	if cfg.Adapters.Transfer.Port != want.Adapters.Transfer.Port {
		t.Errorf("Expected transfer port %d, got %d", want.Adapters.Transfer.Port, cfg.Adapters.Transfer.Port)
	}
	if cfg.Adapters.JSON.IdleTimeout != 5*time.Minute {
		t.Errorf("Expected idle_timeout 5m, got %v", cfg.Adapters.JSON.IdleTimeout)
	}
	if !cfg.Ledger.Enabled || cfg.Ledger.Path != want.Ledger.Path {
		t.Errorf("Unexpected ledger config: %+v", cfg.Ledger)
	}
	if cfg.Store.Filesystem["path"] != want.Store.Filesystem["path"] {
		t.Errorf("Expected store path %v, got %v", want.Store.Filesystem["path"], cfg.Store.Filesystem["path"])
	}
}
