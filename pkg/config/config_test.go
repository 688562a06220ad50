package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/knsock/pkg/adapter/stream"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_MinimalConfig(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: "info"

adapters:
  json:
    enabled: true
    mode: cooperative
  transfer:
    enabled: true
    max_connections: 8
    overflow: queue
    read_timeout: 10s
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level INFO, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Adapters.JSON.Port != DefaultJSONPort {
		t.Errorf("Expected default JSON port %d, got %d", DefaultJSONPort, cfg.Adapters.JSON.Port)
	}
	if cfg.Adapters.JSON.Mode != stream.ModeCooperative {
		t.Errorf("Expected cooperative mode, got %q", cfg.Adapters.JSON.Mode)
	}
	if cfg.Adapters.Transfer.Overflow != stream.OverflowQueue {
		t.Errorf("Expected queue overflow, got %q", cfg.Adapters.Transfer.Overflow)
	}
	if cfg.Adapters.Transfer.ReadTimeout != 10*time.Second {
		t.Errorf("Expected read_timeout 10s, got %v", cfg.Adapters.Transfer.ReadTimeout)
	}
	if cfg.Adapters.Transfer.ShutdownTimeout != cfg.Server.ShutdownTimeout {
		t.Errorf("Expected adapter to inherit shutdown timeout, got %v", cfg.Adapters.Transfer.ShutdownTimeout)
	}
	if cfg.Store.Type != "filesystem" {
		t.Errorf("Expected default store type 'filesystem', got %q", cfg.Store.Type)
	}
	if cfg.Adapters.Raw.Enabled || cfg.Adapters.UDP.Enabled {
		t.Error("Expected raw and udp adapters to stay disabled")
	}
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: INFO
adapters:
  json:
    enabled: true
    port: 9100
`)
	t.Setenv("KNSOCK_LOGGING_LEVEL", "debug")
	t.Setenv("KNSOCK_ADAPTERS_JSON_PORT", "9200")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected env override DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Adapters.JSON.Port != 9200 {
		t.Errorf("Expected env override port 9200, got %d", cfg.Adapters.JSON.Port)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err == nil {
		t.Fatal("Expected validation error: nothing is enabled without a file")
	}
	if !strings.Contains(err.Error(), "at least one adapter") {
		t.Errorf("Expected 'at least one adapter' error, got: %v", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: [unterminated\n")

	if _, err := Load(path); err == nil {
		t.Fatal("Expected error for invalid YAML")
	}
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[adapters.raw]
enabled = true
port = 9300
buffer_size = 128
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}
	if !cfg.Adapters.Raw.Enabled || cfg.Adapters.Raw.Port != 9300 || cfg.Adapters.Raw.BufferSize != 128 {
		t.Errorf("Unexpected raw adapter config: %+v", cfg.Adapters.Raw)
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if err := Validate(cfg); err != nil {
		t.Fatalf("Default config does not validate: %v", err)
	}
	if !cfg.Adapters.JSON.Enabled || !cfg.Adapters.Transfer.Enabled {
		t.Error("Expected json and transfer adapters enabled by default")
	}
	if !cfg.Ledger.Enabled || cfg.Ledger.Path == "" {
		t.Error("Expected ledger enabled with a path")
	}
	if cfg.Adapters.Transfer.Mode != stream.ModeThreaded {
		t.Errorf("Expected threaded mode by default, got %q", cfg.Adapters.Transfer.Mode)
	}
	if cfg.Adapters.Transfer.Overflow != stream.OverflowReject {
		t.Errorf("Expected reject overflow by default, got %q", cfg.Adapters.Transfer.Overflow)
	}
}
