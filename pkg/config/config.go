package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/knsock/pkg/adapter/stream"
	"github.com/marmos91/knsock/pkg/ledger"
	"github.com/marmos91/knsock/pkg/udp"
	"github.com/spf13/viper"
)

// Config represents the complete knsock configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (KNSOCK_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// The store section names a type and carries one option map per type
// (store.filesystem, store.s3). Only the map matching the selected type is
// decoded, by the store's own factory.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging" json:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`

	// Adapters contains one section per endpoint
	Adapters AdaptersConfig `mapstructure:"adapters" yaml:"adapters" json:"adapters"`

	// Transfer contains limits of the file transfer receiver
	Transfer TransferConfig `mapstructure:"transfer" yaml:"transfer" json:"transfer"`

	// Store selects where received files are committed
	Store StoreConfig `mapstructure:"store" yaml:"store" json:"store"`

	// Ledger configures the transfer history database
	Ledger LedgerConfig `mapstructure:"ledger" yaml:"ledger" json:"ledger"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" json:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" jsonschema:"enum=DEBUG,enum=INFO,enum=WARN,enum=ERROR"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" json:"format" validate:"required,oneof=text json" jsonschema:"enum=text,enum=json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" json:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	// Adapters without their own shutdown_timeout inherit it.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
}

// MetricsConfig controls the Prometheus HTTP endpoint.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the /metrics endpoint
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	// Host to bind. Empty binds all interfaces.
	Host string `mapstructure:"host" yaml:"host" json:"host,omitempty"`

	// Port of the metrics HTTP server
	Port int `mapstructure:"port" yaml:"port" json:"port" validate:"min=0,max=65535"`
}

// AdaptersConfig contains all endpoint configurations.
type AdaptersConfig struct {
	// JSON is the JSON request/response endpoint
	JSON stream.Config `mapstructure:"json" yaml:"json" json:"json"`

	// Transfer is the file transfer endpoint
	Transfer stream.Config `mapstructure:"transfer" yaml:"transfer" json:"transfer"`

	// Raw is the unframed TCP endpoint
	Raw RawConfig `mapstructure:"raw" yaml:"raw" json:"raw"`

	// UDP is the datagram endpoint
	UDP udp.Config `mapstructure:"udp" yaml:"udp" json:"udp"`
}

// RawConfig is a stream endpoint with a read size.
type RawConfig struct {
	stream.Config `mapstructure:",squash" yaml:",inline"`

	// BufferSize is the largest read handed to the handler
	BufferSize int `mapstructure:"buffer_size" yaml:"buffer_size" json:"buffer_size" validate:"min=0"`
}

// TransferConfig contains receiver limits.
type TransferConfig struct {
	// MaxFileSize refuses larger handshakes. 0 means unlimited.
	MaxFileSize int64 `mapstructure:"max_file_size" yaml:"max_file_size" json:"max_file_size" validate:"min=0"`

	// MaxChunkSize refuses larger body frames. 0 leaves the frame limit
	// as the only bound.
	MaxChunkSize int `mapstructure:"max_chunk_size" yaml:"max_chunk_size" json:"max_chunk_size" validate:"min=0"`

	// LingerTimeout bounds how long the body of a refused transfer is
	// drained so the sender can still read why it was refused.
	LingerTimeout time.Duration `mapstructure:"linger_timeout" yaml:"linger_timeout" json:"linger_timeout" validate:"min=0"`
}

// StoreConfig specifies the destination store.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type StoreConfig struct {
	// Type specifies which store implementation to use
	// Valid values: filesystem, memory, s3
	Type string `mapstructure:"type" yaml:"type" json:"type" validate:"required,oneof=filesystem memory s3" jsonschema:"enum=filesystem,enum=memory,enum=s3"`

	// Filesystem contains filesystem-specific configuration
	// Only used when Type = "filesystem"
	Filesystem map[string]any `mapstructure:"filesystem" yaml:"filesystem" json:"filesystem,omitempty"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3,omitempty" json:"s3,omitempty"`
}

// LedgerConfig configures the transfer ledger.
type LedgerConfig struct {
	// Enabled records every transfer session
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`

	ledger.Config `mapstructure:",squash" yaml:",inline"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (KNSOCK_*)
//  2. Configuration file
//  3. Default values
//
// A missing configuration file is not an error: defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: KNSOCK_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("KNSOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/knsock/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "knsock")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "knsock")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
