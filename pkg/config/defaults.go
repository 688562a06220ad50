package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/knsock/pkg/adapter/stream"
	"github.com/marmos91/knsock/pkg/metrics"
	"github.com/marmos91/knsock/pkg/protocol/transfer"
	"github.com/marmos91/knsock/pkg/udp"
)

// Default ports of the endpoints.
const (
	DefaultJSONPort     = 9000
	DefaultTransferPort = 9001
	DefaultRawPort      = 9002
	DefaultUDPPort      = 9003
	DefaultMetricsPort  = metrics.DefaultPort
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", nil) are replaced with defaults
//   - Explicit values are preserved
//   - Enabled flags are never touched; GetDefaultConfig decides which
//     endpoints a fresh configuration starts with
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyAdaptersDefaults(&cfg.Adapters, cfg.Server.ShutdownTimeout)
	applyTransferDefaults(&cfg.Transfer)
	applyStoreDefaults(&cfg.Store)
	applyLedgerDefaults(&cfg.Ledger)
}

func applyTransferDefaults(cfg *TransferConfig) {
	if cfg.LingerTimeout == 0 {
		cfg.LingerTimeout = transfer.DefaultLingerTimeout
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = DefaultMetricsPort
	}
}

func applyAdaptersDefaults(cfg *AdaptersConfig, shutdownTimeout time.Duration) {
	applyStreamDefaults(&cfg.JSON, DefaultJSONPort, shutdownTimeout)
	applyStreamDefaults(&cfg.Transfer, DefaultTransferPort, shutdownTimeout)
	applyStreamDefaults(&cfg.Raw.Config, DefaultRawPort, shutdownTimeout)

	if cfg.Raw.BufferSize == 0 {
		cfg.Raw.BufferSize = 4096
	}

	if cfg.UDP.Port == 0 {
		cfg.UDP.Port = DefaultUDPPort
	}
	if cfg.UDP.BufferSize == 0 {
		cfg.UDP.BufferSize = udp.MaxDatagramSize
	}
}

// applyStreamDefaults fills one stream endpoint. Port 0 in a file means
// "use the default port"; tests that need an ephemeral port build the
// acceptor directly.
func applyStreamDefaults(cfg *stream.Config, port int, shutdownTimeout time.Duration) {
	if cfg.Port == 0 {
		cfg.Port = port
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = shutdownTimeout
	}
	cfg.ApplyDefaults()
}

func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "filesystem"
	}

	if cfg.Filesystem == nil {
		cfg.Filesystem = make(map[string]any)
	}
	if _, ok := cfg.Filesystem["path"]; !ok {
		cfg.Filesystem["path"] = filepath.Join(defaultDataDir(), "received")
	}
}

func applyLedgerDefaults(cfg *LedgerConfig) {
	if cfg.Path == "" && !cfg.InMemory {
		cfg.Path = filepath.Join(defaultDataDir(), "ledger")
	}
}

// defaultDataDir is where received files and the ledger live by default.
func defaultDataDir() string {
	return "/tmp/knsock"
}

// GetDefaultConfig returns the configuration written by InitConfig: the
// JSON and transfer endpoints and the ledger enabled, everything else
// disabled.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	cfg.Adapters.JSON.Enabled = true
	cfg.Adapters.Transfer.Enabled = true
	cfg.Ledger.Enabled = true

	ApplyDefaults(cfg)
	return cfg
}
