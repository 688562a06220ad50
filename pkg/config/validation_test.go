package config

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "Defaults",
			mutate: func(cfg *Config) {},
		},
		{
			name:    "InvalidLogLevel",
			mutate:  func(cfg *Config) { cfg.Logging.Level = "TRACE" },
			wantErr: "Level",
		},
		{
			name:    "InvalidLogFormat",
			mutate:  func(cfg *Config) { cfg.Logging.Format = "xml" },
			wantErr: "Format",
		},
		{
			name:    "InvalidStoreType",
			mutate:  func(cfg *Config) { cfg.Store.Type = "ftp" },
			wantErr: "Type",
		},
		{
			name:    "InvalidMode",
			mutate:  func(cfg *Config) { cfg.Adapters.JSON.Mode = "forked" },
			wantErr: "Mode",
		},
		{
			name:    "InvalidOverflow",
			mutate:  func(cfg *Config) { cfg.Adapters.Transfer.Overflow = "drop" },
			wantErr: "Overflow",
		},
		{
			name:    "PortOutOfRange",
			mutate:  func(cfg *Config) { cfg.Adapters.JSON.Port = 70000 },
			wantErr: "Port",
		},
		{
			name: "NoAdapters",
			mutate: func(cfg *Config) {
				cfg.Adapters.JSON.Enabled = false
				cfg.Adapters.Transfer.Enabled = false
			},
			wantErr: "at least one adapter",
		},
		{
			name:    "DuplicatePorts",
			mutate:  func(cfg *Config) { cfg.Adapters.Transfer.Port = cfg.Adapters.JSON.Port },
			wantErr: "already used",
		},
		{
			name: "UDPMaySharePortNumber",
			mutate: func(cfg *Config) {
				cfg.Adapters.UDP.Enabled = true
				cfg.Adapters.UDP.Port = cfg.Adapters.JSON.Port
			},
		},
		{
			name: "MetricsPortConflict",
			mutate: func(cfg *Config) {
				cfg.Server.Metrics.Enabled = true
				cfg.Server.Metrics.Port = cfg.Adapters.JSON.Port
			},
			wantErr: "server.metrics",
		},
		{
			name:    "ChunkLargerThanFrame",
			mutate:  func(cfg *Config) { cfg.Transfer.MaxChunkSize = cfg.Adapters.Transfer.MaxFrameSize + 1 },
			wantErr: "max_chunk_size",
		},
		{
			name:    "LedgerWithoutPath",
			mutate:  func(cfg *Config) { cfg.Ledger.Path = "" },
			wantErr: "ledger",
		},
		{
			name: "InMemoryLedgerNeedsNoPath",
			mutate: func(cfg *Config) {
				cfg.Ledger.Path = ""
				cfg.Ledger.InMemory = true
			},
		},
		{
			name:    "ZeroShutdownTimeout",
			mutate:  func(cfg *Config) { cfg.Server.ShutdownTimeout = 0 },
			wantErr: "ShutdownTimeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected valid config, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}
