package config

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/marmos91/knsock/internal/logger"
	"github.com/marmos91/knsock/pkg/adapter"
	"github.com/marmos91/knsock/pkg/adapter/stream"
	"github.com/marmos91/knsock/pkg/ledger"
	"github.com/marmos91/knsock/pkg/metrics"
	promMetrics "github.com/marmos91/knsock/pkg/metrics/prometheus"
	"github.com/marmos91/knsock/pkg/protocol/jsonsock"
	"github.com/marmos91/knsock/pkg/protocol/raw"
	"github.com/marmos91/knsock/pkg/protocol/transfer"
	"github.com/marmos91/knsock/pkg/server"
	"github.com/marmos91/knsock/pkg/store"
	storefs "github.com/marmos91/knsock/pkg/store/fs"
	storememory "github.com/marmos91/knsock/pkg/store/memory"
	stores3 "github.com/marmos91/knsock/pkg/store/s3"
	"github.com/marmos91/knsock/pkg/udp"
	"github.com/mitchellh/mapstructure"
)

// CreateStore creates the destination store based on configuration.
//
// The Type field selects the implementation; the matching option map is
// decoded with mapstructure into that store's configuration.
//
// Supported types:
//   - "filesystem": files under a local directory (pkg/store/fs)
//   - "memory": files kept in process memory (pkg/store/memory)
//   - "s3": objects in an S3 or S3-compatible bucket (pkg/store/s3)
func CreateStore(ctx context.Context, cfg *StoreConfig) (store.Store, error) {
	switch cfg.Type {
	case "filesystem":
		return createFilesystemStore(ctx, cfg.Filesystem)
	case "memory":
		return storememory.New(), nil
	case "s3":
		return createS3Store(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown store type: %q", cfg.Type)
	}
}

func createFilesystemStore(ctx context.Context, options map[string]any) (store.Store, error) {
	var fsCfg storefs.Config
	if err := mapstructure.Decode(options, &fsCfg); err != nil {
		return nil, fmt.Errorf("failed to decode filesystem store config: %w", err)
	}
	if fsCfg.Path == "" {
		return nil, fmt.Errorf("filesystem store: path is required")
	}

	s, err := storefs.New(ctx, fsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem store: %w", err)
	}

	// Leftovers of transfers interrupted by a crash. CleanStale logs what it removes.
	if _, err := s.CleanStale(); err != nil {
		logger.Warn("Could not clean stale staging files in %s: %v", s.Root(), err)
	}
	return s, nil
}

func createS3Store(ctx context.Context, options map[string]any) (store.Store, error) {
	type s3StoreConfig struct {
		stores3.ClientConfig `mapstructure:",squash"`

		Bucket     string `mapstructure:"bucket"`
		KeyPrefix  string `mapstructure:"key_prefix"`
		StagingDir string `mapstructure:"staging_dir"`
	}

	var s3Cfg s3StoreConfig
	if err := mapstructure.Decode(options, &s3Cfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 store config: %w", err)
	}
	if s3Cfg.Bucket == "" {
		return nil, fmt.Errorf("S3 store: bucket is required")
	}
	if s3Cfg.Region == "" {
		return nil, fmt.Errorf("S3 store: region is required")
	}

	client, err := stores3.NewClient(ctx, s3Cfg.ClientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	s, err := stores3.New(ctx, stores3.Config{
		Client:     client,
		Bucket:     s3Cfg.Bucket,
		KeyPrefix:  s3Cfg.KeyPrefix,
		StagingDir: s3Cfg.StagingDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 store: %w", err)
	}
	return s, nil
}

// CreateLedger opens the transfer ledger. Returns nil when disabled.
func CreateLedger(ctx context.Context, cfg *LedgerConfig) (*ledger.Ledger, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	l, err := ledger.Open(ctx, cfg.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return l, nil
}

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// Socket is the collector shared by every adapter (never nil, no-op if disabled)
	Socket metrics.SocketMetrics
}

// InitializeMetrics creates the metrics components.
//
// If metrics are disabled, returns a nil server and a no-op collector.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{Socket: metrics.NewNoopSocketMetrics()}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{
			Host: cfg.Server.Metrics.Host,
			Port: cfg.Server.Metrics.Port,
		}),
		Socket: promMetrics.NewSocketMetrics(),
	}
}

// Handlers selects the application logic of the request/response
// endpoints. nil fields fall back to echoing the request.
type Handlers struct {
	JSON jsonsock.Handler
	Raw  raw.Handler
	UDP  udp.Handler

	// OnTransfer observes every finished transfer session.
	OnTransfer func(s *transfer.Session)
}

// EchoJSON answers every document with itself.
var EchoJSON = jsonsock.HandlerFunc(func(_ context.Context, msg *jsonsock.Message) (any, error) {
	return msg.Doc, nil
})

// EchoUDP answers every datagram with itself.
var EchoUDP = udp.HandlerFunc(func(_ context.Context, _ net.Addr, data []byte) ([]byte, error) {
	return data, nil
})

// Dependencies are the shared components adapters are wired to.
type Dependencies struct {
	Store   store.Store
	Ledger  transfer.Recorder
	Metrics metrics.SocketMetrics
}

// CreateAdapters creates all enabled adapters from the configuration, in
// a fixed order: json, transfer, raw, udp.
func CreateAdapters(cfg *Config, deps Dependencies, handlers Handlers) ([]adapter.Adapter, error) {
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNoopSocketMetrics()
	}

	var adapters []adapter.Adapter

	if cfg.Adapters.JSON.Enabled {
		h := handlers.JSON
		if h == nil {
			h = EchoJSON
		}
		adapters = append(adapters, stream.New(jsonsock.Protocol, cfg.Adapters.JSON,
			jsonsock.NewServer(h, jsonsock.WithMetrics(m)), stream.WithMetrics(m)))
	}

	if cfg.Adapters.Transfer.Enabled {
		if deps.Store == nil {
			return nil, fmt.Errorf("transfer adapter requires a store")
		}
		receiver := transfer.NewReceiver(transfer.ReceiverConfig{
			Store:         deps.Store,
			Ledger:        deps.Ledger,
			MaxFileSize:   cfg.Transfer.MaxFileSize,
			MaxChunkSize:  cfg.Transfer.MaxChunkSize,
			LingerTimeout: cfg.Transfer.LingerTimeout,
			Metrics:       m,
			OnSession:     handlers.OnTransfer,
		})
		adapters = append(adapters, stream.New(transfer.Protocol, cfg.Adapters.Transfer, receiver, stream.WithMetrics(m)))
	}

	if cfg.Adapters.Raw.Enabled {
		h := handlers.Raw
		if h == nil {
			h = raw.Echo
		}
		adapters = append(adapters, stream.New(raw.Protocol, cfg.Adapters.Raw.Config,
			raw.NewServer(h, raw.WithBufferSize(cfg.Adapters.Raw.BufferSize), raw.WithMetrics(m)),
			stream.WithMetrics(m)))
	}

	if cfg.Adapters.UDP.Enabled {
		h := handlers.UDP
		if h == nil {
			h = EchoUDP
		}
		adapters = append(adapters, udp.New(cfg.Adapters.UDP, h, udp.WithMetrics(m)))
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}
	return adapters, nil
}

// BuildServer wires store, ledger, metrics and adapters into a server.
// The server closes the store and the ledger when it stops.
func BuildServer(ctx context.Context, cfg *Config, handlers Handlers) (*server.Server, error) {
	metricsResult := InitializeMetrics(cfg)

	var (
		dst store.Store
		err error
	)
	if cfg.Adapters.Transfer.Enabled {
		dst, err = CreateStore(ctx, &cfg.Store)
		if err != nil {
			return nil, err
		}
		logger.Info("Transfer store: %s", dst.Type())
	}

	l, err := CreateLedger(ctx, &cfg.Ledger)
	if err != nil {
		if dst != nil {
			_ = dst.Close()
		}
		return nil, err
	}

	deps := Dependencies{Store: dst, Metrics: metricsResult.Socket}
	if l != nil {
		deps.Ledger = l
	}

	adapters, err := CreateAdapters(cfg, deps, handlers)
	if err != nil {
		if l != nil {
			_ = l.Close()
		}
		if dst != nil {
			_ = dst.Close()
		}
		return nil, err
	}

	// Adapters force-close at their own deadline; leave them room to do so.
	opts := []server.Option{server.WithStopTimeout(cfg.Server.ShutdownTimeout + 5*time.Second)}
	if metricsResult.Server != nil {
		opts = append(opts, server.WithMetricsServer(metricsResult.Server))
	}
	if dst != nil {
		opts = append(opts, server.WithCloser(dst))
	}
	if l != nil {
		opts = append(opts, server.WithCloser(l))
	}

	srv := server.New(opts...)
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			_ = srv.Stop(ctx)
			return nil, err
		}
	}
	return srv, nil
}
