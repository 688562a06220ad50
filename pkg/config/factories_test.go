package config

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/knsock/internal/logger"
	"github.com/marmos91/knsock/pkg/conn"
	"github.com/marmos91/knsock/pkg/protocol/jsonsock"
	"github.com/marmos91/knsock/pkg/protocol/raw"
	"github.com/marmos91/knsock/pkg/udp"
)

func TestCreateStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Filesystem", func(t *testing.T) {
		s, err := CreateStore(ctx, &StoreConfig{
			Type:       "filesystem",
			Filesystem: map[string]any{"path": t.TempDir()},
		})
		if err != nil {
			t.Fatalf("Failed to create filesystem store: %v", err)
		}
		if s.Type() != "filesystem" {
			t.Errorf("Expected filesystem store, got %s", s.Type())
		}
	})

	t.Run("FilesystemCleansStaleStagingOnce", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, ".old.bin.42.part"), []byte("junk"), 0644); err != nil {
			t.Fatal(err)
		}

		logPath := filepath.Join(t.TempDir(), "knsock.log")
		if err := logger.SetOutput(logPath); err != nil {
			t.Fatal(err)
		}
		defer func() { _ = logger.SetOutput("stdout") }()

		if _, err := CreateStore(ctx, &StoreConfig{Type: "filesystem", Filesystem: map[string]any{"path": dir}}); err != nil {
			t.Fatalf("Failed to create filesystem store: %v", err)
		}

		if _, err := os.Stat(filepath.Join(dir, ".old.bin.42.part")); !os.IsNotExist(err) {
			t.Errorf("Expected stale staging file to be removed, got: %v", err)
		}

		logged, err := os.ReadFile(logPath)
		if err != nil {
			t.Fatal(err)
		}
		if n := strings.Count(string(logged), "stale staging file(s)"); n != 1 {
			t.Errorf("Expected the cleanup to be logged once, got %d times:\n%s", n, logged)
		}
	})

	t.Run("FilesystemMissingPath", func(t *testing.T) {
		_, err := CreateStore(ctx, &StoreConfig{Type: "filesystem", Filesystem: map[string]any{}})
		if err == nil || !strings.Contains(err.Error(), "path is required") {
			t.Errorf("Expected 'path is required' error, got: %v", err)
		}
	})

	t.Run("Memory", func(t *testing.T) {
		s, err := CreateStore(ctx, &StoreConfig{Type: "memory"})
		if err != nil {
			t.Fatalf("Failed to create memory store: %v", err)
		}
		if s.Type() != "memory" {
			t.Errorf("Expected memory store, got %s", s.Type())
		}
	})

	t.Run("S3MissingBucket", func(t *testing.T) {
		_, err := CreateStore(ctx, &StoreConfig{Type: "s3", S3: map[string]any{"region": "us-east-1"}})
		if err == nil || !strings.Contains(err.Error(), "bucket is required") {
			t.Errorf("Expected 'bucket is required' error, got: %v", err)
		}
	})

	t.Run("S3MissingRegion", func(t *testing.T) {
		_, err := CreateStore(ctx, &StoreConfig{Type: "s3", S3: map[string]any{"bucket": "b"}})
		if err == nil || !strings.Contains(err.Error(), "region is required") {
			t.Errorf("Expected 'region is required' error, got: %v", err)
		}
	})

	t.Run("UnknownType", func(t *testing.T) {
		_, err := CreateStore(ctx, &StoreConfig{Type: "tape"})
		if err == nil || !strings.Contains(err.Error(), "unknown store type") {
			t.Errorf("Expected 'unknown store type' error, got: %v", err)
		}
	})
}

func TestCreateLedger(t *testing.T) {
	l, err := CreateLedger(context.Background(), &LedgerConfig{})
	if err != nil || l != nil {
		t.Fatalf("Expected nil ledger when disabled, got %v, %v", l, err)
	}

	cfg := &LedgerConfig{Enabled: true}
	cfg.InMemory = true
	l, err = CreateLedger(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Failed to open in-memory ledger: %v", err)
	}
	defer l.Close()
}

func TestCreateAdapters(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Adapters.Raw.Enabled = true
	cfg.Adapters.UDP.Enabled = true

	store, err := CreateStore(context.Background(), &StoreConfig{Type: "memory"})
	if err != nil {
		t.Fatal(err)
	}

	adapters, err := CreateAdapters(cfg, Dependencies{Store: store}, Handlers{})
	if err != nil {
		t.Fatalf("CreateAdapters failed: %v", err)
	}

	var protocols []string
	for _, a := range adapters {
		protocols = append(protocols, a.Protocol())
	}
	want := "json,transfer,raw,udp"
	if got := strings.Join(protocols, ","); got != want {
		t.Errorf("Expected adapters %s, got %s", want, got)
	}

	if _, err := CreateAdapters(cfg, Dependencies{}, Handlers{}); err == nil {
		t.Error("Expected error: transfer adapter without a store")
	}
}

func TestInitializeMetrics_Disabled(t *testing.T) {
	result := InitializeMetrics(GetDefaultConfig())
	if result.Server != nil {
		t.Error("Expected no metrics server when disabled")
	}
	if result.Socket == nil {
		t.Error("Expected a no-op collector")
	}
}

// freePort returns a TCP port that was free a moment ago.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestBuildServer(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Store = StoreConfig{Type: "filesystem", Filesystem: map[string]any{"path": t.TempDir()}}
	cfg.Ledger.Path = t.TempDir()
	cfg.Server.ShutdownTimeout = 2 * time.Second

	cfg.Adapters.JSON.Port = freePort(t)
	cfg.Adapters.Transfer.Port = freePort(t)
	cfg.Adapters.Raw.Port = freePort(t)
	cfg.Adapters.JSON.Host = "127.0.0.1"
	cfg.Adapters.Transfer.Host = "127.0.0.1"
	cfg.Adapters.Raw.Host = "127.0.0.1"
	cfg.Adapters.Raw.Enabled = true
	cfg.Adapters.UDP.Enabled = true
	cfg.Adapters.UDP.Host = "127.0.0.1"
	cfg.Adapters.UDP.Port = freePort(t)
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		t.Fatalf("Config invalid: %v", err)
	}

	srv, err := BuildServer(context.Background(), cfg, Handlers{})
	if err != nil {
		t.Fatalf("BuildServer failed: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer func() {
		if err := srv.Stop(context.Background()); err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	}()

	var out map[string]any
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Adapters.JSON.Port))
	if err := jsonsock.RequestTo(context.Background(), addr, map[string]any{"ping": true}, &out, conn.Options{}); err != nil {
		t.Fatalf("JSON request failed: %v", err)
	}
	if out["ping"] != true {
		t.Errorf("Expected echoed document, got %v", out)
	}

	reply, err := raw.Send(context.Background(), net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Adapters.Raw.Port)), []byte("raw"), conn.Options{})
	if err != nil || string(reply) != "raw" {
		t.Errorf("Raw echo failed: %q, %v", reply, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err = udp.Request(ctx, net.JoinHostPort("127.0.0.1", strconv.Itoa(cfg.Adapters.UDP.Port)), []byte("udp"))
	if err != nil || string(reply) != "udp" {
		t.Errorf("UDP echo failed: %q, %v", reply, err)
	}
}
