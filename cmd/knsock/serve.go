package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/marmos91/knsock/internal/logger"
	"github.com/marmos91/knsock/pkg/config"
	"github.com/marmos91/knsock/pkg/protocol/transfer"
	"github.com/spf13/cobra"
)

// serveCmd runs every enabled endpoint until interrupted.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the configured socket endpoints",
	Long: `Start every adapter enabled in the configuration file.

SIGINT or SIGTERM starts a graceful shutdown: listeners close, in-flight
connections get shutdown_timeout to finish, then are force-closed.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		return err
	}
	if logLevel != "" {
		logger.SetLevel(logLevel)
	}

	// Cancelled on SIGINT/SIGTERM, which starts the graceful shutdown.
	ctx := cmd.Context()

	srv, err := config.BuildServer(ctx, cfg, config.Handlers{
		OnTransfer: func(s *transfer.Session) {
			logger.Debug("Transfer %s finished: %s (%d bytes)", s.ID, s.State, s.Received)
		},
	})
	if err != nil {
		return err
	}

	if err := srv.Start(ctx); err != nil {
		// Releases the store and the ledger.
		_ = srv.Stop(context.Background())
		return fmt.Errorf("failed to start server: %w", err)
	}

	for _, a := range srv.Adapters() {
		fmt.Printf("%s listening on port %s\n", color.CyanString("%-9s", a.Protocol()), color.GreenString("%d", a.Port()))
	}
	logger.Info("Server is running. Press Ctrl+C to stop.")

	err = srv.Wait()
	if err != nil {
		logger.Error("Server stopped with error: %v", err)
		return err
	}
	logger.Info("Server stopped gracefully")
	return nil
}
