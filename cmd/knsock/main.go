package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/marmos91/knsock/internal/logger"
	"github.com/marmos91/knsock/pkg/config"
	"github.com/marmos91/knsock/pkg/conn"
	"github.com/spf13/cobra"
)

var (
	configFile string
	logLevel   string
	timeout    time.Duration
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "knsock",
	Short: "Socket toolkit: framed JSON, file transfer, raw TCP and UDP",
	Long: `knsock serves and talks to four kinds of socket endpoints:

- json:     length-prefixed JSON request/response
- transfer: chunked file upload with checksum verification
- raw:      unframed TCP byte streams
- udp:      single-datagram request/response

Use 'knsock init' to write a configuration file and 'knsock serve' to run
every enabled endpoint. The remaining commands are clients.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if logLevel != "" {
			logger.SetLevel(logLevel)
		}
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Configuration file (default: "+config.GetDefaultConfigPath()+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "Per-operation timeout for client commands")
}

// clientOptions are the connection options shared by client commands.
func clientOptions() conn.Options {
	return conn.Options{
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
}
