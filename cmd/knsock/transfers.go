package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/marmos91/knsock/pkg/config"
	"github.com/marmos91/knsock/pkg/ledger"
	"github.com/spf13/cobra"
)

var (
	ledgerPath    string
	transferLimit int
)

var transfersCmd = &cobra.Command{
	Use:   "transfers",
	Short: "Inspect the transfer ledger",
}

var transfersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded transfers, newest first",
	Long: `List the transfers recorded in the ledger. The server must be stopped:
the ledger database is locked while knsock serve runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := ledgerPath
		if path == "" {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			path = cfg.Ledger.Path
		}

		l, err := ledger.Open(cmd.Context(), ledger.Config{Path: path})
		if err != nil {
			return err
		}
		defer func() { _ = l.Close() }()

		records, err := l.List(cmd.Context(), transferLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSIZE\tSTATUS\tPEER\tFINISHED")
		for _, r := range records {
			status := color.GreenString(r.Status)
			if r.Status != ledger.StatusComplete {
				status = color.RedString("%s (%s)", r.Status, r.ErrorCode)
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
				r.ID, r.Name, r.Size, status, r.Peer, r.FinishedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(transfersCmd)
	transfersCmd.AddCommand(transfersListCmd)
	transfersListCmd.Flags().StringVar(&ledgerPath, "ledger", "", "Ledger directory (default: ledger.path from the configuration)")
	transfersListCmd.Flags().IntVar(&transferLimit, "limit", 50, "Maximum number of records (0 for all)")
}
