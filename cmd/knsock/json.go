package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/marmos91/knsock/pkg/protocol/jsonsock"
	"github.com/spf13/cobra"
)

var jsonWait bool

var jsonCmd = &cobra.Command{
	Use:   "json",
	Short: "Framed JSON client",
}

var jsonSendCmd = &cobra.Command{
	Use:   "send ADDR DOCUMENT",
	Short: "Send one JSON document, optionally waiting for the reply",
	Example: `  knsock json send localhost:9000 '[1,2,3]'
  knsock json send --wait localhost:9000 '{"op":"ping"}'`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := args[0]

		var doc any
		if err := json.Unmarshal([]byte(args[1]), &doc); err != nil {
			return fmt.Errorf("document is not valid JSON: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		if !jsonWait {
			return jsonsock.SendJSONTo(ctx, addr, doc, clientOptions())
		}

		var reply json.RawMessage
		if err := jsonsock.RequestTo(ctx, addr, doc, &reply, clientOptions()); err != nil {
			return err
		}
		fmt.Println(string(reply))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jsonCmd)
	jsonCmd.AddCommand(jsonSendCmd)
	jsonSendCmd.Flags().BoolVar(&jsonWait, "wait", false, "Wait for the response document and print it")
}
