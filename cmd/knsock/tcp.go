package main

import (
	"context"
	"io"
	"os"

	"github.com/marmos91/knsock/pkg/protocol/raw"
	"github.com/spf13/cobra"
)

var tcpCmd = &cobra.Command{
	Use:   "tcp",
	Short: "Raw TCP client",
}

var tcpSendCmd = &cobra.Command{
	Use:   "send ADDR [MESSAGE]",
	Short: "Send bytes over a raw TCP connection and print everything sent back",
	Long: `Send MESSAGE (or standard input when omitted), half-close the
connection and copy the peer's reply to standard output until it closes.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var msg []byte
		if len(args) == 2 {
			msg = []byte(args[1])
		} else {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			msg = data
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		reply, err := raw.Send(ctx, args[0], msg, clientOptions())
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(reply)
		return err
	},
}

func init() {
	rootCmd.AddCommand(tcpCmd)
	tcpCmd.AddCommand(tcpSendCmd)
}
