package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/fatih/color"
	"github.com/marmos91/knsock/pkg/udp"
	"github.com/spf13/cobra"
)

var (
	udpWait bool
	udpHost string
	udpPort int
	udpEcho bool
)

var udpCmd = &cobra.Command{
	Use:   "udp",
	Short: "UDP client and listener",
}

var udpSendCmd = &cobra.Command{
	Use:   "send ADDR MESSAGE",
	Short: "Send one datagram",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		if !udpWait {
			return udp.Send(ctx, args[0], []byte(args[1]))
		}

		reply, err := udp.Request(ctx, args[0], []byte(args[1]))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(os.Stdout, string(reply))
		return err
	},
}

var udpListenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print every datagram received until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		handler := udp.HandlerFunc(func(_ context.Context, from net.Addr, data []byte) ([]byte, error) {
			fmt.Printf("%s %s\n", color.CyanString("[%s]", from), data)
			if udpEcho {
				return data, nil
			}
			return nil, nil
		})

		srv := udp.New(udp.Config{
			Enabled:    true,
			Host:       udpHost,
			Port:       udpPort,
			BufferSize: udp.MaxDatagramSize,
		}, handler)

		if err := srv.Listen(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("Listening on %s\n", color.GreenString(srv.Addr().String()))
		return srv.Serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(udpCmd)
	udpCmd.AddCommand(udpSendCmd, udpListenCmd)

	udpSendCmd.Flags().BoolVar(&udpWait, "wait", false, "Wait for a reply datagram and print it")

	udpListenCmd.Flags().StringVar(&udpHost, "host", "", "Address to bind (default: all interfaces)")
	udpListenCmd.Flags().IntVar(&udpPort, "port", 9003, "Port to bind")
	udpListenCmd.Flags().BoolVar(&udpEcho, "echo", false, "Send every datagram back to its sender")
}
