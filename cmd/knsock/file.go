package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/marmos91/knsock/pkg/protocol/transfer"
	"github.com/spf13/cobra"
)

var (
	fileName      string
	fileChunkSize int
	fileAlgorithm string
	fileQuiet     bool
)

var fileCmd = &cobra.Command{
	Use:   "file",
	Short: "File transfer client",
}

var fileSendCmd = &cobra.Command{
	Use:   "send ADDR PATH",
	Short: "Upload a file to a transfer endpoint",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := transfer.SendOptions{
			Name:      fileName,
			ChunkSize: fileChunkSize,
			Algorithm: fileAlgorithm,
		}
		if !fileQuiet {
			opts.Progress = func(sent, total int64) {
				fmt.Printf("\r%s %d/%d bytes", color.CyanString("sending"), sent, total)
			}
		}

		// No overall deadline: large files legitimately take long.
		res, err := transfer.SendFileTo(cmd.Context(), args[0], args[1], opts, clientOptions())
		if !fileQuiet {
			fmt.Println()
		}
		if err != nil {
			return err
		}

		fmt.Printf("%s %s (%d bytes, %s %s) session %s\n",
			color.GreenString("stored"), res.Name, res.Size, opts.Algorithm, res.Checksum, res.SessionID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(fileCmd)
	fileCmd.AddCommand(fileSendCmd)
	fileSendCmd.Flags().StringVar(&fileName, "name", "", "Name to store the file under (default: base name of PATH)")
	fileSendCmd.Flags().IntVar(&fileChunkSize, "chunk-size", transfer.DefaultChunkSize, "Chunk size in bytes")
	fileSendCmd.Flags().StringVar(&fileAlgorithm, "algorithm", transfer.DefaultAlgorithm,
		"Checksum algorithm ("+strings.Join(transfer.Algorithms(), ", ")+")")
	fileSendCmd.Flags().BoolVarP(&fileQuiet, "quiet", "q", false, "Do not print progress")
}
