package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/marmos91/knsock/pkg/config"
	"github.com/spf13/cobra"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			path string
			err  error
		)
		if configFile != "" {
			path = configFile
			err = config.InitConfigToPath(path, initForce)
		} else {
			path, err = config.InitConfig(initForce)
		}
		if err != nil {
			return err
		}

		fmt.Printf("%s %s\n", color.GreenString("Configuration written to"), path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing configuration file")
}
