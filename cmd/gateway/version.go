package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/4runr/gateway/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gateway version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gateway v%s\n", version.Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
