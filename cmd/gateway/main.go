package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "4Runr Gateway — zero-trust request gateway for AI agents",
	Long:  "4Runr Gateway sits between AI agents and the tools they call, enforcing token-based authentication, per-agent policies, parameter validation, rate limits, and resilient upstream execution with a full audit trail.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/gateway.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
