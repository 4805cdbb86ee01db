package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gateguard",
	Short: "GateGuard - rate limiting gateway for authentication endpoints",
	Long: `GateGuard proxies HTTP traffic to upstream services and limits each client
per request category (general, login, password-reset, token-refresh) using
fixed windows. Categories marked adaptive tighten their ceiling for clients
whose recent requests mostly failed.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path (empty for defaults and environment only)")

	rootCmd.AddCommand(serveCmd, policiesCmd, keyCmd)
}
