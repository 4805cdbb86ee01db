package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
)

var keyFlags struct {
	category string
	addr     string
	agent    string
}

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Print the window key for a client",
	Long: `Print the key a client is counted under, for matching entries in
/admin/ratelimit/stats or the gateway logs.

Examples:
  gateguard key --category login --addr 203.0.113.7 --agent "Mozilla/5.0"`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cat, err := ratelimit.ParseCategory(keyFlags.category)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), ratelimit.DeriveKey(cat, keyFlags.addr, keyFlags.agent))
		return err
	},
}

func init() {
	keyCmd.Flags().StringVar(&keyFlags.category, "category", "general", "request category")
	keyCmd.Flags().StringVar(&keyFlags.addr, "addr", "", "client network address")
	keyCmd.Flags().StringVar(&keyFlags.agent, "agent", "", "client User-Agent")
}
