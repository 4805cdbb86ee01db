package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AlexKimmel/GateGuard/internal/config"
	"github.com/AlexKimmel/GateGuard/internal/ratelimit"
)

var policiesCmd = &cobra.Command{
	Use:   "policies",
	Short: "Print the effective policy catalog",
	Long: `Print the policy of every category after configuration and
GATEGUARD_<CATEGORY>_MAX_REQUESTS / _WINDOW_SEC overrides are applied.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		catalog, err := cfg.Limits.Catalog()
		if err != nil {
			return err
		}
		return printPolicies(cmd.OutOrStdout(), catalog)
	},
}

func printPolicies(w io.Writer, catalog *ratelimit.Catalog) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CATEGORY\tWINDOW\tMAX\tEXEMPT SUCCESSES\tEXEMPT FAILURES\tADAPTIVE")
	for _, cat := range ratelimit.Categories() {
		p := catalog.PolicyFor(cat)
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%t\t%t\n", cat, p.Window, p.MaxRequests, p.ExemptSuccesses, p.ExemptFailures, p.Adaptive)
	}
	return tw.Flush()
}
