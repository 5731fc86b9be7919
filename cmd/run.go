package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newRunCmd creates the 'run' subcommand, which chains every stage with the
// configured defaults. A configuration error stops the chain; other stage
// failures are alerted and reported, and make the exit code non-zero.
func newRunCmd() *cobra.Command {
	var skipDiscovery, skipEnrichment, skipDelivery bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Runs discover, enrich, send and report in order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			runner, err := a.Runner()
			if err != nil {
				return err
			}
			plan := a.DefaultPlan()
			plan.SkipDiscovery = skipDiscovery
			plan.SkipEnrichment = skipEnrichment
			plan.SkipDelivery = skipDelivery

			res, err := runner.Run(cmd.Context(), plan)
			fmt.Fprintln(cmd.OutOrStdout(), res.Text())
			if res.ReportURI != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "archived:", res.ReportURI)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&skipDiscovery, "skip-discovery", false, "skip the discovery stage")
	cmd.Flags().BoolVar(&skipEnrichment, "skip-enrichment", false, "skip the enrichment stage")
	cmd.Flags().BoolVar(&skipDelivery, "skip-delivery", false, "skip the delivery stage")
	return cmd
}
