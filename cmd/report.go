package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/outreach-pipeline/internal/pipeline"
)

func newReportCmd() *cobra.Command {
	var (
		window string
		notify bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Builds the windowed report, archives it and optionally alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			w := a.Config().Report.Window
			if cmd.Flags().Changed("window") {
				if w, err = pipeline.ParseWindow(window); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("notify") {
				notify = a.Config().Alert.SendSummary
			}

			reporter := a.Reporter()
			rep, err := reporter.Report(cmd.Context(), w)
			if err != nil {
				return stageFailed(cmd.Context(), a, pipeline.StageReporting, err)
			}
			uri, err := reporter.Publish(cmd.Context(), rep, pipeline.PublishOptions{Notify: notify})
			fmt.Fprintln(cmd.OutOrStdout(), rep.Text())
			if uri != "" {
				fmt.Fprintln(cmd.OutOrStdout(), "archived:", uri)
			}
			return stageFailed(cmd.Context(), a, pipeline.StageReporting, err)
		},
	}
	cmd.Flags().StringVar(&window, "window", "", "report window, e.g. 24h or 7d")
	cmd.Flags().BoolVar(&notify, "notify", false, "send the report as a summary alert")
	return cmd
}

// newStatsCmd prints the report without archiving or alerting.
func newStatsCmd() *cobra.Command {
	var window string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Prints pipeline counts for a window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			w := a.Config().Report.Window
			if window != "" {
				if w, err = pipeline.ParseWindow(window); err != nil {
					return err
				}
			}
			rep, err := a.Reporter().Report(cmd.Context(), w)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rep.Text())
			return nil
		},
	}
	cmd.Flags().StringVar(&window, "window", "", "window, e.g. 24h or 7d")
	return cmd
}
