package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-pipeline/internal/app"
	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
	"github.com/JakeFAU/outreach-pipeline/internal/pipeline"
)

// newDiscoverCmd creates the 'discover' subcommand. Flags override the
// configured discovery defaults only when set.
func newDiscoverCmd() *cobra.Command {
	var (
		location string
		radius   float64
		category string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Finds businesses near a location and stores the new ones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			q := a.DefaultPlan().Discovery
			flags := cmd.Flags()
			if flags.Changed("location") {
				q.Location = location
			}
			if flags.Changed("radius") {
				q.RadiusMeters = radius
			}
			if flags.Changed("category") {
				q.Category = category
			}
			if flags.Changed("limit") {
				q.Limit = limit
			}

			stage, err := a.Discovery()
			if err != nil {
				return err
			}
			res, err := stage.Run(cmd.Context(), q)
			fmt.Fprintf(cmd.OutOrStdout(),
				"discovered %d new, %d duplicates, %d invalid, %d closed, %d failed over %d pages\n",
				res.Inserted, res.Duplicates, res.Invalid, res.Closed, res.Failed, res.Pages)
			return stageFailed(cmd.Context(), a, pipeline.StageDiscovery, err)
		},
	}
	cmd.Flags().StringVar(&location, "location", "", "city, address or zip to search around")
	cmd.Flags().Float64Var(&radius, "radius", 0, "search radius in meters")
	cmd.Flags().StringVar(&category, "category", "", "business category, e.g. plumber")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum results to process")
	return cmd
}

func newEnrichCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Finds and verifies a contact address for businesses without one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("limit") {
				limit = a.Config().Enrichment.Limit
			}
			stage, err := a.Enrichment()
			if err != nil {
				return err
			}
			res, err := stage.Run(cmd.Context(), limit)
			fmt.Fprintf(cmd.OutOrStdout(),
				"enriched %d valid, %d invalid, %d unvalidated, %d not found, %d skipped\n",
				res.Validated, res.Invalid, res.Unvalidated, res.NotFound, res.Skipped)
			return stageFailed(cmd.Context(), a, pipeline.StageEnrichment, err)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum businesses to enrich")
	return cmd
}

func newSendCmd() *cobra.Command {
	var (
		limit    int
		dailyCap int
		minDelay time.Duration
		maxDelay time.Duration
		cooldown time.Duration
		template string
	)
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Emails eligible contacts within the daily cap and cooldown",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			p := a.DeliveryParams()
			flags := cmd.Flags()
			if flags.Changed("limit") {
				p.RunLimit = limit
			}
			if flags.Changed("daily-cap") {
				p.DailyCap = dailyCap
			}
			if flags.Changed("min-delay") {
				p.MinDelay = minDelay
			}
			if flags.Changed("max-delay") {
				p.MaxDelay = maxDelay
			}
			if flags.Changed("cooldown") {
				p.Cooldown = cooldown
			}
			if flags.Changed("template") {
				p.TemplateID = template
			}

			stage, err := a.Delivery()
			if err != nil {
				return err
			}
			sum, err := stage.Run(cmd.Context(), p)
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d, failed %d, skipped %d of %d selected",
				sum.Sent, sum.Failed, sum.Skipped, sum.Selected)
			if sum.CapReached {
				fmt.Fprint(cmd.OutOrStdout(), " (daily cap reached)")
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return stageFailed(cmd.Context(), a, pipeline.StageDelivery, err)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum messages this run")
	cmd.Flags().IntVar(&dailyCap, "daily-cap", 0, "maximum messages per local day")
	cmd.Flags().DurationVar(&minDelay, "min-delay", 0, "minimum pause between sends")
	cmd.Flags().DurationVar(&maxDelay, "max-delay", 0, "maximum pause between sends")
	cmd.Flags().DurationVar(&cooldown, "cooldown", 0, "minimum time before an address is emailed again")
	cmd.Flags().StringVar(&template, "template", "", "template id from the catalog")
	return cmd
}

// stageFailed alerts on a stage failure and returns it. An incomplete
// discovery is logged but counts as success.
func stageFailed(ctx context.Context, a *app.App, stage string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, apperr.ErrDiscoveryIncomplete):
		a.Logger().Warn("stage incomplete", zap.String("stage", stage), zap.Error(err))
		return nil
	case ctx.Err() != nil:
		return err
	}
	a.Logger().Error("stage failed", zap.String("stage", stage), zap.Error(err))
	a.Alerts().Failure(ctx, stage, err)
	return fmt.Errorf("%s: %w", stage, err)
}
