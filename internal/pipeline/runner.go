package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-pipeline/internal/alert"
	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
)

// Plan is the input for a full run.
type Plan struct {
	Discovery      Query
	EnrichLimit    int
	Delivery       DeliveryParams
	ReportWindow   time.Duration
	NotifySummary  bool
	SkipDiscovery  bool
	SkipEnrichment bool
	SkipDelivery   bool
}

// StageError records a stage that did not complete.
type StageError struct {
	Stage string
	Err   error
}

func (e StageError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

// RunResult collects each stage's outcome.
type RunResult struct {
	Discovery  DiscoveryResult
	Enrichment EnrichmentResult
	Delivery   DeliverySummary
	Report     Report
	ReportURI  string
	Failures   []StageError
}

// Err joins the stage failures, nil when every stage completed.
func (r RunResult) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, fmt.Errorf("%s: %w", f.Stage, f.Err))
	}
	return errors.Join(errs...)
}

// Text summarizes stage outcomes for the report footer.
func (r RunResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "This run: discovered %d new (%d duplicates, %d invalid)",
		r.Discovery.Inserted, r.Discovery.Duplicates, r.Discovery.Invalid)
	fmt.Fprintf(&b, "; enriched %d valid, %d invalid, %d unvalidated, %d not found, %d skipped",
		r.Enrichment.Validated, r.Enrichment.Invalid, r.Enrichment.Unvalidated,
		r.Enrichment.NotFound, r.Enrichment.Skipped)
	fmt.Fprintf(&b, "; sent %d, failed %d, skipped %d", r.Delivery.Sent, r.Delivery.Failed, r.Delivery.Skipped)
	if r.Delivery.CapReached {
		b.WriteString(" (daily cap reached)")
	}
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "\nFAILED %s: %v", f.Stage, f.Err)
	}
	return b.String()
}

// Runner chains the stages. A configuration error stops the chain; any other
// stage failure is alerted and the next stage still runs.
type Runner struct {
	Discovery  *Discovery
	Enrichment *Enrichment
	Delivery   *Delivery
	Reporter   *Reporter
	Alerts     *alert.Dispatcher
	Logger     *zap.Logger
}

// Run executes discover, enrich, send and report in order.
func (r *Runner) Run(ctx context.Context, plan Plan) (RunResult, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var res RunResult

	// fail returns true when the chain must stop.
	fail := func(stage string, err error) bool {
		if err == nil {
			return false
		}
		if errors.Is(err, apperr.ErrDiscoveryIncomplete) {
			logger.Warn("stage incomplete", zap.String("stage", stage), zap.Error(err))
			return false
		}
		res.Failures = append(res.Failures, StageError{Stage: stage, Err: err})
		logger.Error("stage failed", zap.String("stage", stage), zap.Error(err))
		if ctx.Err() != nil {
			return true
		}
		r.Alerts.Failure(ctx, stage, err)
		return apperr.IsConfiguration(err)
	}

	if !plan.SkipDiscovery && r.Discovery != nil {
		out, err := r.Discovery.Run(ctx, plan.Discovery)
		res.Discovery = out
		if fail(StageDiscovery, err) {
			return res, res.Err()
		}
	}
	if !plan.SkipEnrichment && r.Enrichment != nil {
		out, err := r.Enrichment.Run(ctx, plan.EnrichLimit)
		res.Enrichment = out
		if fail(StageEnrichment, err) {
			return res, res.Err()
		}
	}
	if !plan.SkipDelivery && r.Delivery != nil {
		out, err := r.Delivery.Run(ctx, plan.Delivery)
		res.Delivery = out
		if fail(StageDelivery, err) {
			return res, res.Err()
		}
	}
	if r.Reporter != nil {
		rep, err := r.Reporter.Report(ctx, plan.ReportWindow)
		if fail(StageReporting, err) {
			return res, res.Err()
		}
		if err == nil {
			res.Report = rep
			uri, perr := r.Reporter.Publish(ctx, rep, PublishOptions{Notify: plan.NotifySummary, Extra: res.Text()})
			res.ReportURI = uri
			fail(StageReporting, perr)
		}
	}
	return res, res.Err()
}
