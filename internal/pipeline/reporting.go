package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-pipeline/internal/alert"
	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
	"github.com/JakeFAU/outreach-pipeline/internal/archive"
	"github.com/JakeFAU/outreach-pipeline/internal/metrics"
	"github.com/JakeFAU/outreach-pipeline/internal/store"
)

// Report is an aggregate over [GeneratedAt-Window, GeneratedAt].
type Report struct {
	GeneratedAt time.Time
	Window      time.Duration
	Stats       store.Stats
}

// Reporter aggregates, archives and announces reports.
type Reporter struct {
	repo     store.StatsRepository
	clock    Clock
	location *time.Location
	archive  archive.Archiver
	alerts   *alert.Dispatcher
	logger   *zap.Logger
}

// NewReporter wires reporting. archiver and alerts may be nil.
func NewReporter(
	repo store.StatsRepository,
	clock Clock,
	location *time.Location,
	archiver archive.Archiver,
	alerts *alert.Dispatcher,
	logger *zap.Logger,
) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if location == nil {
		location = time.UTC
	}
	return &Reporter{
		repo:     repo,
		clock:    clock,
		location: location,
		archive:  archiver,
		alerts:   alerts,
		logger:   logger.Named(StageReporting),
	}
}

// Report aggregates store state over the trailing window.
func (r *Reporter) Report(ctx context.Context, window time.Duration) (rep Report, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStage(StageReporting, stageResult(err), time.Since(start)) }()

	if window <= 0 {
		return Report{}, apperr.Invalid("window", window.String(), "must be positive")
	}
	now := r.clock.Now()
	stats, err := r.repo.Stats(ctx, now.Add(-window), StartOfDay(now, r.location))
	if err != nil {
		return Report{}, fmt.Errorf("aggregate stats: %w", err)
	}
	return Report{GeneratedAt: now, Window: window, Stats: stats}, nil
}

// Text renders the multi-line summary.
func (rep Report) Text() string {
	s := rep.Stats
	var b strings.Builder
	fmt.Fprintf(&b, "Outreach report for the last %s (generated %s)\n",
		formatWindow(rep.Window), rep.GeneratedAt.UTC().Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "Businesses discovered: %d\n", s.BusinessesDiscovered)
	fmt.Fprintf(&b, "Contacts: valid %d, invalid %d, unvalidated %d\n",
		s.ContactsByStatus[store.ContactValid],
		s.ContactsByStatus[store.ContactInvalid],
		s.ContactsByStatus[store.ContactUnvalidated],
	)
	fmt.Fprintf(&b, "Deliveries: sent %d, failed %d, bounced %d, skipped %d\n",
		s.EventsByOutcome[store.OutcomeSent],
		s.EventsByOutcome[store.OutcomeFailed],
		s.EventsByOutcome[store.OutcomeBounced],
		s.EventsByOutcome[store.OutcomeSkippedCooldown],
	)
	fmt.Fprintf(&b, "Totals: businesses %d, valid contacts %d, pending enrichment %d, sent today %d",
		s.TotalBusinesses, s.TotalValidContacts, s.PendingEnrichment, s.SentSinceDayStart)
	return b.String()
}

// PublishOptions controls what Publish does with a report.
type PublishOptions struct {
	Notify bool
	// Extra is appended to the text, e.g. per-stage results of a run.
	Extra string
}

// Publish archives the report when an archive is configured and, if asked,
// sends it as a summary alert. Archive failures are returned; alert failures
// are only logged.
func (r *Reporter) Publish(ctx context.Context, rep Report, opts PublishOptions) (string, error) {
	text := rep.Text()
	if opts.Extra != "" {
		text += "\n\n" + opts.Extra
	}
	var uri string
	if r.archive != nil {
		var err error
		uri, err = r.archive.Put(ctx, archive.ReportKey(rep.GeneratedAt), "text/plain; charset=utf-8", strings.NewReader(text))
		if err != nil {
			return "", fmt.Errorf("archive report: %w", err)
		}
		r.logger.Info("report archived", zap.String("uri", uri))
	}
	if opts.Notify {
		r.alerts.Summary(ctx, "Outreach summary", text)
	}
	return uri, nil
}

func formatWindow(d time.Duration) string {
	if d%(24*time.Hour) == 0 {
		days := int(d / (24 * time.Hour))
		if days == 1 {
			return "24h"
		}
		return fmt.Sprintf("%d days", days)
	}
	return d.String()
}

// ParseWindow accepts Go durations ("36h") and whole days ("7d").
func ParseWindow(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, apperr.Invalid("window", s, "days must be a positive integer")
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, apperr.Invalid("window", s, "must be a positive duration such as 24h or 7d")
	}
	return d, nil
}
