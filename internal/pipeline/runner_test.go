package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/outreach-pipeline/internal/alert"
	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
	"github.com/JakeFAU/outreach-pipeline/internal/hunter"
	"github.com/JakeFAU/outreach-pipeline/internal/storage/memory"
	"github.com/JakeFAU/outreach-pipeline/internal/store"
)

func newRunner(t *testing.T, repo *memory.Repository, fp *fakePlaces, h *fakeHunter, sink *captureNotifier) *Runner {
	t.Helper()
	clock := newClock()
	alerts := alert.NewDispatcher(nil, sink)
	return &Runner{
		Discovery:  NewDiscovery(repo, fp, noWaitPolicy(), clock, nil),
		Enrichment: newEnrichment(repo, h, nil, clock),
		Delivery:   newDelivery(t, repo, &fakeMailer{}, clock),
		Reporter:   NewReporter(repo, clock, time.UTC, nil, alerts, nil),
		Alerts:     alerts,
	}
}

func fullPlan() Plan {
	return Plan{
		Discovery:     Query{Location: "Springfield, IL", RadiusMeters: 40000, Category: "hvac", Limit: 20},
		EnrichLimit:   10,
		Delivery:      DeliveryParams{RunLimit: 10, DailyCap: 50, Cooldown: 30 * 24 * time.Hour},
		ReportWindow:  24 * time.Hour,
		NotifySummary: true,
	}
}

func TestRunnerChainsStages(t *testing.T) {
	t.Parallel()

	repo := memory.New()
	h := newFakeHunter()
	h.candidates["Acme Heating"] = []hunter.Candidate{{Email: "info@acme.com", Confidence: 90}}
	h.candidates["Best Air"] = []hunter.Candidate{{Email: "sales@bestair.com", Confidence: 80}}
	sink := &captureNotifier{}
	r := newRunner(t, repo, twoPageListing(), h, sink)

	res, err := r.Run(context.Background(), fullPlan())
	require.NoError(t, err)
	require.Equal(t, 3, res.Discovery.Inserted)
	require.Equal(t, 2, res.Enrichment.Validated)
	require.Equal(t, 1, res.Enrichment.NotFound)
	require.Equal(t, 2, res.Delivery.Sent)
	require.Equal(t, 2, res.Report.Stats.EventsByOutcome[store.OutcomeSent])

	require.Len(t, sink.alerts, 1)
	require.Equal(t, alert.LevelInfo, sink.alerts[0].Level)
	require.Contains(t, sink.alerts[0].Detail, "This run: discovered 3 new")
}

func TestRunnerContinuesAfterStageFailure(t *testing.T) {
	t.Parallel()

	repo := memory.New()
	seedContacts(t, repo, 2, epoch)
	fp := &fakePlaces{geocodeErr: apperr.ErrInvalidLocation}
	sink := &captureNotifier{}
	r := newRunner(t, repo, fp, newFakeHunter(), sink)

	res, err := r.Run(context.Background(), fullPlan())
	require.ErrorIs(t, err, apperr.ErrInvalidLocation)
	require.Len(t, res.Failures, 1)
	require.Equal(t, StageDiscovery, res.Failures[0].Stage)
	require.Equal(t, 2, res.Delivery.Sent)

	require.Len(t, sink.alerts, 2)
	require.Equal(t, alert.LevelError, sink.alerts[0].Level)
	require.Contains(t, sink.alerts[1].Detail, "FAILED discovery")
}

func TestRunnerStopsOnConfigurationError(t *testing.T) {
	t.Parallel()

	repo := memory.New()
	seedContacts(t, repo, 2, epoch)
	h := newFakeHunter()
	h.searchErr["Acme Heating"] = &apperr.ConfigurationError{Field: "hunter.api_key", Reason: "rejected"}
	sink := &captureNotifier{}
	r := newRunner(t, repo, twoPageListing(), h, sink)

	res, err := r.Run(context.Background(), fullPlan())
	require.True(t, apperr.IsConfiguration(err))
	require.Zero(t, res.Delivery.Selected)
	require.Len(t, sink.alerts, 1)
}

func TestRunnerTreatsIncompleteDiscoveryAsSuccess(t *testing.T) {
	t.Parallel()

	fp := twoPageListing()
	fp.errs = map[string]error{"t2": &apperr.TransientError{API: "places", Op: "search"}}
	r := newRunner(t, memory.New(), fp, newFakeHunter(), &captureNotifier{})

	res, err := r.Run(context.Background(), fullPlan())
	require.NoError(t, err)
	require.Equal(t, 2, res.Discovery.Inserted)
}
