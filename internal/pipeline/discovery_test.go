package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
	"github.com/JakeFAU/outreach-pipeline/internal/places"
	"github.com/JakeFAU/outreach-pipeline/internal/storage/memory"
)

func twoPageListing() *fakePlaces {
	closed := place("p4", "Gone Cooling", "4 Elm St, Springfield, IL")
	closed.BusinessStatus = "CLOSED_PERMANENTLY"
	return &fakePlaces{
		pages: map[string]places.Page{
			"": {
				Places: []places.Place{
					place("p1", "Acme Heating", "123 Main Street, Springfield, IL 62701"),
					place("p2", "Best Air", "9 Oak Avenue, Springfield, IL 62702"),
					place("p3", "", "no name"),
				},
				NextPageToken: "t2",
			},
			"t2": {
				Places: []places.Place{
					place("p1b", "Acme  Heating", "123 main st., Springfield IL 62701"),
					closed,
					place("p5", "Cool Breeze", "77 Pine Rd, Springfield, IL 62703"),
				},
			},
		},
	}
}

func TestDiscoveryDeduplicatesAndRerunInsertsNothing(t *testing.T) {
	t.Parallel()

	repo := memory.New()
	fp := twoPageListing()
	d := NewDiscovery(repo, fp, noWaitPolicy(), newClock(), nil)
	q := Query{Location: "Springfield, IL", RadiusMeters: 40000, Category: "hvac", Limit: 50}

	res, err := d.Run(context.Background(), q)
	require.NoError(t, err)
	require.Equal(t, DiscoveryResult{Inserted: 3, Duplicates: 1, Invalid: 1, Closed: 1, Pages: 2}, res)
	require.Equal(t, "hvac in Springfield, IL", fp.requests[0].TextQuery)
	require.Equal(t, "t2", fp.requests[1].PageToken)

	again, err := d.Run(context.Background(), q)
	require.NoError(t, err)
	require.Zero(t, again.Inserted)
	require.Equal(t, 4, again.Duplicates)

	stats, err := repo.Stats(context.Background(), epoch.AddDate(-1, 0, 0), epoch)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalBusinesses)
}

func TestDiscoveryWithoutCategorySearchesLocation(t *testing.T) {
	t.Parallel()

	repo := memory.New()
	fp := twoPageListing()
	d := NewDiscovery(repo, fp, noWaitPolicy(), newClock(), nil)

	res, err := d.Run(context.Background(), Query{Location: " Springfield, IL ", RadiusMeters: 1000, Limit: 50})
	require.NoError(t, err)
	require.Equal(t, 3, res.Inserted)
	require.Equal(t, "Springfield, IL", fp.requests[0].TextQuery)
	require.Equal(t, "Springfield, IL", Query{Location: "Springfield, IL", Category: "  "}.TextQuery())
}

func TestDiscoveryStopsAtLimit(t *testing.T) {
	t.Parallel()

	repo := memory.New()
	fp := twoPageListing()
	d := NewDiscovery(repo, fp, noWaitPolicy(), newClock(), nil)

	res, err := d.Run(context.Background(), Query{Location: "Springfield", RadiusMeters: 1000, Category: "hvac", Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 2, res.Inserted)
	require.Equal(t, 1, res.Pages)
	require.Len(t, fp.requests, 1)
	require.Equal(t, 2, fp.requests[0].PageSize)
}

func TestDiscoveryIncompleteKeepsPartialResult(t *testing.T) {
	t.Parallel()

	repo := memory.New()
	fp := twoPageListing()
	fp.errs = map[string]error{"t2": &apperr.TransientError{API: "places", Op: "search", StatusCode: 503}}
	d := NewDiscovery(repo, fp, noWaitPolicy(), newClock(), nil)

	res, err := d.Run(context.Background(), Query{Location: "Springfield", RadiusMeters: 1000, Category: "hvac", Limit: 10})
	require.ErrorIs(t, err, apperr.ErrDiscoveryIncomplete)
	require.Equal(t, 2, res.Inserted)
	require.Equal(t, 1, res.Pages)
	// one first-page call plus three attempts at the second page
	require.Len(t, fp.requests, 4)
}

func TestDiscoveryRejectsBadInput(t *testing.T) {
	t.Parallel()

	fp := &fakePlaces{geocodeErr: apperr.ErrInvalidLocation}
	d := NewDiscovery(memory.New(), fp, noWaitPolicy(), newClock(), nil)

	_, err := d.Run(context.Background(), Query{Location: "Atlantis", RadiusMeters: 1000, Category: "hvac", Limit: 5})
	require.ErrorIs(t, err, apperr.ErrInvalidLocation)
	require.Empty(t, fp.requests)

	_, err = d.Run(context.Background(), Query{Location: "x", RadiusMeters: 0, Category: "hvac", Limit: 5})
	require.True(t, apperr.IsValidation(err))
	_, err = d.Run(context.Background(), Query{Location: "x", RadiusMeters: 10, Category: "hvac", Limit: 0})
	require.True(t, apperr.IsValidation(err))
}

func TestDiscoveryConfigurationErrorIsFatal(t *testing.T) {
	t.Parallel()

	fp := twoPageListing()
	fp.errs = map[string]error{"": &apperr.ConfigurationError{Field: "places.api_key", Reason: "rejected"}}
	d := NewDiscovery(memory.New(), fp, noWaitPolicy(), newClock(), nil)

	_, err := d.Run(context.Background(), Query{Location: "x", RadiusMeters: 10, Category: "hvac", Limit: 5})
	require.True(t, apperr.IsConfiguration(err))
	require.False(t, errors.Is(err, apperr.ErrDiscoveryIncomplete))
}
