package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
	"github.com/JakeFAU/outreach-pipeline/internal/metrics"
	"github.com/JakeFAU/outreach-pipeline/internal/places"
	"github.com/JakeFAU/outreach-pipeline/internal/retry"
	"github.com/JakeFAU/outreach-pipeline/internal/store"
)

const placesPageSize = 20

// Query describes one discovery run.
type Query struct {
	Location     string
	RadiusMeters float64
	Category     string
	Limit        int
}

// Validate checks the query before any API call.
func (q Query) Validate() error {
	switch {
	case strings.TrimSpace(q.Location) == "":
		return apperr.Invalid("location", q.Location, "must not be empty")
	case q.RadiusMeters <= 0:
		return apperr.Invalid("radius", fmt.Sprint(q.RadiusMeters), "must be positive")
	case q.Limit <= 0:
		return apperr.Invalid("limit", fmt.Sprint(q.Limit), "must be positive")
	}
	return nil
}

// TextQuery is the search phrase sent to the places API. Without a category
// it is just the location.
func (q Query) TextQuery() string {
	location := strings.TrimSpace(q.Location)
	category := strings.TrimSpace(q.Category)
	if category == "" {
		return location
	}
	return fmt.Sprintf("%s in %s", category, location)
}

// DiscoveryResult counts what happened to each raw result.
type DiscoveryResult struct {
	Inserted   int
	Duplicates int
	Invalid    int
	Closed     int
	Failed     int
	Pages      int
}

// Discovery finds businesses and upserts them.
type Discovery struct {
	repo   store.BusinessRepository
	places PlaceSearcher
	retry  retry.Policy
	clock  Clock
	logger *zap.Logger
}

// NewDiscovery wires the discovery stage.
func NewDiscovery(
	repo store.BusinessRepository,
	searcher PlaceSearcher,
	policy retry.Policy,
	clock Clock,
	logger *zap.Logger,
) *Discovery {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named(StageDiscovery)
	return &Discovery{
		repo:   repo,
		places: searcher,
		retry:  withRetryHooks(policy, "places", logger),
		clock:  clock,
		logger: logger,
	}
}

// Run geocodes the location and pages through results until Limit results
// have been considered or the API has no more. When a page cannot be fetched
// after retries, the partial result is returned with ErrDiscoveryIncomplete.
func (d *Discovery) Run(ctx context.Context, q Query) (res DiscoveryResult, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStage(StageDiscovery, stageResult(err), time.Since(start)) }()

	if err := q.Validate(); err != nil {
		return res, err
	}
	var center places.Coordinates
	err = d.retry.Do(ctx, func(ctx context.Context) error {
		var gerr error
		center, gerr = d.places.Geocode(ctx, q.Location)
		return gerr
	})
	if err != nil {
		return res, fmt.Errorf("geocode %q: %w", q.Location, err)
	}
	d.logger.Info("discovery started",
		zap.String("query", q.TextQuery()),
		zap.Float64("lat", center.Lat),
		zap.Float64("lng", center.Lng),
		zap.Float64("radius_m", q.RadiusMeters),
		zap.Int("limit", q.Limit),
	)

	considered := 0
	token := ""
	for considered < q.Limit {
		req := places.SearchRequest{
			TextQuery:    q.TextQuery(),
			Center:       center,
			RadiusMeters: q.RadiusMeters,
			PageSize:     min(placesPageSize, q.Limit-considered),
			PageToken:    token,
		}
		var page places.Page
		err := d.retry.Do(ctx, func(ctx context.Context) error {
			var serr error
			page, serr = d.places.Search(ctx, req)
			return serr
		})
		if err != nil {
			if ctx.Err() != nil || apperr.IsConfiguration(err) {
				return res, err
			}
			d.logger.Warn("discovery stopped early", zap.Int("pages", res.Pages), zap.Error(err))
			return res, fmt.Errorf("%w after %d pages: %w", apperr.ErrDiscoveryIncomplete, res.Pages, err)
		}
		res.Pages++

		for _, p := range page.Places {
			if considered >= q.Limit {
				break
			}
			if err := ctx.Err(); err != nil {
				return res, err
			}
			considered++
			d.handlePlace(ctx, q, p, &res)
		}
		if page.NextPageToken == "" || len(page.Places) == 0 {
			break
		}
		token = page.NextPageToken
	}

	d.logger.Info("discovery finished",
		zap.Int("inserted", res.Inserted),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("invalid", res.Invalid),
		zap.Int("closed", res.Closed),
		zap.Int("failed", res.Failed),
		zap.Int("pages", res.Pages),
	)
	return res, nil
}

func (d *Discovery) handlePlace(ctx context.Context, q Query, p places.Place, res *DiscoveryResult) {
	if p.PermanentlyClosed() {
		res.Closed++
		metrics.ObserveBusiness("closed")
		return
	}
	if p.Name == "" || p.Address == "" {
		res.Invalid++
		metrics.ObserveBusiness("invalid")
		d.logger.Debug("skipping incomplete listing", zap.String("place_id", p.ID))
		return
	}
	now := d.clock.Now()
	b := store.Business{
		Name:              store.NormalizeName(p.Name),
		Address:           p.Address,
		NormalizedAddress: store.NormalizeAddress(p.Address),
		Latitude:          p.Location.Lat,
		Longitude:         p.Location.Lng,
		Category:          strings.TrimSpace(q.Category),
		SourceRef:         p.ID,
		Website:           p.Website,
		Phone:             p.Phone,
		Rating:            p.Rating,
		ReviewCount:       p.ReviewCount,
		DiscoveredAt:      now,
		LastSeenAt:        now,
	}
	stored, inserted, err := d.repo.UpsertBusiness(ctx, b)
	if err != nil {
		res.Failed++
		metrics.ObserveBusiness("failed")
		d.logger.Error("upsert business failed", zap.String("name", b.Name), zap.Error(err))
		return
	}
	if inserted {
		res.Inserted++
		metrics.ObserveBusiness("inserted")
		d.logger.Debug("business inserted", zap.String("id", stored.ID), zap.String("name", stored.Name))
		return
	}
	res.Duplicates++
	metrics.ObserveBusiness("duplicate")
}

// withRetryHooks counts and logs retries for one API.
func withRetryHooks(p retry.Policy, api string, logger *zap.Logger) retry.Policy {
	p.OnRetry = func(attempt int, wait time.Duration, err error) {
		metrics.ObserveAPIRetry(api)
		logger.Warn("retrying api call",
			zap.String("api", api),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	return p
}

func stageResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperr.ErrDiscoveryIncomplete):
		return "partial"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
