package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
	"github.com/JakeFAU/outreach-pipeline/internal/hunter"
	"github.com/JakeFAU/outreach-pipeline/internal/metrics"
	"github.com/JakeFAU/outreach-pipeline/internal/retry"
	"github.com/JakeFAU/outreach-pipeline/internal/store"
)

// Contact sources.
const (
	SourceHunter  = "hunter"
	SourceWebsite = "website"
)

// EnrichmentRepository is the store surface enrichment needs.
type EnrichmentRepository interface {
	store.BusinessRepository
	store.ContactRepository
}

// EnrichmentConfig tunes candidate selection.
type EnrichmentConfig struct {
	MinConfidence int
	// InvalidRetryAfter is how long a business with only invalid contacts
	// waits before it is searched again.
	InvalidRetryAfter time.Duration
	PreferredPrefixes []string
}

// EnrichmentResult counts per-business outcomes.
type EnrichmentResult struct {
	Validated   int
	Invalid     int
	Unvalidated int
	NotFound    int
	Skipped     int
}

// Enrichment finds and validates one contact per business.
type Enrichment struct {
	repo     EnrichmentRepository
	finder   EmailFinder
	crawler  SiteCrawler
	verifier EmailVerifier
	credits  CreditChecker
	retry    retry.Policy
	clock    Clock
	cfg      EnrichmentConfig
	logger   *zap.Logger
}

// EnrichmentDeps groups the stage's collaborators. Crawler and Credits are optional.
type EnrichmentDeps struct {
	Repo     EnrichmentRepository
	Finder   EmailFinder
	Crawler  SiteCrawler
	Verifier EmailVerifier
	Credits  CreditChecker
	Retry    retry.Policy
	Clock    Clock
	Logger   *zap.Logger
}

// NewEnrichment wires the enrichment stage.
func NewEnrichment(deps EnrichmentDeps, cfg EnrichmentConfig) *Enrichment {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named(StageEnrichment)
	if len(cfg.PreferredPrefixes) == 0 {
		cfg.PreferredPrefixes = hunter.DefaultPreferredPrefixes
	}
	return &Enrichment{
		repo:     deps.Repo,
		finder:   deps.Finder,
		crawler:  deps.Crawler,
		verifier: deps.Verifier,
		credits:  deps.Credits,
		retry:    withRetryHooks(deps.Retry, "hunter", logger),
		clock:    deps.Clock,
		cfg:      cfg,
		logger:   logger,
	}
}

type candidate struct {
	email      string
	confidence int
	source     string
}

// Run enriches up to limit businesses. Per-business API failures are counted
// as skipped; only a configuration error or an unreadable store stops the run.
func (e *Enrichment) Run(ctx context.Context, limit int) (res EnrichmentResult, err error) {
	start := time.Now()
	defer func() { metrics.ObserveStage(StageEnrichment, stageResult(err), time.Since(start)) }()

	if limit <= 0 {
		return res, apperr.Invalid("limit", fmt.Sprint(limit), "must be positive")
	}
	e.logCredits(ctx, "before")

	now := e.clock.Now()
	businesses, err := e.repo.ListBusinessesNeedingContact(ctx, store.EnrichmentQuery{
		Limit:         limit,
		InvalidBefore: now.Add(-e.cfg.InvalidRetryAfter),
	})
	if err != nil {
		return res, fmt.Errorf("select businesses: %w", err)
	}
	e.logger.Info("enrichment started", zap.Int("selected", len(businesses)))

	for _, b := range businesses {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		status, err := e.enrich(ctx, b)
		switch {
		case apperr.IsConfiguration(err):
			return res, err
		case err != nil:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			res.Skipped++
			metrics.ObserveContact("skipped")
			e.logger.Warn("business skipped", zap.String("business_id", b.ID), zap.String("name", b.Name), zap.Error(err))
		case status == "":
			res.NotFound++
			metrics.ObserveContact("not_found")
		default:
			e.count(&res, status)
		}
	}

	e.logCredits(ctx, "after")
	e.logger.Info("enrichment finished",
		zap.Int("validated", res.Validated),
		zap.Int("invalid", res.Invalid),
		zap.Int("unvalidated", res.Unvalidated),
		zap.Int("not_found", res.NotFound),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func (e *Enrichment) count(res *EnrichmentResult, status store.ContactStatus) {
	switch status {
	case store.ContactValid:
		res.Validated++
	case store.ContactInvalid:
		res.Invalid++
	default:
		res.Unvalidated++
	}
	metrics.ObserveContact(string(status))
}

// enrich returns the recorded status, or "" when no candidate was found.
func (e *Enrichment) enrich(ctx context.Context, b store.Business) (store.ContactStatus, error) {
	c, err := e.find(ctx, b)
	if err != nil || c == nil {
		return "", err
	}
	log := e.logger.With(zap.String("business_id", b.ID), zap.String("email", c.email))

	status, err := e.classify(ctx, *c)
	if err != nil {
		return "", err
	}

	now := e.clock.Now()
	contact := store.Contact{
		BusinessID:   b.ID,
		Email:        c.email,
		Status:       status,
		Confidence:   c.confidence,
		Source:       c.source,
		DiscoveredAt: now,
	}
	if status != store.ContactUnvalidated {
		contact.ValidatedAt = &now
	}
	stored, inserted, err := e.repo.InsertContact(ctx, contact)
	if err != nil {
		return "", fmt.Errorf("store contact: %w", err)
	}
	if !inserted {
		if err := e.repo.UpdateContactStatus(ctx, stored.ID, status, now); err != nil {
			return "", fmt.Errorf("revalidate contact: %w", err)
		}
		log.Info("contact revalidated", zap.String("from", string(stored.Status)), zap.String("to", string(status)))
		return status, nil
	}
	log.Info("contact recorded", zap.String("status", string(status)), zap.Int("confidence", c.confidence))
	return status, nil
}

// find runs the finder chain: Hunter first, then the business website.
func (e *Enrichment) find(ctx context.Context, b store.Business) (*candidate, error) {
	domain := hunter.DomainFromWebsite(b.Website)
	var found []hunter.Candidate
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		var ferr error
		found, ferr = e.finder.DomainSearch(ctx, domain, b.Name)
		return ferr
	})
	if err != nil && !apperr.IsValidation(err) {
		return nil, fmt.Errorf("domain search: %w", err)
	}
	if len(found) > 0 {
		return &candidate{email: found[0].Email, confidence: found[0].Confidence, source: SourceHunter}, nil
	}

	if e.crawler == nil || b.Website == "" {
		return nil, nil
	}
	scraped, err := e.crawler.Find(ctx, b.Website)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// An unreachable website is a miss, not a skip.
		e.logger.Debug("website crawl failed", zap.String("website", b.Website), zap.Error(err))
		return nil, nil
	}
	if len(scraped) == 0 {
		return nil, nil
	}
	best := scraped[0]
	return &candidate{
		email:      best.Email,
		confidence: hunter.BoostConfidence(best.Email, "", best.Confidence, e.cfg.PreferredPrefixes),
		source:     SourceWebsite,
	}, nil
}

// classify applies the format check, the confidence gate and the verifier.
// Ambiguous verification leaves the contact unvalidated.
func (e *Enrichment) classify(ctx context.Context, c candidate) (store.ContactStatus, error) {
	if !store.ValidEmailFormat(c.email) {
		e.logger.Info("candidate failed format check", zap.Error(apperr.Invalid("email", c.email, "malformed address")))
		return store.ContactInvalid, nil
	}
	if c.confidence < e.cfg.MinConfidence {
		e.logger.Info("candidate below confidence gate",
			zap.String("email", c.email),
			zap.Int("confidence", c.confidence),
			zap.Int("min", e.cfg.MinConfidence),
		)
		return store.ContactInvalid, nil
	}
	var verdict hunter.Verdict
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		var verr error
		verdict, verr = e.verifier.Verify(ctx, c.email)
		return verr
	})
	switch {
	case err == nil:
		return verdict.Status(), nil
	case apperr.IsConfiguration(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "", err
	default:
		e.logger.Warn("verification inconclusive", zap.String("email", c.email), zap.Error(err))
		return store.ContactUnvalidated, nil
	}
}

func (e *Enrichment) logCredits(ctx context.Context, when string) {
	if e.credits == nil {
		return
	}
	c, err := e.credits.Credits(ctx)
	if err != nil {
		e.logger.Debug("credit check failed", zap.Error(err))
		return
	}
	e.logger.Info("hunter credits",
		zap.String("when", when),
		zap.Int("searches_available", c.SearchesAvailable),
		zap.Int("verifications_available", c.VerificationsAvailable),
	)
}
