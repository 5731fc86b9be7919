// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-pipeline/internal/alert"
	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
	"github.com/JakeFAU/outreach-pipeline/internal/archive"
	gcsarchive "github.com/JakeFAU/outreach-pipeline/internal/archive/gcs"
	localarchive "github.com/JakeFAU/outreach-pipeline/internal/archive/local"
	"github.com/JakeFAU/outreach-pipeline/internal/clock/system"
	"github.com/JakeFAU/outreach-pipeline/internal/config"
	"github.com/JakeFAU/outreach-pipeline/internal/hunter"
	"github.com/JakeFAU/outreach-pipeline/internal/mailgun"
	"github.com/JakeFAU/outreach-pipeline/internal/places"
	"github.com/JakeFAU/outreach-pipeline/internal/pipeline"
	"github.com/JakeFAU/outreach-pipeline/internal/ratelimit"
	"github.com/JakeFAU/outreach-pipeline/internal/storage/memory"
	"github.com/JakeFAU/outreach-pipeline/internal/storage/postgres"
	"github.com/JakeFAU/outreach-pipeline/internal/store"
	"github.com/JakeFAU/outreach-pipeline/internal/templates"
	"github.com/JakeFAU/outreach-pipeline/internal/website"
)

// MemoryDSN selects the in-memory store, useful for dry runs.
const MemoryDSN = "memory"

// App holds the shared, long-lived services. It is built once per command
// and closed by the root command's post-run hook.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	store    store.Repository
	clock    pipeline.Clock
	limiter  *ratelimit.Limiter
	alerts   *alert.Dispatcher
	archive  archive.Archiver
	location *time.Location
	closers  []func()
}

// Option customizes New.
type Option func(*App)

// WithStore injects a repository instead of opening db.dsn.
func WithStore(repo store.Repository) Option {
	return func(a *App) { a.store = repo }
}

// WithClock replaces the system clock.
func WithClock(c pipeline.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithAlerts replaces the configured alert sinks.
func WithAlerts(d *alert.Dispatcher) Option {
	return func(a *App) { a.alerts = d }
}

// New opens the store, alert sinks and archive. It fails fast when any
// configured service cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, &apperr.ConfigurationError{Field: "delivery.timezone", Reason: err.Error()}
	}
	a := &App{
		cfg:      cfg,
		logger:   logger,
		clock:    system.New(),
		location: loc,
		limiter: ratelimit.New(ratelimit.Config{
			RPS: map[string]float64{
				"places":  cfg.RateLimit.PlacesRPS,
				"hunter":  cfg.RateLimit.HunterRPS,
				"mailgun": cfg.RateLimit.MailgunRPS,
				"webhook": cfg.RateLimit.WebhookRPS,
			},
			Burst: cfg.RateLimit.Burst,
		}),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.store == nil {
		if err := a.openStore(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	if a.alerts == nil {
		if err := a.openAlerts(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	if err := a.openArchive(ctx); err != nil {
		a.Close()
		return nil, err
	}
	logger.Debug("application services initialized",
		zap.Bool("alerts", a.alerts.Enabled()),
		zap.String("archive", cfg.Archive.Driver),
	)
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	dsn := strings.TrimSpace(a.cfg.DB.DSN)
	switch dsn {
	case "":
		return a.cfg.RequireFor(config.StageReport)
	case MemoryDSN:
		a.logger.Warn("using in-memory store; nothing will be persisted")
		a.store = memory.New()
		return nil
	}
	pg, err := postgres.New(ctx, postgres.Config{
		DSN:             dsn,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.store = pg
	a.closers = append(a.closers, pg.Close)
	return nil
}

func (a *App) openAlerts(ctx context.Context) error {
	var notifiers []alert.Notifier
	if a.cfg.Alert.WebhookURL != "" {
		w, err := alert.NewWebhook(a.cfg.Alert.WebhookURL, a.cfg.Alert.Format, a.cfg.Alert.Timeout, a.limiter)
		if err != nil {
			return err
		}
		notifiers = append(notifiers, w)
	}
	if a.cfg.Alert.PubSubProject != "" {
		ps, err := alert.NewPubSub(ctx, a.cfg.Alert.PubSubProject, a.cfg.Alert.PubSubTopic)
		if err != nil {
			return fmt.Errorf("open pubsub alerts: %w", err)
		}
		notifiers = append(notifiers, ps)
		a.closers = append(a.closers, ps.Close)
	}
	a.alerts = alert.NewDispatcher(a.logger, notifiers...)
	return nil
}

func (a *App) openArchive(ctx context.Context) error {
	switch a.cfg.Archive.Driver {
	case "", "none":
		return nil
	case "local":
		la, err := localarchive.New(localarchive.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return fmt.Errorf("open local archive: %w", err)
		}
		a.archive = la
	case "gcs":
		ga, err := gcsarchive.New(ctx, gcsarchive.Config{Bucket: a.cfg.Archive.Bucket, Prefix: a.cfg.Archive.Prefix})
		if err != nil {
			return fmt.Errorf("open gcs archive: %w", err)
		}
		a.archive = ga
		a.closers = append(a.closers, func() {
			if err := ga.Close(); err != nil {
				a.logger.Warn("close gcs archive", zap.Error(err))
			}
		})
	default:
		return fmt.Errorf("unknown archive driver: %s", a.cfg.Archive.Driver)
	}
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the repository.
func (a *App) Store() store.Repository { return a.store }

// Alerts returns the alert dispatcher; it is never nil.
func (a *App) Alerts() *alert.Dispatcher { return a.alerts }

// Location is the timezone the daily cap resets in.
func (a *App) Location() *time.Location { return a.location }

// Discovery builds the discovery stage. It requires the places credential.
func (a *App) Discovery() (*pipeline.Discovery, error) {
	if err := a.cfg.RequireFor(config.StageDiscovery); err != nil {
		return nil, err
	}
	client, err := places.New(places.Config{
		APIKey:     a.cfg.Places.APIKey,
		SearchURL:  a.cfg.Places.SearchURL,
		GeocodeURL: a.cfg.Places.GeocodeURL,
		Timeout:    a.cfg.Places.Timeout,
	}, a.limiter)
	if err != nil {
		return nil, err
	}
	return pipeline.NewDiscovery(a.store, client, a.cfg.RetryPolicy(), a.clock, a.logger), nil
}

// Enrichment builds the enrichment stage. The website crawler is attached
// unless website.enabled is false.
func (a *App) Enrichment() (*pipeline.Enrichment, error) {
	if err := a.cfg.RequireFor(config.StageEnrichment); err != nil {
		return nil, err
	}
	prefixes := a.cfg.Enrichment.PreferredPrefixes
	if len(prefixes) == 0 {
		prefixes = hunter.DefaultPreferredPrefixes
	}
	client, err := hunter.New(hunter.Config{
		APIKey:            a.cfg.Hunter.APIKey,
		BaseURL:           a.cfg.Hunter.BaseURL,
		Timeout:           a.cfg.Hunter.Timeout,
		SearchLimit:       a.cfg.Hunter.SearchLimit,
		PreferredPrefixes: prefixes,
	}, a.limiter)
	if err != nil {
		return nil, err
	}
	deps := pipeline.EnrichmentDeps{
		Repo:     a.store,
		Finder:   client,
		Verifier: client,
		Credits:  client,
		Retry:    a.cfg.RetryPolicy(),
		Clock:    a.clock,
		Logger:   a.logger,
	}
	if a.cfg.Website.Enabled {
		deps.Crawler = website.New(website.Config{
			UserAgent:         a.cfg.Website.UserAgent,
			RespectRobots:     a.cfg.Website.RespectRobots,
			Timeout:           a.cfg.Website.Timeout,
			MaxPages:          a.cfg.Website.MaxPages,
			PreferredPrefixes: prefixes,
		})
	}
	return pipeline.NewEnrichment(deps, pipeline.EnrichmentConfig{
		MinConfidence:     a.cfg.Enrichment.MinConfidence,
		InvalidRetryAfter: a.cfg.Enrichment.InvalidRetryAfter,
		PreferredPrefixes: prefixes,
	}), nil
}

// Templates loads the catalog, overlaying templates.file when set.
func (a *App) Templates() (*templates.Catalog, error) {
	if a.cfg.Templates.File == "" {
		return templates.Default()
	}
	cat, err := templates.LoadFile(a.cfg.Templates.File)
	if err != nil {
		return nil, &apperr.ConfigurationError{Field: "templates.file", Reason: err.Error()}
	}
	return cat, nil
}

// Delivery builds the delivery stage. It requires the mail credentials.
func (a *App) Delivery() (*pipeline.Delivery, error) {
	if err := a.cfg.RequireFor(config.StageDelivery); err != nil {
		return nil, err
	}
	client, err := mailgun.New(mailgun.Config{
		APIKey:      a.cfg.Mailgun.APIKey,
		Domain:      a.cfg.Mailgun.Domain,
		Region:      a.cfg.Mailgun.Region,
		BaseURL:     a.cfg.Mailgun.BaseURL,
		From:        a.cfg.FromAddress(),
		ReplyTo:     a.cfg.Mailgun.ReplyTo,
		TrackOpens:  a.cfg.Mailgun.TrackOpens,
		TrackClicks: a.cfg.Mailgun.TrackClicks,
		TestMode:    a.cfg.Mailgun.TestMode,
		Tags:        a.cfg.Mailgun.Tags,
		Timeout:     a.cfg.Mailgun.Timeout,
	}, a.limiter)
	if err != nil {
		return nil, err
	}
	cat, err := a.Templates()
	if err != nil {
		return nil, err
	}
	return a.newDelivery(client, cat), nil
}

// Bounces builds a delivery stage able only to record bounces; it needs no
// mail credentials.
func (a *App) Bounces() *pipeline.Delivery {
	return a.newDelivery(nil, nil)
}

func (a *App) newDelivery(mailer pipeline.Mailer, renderer pipeline.Renderer) *pipeline.Delivery {
	return pipeline.NewDelivery(a.store, mailer, renderer, a.clock, pipeline.DeliveryConfig{
		Location:   a.location,
		Link:       a.cfg.Delivery.Link,
		SenderName: a.cfg.Delivery.SenderName,
		Tags:       a.cfg.Mailgun.Tags,
	}, a.logger)
}

// Reporter builds the reporting stage.
func (a *App) Reporter() *pipeline.Reporter {
	return pipeline.NewReporter(a.store, a.clock, a.location, a.archive, a.alerts, a.logger)
}

// Runner wires every stage for a full run. A stage whose credentials are
// missing is returned as an error before anything runs.
func (a *App) Runner() (*pipeline.Runner, error) {
	disc, err := a.Discovery()
	if err != nil {
		return nil, err
	}
	enr, err := a.Enrichment()
	if err != nil {
		return nil, err
	}
	del, err := a.Delivery()
	if err != nil {
		return nil, err
	}
	return &pipeline.Runner{
		Discovery:  disc,
		Enrichment: enr,
		Delivery:   del,
		Reporter:   a.Reporter(),
		Alerts:     a.alerts,
		Logger:     a.logger,
	}, nil
}

// DefaultPlan builds a full-run plan from the configured stage defaults.
func (a *App) DefaultPlan() pipeline.Plan {
	c := a.cfg
	return pipeline.Plan{
		Discovery: pipeline.Query{
			Location:     c.Discovery.Location,
			RadiusMeters: c.Discovery.RadiusMeters,
			Category:     c.Discovery.Category,
			Limit:        c.Discovery.Limit,
		},
		EnrichLimit:   c.Enrichment.Limit,
		Delivery:      a.DeliveryParams(),
		ReportWindow:  c.Report.Window,
		NotifySummary: c.Alert.SendSummary,
	}
}

// DeliveryParams are the configured send limits.
func (a *App) DeliveryParams() pipeline.DeliveryParams {
	c := a.cfg.Delivery
	return pipeline.DeliveryParams{
		RunLimit:   c.RunLimit,
		DailyCap:   c.DailyCap,
		MinDelay:   c.MinDelay,
		MaxDelay:   c.MaxDelay,
		Cooldown:   c.Cooldown,
		TemplateID: c.TemplateID,
	}
}

// Migrate applies the schema when the store supports it.
func (a *App) Migrate(ctx context.Context) error {
	m, ok := a.store.(interface{ Migrate(context.Context) error })
	if !ok {
		return errors.New("store does not support migrations")
	}
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close shuts down services in reverse order of creation.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
