package pipeline

import (
	"context"
	"time"

	"github.com/JakeFAU/outreach-pipeline/internal/hunter"
	"github.com/JakeFAU/outreach-pipeline/internal/mailgun"
	"github.com/JakeFAU/outreach-pipeline/internal/places"
	"github.com/JakeFAU/outreach-pipeline/internal/templates"
	"github.com/JakeFAU/outreach-pipeline/internal/website"
)

// Stage names used in logs, metrics and alerts.
const (
	StageDiscovery  = "discovery"
	StageEnrichment = "enrichment"
	StageDelivery   = "delivery"
	StageReporting  = "report"
)

// Clock reads time and sleeps; tests substitute a manual clock.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// PlaceSearcher resolves locations and pages through business listings.
type PlaceSearcher interface {
	Geocode(ctx context.Context, location string) (places.Coordinates, error)
	Search(ctx context.Context, req places.SearchRequest) (places.Page, error)
}

// EmailFinder lists candidate addresses for a domain or company.
type EmailFinder interface {
	DomainSearch(ctx context.Context, domain, company string) ([]hunter.Candidate, error)
}

// EmailVerifier checks deliverability.
type EmailVerifier interface {
	Verify(ctx context.Context, email string) (hunter.Verdict, error)
}

// CreditChecker reports remaining enrichment quota.
type CreditChecker interface {
	Credits(ctx context.Context) (hunter.Credits, error)
}

// SiteCrawler scrapes addresses from a business website.
type SiteCrawler interface {
	Find(ctx context.Context, site string) ([]website.Candidate, error)
}

// Mailer sends one message.
type Mailer interface {
	Send(ctx context.Context, msg mailgun.Message) (mailgun.Result, error)
}

// Renderer fills a message template.
type Renderer interface {
	Has(id string) bool
	Render(id string, data templates.Data) (templates.Message, error)
}
