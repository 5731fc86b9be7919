package store

import (
	"errors"
	"time"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ContactStatus mirrors contacts.status.
type ContactStatus string

// Contact validation states. unvalidated moves to valid or invalid only
// through re-validation.
const (
	ContactUnvalidated ContactStatus = "unvalidated"
	ContactValid       ContactStatus = "valid"
	ContactInvalid     ContactStatus = "invalid"
)

// Outcome mirrors delivery_events.outcome.
type Outcome string

// Delivery outcomes.
const (
	OutcomeSent            Outcome = "sent"
	OutcomeBounced         Outcome = "bounced"
	OutcomeFailed          Outcome = "failed"
	OutcomeSkippedCooldown Outcome = "skipped-cooldown"
)

// Business is a discovered company.
type Business struct {
	ID                string
	Name              string
	Address           string
	NormalizedAddress string
	Latitude          float64
	Longitude         float64
	Category          string
	SourceRef         string
	Website           string
	Phone             string
	Rating            float64
	ReviewCount       int
	DiscoveredAt      time.Time
	LastSeenAt        time.Time
}

// Contact is an email address found for a Business.
type Contact struct {
	ID           string
	BusinessID   string
	Email        string
	Status       ContactStatus
	Confidence   int
	Source       string
	DiscoveredAt time.Time
	ValidatedAt  *time.Time
}

// CheckedAt is when the address was last classified: the latest
// validation, or discovery when it never was.
func (c Contact) CheckedAt() time.Time {
	if c.ValidatedAt != nil {
		return *c.ValidatedAt
	}
	return c.DiscoveredAt
}

// DeliveryEvent is one immutable send attempt.
type DeliveryEvent struct {
	ID                string
	ContactID         string
	OccurredAt        time.Time
	Outcome           Outcome
	TemplateID        string
	ProviderMessageID string
	Detail            string
}

// Recipient is a deliverable contact joined with its business.
type Recipient struct {
	Contact  Contact
	Business Business
}

// Stats aggregates store state for reporting. Windowed counts cover
// [Since, now]; totals cover all time.
type Stats struct {
	Since                time.Time
	BusinessesDiscovered int
	ContactsByStatus     map[ContactStatus]int
	EventsByOutcome      map[Outcome]int

	TotalBusinesses    int
	TotalValidContacts int
	PendingEnrichment  int
	SentSinceDayStart  int
}
