package store

import (
	"context"
	"time"
)

// EnrichmentQuery selects businesses that still need a contact.
type EnrichmentQuery struct {
	Limit int
	// InvalidBefore lets businesses whose invalid contacts were all last
	// checked before this instant be retried.
	InvalidBefore time.Time
}

// DeliveryQuery selects valid contacts outside the cooldown window.
type DeliveryQuery struct {
	Limit int
	// CooldownStart excludes contacts whose address has a non-skip event
	// after this instant, on any contact sharing it.
	CooldownStart time.Time
}

// BusinessRepository persists discovered businesses.
type BusinessRepository interface {
	// UpsertBusiness inserts b unless (name, normalized address) exists, in
	// which case only last_seen_at is refreshed. inserted reports which happened.
	UpsertBusiness(ctx context.Context, b Business) (stored Business, inserted bool, err error)
	GetBusiness(ctx context.Context, id string) (Business, error)
	// ListBusinessesNeedingContact returns the oldest businesses first.
	ListBusinessesNeedingContact(ctx context.Context, q EnrichmentQuery) ([]Business, error)
}

// ContactRepository persists contacts.
type ContactRepository interface {
	// InsertContact stores c unless (business, email) exists; the existing
	// row is returned with inserted=false.
	InsertContact(ctx context.Context, c Contact) (stored Contact, inserted bool, err error)
	GetContactByEmail(ctx context.Context, businessID, email string) (Contact, error)
	UpdateContactStatus(ctx context.Context, id string, status ContactStatus, validatedAt time.Time) error
	// ListDeliverable returns valid contacts outside the cooldown, highest
	// confidence first.
	ListDeliverable(ctx context.Context, q DeliveryQuery) ([]Recipient, error)
}

// DeliveryRepository is the append-only delivery log.
type DeliveryRepository interface {
	AppendEvent(ctx context.Context, e DeliveryEvent) (DeliveryEvent, error)
	CountEvents(ctx context.Context, outcome Outcome, since time.Time) (int, error)
	// EmailContactedSince reports whether another contact with this address
	// has a non-skip event after since. Events of exceptContactID are ignored.
	EmailContactedSince(ctx context.Context, email, exceptContactID string, since time.Time) (bool, error)
	FindEventByProviderID(ctx context.Context, providerMessageID string) (DeliveryEvent, error)
	ListRecentEvents(ctx context.Context, limit int) ([]DeliveryEvent, error)
}

// StatsRepository aggregates counts for reporting.
type StatsRepository interface {
	Stats(ctx context.Context, since, dayStart time.Time) (Stats, error)
}

// Repository is the full store contract.
type Repository interface {
	BusinessRepository
	ContactRepository
	DeliveryRepository
	StatsRepository
	Ping(ctx context.Context) error
	Close()
}
