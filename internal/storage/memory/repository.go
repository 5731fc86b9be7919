// Package memory provides an in-memory store.Repository for tests and local
// trial runs. It enforces the same uniqueness and append-only rules as the
// Postgres implementation.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/outreach-pipeline/internal/store"
)

// Repository keeps every table in maps guarded by one mutex.
type Repository struct {
	mu         sync.RWMutex
	businesses map[string]store.Business
	bizKeys    map[string]string
	contacts   map[string]store.Contact
	contactKey map[string]string
	events     []store.DeliveryEvent
}

var _ store.Repository = (*Repository)(nil)

// New constructs an empty Repository.
func New() *Repository {
	return &Repository{
		businesses: make(map[string]store.Business),
		bizKeys:    make(map[string]string),
		contacts:   make(map[string]store.Contact),
		contactKey: make(map[string]string),
	}
}

func businessKey(name, normalizedAddress string) string {
	return name + "\x00" + normalizedAddress
}

func contactKey(businessID, email string) string {
	return businessID + "\x00" + email
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return id.String(), nil
}

// UpsertBusiness implements store.BusinessRepository.
func (r *Repository) UpsertBusiness(_ context.Context, b store.Business) (store.Business, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := businessKey(b.Name, b.NormalizedAddress)
	if id, ok := r.bizKeys[key]; ok {
		existing := r.businesses[id]
		if b.LastSeenAt.After(existing.LastSeenAt) {
			existing.LastSeenAt = b.LastSeenAt
			r.businesses[id] = existing
		}
		return existing, false, nil
	}
	if b.ID == "" {
		id, err := newID()
		if err != nil {
			return store.Business{}, false, err
		}
		b.ID = id
	}
	if b.LastSeenAt.IsZero() {
		b.LastSeenAt = b.DiscoveredAt
	}
	r.businesses[b.ID] = b
	r.bizKeys[key] = b.ID
	return b, true, nil
}

// GetBusiness implements store.BusinessRepository.
func (r *Repository) GetBusiness(_ context.Context, id string) (store.Business, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.businesses[id]
	if !ok {
		return store.Business{}, store.ErrNotFound
	}
	return b, nil
}

// ListBusinessesNeedingContact implements store.BusinessRepository.
func (r *Repository) ListBusinessesNeedingContact(
	_ context.Context,
	q store.EnrichmentQuery,
) ([]store.Business, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	blocked := make(map[string]bool)
	for _, c := range r.contacts {
		switch {
		case c.Status == store.ContactValid:
			blocked[c.BusinessID] = true
		case c.Status == store.ContactInvalid && !c.CheckedAt().Before(q.InvalidBefore):
			blocked[c.BusinessID] = true
		}
	}
	out := make([]store.Business, 0)
	for _, b := range r.businesses {
		if !blocked[b.ID] {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DiscoveredAt.Before(out[j].DiscoveredAt)
	})
	return limit(out, q.Limit), nil
}

// InsertContact implements store.ContactRepository.
func (r *Repository) InsertContact(_ context.Context, c store.Contact) (store.Contact, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.businesses[c.BusinessID]; !ok {
		return store.Contact{}, false, fmt.Errorf("insert contact: business %s: %w", c.BusinessID, store.ErrNotFound)
	}
	key := contactKey(c.BusinessID, c.Email)
	if id, ok := r.contactKey[key]; ok {
		return r.contacts[id], false, nil
	}
	if c.ID == "" {
		id, err := newID()
		if err != nil {
			return store.Contact{}, false, err
		}
		c.ID = id
	}
	r.contacts[c.ID] = c
	r.contactKey[key] = c.ID
	return c, true, nil
}

// GetContactByEmail implements store.ContactRepository.
func (r *Repository) GetContactByEmail(_ context.Context, businessID, email string) (store.Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.contactKey[contactKey(businessID, email)]
	if !ok {
		return store.Contact{}, store.ErrNotFound
	}
	return r.contacts[id], nil
}

// UpdateContactStatus implements store.ContactRepository.
func (r *Repository) UpdateContactStatus(
	_ context.Context,
	id string,
	status store.ContactStatus,
	validatedAt time.Time,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Status = status
	ts := validatedAt
	c.ValidatedAt = &ts
	r.contacts[id] = c
	return nil
}

// ListDeliverable implements store.ContactRepository.
func (r *Repository) ListDeliverable(_ context.Context, q store.DeliveryQuery) ([]store.Recipient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	last := r.lastContactedLocked()
	out := make([]store.Recipient, 0)
	for _, c := range r.contacts {
		if c.Status != store.ContactValid {
			continue
		}
		if at, ok := last[c.Email]; ok && at.After(q.CooldownStart) {
			continue
		}
		out = append(out, store.Recipient{Contact: c, Business: r.businesses[c.BusinessID]})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Contact, out[j].Contact
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if !a.DiscoveredAt.Equal(b.DiscoveredAt) {
			return a.DiscoveredAt.Before(b.DiscoveredAt)
		}
		return a.ID < b.ID
	})
	return limit(out, q.Limit), nil
}

// lastContactedLocked maps each address to its latest non-skip event. Skip
// markers never extend a cooldown.
func (r *Repository) lastContactedLocked() map[string]time.Time {
	last := make(map[string]time.Time)
	for _, e := range r.events {
		if e.Outcome == store.OutcomeSkippedCooldown {
			continue
		}
		email := r.contacts[e.ContactID].Email
		if e.OccurredAt.After(last[email]) {
			last[email] = e.OccurredAt
		}
	}
	return last
}

// AppendEvent implements store.DeliveryRepository.
func (r *Repository) AppendEvent(_ context.Context, e store.DeliveryEvent) (store.DeliveryEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contacts[e.ContactID]; !ok {
		return store.DeliveryEvent{}, fmt.Errorf("append event: contact %s: %w", e.ContactID, store.ErrNotFound)
	}
	if e.ID == "" {
		id, err := newID()
		if err != nil {
			return store.DeliveryEvent{}, err
		}
		e.ID = id
	}
	r.events = append(r.events, e)
	return e, nil
}

// CountEvents implements store.DeliveryRepository.
func (r *Repository) CountEvents(_ context.Context, outcome store.Outcome, since time.Time) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.events {
		if e.Outcome == outcome && !e.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// EmailContactedSince implements store.DeliveryRepository.
func (r *Repository) EmailContactedSince(
	_ context.Context,
	email, exceptContactID string,
	since time.Time,
) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.events {
		if e.Outcome == store.OutcomeSkippedCooldown || e.ContactID == exceptContactID || !e.OccurredAt.After(since) {
			continue
		}
		if r.contacts[e.ContactID].Email == email {
			return true, nil
		}
	}
	return false, nil
}

// FindEventByProviderID implements store.DeliveryRepository.
func (r *Repository) FindEventByProviderID(_ context.Context, providerMessageID string) (store.DeliveryEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		e := r.events[i]
		if e.ProviderMessageID == providerMessageID && e.Outcome == store.OutcomeSent {
			return e, nil
		}
	}
	return store.DeliveryEvent{}, store.ErrNotFound
}

// ListRecentEvents implements store.DeliveryRepository.
func (r *Repository) ListRecentEvents(_ context.Context, n int) ([]store.DeliveryEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]store.DeliveryEvent, len(r.events))
	copy(out, r.events)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].OccurredAt.After(out[j].OccurredAt)
	})
	return limit(out, n), nil
}

// Stats implements store.StatsRepository.
func (r *Repository) Stats(_ context.Context, since, dayStart time.Time) (store.Stats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := store.Stats{
		Since:            since,
		ContactsByStatus: make(map[store.ContactStatus]int),
		EventsByOutcome:  make(map[store.Outcome]int),
	}
	hasValid := make(map[string]bool)
	for _, c := range r.contacts {
		if c.Status == store.ContactValid {
			stats.TotalValidContacts++
			hasValid[c.BusinessID] = true
		}
		if !c.DiscoveredAt.Before(since) {
			stats.ContactsByStatus[c.Status]++
		}
	}
	for _, b := range r.businesses {
		stats.TotalBusinesses++
		if !b.DiscoveredAt.Before(since) {
			stats.BusinessesDiscovered++
		}
		if !hasValid[b.ID] {
			stats.PendingEnrichment++
		}
	}
	for _, e := range r.events {
		if !e.OccurredAt.Before(since) {
			stats.EventsByOutcome[e.Outcome]++
		}
		if e.Outcome == store.OutcomeSent && !e.OccurredAt.Before(dayStart) {
			stats.SentSinceDayStart++
		}
	}
	return stats, nil
}

// Ping always succeeds.
func (r *Repository) Ping(context.Context) error { return nil }

// Close is a no-op.
func (r *Repository) Close() {}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}
