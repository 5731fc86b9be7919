package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/outreach-pipeline/internal/store"
)

const contactColumns = `c.id, c.business_id, c.email, c.status, c.confidence, c.source,
	c.discovered_at, c.validated_at`

// InsertContact stores the contact unless (business, email) already exists,
// in which case the stored row is returned with inserted=false.
func (s *Store) InsertContact(ctx context.Context, c store.Contact) (store.Contact, bool, error) {
	if c.ID == "" {
		id, err := s.newID()
		if err != nil {
			return store.Contact{}, false, err
		}
		c.ID = id
	}
	const query = `
INSERT INTO contacts (id, business_id, email, status, confidence, source, discovered_at, validated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (business_id, email) DO NOTHING
RETURNING id`

	var id string
	err := s.pool.QueryRow(ctx, query,
		c.ID, c.BusinessID, c.Email, string(c.Status), c.Confidence, c.Source, c.DiscoveredAt, c.ValidatedAt,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		existing, getErr := s.GetContactByEmail(ctx, c.BusinessID, c.Email)
		if getErr != nil {
			return store.Contact{}, false, fmt.Errorf("load existing contact: %w", getErr)
		}
		return existing, false, nil
	}
	if err != nil {
		return store.Contact{}, false, fmt.Errorf("insert contact: %w", err)
	}
	return c, true, nil
}

// GetContactByEmail loads the contact for (business, email) or store.ErrNotFound.
func (s *Store) GetContactByEmail(ctx context.Context, businessID, email string) (store.Contact, error) {
	query := `SELECT ` + contactColumns + ` FROM contacts c WHERE c.business_id = $1 AND c.email = $2`
	c, err := scanContact(s.pool.QueryRow(ctx, query, businessID, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Contact{}, store.ErrNotFound
	}
	if err != nil {
		return store.Contact{}, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

// UpdateContactStatus records a re-validation result.
func (s *Store) UpdateContactStatus(
	ctx context.Context,
	id string,
	status store.ContactStatus,
	validatedAt time.Time,
) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contacts SET status = $1, validated_at = $2 WHERE id = $3`,
		string(status), validatedAt, id,
	)
	if err != nil {
		return fmt.Errorf("update contact status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListDeliverable returns valid contacts whose address has no non-skip event
// after the cooldown start, joined with their business.
func (s *Store) ListDeliverable(ctx context.Context, q store.DeliveryQuery) ([]store.Recipient, error) {
	query := `SELECT ` + contactColumns + `, ` + businessColumns + `
FROM contacts c
JOIN businesses b ON b.id = c.business_id
WHERE c.status = $1
AND NOT EXISTS (
	SELECT 1 FROM delivery_events e
	JOIN contacts sc ON sc.id = e.contact_id
	WHERE sc.email = c.email
	AND e.outcome <> $2
	AND e.occurred_at > $3
)
ORDER BY c.confidence DESC, c.discovered_at, c.id
LIMIT $4`
	rows, err := s.pool.Query(ctx, query,
		string(store.ContactValid), string(store.OutcomeSkippedCooldown), q.CooldownStart, q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list deliverable contacts: %w", err)
	}
	defer rows.Close()

	var out []store.Recipient
	for rows.Next() {
		var (
			r      store.Recipient
			status string
		)
		err := rows.Scan(
			&r.Contact.ID, &r.Contact.BusinessID, &r.Contact.Email, &status, &r.Contact.Confidence,
			&r.Contact.Source, &r.Contact.DiscoveredAt, &r.Contact.ValidatedAt,
			&r.Business.ID, &r.Business.Name, &r.Business.Address, &r.Business.NormalizedAddress,
			&r.Business.Latitude, &r.Business.Longitude, &r.Business.Category, &r.Business.SourceRef,
			&r.Business.Website, &r.Business.Phone, &r.Business.Rating, &r.Business.ReviewCount,
			&r.Business.DiscoveredAt, &r.Business.LastSeenAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		r.Contact.Status = store.ContactStatus(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate recipients: %w", err)
	}
	return out, nil
}

func scanContact(row pgx.Row) (store.Contact, error) {
	var (
		c      store.Contact
		status string
	)
	err := row.Scan(&c.ID, &c.BusinessID, &c.Email, &status, &c.Confidence, &c.Source, &c.DiscoveredAt, &c.ValidatedAt)
	c.Status = store.ContactStatus(status)
	return c, err
}
