package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/outreach-pipeline/internal/store"
)

const businessColumns = `b.id, b.name, b.address, b.normalized_address, b.latitude, b.longitude,
	b.category, b.source_ref, b.website, b.phone, b.rating, b.review_count,
	b.discovered_at, b.last_seen_at`

// UpsertBusiness inserts the business or refreshes last_seen_at on conflict.
// xmax is zero only for a freshly inserted row.
func (s *Store) UpsertBusiness(ctx context.Context, b store.Business) (store.Business, bool, error) {
	if b.ID == "" {
		id, err := s.newID()
		if err != nil {
			return store.Business{}, false, err
		}
		b.ID = id
	}
	if b.LastSeenAt.IsZero() {
		b.LastSeenAt = b.DiscoveredAt
	}
	const query = `
INSERT INTO businesses (
	id, name, address, normalized_address, latitude, longitude,
	category, source_ref, website, phone, rating, review_count,
	discovered_at, last_seen_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (name, normalized_address) DO UPDATE
SET last_seen_at = GREATEST(businesses.last_seen_at, EXCLUDED.last_seen_at)
RETURNING id, discovered_at, last_seen_at, (xmax = 0) AS inserted`

	var inserted bool
	err := s.pool.QueryRow(ctx, query,
		b.ID, b.Name, b.Address, b.NormalizedAddress, b.Latitude, b.Longitude,
		b.Category, b.SourceRef, b.Website, b.Phone, b.Rating, b.ReviewCount,
		b.DiscoveredAt, b.LastSeenAt,
	).Scan(&b.ID, &b.DiscoveredAt, &b.LastSeenAt, &inserted)
	if err != nil {
		return store.Business{}, false, fmt.Errorf("upsert business: %w", err)
	}
	return b, inserted, nil
}

// GetBusiness loads one business or returns store.ErrNotFound.
func (s *Store) GetBusiness(ctx context.Context, id string) (store.Business, error) {
	query := `SELECT ` + businessColumns + ` FROM businesses b WHERE b.id = $1`
	b, err := scanBusiness(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Business{}, store.ErrNotFound
	}
	if err != nil {
		return store.Business{}, fmt.Errorf("get business: %w", err)
	}
	return b, nil
}

// ListBusinessesNeedingContact returns businesses lacking a valid contact and
// without an invalid one checked since InvalidBefore, oldest first.
func (s *Store) ListBusinessesNeedingContact(
	ctx context.Context,
	q store.EnrichmentQuery,
) ([]store.Business, error) {
	query := `SELECT ` + businessColumns + `
FROM businesses b
WHERE NOT EXISTS (
	SELECT 1 FROM contacts c
	WHERE c.business_id = b.id
	AND (c.status = $1 OR (c.status = $2 AND COALESCE(c.validated_at, c.discovered_at) >= $3))
)
ORDER BY b.discovered_at, b.id
LIMIT $4`
	rows, err := s.pool.Query(ctx, query,
		string(store.ContactValid), string(store.ContactInvalid), q.InvalidBefore, q.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list businesses needing contact: %w", err)
	}
	defer rows.Close()

	var out []store.Business
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, fmt.Errorf("scan business: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate businesses: %w", err)
	}
	return out, nil
}

func scanBusiness(row pgx.Row) (store.Business, error) {
	var b store.Business
	err := row.Scan(
		&b.ID, &b.Name, &b.Address, &b.NormalizedAddress, &b.Latitude, &b.Longitude,
		&b.Category, &b.SourceRef, &b.Website, &b.Phone, &b.Rating, &b.ReviewCount,
		&b.DiscoveredAt, &b.LastSeenAt,
	)
	return b, err
}
