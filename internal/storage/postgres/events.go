package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/outreach-pipeline/internal/store"
)

var eventColumns = []string{
	"id", "contact_id", "occurred_at", "outcome", "template_id", "provider_message_id", "detail",
}

// AppendEvent writes one immutable delivery event.
func (s *Store) AppendEvent(ctx context.Context, e store.DeliveryEvent) (store.DeliveryEvent, error) {
	if e.ID == "" {
		id, err := s.newID()
		if err != nil {
			return store.DeliveryEvent{}, err
		}
		e.ID = id
	}
	query, args, err := s.psql.Insert("delivery_events").
		Columns(eventColumns...).
		Values(e.ID, e.ContactID, e.OccurredAt, string(e.Outcome), e.TemplateID, e.ProviderMessageID, e.Detail).
		ToSql()
	if err != nil {
		return store.DeliveryEvent{}, fmt.Errorf("build event insert: %w", err)
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return store.DeliveryEvent{}, fmt.Errorf("insert delivery event: %w", err)
	}
	return e, nil
}

// CountEvents counts events of one outcome at or after since.
func (s *Store) CountEvents(ctx context.Context, outcome store.Outcome, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM delivery_events WHERE outcome = $1 AND occurred_at >= $2`,
		string(outcome), since,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s events: %w", outcome, err)
	}
	return n, nil
}

// EmailContactedSince reports whether another contact sharing the address
// has a non-skip event after since.
func (s *Store) EmailContactedSince(
	ctx context.Context,
	email, exceptContactID string,
	since time.Time,
) (bool, error) {
	const query = `
SELECT EXISTS (
	SELECT 1 FROM delivery_events e
	JOIN contacts c ON c.id = e.contact_id
	WHERE c.email = $1 AND c.id <> $2 AND e.outcome <> $3 AND e.occurred_at > $4
)`
	row := s.pool.QueryRow(ctx, query, email, exceptContactID, string(store.OutcomeSkippedCooldown), since)
	var found bool
	if err := row.Scan(&found); err != nil {
		return false, fmt.Errorf("check email history: %w", err)
	}
	return found, nil
}

// FindEventByProviderID returns the latest sent event for a provider message id.
func (s *Store) FindEventByProviderID(ctx context.Context, providerMessageID string) (store.DeliveryEvent, error) {
	query, args, err := s.psql.Select(eventColumns...).
		From("delivery_events").
		Where(sq.Eq{"provider_message_id": providerMessageID, "outcome": string(store.OutcomeSent)}).
		OrderBy("occurred_at DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return store.DeliveryEvent{}, fmt.Errorf("build event lookup: %w", err)
	}
	e, err := scanEvent(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.DeliveryEvent{}, store.ErrNotFound
	}
	if err != nil {
		return store.DeliveryEvent{}, fmt.Errorf("find event by provider id: %w", err)
	}
	return e, nil
}

// ListRecentEvents returns the newest events first.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]store.DeliveryEvent, error) {
	builder := s.psql.Select(eventColumns...).From("delivery_events").OrderBy("occurred_at DESC")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent events query: %w", err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}
	defer rows.Close()

	var out []store.DeliveryEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

func scanEvent(row pgx.Row) (store.DeliveryEvent, error) {
	var (
		e       store.DeliveryEvent
		outcome string
	)
	err := row.Scan(&e.ID, &e.ContactID, &e.OccurredAt, &outcome, &e.TemplateID, &e.ProviderMessageID, &e.Detail)
	e.Outcome = store.Outcome(outcome)
	return e, err
}
