package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/JakeFAU/outreach-pipeline/internal/store"
)

// Stats aggregates windowed and all-time counts for reporting.
func (s *Store) Stats(ctx context.Context, since, dayStart time.Time) (store.Stats, error) {
	stats := store.Stats{
		Since:            since,
		ContactsByStatus: make(map[store.ContactStatus]int),
		EventsByOutcome:  make(map[store.Outcome]int),
	}

	counts := []struct {
		name    string
		builder sq.SelectBuilder
		dest    *int
	}{
		{
			name:    "businesses discovered",
			builder: s.psql.Select("count(*)").From("businesses").Where(sq.GtOrEq{"discovered_at": since}),
			dest:    &stats.BusinessesDiscovered,
		},
		{
			name:    "total businesses",
			builder: s.psql.Select("count(*)").From("businesses"),
			dest:    &stats.TotalBusinesses,
		},
		{
			name:    "valid contacts",
			builder: s.psql.Select("count(*)").From("contacts").Where(sq.Eq{"status": string(store.ContactValid)}),
			dest:    &stats.TotalValidContacts,
		},
		{
			name: "pending enrichment",
			builder: s.psql.Select("count(*)").From("businesses b").Where(
				sq.Expr("NOT EXISTS (SELECT 1 FROM contacts c WHERE c.business_id = b.id AND c.status = ?)",
					string(store.ContactValid)),
			),
			dest: &stats.PendingEnrichment,
		},
		{
			name: "sent today",
			builder: s.psql.Select("count(*)").From("delivery_events").Where(sq.And{
				sq.Eq{"outcome": string(store.OutcomeSent)},
				sq.GtOrEq{"occurred_at": dayStart},
			}),
			dest: &stats.SentSinceDayStart,
		},
	}
	for _, c := range counts {
		query, args, err := c.builder.ToSql()
		if err != nil {
			return store.Stats{}, fmt.Errorf("build %s query: %w", c.name, err)
		}
		if err := s.pool.QueryRow(ctx, query, args...).Scan(c.dest); err != nil {
			return store.Stats{}, fmt.Errorf("count %s: %w", c.name, err)
		}
	}

	err := s.groupCount(ctx, "contacts", "status", "discovered_at", since, func(key string, n int) {
		stats.ContactsByStatus[store.ContactStatus(key)] = n
	})
	if err != nil {
		return store.Stats{}, err
	}
	err = s.groupCount(ctx, "delivery_events", "outcome", "occurred_at", since, func(key string, n int) {
		stats.EventsByOutcome[store.Outcome(key)] = n
	})
	if err != nil {
		return store.Stats{}, err
	}
	return stats, nil
}

func (s *Store) groupCount(
	ctx context.Context,
	table, column, tsColumn string,
	since time.Time,
	apply func(key string, n int),
) error {
	query, args, err := s.psql.Select(column, "count(*)").
		From(table).
		Where(sq.GtOrEq{tsColumn: since}).
		GroupBy(column).
		ToSql()
	if err != nil {
		return fmt.Errorf("build %s grouping: %w", table, err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("group %s by %s: %w", table, column, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key string
			n   int
		)
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("scan %s grouping: %w", table, err)
		}
		apply(key, n)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s grouping: %w", table, err)
	}
	return nil
}
