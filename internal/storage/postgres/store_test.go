package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/outreach-pipeline/internal/store"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s, err := NewWithPool(mock)
	require.NoError(t, err)
	s.newID = func() (string, error) { return "id-1", nil }
	return s, mock
}

func TestNewWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewWithPool(nil)
	require.Error(t, err)
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS businesses").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBusinessInserts(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	b := store.Business{
		Name:              "Acme",
		Address:           "1 Main St",
		NormalizedAddress: "1 main st",
		Latitude:          40.1,
		Longitude:         -88.2,
		Category:          "hvac",
		SourceRef:         "places/abc",
		Website:           "https://acme.com",
		Phone:             "+1 555 0100",
		Rating:            4.5,
		ReviewCount:       12,
		DiscoveredAt:      t0,
	}
	mock.ExpectQuery("INSERT INTO businesses").
		WithArgs("id-1", "Acme", "1 Main St", "1 main st", 40.1, -88.2,
			"hvac", "places/abc", "https://acme.com", "+1 555 0100", 4.5, 12, t0, t0).
		WillReturnRows(mock.NewRows([]string{"id", "discovered_at", "last_seen_at", "inserted"}).
			AddRow("id-1", t0, t0, true))

	got, inserted, err := s.UpsertBusiness(context.Background(), b)
	require.NoError(t, err)
	require.True(t, inserted)
	require.Equal(t, "id-1", got.ID)
	require.Equal(t, t0, got.LastSeenAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertBusinessRefreshesExisting(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	later := t0.Add(24 * time.Hour)
	mock.ExpectQuery("ON CONFLICT \\(name, normalized_address\\) DO UPDATE").
		WithArgs(pgxmock.AnyArg(), "Acme", "1 Main St", "1 main st", 0.0, 0.0,
			"", "", "", "", 0.0, 0, later, later).
		WillReturnRows(mock.NewRows([]string{"id", "discovered_at", "last_seen_at", "inserted"}).
			AddRow("existing", t0, later, false))

	got, inserted, err := s.UpsertBusiness(context.Background(), store.Business{
		Name: "Acme", Address: "1 Main St", NormalizedAddress: "1 main st", DiscoveredAt: later,
	})
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, "existing", got.ID)
	require.Equal(t, t0, got.DiscoveredAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertContactReturnsExistingOnConflict(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	validated := t0
	mock.ExpectQuery("INSERT INTO contacts").
		WithArgs("id-1", "biz-1", "info@acme.com", "valid", 80, "hunter", t0, (*time.Time)(nil)).
		WillReturnRows(mock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT .* FROM contacts c WHERE c.business_id = \\$1 AND c.email = \\$2").
		WithArgs("biz-1", "info@acme.com").
		WillReturnRows(mock.NewRows([]string{
			"id", "business_id", "email", "status", "confidence", "source", "discovered_at", "validated_at",
		}).AddRow("contact-0", "biz-1", "info@acme.com", "invalid", 40, "hunter", t0, &validated))

	got, inserted, err := s.InsertContact(context.Background(), store.Contact{
		BusinessID:   "biz-1",
		Email:        "info@acme.com",
		Status:       store.ContactValid,
		Confidence:   80,
		Source:       "hunter",
		DiscoveredAt: t0,
	})
	require.NoError(t, err)
	require.False(t, inserted)
	require.Equal(t, "contact-0", got.ID)
	require.Equal(t, store.ContactInvalid, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertContactInserts(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO contacts").
		WithArgs("id-1", "biz-1", "info@acme.com", "unvalidated", 50, "website", t0, (*time.Time)(nil)).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow("id-1"))

	got, inserted, err := s.InsertContact(context.Background(), store.Contact{
		BusinessID: "biz-1", Email: "info@acme.com", Status: store.ContactUnvalidated,
		Confidence: 50, Source: "website", DiscoveredAt: t0,
	})
	require.NoError(t, err)
	require.True(t, inserted)
	require.Equal(t, "id-1", got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateContactStatusNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE contacts SET status").
		WithArgs("valid", t0, "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateContactStatus(context.Background(), "missing", store.ContactValid, t0)
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListBusinessesNeedingContact(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	cutoff := t0.AddDate(0, -1, 0)
	mock.ExpectQuery("(?s)FROM businesses b\\s+WHERE NOT EXISTS.*COALESCE\\(c\\.validated_at, c\\.discovered_at\\) >= \\$3").
		WithArgs("valid", "invalid", cutoff, 2).
		WillReturnRows(mock.NewRows([]string{
			"id", "name", "address", "normalized_address", "latitude", "longitude",
			"category", "source_ref", "website", "phone", "rating", "review_count",
			"discovered_at", "last_seen_at",
		}).
			AddRow("b1", "Acme", "1 Main St", "1 main st", 1.0, 2.0, "hvac", "p1", "https://acme.com", "", 4.0, 10, t0, t0).
			AddRow("b2", "Beta", "2 Main St", "2 main st", 1.0, 2.0, "hvac", "p2", "", "", 0.0, 0, t0, t0))

	got, err := s.ListBusinessesNeedingContact(context.Background(), store.EnrichmentQuery{Limit: 2, InvalidBefore: cutoff})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "https://acme.com", got[0].Website)
	require.Equal(t, "b2", got[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDeliverableScansRecipients(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	validated := t0
	mock.ExpectQuery("(?s)FROM contacts c\\s+JOIN businesses b.*sc\\.email = c\\.email").
		WithArgs("valid", "skipped-cooldown", t0, 5).
		WillReturnRows(mock.NewRows([]string{
			"c.id", "business_id", "email", "status", "confidence", "source", "c.discovered_at", "validated_at",
			"b.id", "name", "address", "normalized_address", "latitude", "longitude",
			"category", "source_ref", "website", "phone", "rating", "review_count",
			"b.discovered_at", "last_seen_at",
		}).AddRow(
			"c1", "b1", "info@acme.com", "valid", 90, "hunter", t0, &validated,
			"b1", "Acme", "1 Main St", "1 main st", 1.0, 2.0,
			"hvac", "p1", "https://acme.com", "555", 4.5, 20,
			t0, t0,
		))

	got, err := s.ListDeliverable(context.Background(), store.DeliveryQuery{Limit: 5, CooldownStart: t0})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, store.ContactValid, got[0].Contact.Status)
	require.Equal(t, "Acme", got[0].Business.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEventInserts(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO delivery_events").
		WithArgs("id-1", "c1", t0, "sent", "welcome", "<m1@mg>", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	e, err := s.AppendEvent(context.Background(), store.DeliveryEvent{
		ContactID: "c1", OccurredAt: t0, Outcome: store.OutcomeSent, TemplateID: "welcome", ProviderMessageID: "<m1@mg>",
	})
	require.NoError(t, err)
	require.Equal(t, "id-1", e.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendEventWrapsErrors(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO delivery_events").
		WithArgs("id-1", "c1", t0, "failed", "", "", "rejected").
		WillReturnError(errors.New("connection reset"))

	_, err := s.AppendEvent(context.Background(), store.DeliveryEvent{
		ContactID: "c1", OccurredAt: t0, Outcome: store.OutcomeFailed, Detail: "rejected",
	})
	require.ErrorContains(t, err, "insert delivery event")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountEventsAndEmailHistory(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM delivery_events WHERE outcome = \\$1").
		WithArgs("sent", t0).
		WillReturnRows(mock.NewRows([]string{"count"}).AddRow(60))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs("info@acme.com", "c1", "skipped-cooldown", t0).
		WillReturnRows(mock.NewRows([]string{"exists"}).AddRow(true))

	n, err := s.CountEvents(context.Background(), store.OutcomeSent, t0)
	require.NoError(t, err)
	require.Equal(t, 60, n)

	found, err := s.EmailContactedSince(context.Background(), "info@acme.com", "c1", t0)
	require.NoError(t, err)
	require.True(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindEventByProviderIDNotFound(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .* FROM delivery_events WHERE").
		WithArgs("sent", "<missing>").
		WillReturnRows(mock.NewRows(eventColumns))

	_, err := s.FindEventByProviderID(context.Background(), "<missing>")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecentEvents(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT .* FROM delivery_events ORDER BY occurred_at DESC LIMIT 2").
		WillReturnRows(mock.NewRows(eventColumns).
			AddRow("e2", "c1", t0.Add(time.Minute), "failed", "welcome", "", "rejected").
			AddRow("e1", "c1", t0, "sent", "welcome", "<m1@mg>", ""))

	got, err := s.ListRecentEvents(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, store.OutcomeFailed, got[0].Outcome)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsAggregates(t *testing.T) {
	t.Parallel()

	s, mock := newMockStore(t)
	since := t0.Add(-24 * time.Hour)
	dayStart := t0.Truncate(24 * time.Hour)
	count := func(n int) *pgxmock.Rows { return mock.NewRows([]string{"count"}).AddRow(n) }

	mock.ExpectQuery("SELECT count\\(\\*\\) FROM businesses WHERE discovered_at >= \\$1").
		WithArgs(since).WillReturnRows(count(7))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM businesses$").WillReturnRows(count(40))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM contacts WHERE status = \\$1").
		WithArgs("valid").WillReturnRows(count(25))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM businesses b WHERE NOT EXISTS").
		WithArgs("valid").WillReturnRows(count(15))
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM delivery_events WHERE").
		WithArgs("sent", dayStart).WillReturnRows(count(3))
	mock.ExpectQuery("SELECT status, count\\(\\*\\) FROM contacts").
		WithArgs(since).
		WillReturnRows(mock.NewRows([]string{"status", "count"}).AddRow("valid", 5).AddRow("invalid", 2))
	mock.ExpectQuery("SELECT outcome, count\\(\\*\\) FROM delivery_events").
		WithArgs(since).
		WillReturnRows(mock.NewRows([]string{"outcome", "count"}).AddRow("sent", 3).AddRow("failed", 1))

	stats, err := s.Stats(context.Background(), since, dayStart)
	require.NoError(t, err)
	require.Equal(t, 7, stats.BusinessesDiscovered)
	require.Equal(t, 40, stats.TotalBusinesses)
	require.Equal(t, 25, stats.TotalValidContacts)
	require.Equal(t, 15, stats.PendingEnrichment)
	require.Equal(t, 3, stats.SentSinceDayStart)
	require.Equal(t, 5, stats.ContactsByStatus[store.ContactValid])
	require.Equal(t, 1, stats.EventsByOutcome[store.OutcomeFailed])
	require.NoError(t, mock.ExpectationsWereMet())
}
