package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/outreach-pipeline/internal/hunter"
	"github.com/JakeFAU/outreach-pipeline/internal/mailgun"
	"github.com/JakeFAU/outreach-pipeline/internal/places"
	"github.com/JakeFAU/outreach-pipeline/internal/retry"
	"github.com/JakeFAU/outreach-pipeline/internal/storage/memory"
	"github.com/JakeFAU/outreach-pipeline/internal/store"
	"github.com/JakeFAU/outreach-pipeline/internal/website"
)

var epoch = time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newClock() *manualClock { return &manualClock{now: epoch} }

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func noWaitPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3}.WithSleep(func(context.Context, time.Duration) error { return nil })
}

// fakePlaces serves pages keyed by page token ("" is the first page).
type fakePlaces struct {
	mu         sync.Mutex
	geocodeErr error
	pages      map[string]places.Page
	errs       map[string]error
	requests   []places.SearchRequest
}

func (f *fakePlaces) Geocode(_ context.Context, _ string) (places.Coordinates, error) {
	if f.geocodeErr != nil {
		return places.Coordinates{}, f.geocodeErr
	}
	return places.Coordinates{Lat: 39.78, Lng: -89.65}, nil
}

func (f *fakePlaces) Search(_ context.Context, req places.SearchRequest) (places.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if err := f.errs[req.PageToken]; err != nil {
		return places.Page{}, err
	}
	return f.pages[req.PageToken], nil
}

func place(id, name, addr string) places.Place {
	return places.Place{ID: id, Name: name, Address: addr, BusinessStatus: "OPERATIONAL"}
}

// fakeHunter answers domain searches and verifications from maps.
type fakeHunter struct {
	mu         sync.Mutex
	candidates map[string][]hunter.Candidate
	searchErr  map[string]error
	verdicts   map[string]hunter.Verdict
	verifyErr  map[string]error
	searches   []string
	verifies   []string
}

func newFakeHunter() *fakeHunter {
	return &fakeHunter{
		candidates: make(map[string][]hunter.Candidate),
		searchErr:  make(map[string]error),
		verdicts:   make(map[string]hunter.Verdict),
		verifyErr:  make(map[string]error),
	}
}

func (f *fakeHunter) DomainSearch(_ context.Context, domain, company string) ([]hunter.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := domain
	if key == "" {
		key = company
	}
	f.searches = append(f.searches, key)
	if err := f.searchErr[key]; err != nil {
		return nil, err
	}
	return f.candidates[key], nil
}

func (f *fakeHunter) Verify(_ context.Context, email string) (hunter.Verdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifies = append(f.verifies, email)
	if err := f.verifyErr[email]; err != nil {
		return hunter.VerdictUnknown, err
	}
	if v, ok := f.verdicts[email]; ok {
		return v, nil
	}
	return hunter.VerdictDeliverable, nil
}

type fakeCrawler struct {
	found map[string][]website.Candidate
	err   error
}

func (f *fakeCrawler) Find(_ context.Context, site string) ([]website.Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.found[site], nil
}

// fakeMailer accepts everything except addresses listed in reject.
type fakeMailer struct {
	mu     sync.Mutex
	reject map[string]error
	sent   []mailgun.Message
	tried  []string
}

func (f *fakeMailer) Send(_ context.Context, msg mailgun.Message) (mailgun.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tried = append(f.tried, msg.To)
	if err := f.reject[msg.To]; err != nil {
		return mailgun.Result{}, err
	}
	f.sent = append(f.sent, msg)
	return mailgun.Result{ID: fmt.Sprintf("msg-%d@mg.test", len(f.sent)), Message: "Queued. Thank you."}, nil
}

// seedContacts stores n businesses, each with one valid contact whose
// confidence decreases so selection order is predictable.
func seedContacts(t *testing.T, repo *memory.Repository, n int, at time.Time) []store.Contact {
	t.Helper()
	ctx := context.Background()
	out := make([]store.Contact, 0, n)
	for i := 0; i < n; i++ {
		addr := fmt.Sprintf("%d Main St, Springfield, IL", i+1)
		b, _, err := repo.UpsertBusiness(ctx, store.Business{
			Name:              fmt.Sprintf("Biz %03d", i),
			Address:           addr,
			NormalizedAddress: store.NormalizeAddress(addr),
			Category:          "hvac",
			DiscoveredAt:      at,
		})
		require.NoError(t, err)
		c, _, err := repo.InsertContact(ctx, store.Contact{
			BusinessID:   b.ID,
			Email:        fmt.Sprintf("info%03d@biz.test", i),
			Status:       store.ContactValid,
			Confidence:   100 - i%100,
			Source:       SourceHunter,
			DiscoveredAt: at.Add(time.Duration(i) * time.Millisecond),
		})
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

func countOutcome(t *testing.T, repo *memory.Repository, outcome store.Outcome) int {
	t.Helper()
	n, err := repo.CountEvents(context.Background(), outcome, time.Time{})
	require.NoError(t, err)
	return n
}

func contactStats(t *testing.T, repo *memory.Repository) map[store.ContactStatus]int {
	t.Helper()
	s, err := repo.Stats(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)
	return s.ContactsByStatus
}
