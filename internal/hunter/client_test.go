package hunter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
	"github.com/JakeFAU/outreach-pipeline/internal/store"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Config{APIKey: "secret", BaseURL: srv.URL + "/v2/"}, nil)
	require.NoError(t, err)
	return c
}

func TestNewRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{APIKey: "  "}, nil)
	require.True(t, apperr.IsConfiguration(err))
}

func TestDomainSearchRanksCandidates(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/domain-search", r.URL.Path)
		require.Equal(t, "acme.com", r.URL.Query().Get("domain"))
		require.Equal(t, "secret", r.URL.Query().Get("api_key"))
		_, _ = w.Write([]byte(`{"data":{"emails":[
			{"value":"John.Smith@acme.com","type":"personal","confidence":80},
			{"value":"info@acme.com","type":"generic","confidence":70},
			{"value":"","type":"generic","confidence":99}
		]}}`))
	})

	got, err := c.DomainSearch(context.Background(), "acme.com", "Acme")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "info@acme.com", got[0].Email)
	require.Equal(t, 95, got[0].Confidence)
	require.Equal(t, "john.smith@acme.com", got[1].Email)
	require.Equal(t, 80, got[1].Confidence)
}

func TestDomainSearchFallsBackToCompany(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Empty(t, r.URL.Query().Get("domain"))
		require.Equal(t, "Acme Heating", r.URL.Query().Get("company"))
		_, _ = w.Write([]byte(`{"data":{"emails":[]}}`))
	})

	got, err := c.DomainSearch(context.Background(), "", "Acme Heating")
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = c.DomainSearch(context.Background(), "", "")
	require.True(t, apperr.IsValidation(err))
}

func TestVerifyVerdicts(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("email") {
		case "good@acme.com":
			_, _ = w.Write([]byte(`{"data":{"result":"deliverable","status":"valid"}}`))
		case "risky@acme.com":
			_, _ = w.Write([]byte(`{"data":{"status":"accept_all"}}`))
		case "bad@acme.com":
			_, _ = w.Write([]byte(`{"data":{"result":"undeliverable","status":"invalid"}}`))
		case "slow@acme.com":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte(`{"data":{"status":"unknown"}}`))
		}
	})
	ctx := context.Background()

	cases := map[string]store.ContactStatus{
		"good@acme.com":  store.ContactValid,
		"risky@acme.com": store.ContactValid,
		"bad@acme.com":   store.ContactInvalid,
		"who@acme.com":   store.ContactUnvalidated,
	}
	for email, want := range cases {
		v, err := c.Verify(ctx, email)
		require.NoError(t, err, email)
		require.Equal(t, want, v.Status(), email)
	}

	_, err := c.Verify(ctx, "slow@acme.com")
	require.True(t, apperr.IsTransient(err))
}

func TestCredits(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/account", r.URL.Path)
		_, _ = w.Write([]byte(`{"data":{"requests":{"searches":{"used":3,"available":25},"verifications":{"used":7,"available":50}}}}`))
	})

	got, err := c.Credits(context.Background())
	require.NoError(t, err)
	require.Equal(t, Credits{SearchesUsed: 3, SearchesAvailable: 25, VerificationsUsed: 7, VerificationsAvailable: 50}, got)
}

func TestUnauthorizedIsConfiguration(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := c.Credits(context.Background())
	require.True(t, apperr.IsConfiguration(err))
}

func TestBoostConfidenceCaps(t *testing.T) {
	t.Parallel()

	require.Equal(t, 100, BoostConfidence("sales@x.com", "generic", 90, DefaultPreferredPrefixes))
	require.Equal(t, 40, BoostConfidence("bob@x.com", "personal", 40, DefaultPreferredPrefixes))
}

func TestDomainFromWebsite(t *testing.T) {
	t.Parallel()

	require.Equal(t, "acme.com", DomainFromWebsite("https://www.Acme.com/contact?x=1"))
	require.Equal(t, "acme.com", DomainFromWebsite("acme.com"))
	require.Empty(t, DomainFromWebsite(" "))
}
