package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
)

type recordingNotifier struct {
	name string
	err  error

	mu     sync.Mutex
	alerts []Alert
}

func (r *recordingNotifier) Name() string { return r.name }

func (r *recordingNotifier) Notify(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return r.err
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	require.Equal(t, "short", Truncate("short", MaxDetail))
	long := strings.Repeat("x", MaxDetail+10)
	got := Truncate(long, MaxDetail)
	require.True(t, strings.HasPrefix(got, strings.Repeat("x", MaxDetail)))
	require.Equal(t, strings.Repeat("x", MaxDetail)+"... (truncated)", got)

	multi := Truncate(strings.Repeat("é", 5), 3)
	require.Equal(t, "ééé... (truncated)", multi)
}

func TestDispatcherIsBestEffort(t *testing.T) {
	t.Parallel()

	failing := &recordingNotifier{name: "broken", err: errors.New("down")}
	ok := &recordingNotifier{name: "ok"}
	d := NewDispatcher(zap.NewNop(), failing, nil, ok)
	fixed := time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return fixed }

	err := d.Send(context.Background(), Alert{Level: LevelError, Title: "boom", Detail: strings.Repeat("d", 2000)})
	require.ErrorContains(t, err, "broken")
	require.Len(t, ok.alerts, 1)
	require.Equal(t, fixed, ok.alerts[0].At)
	require.Less(t, len(ok.alerts[0].Detail), 1600)

	d.Failure(context.Background(), "delivery", errors.New("store unreachable"))
	require.Len(t, ok.alerts, 2)
	require.Equal(t, "delivery", ok.alerts[1].Stage)
}

func TestDispatcherWithoutSinks(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(nil)
	require.False(t, d.Enabled())
	require.NoError(t, d.Send(context.Background(), Alert{Title: "x"}))
}

func TestWebhookFormats(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		seen []map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		seen = append(seen, body)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	discord, err := NewWebhook(srv.URL, "", time.Second, nil)
	require.NoError(t, err)
	slack, err := NewWebhook(srv.URL, "Slack", time.Second, nil)
	require.NoError(t, err)

	a := Alert{Level: LevelInfo, Stage: "report", Title: "Daily summary", Detail: "sent: 4"}
	require.NoError(t, discord.Notify(context.Background(), a))
	require.NoError(t, slack.Notify(context.Background(), a))

	require.Len(t, seen, 2)
	require.Contains(t, seen[0]["content"], "**Daily summary**")
	require.Contains(t, seen[0]["content"], "sent: 4")
	require.Contains(t, seen[1]["text"], "*Daily summary*")
}

func TestWebhookErrors(t *testing.T) {
	t.Parallel()

	_, err := NewWebhook("", "discord", 0, nil)
	require.True(t, apperr.IsConfiguration(err))
	_, err = NewWebhook("http://x", "teams", 0, nil)
	require.True(t, apperr.IsConfiguration(err))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	w, err := NewWebhook(srv.URL, "discord", time.Second, nil)
	require.NoError(t, err)
	require.Error(t, w.Notify(context.Background(), Alert{Title: "x"}))
}

type fakeResult struct {
	id  string
	err error
}

func (f fakeResult) Get(context.Context) (string, error) { return f.id, f.err }

type fakePublisher struct {
	msgs []*pubsub.Message
	err  error
}

func (f *fakePublisher) Publish(_ context.Context, msg *pubsub.Message) publishResult {
	f.msgs = append(f.msgs, msg)
	return fakeResult{id: "m-1", err: f.err}
}

func TestPubSubNotifier(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	n := &PubSubNotifier{publisher: pub}
	require.NoError(t, n.Notify(context.Background(), Alert{Level: LevelError, Stage: "enrichment", Title: "quota"}))
	require.Len(t, pub.msgs, 1)
	require.Equal(t, "enrichment", pub.msgs[0].Attributes["stage"])

	var decoded Alert
	require.NoError(t, json.Unmarshal(pub.msgs[0].Data, &decoded))
	require.Equal(t, "quota", decoded.Title)

	pub.err = errors.New("unavailable")
	require.Error(t, n.Notify(context.Background(), Alert{Title: "x"}))

	require.Error(t, (&PubSubNotifier{}).Notify(context.Background(), Alert{}))
}

func TestAlertText(t *testing.T) {
	t.Parallel()

	a := Alert{Level: LevelError, Stage: "discovery", Title: "failed", Detail: "geocode"}
	require.Equal(t, "[ERROR] failed (stage: discovery)\ngeocode", a.Text())
}
