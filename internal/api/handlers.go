package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-pipeline/internal/apperr"
	"github.com/JakeFAU/outreach-pipeline/internal/pipeline"
	"github.com/JakeFAU/outreach-pipeline/internal/store"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
	defaultWindow     = "24h"
	maxBounceBody     = 1 << 20
)

// getStats handles GET /v1/stats?window=. It returns the aggregate counts and
// the rendered summary text, or 400 for a malformed window.
func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	if s.reporter == nil {
		writeError(w, http.StatusServiceUnavailable, "reporter unavailable")
		return
	}
	raw := r.URL.Query().Get("window")
	if raw == "" {
		raw = defaultWindow
	}
	window, err := pipeline.ParseWindow(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rep, err := s.reporter.Report(r.Context(), window)
	if err != nil {
		s.logger.Error("build report failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build report")
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(rep))
}

// listEvents handles GET /v1/events?limit=, newest first.
func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	limit, err := parseLimit(r, defaultEventLimit, maxEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := s.store.ListRecentEvents(r.Context(), limit)
	if err != nil {
		s.logger.Error("list events failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": toEventDTOs(events)})
}

// bounceRequest accepts either a flat body or Mailgun's webhook envelope.
type bounceRequest struct {
	MessageID string `json:"message_id"`
	Reason    string `json:"reason"`
	EventData *struct {
		Event    string `json:"event"`
		Severity string `json:"severity"`
		Message  struct {
			Headers struct {
				MessageID string `json:"message-id"`
			} `json:"headers"`
		} `json:"message"`
		DeliveryStatus struct {
			Description string `json:"description"`
			Message     string `json:"message"`
		} `json:"delivery-status"`
	} `json:"event-data"`
}

func (b bounceRequest) normalize() (id, reason string) {
	id, reason = b.MessageID, b.Reason
	if ev := b.EventData; ev != nil {
		if id == "" {
			id = ev.Message.Headers.MessageID
		}
		if reason == "" {
			reason = strings.TrimSpace(ev.DeliveryStatus.Description + " " + ev.DeliveryStatus.Message)
		}
		if reason == "" {
			reason = strings.TrimSpace(ev.Severity + " " + ev.Event)
		}
	}
	return strings.Trim(strings.TrimSpace(id), "<>"), reason
}

// postBounce handles POST /v1/bounces. It returns 201 with the appended event,
// 400 for a missing message id, or 404 when no sent event carries the id.
func (s *Server) postBounce(w http.ResponseWriter, r *http.Request) {
	if s.bounces == nil {
		writeError(w, http.StatusServiceUnavailable, "bounce recording unavailable")
		return
	}
	var req bounceRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBounceBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	id, reason := req.normalize()
	ev, err := s.bounces.RecordBounce(r.Context(), id, reason)
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]any{"event": toEventDTO(ev)})
	case apperr.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "no sent message with that id")
	default:
		s.logger.Error("record bounce failed", zap.String("message_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to record bounce")
	}
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}

type statsDTO struct {
	GeneratedAt          time.Time      `json:"generated_at"`
	WindowSeconds        int64          `json:"window_seconds"`
	BusinessesDiscovered int            `json:"businesses_discovered"`
	Contacts             map[string]int `json:"contacts"`
	Deliveries           map[string]int `json:"deliveries"`
	TotalBusinesses      int            `json:"total_businesses"`
	TotalValidContacts   int            `json:"total_valid_contacts"`
	PendingEnrichment    int            `json:"pending_enrichment"`
	SentToday            int            `json:"sent_today"`
	Text                 string         `json:"text"`
}

func toStatsDTO(rep pipeline.Report) statsDTO {
	st := rep.Stats
	dto := statsDTO{
		GeneratedAt:          rep.GeneratedAt,
		WindowSeconds:        int64(rep.Window / time.Second),
		BusinessesDiscovered: st.BusinessesDiscovered,
		Contacts:             make(map[string]int, len(st.ContactsByStatus)),
		Deliveries:           make(map[string]int, len(st.EventsByOutcome)),
		TotalBusinesses:      st.TotalBusinesses,
		TotalValidContacts:   st.TotalValidContacts,
		PendingEnrichment:    st.PendingEnrichment,
		SentToday:            st.SentSinceDayStart,
		Text:                 rep.Text(),
	}
	for k, v := range st.ContactsByStatus {
		dto.Contacts[string(k)] = v
	}
	for k, v := range st.EventsByOutcome {
		dto.Deliveries[string(k)] = v
	}
	return dto
}

type eventDTO struct {
	ID                string    `json:"id"`
	ContactID         string    `json:"contact_id"`
	OccurredAt        time.Time `json:"occurred_at"`
	Outcome           string    `json:"outcome"`
	TemplateID        string    `json:"template_id,omitempty"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	Detail            string    `json:"detail,omitempty"`
}

func toEventDTO(e store.DeliveryEvent) eventDTO {
	return eventDTO{
		ID:                e.ID,
		ContactID:         e.ContactID,
		OccurredAt:        e.OccurredAt,
		Outcome:           string(e.Outcome),
		TemplateID:        e.TemplateID,
		ProviderMessageID: e.ProviderMessageID,
		Detail:            e.Detail,
	}
}

func toEventDTOs(in []store.DeliveryEvent) []eventDTO {
	out := make([]eventDTO, 0, len(in))
	for _, e := range in {
		out = append(out, toEventDTO(e))
	}
	return out
}
