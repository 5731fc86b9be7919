package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/outreach-pipeline/internal/metrics"
	"github.com/JakeFAU/outreach-pipeline/internal/pipeline"
	"github.com/JakeFAU/outreach-pipeline/internal/store"
)

// Store is the read side the server needs.
type Store interface {
	Ping(ctx context.Context) error
	ListRecentEvents(ctx context.Context, limit int) ([]store.DeliveryEvent, error)
}

// Reporter builds windowed reports.
type Reporter interface {
	Report(ctx context.Context, window time.Duration) (pipeline.Report, error)
}

// BounceRecorder appends bounce events reported by the mail provider.
type BounceRecorder interface {
	RecordBounce(ctx context.Context, providerID, reason string) (store.DeliveryEvent, error)
}

// Options tunes the server.
type Options struct {
	RequestTimeout time.Duration
	AuthEnabled    bool
	APIKey         string
}

// Server wires HTTP handlers to the store and pipeline stages.
type Server struct {
	router   chi.Router
	store    Store
	reporter Reporter
	bounces  BounceRecorder
	timeout  time.Duration
	logger   *zap.Logger
}

const (
	defaultRequestTimeout = 30 * time.Second
	probeTimeout          = 3 * time.Second
)

// NewServer constructs a Server with middleware and routes.
func NewServer(st Store, reporter Reporter, bounces BounceRecorder, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		store:    st,
		reporter: reporter,
		bounces:  bounces,
		timeout:  opts.RequestTimeout,
		logger:   logger.Named("api"),
	}
	metrics.Init()

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(opts.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.getStats)
		r.Get("/events", s.listEvents)
		if opts.AuthEnabled {
			r.With(apiKeyMiddleware(opts.APIKey)).Post("/bounces", s.postBounce)
		} else {
			r.Post("/bounces", s.postBounce)
		}
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("readiness ping failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
