// Package metrics exposes Prometheus collectors for the outreach pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	stageRunsTotal             *prometheus.CounterVec
	stageDurationSeconds       *prometheus.HistogramVec
	businessesTotal            *prometheus.CounterVec
	contactsTotal              *prometheus.CounterVec
	deliveriesTotal            *prometheus.CounterVec
	apiRequestsTotal           *prometheus.CounterVec
	apiRequestDurationSeconds  *prometheus.HistogramVec
	apiRetriesTotal            *prometheus.CounterVec
	rateLimitDelaySeconds      *prometheus.HistogramVec
	alertsTotal                *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors. It is safe to call more than once, and every
// Observe helper calls it, so commands that never serve /metrics still count.
func Init() {
	once.Do(func() {
		stageRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_stage_runs_total",
				Help: "Pipeline stage invocations, labeled by stage and result.",
			},
			[]string{"stage", "result"},
		)

		stageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outreach_stage_duration_seconds",
				Help:    "Wall time of a pipeline stage run.",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 1800, 3600},
			},
			[]string{"stage"},
		)

		businessesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_businesses_total",
				Help: "Discovery results, labeled by inserted/duplicate/invalid.",
			},
			[]string{"result"},
		)

		contactsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_contacts_total",
				Help: "Enrichment outcomes, labeled by contact status or not_found/skipped.",
			},
			[]string{"result"},
		)

		deliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_deliveries_total",
				Help: "Delivery events appended, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		apiRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_api_requests_total",
				Help: "Outbound API requests, labeled by API and status code.",
			},
			[]string{"api", "code"},
		)

		apiRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outreach_api_request_duration_seconds",
				Help:    "Latency of outbound API requests.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"api"},
		)

		apiRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_api_retries_total",
				Help: "Retries of transient API failures.",
			},
			[]string{"api"},
		)

		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "outreach_rate_limit_delay_seconds",
				Help:    "Time spent waiting on the outbound rate limiter.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"api"},
		)

		alertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "outreach_alerts_total",
				Help: "Alert deliveries, labeled by sink and result.",
			},
			[]string{"sink", "result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveStage records one stage run.
func ObserveStage(stage, result string, duration time.Duration) {
	Init()
	stageRunsTotal.WithLabelValues(stage, result).Inc()
	stageDurationSeconds.WithLabelValues(stage).Observe(duration.Seconds())
}

// ObserveBusiness counts a discovery result.
func ObserveBusiness(result string) {
	Init()
	businessesTotal.WithLabelValues(result).Inc()
}

// ObserveContact counts an enrichment result.
func ObserveContact(result string) {
	Init()
	contactsTotal.WithLabelValues(result).Inc()
}

// ObserveDelivery counts an appended delivery event.
func ObserveDelivery(outcome string) {
	Init()
	deliveriesTotal.WithLabelValues(outcome).Inc()
}

// ObserveAPIRequest records an outbound call. A zero code means a transport error.
func ObserveAPIRequest(api string, code int, duration time.Duration) {
	Init()
	label := strconv.Itoa(code)
	if code == 0 {
		label = "error"
	}
	apiRequestsTotal.WithLabelValues(api, label).Inc()
	apiRequestDurationSeconds.WithLabelValues(api).Observe(duration.Seconds())
}

// ObserveAPIRetry counts a retried API call.
func ObserveAPIRetry(api string) {
	Init()
	apiRetriesTotal.WithLabelValues(api).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(api string, duration time.Duration) {
	Init()
	rateLimitDelaySeconds.WithLabelValues(api).Observe(duration.Seconds())
}

// ObserveAlert counts an alert delivery attempt.
func ObserveAlert(sink string, ok bool) {
	Init()
	result := "ok"
	if !ok {
		result = "error"
	}
	alertsTotal.WithLabelValues(sink, result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
