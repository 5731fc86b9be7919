// Package api hosts the monitoring HTTP server, middleware, and REST handlers
// for operators. Notable routes:
//   - GET /healthz and /readyz for probes; readyz pings the store.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/stats and /v1/events for read-only reporting.
//   - POST /v1/bounces to record a provider bounce notification.
package api
