// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/crawls to start a crawl, GET /v1/crawls to list them.
//   - GET /v1/crawls/{crawl_id}/progress|result|search and
//     POST /v1/crawls/{crawl_id}/pause|resume|stop for lifecycle control.
//   - GET /v1/runs and /v1/runs/{crawl_id} for persisted run history via the
//     RunRepository interface.
package api
