// Package api hosts the HTTP server, middleware, and REST handlers.
// Notable routes:
//   - POST /v1/searches to submit a discovery task, GET /v1/searches/{task_id} to poll it.
//   - GET /v1/profiles/{profile_ref}/jobs for ranked matches.
//   - GET /v1/credentials/stats for pool health.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus scraping.
package api
