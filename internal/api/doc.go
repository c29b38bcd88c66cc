// Package api hosts the HTTP server, middleware, and handlers for the
// relevance tester. Notable routes:
//   - GET /healthz and /readyz for health checks.
//   - GET /metrics for Prometheus scraping.
//   - POST /api/runTest runs a search and returns the report.
//   - POST /api/runTestWithProgress does the same while publishing progress
//     events for the session.
//   - GET /api/runTest/progress/{session_id} streams those events as
//     server-sent events.
//   - GET /api/specialties lists the built-in specialties.
//   - GET / serves the static front end when a directory is configured.
package api
