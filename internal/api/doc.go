// Package api hosts the operator HTTP endpoint. Routes:
//   - GET /healthz for liveness.
//   - GET /readyz reports the scheduler state and the last cycle report.
//   - GET /metrics for Prometheus scraping.
package api
