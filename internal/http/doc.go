// Package http provides the REST API for the session engine.
//
// Endpoints:
//   - Health: / and /health
//   - Sessions: /sessions, /sessions/:id
//   - Execution: /sessions/:id/execute, /sessions/:id/confirm
//   - Input: /sessions/:id/control, /sessions/:id/resize
//   - Output: /sessions/:id/output
//   - Planning: /plan, /classify
//   - Metrics: /stats
package http
