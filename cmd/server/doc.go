// Package main is the entry point for the termpilot server.
//
// The server hosts pty-backed shell sessions and exposes them to external
// callers over a REST API and WebSocket streams. Command planning and risk
// classification are delegated to an external planner service, with a
// local pattern-based classifier as fallback.
//
// Configuration is environment-driven (12-factor); see internal/config
// for the full variable list.
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown, draining live sessions
package main
