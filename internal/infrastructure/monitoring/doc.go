// Package monitoring provides Prometheus metrics for the engine and its
// transport layers: session lifecycle, command outcomes and latency,
// output stream throughput, and HTTP/WebSocket traffic.
package monitoring
