// Package ws streams live session output over WebSocket and accepts
// interactive frames from clients.
//
// A client connects to /sessions/:id/stream, optionally with ?since=N to
// replay buffered output first. The server then pushes output frames as
// the shell produces them, ending with an eof frame when the shell exits.
// Inbound frames drive the session: execute, confirm, control, resize,
// and ping.
package ws
