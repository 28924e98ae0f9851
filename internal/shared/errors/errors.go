// Package errors defines the sentinel errors shared across the engine.
//
// Detection timeouts are deliberately not represented here: a sentinel that
// never appears produces a truncated CommandResult, not an error.
package errors

import "errors"

var (
	// ErrSpawn wraps pty or process creation failures. The session is never
	// registered when spawn fails.
	ErrSpawn = errors.New("failed to spawn shell")

	// ErrQueueClosed is returned when a command is submitted to a session
	// that is closing or closed.
	ErrQueueClosed = errors.New("command queue closed")

	// ErrNotFound is returned for lookups of unknown session or
	// correlation IDs.
	ErrNotFound = errors.New("not found")

	// ErrConfirmationRequired is returned when a critical-risk command is
	// enqueued without the confirmed flag.
	ErrConfirmationRequired = errors.New("confirmation required")

	// ErrSessionTerminated is reported for queue entries that were pending
	// when the shell died outside an explicit close.
	ErrSessionTerminated = errors.New("session terminated")
)

// Is is a convenience re-export so callers need only one errors import.
func Is(err, target error) bool { return errors.Is(err, target) }
