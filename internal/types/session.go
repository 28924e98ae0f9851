package types

import "time"

// SessionState tracks a session through its lifecycle.
type SessionState string

const (
	StateStarting SessionState = "starting"
	StateReady    SessionState = "ready"
	StateBusy     SessionState = "busy"
	StateClosing  SessionState = "closing"
	StateClosed   SessionState = "closed"
)

// Terminal reports whether the state is final.
func (s SessionState) Terminal() bool {
	return s == StateClosed
}

// Dimensions describes the pty window size.
type Dimensions struct {
	Rows uint16 `json:"rows"`
	Cols uint16 `json:"cols"`
}

// SessionInfo is the public summary of a session.
type SessionInfo struct {
	ID             string       `json:"id"`
	State          SessionState `json:"state"`
	Shell          string       `json:"shell"`
	WorkingDir     string       `json:"working_dir"`
	Dimensions     Dimensions   `json:"dimensions"`
	CreatedAt      time.Time    `json:"created_at"`
	LastActivityAt time.Time    `json:"last_activity_at"`
}

// OutputChunk is one unit of raw pty output. Sequence numbers are monotonic
// and gap-free per session.
type OutputChunk struct {
	SessionID string    `json:"session_id"`
	Seq       uint64    `json:"seq"`
	Bytes     []byte    `json:"bytes"`
	Timestamp time.Time `json:"timestamp"`
	// EOF marks the final chunk delivered after the shell exits. Bytes is
	// empty when set.
	EOF bool `json:"eof,omitempty"`
}
