package types

import "time"

// RiskLevel classifies how dangerous a command is. Classification is done
// by an external planner; the engine only consumes the level as data.
type RiskLevel string

const (
	RiskSafe      RiskLevel = "safe"
	RiskCaution   RiskLevel = "caution"
	RiskDangerous RiskLevel = "dangerous"
	RiskCritical  RiskLevel = "critical"
)

// Valid reports whether the risk level is one of the known values.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskSafe, RiskCaution, RiskDangerous, RiskCritical:
		return true
	}
	return false
}

// CommandStatus describes how a command request resolved.
type CommandStatus string

const (
	StatusCompleted           CommandStatus = "completed"
	StatusTimeout             CommandStatus = "timeout"
	StatusSessionTerminated   CommandStatus = "session_terminated"
	StatusPendingConfirmation CommandStatus = "pending_confirmation"
)

// CommandRequest is a single command submitted to a session. Immutable once
// enqueued.
type CommandRequest struct {
	SessionID     string    `json:"session_id"`
	CorrelationID string    `json:"correlation_id"`
	Text          string    `json:"text"`
	Risk          RiskLevel `json:"risk"`
	Confirmed     bool      `json:"confirmed"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// CommandResult is the captured output, exit status, and timing for one
// executed command. ExitCode is nil when sentinel detection timed out.
type CommandResult struct {
	CorrelationID string        `json:"correlation_id"`
	Output        []byte        `json:"output"`
	ExitCode      *int          `json:"exit_code,omitempty"`
	DurationMs    int64         `json:"duration_ms"`
	Truncated     bool          `json:"truncated"`
	Status        CommandStatus `json:"status"`
}
