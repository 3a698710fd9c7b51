package domain

import "time"

// AuditVerbosity controls how much of an execution output lands in the
// audit trail.
type AuditVerbosity string

const (
	AuditMinimal  AuditVerbosity = "minimal"  // status only
	AuditDetailed AuditVerbosity = "detailed" // full handler output
)

// AuditLogEntry is a write-once record of an executed (or vetoed) action.
type AuditLogEntry struct {
	ID      string `json:"id"`
	TraceID string `json:"trace_id"`

	Actor      string    `json:"actor"`
	ActionID   string    `json:"action_id"`
	ActionType string    `json:"action_type"`
	Category   string    `json:"category"`
	RiskLevel  RiskLevel `json:"risk_level"`

	Mode   string `json:"mode"` // "live" or "held"
	Status string `json:"status"`

	Output     map[string]any `json:"output,omitempty"`
	DurationMs int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}
