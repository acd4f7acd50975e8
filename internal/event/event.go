// Package event defines the immutable telemetry event record and the
// typed payload variants carried by each event kind.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type is the closed set of telemetry event kinds.
type Type string

const (
	TypeSessionStarted    Type = "session_started"
	TypeSessionEnded      Type = "session_ended"
	TypeToolCall          Type = "tool_call"
	TypeToolResponse      Type = "tool_response"
	TypeToolError         Type = "tool_error"
	TypeLLMCall           Type = "llm_call"
	TypeLLMResponse       Type = "llm_response"
	TypeCostTracked       Type = "cost_tracked"
	TypeApprovalRequested Type = "approval_requested"
	TypeApprovalGranted   Type = "approval_granted"
	TypeApprovalDenied    Type = "approval_denied"
	TypeApprovalExpired   Type = "approval_expired"
	TypeAlertTriggered    Type = "alert_triggered"
	TypeCustom            Type = "custom"
)

// Types lists every valid event type.
var Types = []Type{
	TypeSessionStarted, TypeSessionEnded,
	TypeToolCall, TypeToolResponse, TypeToolError,
	TypeLLMCall, TypeLLMResponse,
	TypeCostTracked,
	TypeApprovalRequested, TypeApprovalGranted, TypeApprovalDenied, TypeApprovalExpired,
	TypeAlertTriggered, TypeCustom,
}

// Valid reports whether t is a recognized event type.
func (t Type) Valid() bool {
	for _, known := range Types {
		if t == known {
			return true
		}
	}
	return false
}

// Severity is the event severity level.
type Severity string

const (
	SeverityDebug    Severity = "debug"
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Severities lists every valid severity.
var Severities = []Severity{SeverityDebug, SeverityInfo, SeverityWarn, SeverityError, SeverityCritical}

// Valid reports whether s is a recognized severity.
func (s Severity) Valid() bool {
	for _, known := range Severities {
		if s == known {
			return true
		}
	}
	return false
}

// IsError reports whether s counts toward error metrics.
func (s Severity) IsError() bool {
	return s == SeverityError || s == SeverityCritical
}

// Event is one immutable, hash-linked record in the append log.
// PrevHash is nil only for the first event of a session (the genesis
// event); Hash is the event's own fingerprint over every other field.
type Event struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"sessionId"`
	AgentID   string          `json:"agentId"`
	Type      Type            `json:"eventType"`
	Severity  Severity        `json:"severity"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	PrevHash  *string         `json:"prevHash"`
	Hash      string          `json:"hash"`
}

// CountsAsError reports whether the event counts toward errorCount:
// error/critical severity, or an error-carrying event type.
func (e *Event) CountsAsError() bool {
	return e.Severity.IsError() || e.Type == TypeToolError || e.Type == TypeAlertTriggered
}

// NewID returns a globally unique event id.
func NewID() string {
	return "evt_" + uuid.NewString()
}

// ObjectOrEmpty returns raw if it is a parseable JSON object, and an
// empty object otherwise. Read paths use this so a corrupted payload
// or metadata column degrades to {} instead of failing the query.
func ObjectOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return json.RawMessage("{}")
	}
	return raw
}

// IsObject reports whether raw is empty or a parseable JSON object.
// The write path refuses anything else: a stored row must re-verify
// byte-for-byte, so the {} degrade is reserved for reads.
func IsObject(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	var obj map[string]any
	return json.Unmarshal(raw, &obj) == nil
}
