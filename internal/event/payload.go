package event

import "encoding/json"

// Typed payload variants, decoded lazily at the point of use. The
// store itself treats Payload as opaque JSON; only projections and
// analytics care about the fields below. Decoding never fails hard:
// malformed payload JSON yields the zero value of the variant.

// SessionStartedPayload names the agent and tags the session.
type SessionStartedPayload struct {
	AgentName string   `json:"agentName"`
	Tags      []string `json:"tags"`
}

// SessionEndedPayload carries the terminal reason for a session.
// Reason "error" marks the session as failed; anything else completes it.
type SessionEndedPayload struct {
	Reason string `json:"reason"`
}

// ToolCallPayload describes an invoked tool.
type ToolCallPayload struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResponsePayload carries the tool result timing.
type ToolResponsePayload struct {
	Tool       string  `json:"tool"`
	DurationMs float64 `json:"durationMs"`
}

// LLMCallPayload describes a model invocation.
type LLMCallPayload struct {
	Model        string `json:"model"`
	InputTokens  int    `json:"inputTokens"`
}

// LLMResponsePayload carries model timing, token usage and cost.
type LLMResponsePayload struct {
	Model        string  `json:"model"`
	LatencyMs    float64 `json:"latencyMs"`
	OutputTokens int     `json:"outputTokens"`
	CostUSD      float64 `json:"costUsd"`
}

// CostTrackedPayload is an explicit cost attribution record.
type CostTrackedPayload struct {
	CostUSD float64 `json:"costUsd"`
	Model   string  `json:"model"`
}

// ApprovalPayload is shared by the approval_* event types.
type ApprovalPayload struct {
	ApprovalID string `json:"approvalId"`
	Tool       string `json:"tool"`
	Reason     string `json:"reason"`
}

// AlertTriggeredPayload identifies the guardrail rule that fired.
type AlertTriggeredPayload struct {
	RuleID   string `json:"ruleId"`
	RuleName string `json:"ruleName"`
	Message  string `json:"message"`
}

// decodeInto unmarshals raw into v, tolerating malformed JSON.
func decodeInto(raw json.RawMessage, v any) {
	if len(raw) == 0 {
		return
	}
	_ = json.Unmarshal(raw, v) // malformed payload degrades to zero value
}

// SessionStarted decodes the payload of a session_started event.
func (e *Event) SessionStarted() SessionStartedPayload {
	var p SessionStartedPayload
	decodeInto(e.Payload, &p)
	return p
}

// SessionEnded decodes the payload of a session_ended event.
func (e *Event) SessionEnded() SessionEndedPayload {
	var p SessionEndedPayload
	decodeInto(e.Payload, &p)
	return p
}

// ToolResponse decodes the payload of a tool_response event.
func (e *Event) ToolResponse() ToolResponsePayload {
	var p ToolResponsePayload
	decodeInto(e.Payload, &p)
	return p
}

// CostUSD returns the cost carried by this event. Both cost_tracked
// and llm_response payloads carry a cost field; both must be summed.
func (e *Event) CostUSD() float64 {
	switch e.Type {
	case TypeCostTracked:
		var p CostTrackedPayload
		decodeInto(e.Payload, &p)
		return p.CostUSD
	case TypeLLMResponse:
		var p LLMResponsePayload
		decodeInto(e.Payload, &p)
		return p.CostUSD
	default:
		return 0
	}
}
