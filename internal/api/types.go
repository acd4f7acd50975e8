package api

import (
	"github.com/triage-ai/chronicle/internal/event"
	"github.com/triage-ai/chronicle/internal/projection"
)

// --- Ingestion ---

// InsertEventsReq is the JSON body for POST /api/chronicle/events.
// Events must arrive pre-hashed and chain-linked; the caller owns
// chain construction.
type InsertEventsReq struct {
	Events []*event.Event `json:"events"`
}

// InsertEventsResp acknowledges an accepted batch.
type InsertEventsResp struct {
	Inserted int `json:"inserted"`
}

// --- Event queries ---

// EventListResp is the paginated event listing.
type EventListResp struct {
	Events  []*event.Event `json:"events"`
	Total   int            `json:"total"`
	HasMore bool           `json:"hasMore"`
}

// CountResp carries a bare count.
type CountResp struct {
	Count int `json:"count"`
}

// --- Sessions ---

// SessionListResp is the session listing.
type SessionListResp struct {
	Sessions []*projection.Session `json:"sessions"`
	Total    int                   `json:"total"`
}

// --- Agents ---

// PauseAgentReq is the JSON body for POST .../agents/{agent_id}/pause.
type PauseAgentReq struct {
	Reason string `json:"reason"`
}

// UnpauseAgentReq is the JSON body for POST .../agents/{agent_id}/unpause.
type UnpauseAgentReq struct {
	ClearModelOverride bool `json:"clearModelOverride"`
}

// ModelOverrideReq is the JSON body for PUT .../agents/{agent_id}/model-override.
type ModelOverrideReq struct {
	Model string `json:"model"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
