// Package store persists the append-only event log and the small
// amount of mutable agent state, and serves filtered reads over both.
//
// Two implementations share identical semantics: Postgres for
// production and Memory for local development and tests. Sessions and
// agents are projections over the event rows — the agents table holds
// only the three operator-mutated fields plus cached seen timestamps,
// never session status.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/triage-ai/chronicle/internal/event"
)

const (
	// DefaultLimit applies when a query requests no page size.
	DefaultLimit = 50
	// MaxLimit is the hard page-size cap. Larger requests are clamped.
	MaxLimit = 500
)

// EventFilter selects events. Zero values mean "no constraint".
// Types and Severities are OR within themselves and AND between.
type EventFilter struct {
	SessionID  string
	AgentID    string
	Types      []event.Type
	Severities []event.Severity
	From       *time.Time // inclusive
	To         *time.Time // inclusive
	Search     string     // case-insensitive substring over eventType + payload text
	Order      string     // "asc" or "desc" by timestamp; default desc
	Limit      int
	Offset     int
}

// Normalize clamps paging values and defaults the sort order.
func (f *EventFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	if f.Order != "asc" {
		f.Order = "desc"
	}
}

// Matches reports whether e satisfies every filter dimension. The
// Memory store evaluates this directly; the Postgres store compiles
// the same semantics to SQL.
func (f *EventFilter) Matches(e *event.Event) bool {
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.AgentID != "" && e.AgentID != f.AgentID {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, e.Type) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, e.Severity) {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	if f.Search != "" {
		haystack := strings.ToLower(string(e.Type) + " " + string(e.Payload))
		if !strings.Contains(haystack, strings.ToLower(f.Search)) {
			return false
		}
	}
	return true
}

func containsType(set []event.Type, t event.Type) bool {
	for _, x := range set {
		if x == t {
			return true
		}
	}
	return false
}

func containsSeverity(set []event.Severity, s event.Severity) bool {
	for _, x := range set {
		if x == s {
			return true
		}
	}
	return false
}

// EventPage is one slice of a filtered event listing.
type EventPage struct {
	Events  []*event.Event
	Total   int
	HasMore bool
}

// AgentRow is a row of the agents table: the three operator-mutated
// fields plus cached seen timestamps for index-friendly listing. The
// events table remains the source of truth for everything derived.
type AgentRow struct {
	ID            string
	Name          string
	Description   string
	ModelOverride *string
	PausedAt      *time.Time
	PauseReason   *string
	FirstSeenAt   time.Time
	LastSeenAt    time.Time
}

// AgentStats is derived from the event log: min/max event timestamp
// and distinct session count for one agent.
type AgentStats struct {
	AgentID      string
	FirstSeenAt  time.Time
	LastSeenAt   time.Time
	SessionCount int
}

// Store is the event log plus agent operational state.
type Store interface {
	// InsertEvents persists a pre-hashed, chain-linked batch.
	// All-or-nothing: any DuplicateIDError or ChainViolationError
	// rejects the whole batch.
	InsertEvents(ctx context.Context, batch []*event.Event) error

	QueryEvents(ctx context.Context, f EventFilter) (*EventPage, error)
	GetEvent(ctx context.Context, id string) (*event.Event, error)
	CountEvents(ctx context.Context, f EventFilter) (int, error)

	// SessionEvents returns every event of one session in timestamp
	// ascending order (chain order).
	SessionEvents(ctx context.Context, sessionID string) ([]*event.Event, error)
	// SessionIDs lists distinct sessions, optionally for one agent.
	SessionIDs(ctx context.Context, agentID string) ([]string, error)
	// SessionIDsInRange lists sessions with at least one event in
	// [from, to]. Nil bounds are open.
	SessionIDsInRange(ctx context.Context, from, to *time.Time) ([]string, error)
	// EventsInRange returns events in [from, to] in timestamp
	// ascending order, optionally for one agent.
	EventsInRange(ctx context.Context, from, to *time.Time, agentID string) ([]*event.Event, error)

	ListAgents(ctx context.Context) ([]*AgentRow, error)
	GetAgent(ctx context.Context, id string) (*AgentRow, error)
	AgentStats(ctx context.Context, id string) (*AgentStats, error)
	AllAgentStats(ctx context.Context) (map[string]*AgentStats, error)

	// The three guarded column writes. Each returns false (not an
	// error) when the agent is unknown.
	PauseAgent(ctx context.Context, id, reason string) (bool, error)
	UnpauseAgent(ctx context.Context, id string, clearModelOverride bool) (bool, error)
	SetModelOverride(ctx context.Context, id, model string) (bool, error)

	Close() error
}
