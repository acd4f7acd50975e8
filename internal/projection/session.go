// Package projection derives Session and Agent views from the raw
// event log. Nothing here is persisted as ground truth: a session's
// status, counts, tags, and cost are always recomputable by scanning
// exactly that session's events. A read-through cache may sit in
// front, invalidated whenever a session gains a new event.
package projection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/triage-ai/chronicle/internal/event"
	"github.com/triage-ai/chronicle/internal/store"
	"go.uber.org/zap"
)

// Status is the derived session state. A session is active until a
// session_ended event is observed and never reverts afterward.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool {
	return s == StatusActive || s == StatusCompleted || s == StatusError
}

// Session is the derived per-session summary.
type Session struct {
	ID            string     `json:"id"`
	AgentID       string     `json:"agentId"`
	AgentName     string     `json:"agentName,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt"`
	Status        Status     `json:"status"`
	Tags          []string   `json:"tags"`
	EventCount    int        `json:"eventCount"`
	ToolCallCount int        `json:"toolCallCount"`
	ErrorCount    int        `json:"errorCount"`
	TotalCostUSD  float64    `json:"totalCostUsd"`
}

// SessionFilter selects derived sessions. From/To bound StartedAt.
// Tags match by exact equality: a session is included if it carries
// any of the requested tags.
type SessionFilter struct {
	AgentID string
	Status  Status
	From    *time.Time
	To      *time.Time
	Tags    []string
	Limit   int
	Offset  int
}

// SessionPage is one slice of a session listing.
type SessionPage struct {
	Sessions []*Session
	Total    int
}

// Projector computes Session and Agent views on demand.
type Projector struct {
	store  store.Store
	cache  Cache
	logger *zap.Logger
}

// New creates a Projector. cache may be nil to disable caching.
func New(st store.Store, cache Cache, logger *zap.Logger) *Projector {
	if cache == nil {
		cache = nopCache{}
	}
	return &Projector{store: st, cache: cache, logger: logger}
}

// GetSession scans the session's full event set and derives its
// summary. Returns nil if the session has no events.
func (p *Projector) GetSession(ctx context.Context, id string) (*Session, error) {
	if s, ok := p.cache.Get(ctx, id); ok {
		return s, nil
	}

	events, err := p.store.SessionEvents(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetSession: %w", err)
	}
	if len(events) == 0 {
		return nil, nil
	}

	s := deriveSession(id, events)
	p.cache.Set(ctx, id, s)
	return s, nil
}

// QuerySessions derives every candidate session and filters the
// results. Default order is StartedAt descending.
func (p *Projector) QuerySessions(ctx context.Context, f SessionFilter) (*SessionPage, error) {
	if f.Limit <= 0 {
		f.Limit = store.DefaultLimit
	}
	if f.Limit > store.MaxLimit {
		f.Limit = store.MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	ids, err := p.store.SessionIDs(ctx, f.AgentID)
	if err != nil {
		return nil, fmt.Errorf("QuerySessions: %w", err)
	}

	var matched []*Session
	for _, id := range ids {
		s, err := p.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if s == nil {
			continue
		}
		if matchesSessionFilter(s, f) {
			matched = append(matched, s)
		}
	}

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].StartedAt.After(matched[j].StartedAt)
	})

	total := len(matched)
	start := f.Offset
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}
	page := make([]*Session, end-start)
	copy(page, matched[start:end])

	return &SessionPage{Sessions: page, Total: total}, nil
}

// InvalidateSession drops any cached projection for a session. Called
// by the ingest path after a session gains new events.
func (p *Projector) InvalidateSession(ctx context.Context, id string) {
	p.cache.Invalidate(ctx, id)
}

func matchesSessionFilter(s *Session, f SessionFilter) bool {
	if f.AgentID != "" && s.AgentID != f.AgentID {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	if f.From != nil && s.StartedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && s.StartedAt.After(*f.To) {
		return false
	}
	if len(f.Tags) > 0 && !hasAnyTag(s.Tags, f.Tags) {
		return false
	}
	return true
}

// hasAnyTag reports whether have contains at least one of want, by
// exact string equality. "prod" never matches "production".
func hasAnyTag(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

// deriveSession folds a session's events (timestamp ascending) into
// its summary. The last session_ended by timestamp decides terminal
// status; reason "error" marks the session failed.
func deriveSession(id string, events []*event.Event) *Session {
	s := &Session{
		ID:        id,
		AgentID:   events[0].AgentID,
		StartedAt: events[0].Timestamp,
		Status:    StatusActive,
		Tags:      []string{},
	}

	for _, e := range events {
		s.EventCount++
		if e.Type == event.TypeToolCall {
			s.ToolCallCount++
		}
		if e.CountsAsError() {
			s.ErrorCount++
		}
		s.TotalCostUSD += e.CostUSD()

		switch e.Type {
		case event.TypeSessionStarted:
			if s.AgentName == "" {
				started := e.SessionStarted()
				s.AgentName = started.AgentName
				if len(started.Tags) > 0 {
					s.Tags = started.Tags
				}
			}
		case event.TypeSessionEnded:
			// Events arrive in timestamp order, so the last one wins.
			ts := e.Timestamp
			s.EndedAt = &ts
			if e.SessionEnded().Reason == "error" {
				s.Status = StatusError
			} else {
				s.Status = StatusCompleted
			}
		}
	}
	return s
}
