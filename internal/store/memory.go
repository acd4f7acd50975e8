package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/triage-ai/chronicle/internal/event"
)

// Memory is an in-process Store with the same semantics as Postgres.
// It backs local development when no POSTGRES_DSN is set, and every
// store-level test. All methods are safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	events []*event.Event // insertion order; sorts are stable on this
	byID   map[string]*event.Event
	tips   map[string]string // sessionID -> hash of last event
	agents map[string]*AgentRow
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		byID:   make(map[string]*event.Event),
		tips:   make(map[string]string),
		agents: make(map[string]*AgentRow),
	}
}

// InsertEvents validates and appends a batch atomically. Nothing is
// visible to readers unless the whole batch passes.
func (m *Memory) InsertEvents(_ context.Context, batch []*event.Event) error {
	if len(batch) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range batch {
		if _, exists := m.byID[e.ID]; exists {
			return &DuplicateIDError{ID: e.ID}
		}
	}

	err := validateBatch(batch, func(sessionID string) (*string, error) {
		if tip, ok := m.tips[sessionID]; ok {
			return &tip, nil
		}
		return nil, nil
	})
	if err != nil {
		return err
	}

	for _, e := range batch {
		m.events = append(m.events, e)
		m.byID[e.ID] = e
		m.tips[e.SessionID] = e.Hash
		m.touchAgent(e)
	}
	return nil
}

// touchAgent refreshes the convenience agents row. Caller holds mu.
func (m *Memory) touchAgent(e *event.Event) {
	row, ok := m.agents[e.AgentID]
	if !ok {
		row = &AgentRow{ID: e.AgentID, FirstSeenAt: e.Timestamp, LastSeenAt: e.Timestamp}
		m.agents[e.AgentID] = row
	}
	if e.Timestamp.Before(row.FirstSeenAt) {
		row.FirstSeenAt = e.Timestamp
	}
	if e.Timestamp.After(row.LastSeenAt) {
		row.LastSeenAt = e.Timestamp
	}
	if e.Type == event.TypeSessionStarted {
		if name := e.SessionStarted().AgentName; name != "" {
			row.Name = name
		}
	}
}

func (m *Memory) QueryEvents(_ context.Context, f EventFilter) (*EventPage, error) {
	f.Normalize()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*event.Event
	for _, e := range m.events {
		if f.Matches(e) {
			matched = append(matched, e)
		}
	}
	sortEvents(matched, f.Order == "asc")

	total := len(matched)
	start := f.Offset
	if start > total {
		start = total
	}
	end := start + f.Limit
	if end > total {
		end = total
	}

	page := make([]*event.Event, end-start)
	copy(page, matched[start:end])
	return &EventPage{
		Events:  page,
		Total:   total,
		HasMore: f.Offset+len(page) < total,
	}, nil
}

func (m *Memory) GetEvent(_ context.Context, id string) (*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byID[id], nil
}

func (m *Memory) CountEvents(_ context.Context, f EventFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, e := range m.events {
		if f.Matches(e) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) SessionEvents(_ context.Context, sessionID string) ([]*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*event.Event
	for _, e := range m.events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	sortEvents(out, true)
	return out, nil
}

func (m *Memory) SessionIDs(_ context.Context, agentID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, e := range m.events {
		if agentID != "" && e.AgentID != agentID {
			continue
		}
		if _, ok := seen[e.SessionID]; !ok {
			seen[e.SessionID] = struct{}{}
			out = append(out, e.SessionID)
		}
	}
	return out, nil
}

func (m *Memory) SessionIDsInRange(_ context.Context, from, to *time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, e := range m.events {
		if !inRange(e.Timestamp, from, to) {
			continue
		}
		if _, ok := seen[e.SessionID]; !ok {
			seen[e.SessionID] = struct{}{}
			out = append(out, e.SessionID)
		}
	}
	return out, nil
}

func (m *Memory) EventsInRange(_ context.Context, from, to *time.Time, agentID string) ([]*event.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*event.Event
	for _, e := range m.events {
		if agentID != "" && e.AgentID != agentID {
			continue
		}
		if inRange(e.Timestamp, from, to) {
			out = append(out, e)
		}
	}
	sortEvents(out, true)
	return out, nil
}

func (m *Memory) ListAgents(_ context.Context) ([]*AgentRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*AgentRow, 0, len(m.agents))
	for _, row := range m.agents {
		c := *row
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeenAt.After(out[j].LastSeenAt)
	})
	return out, nil
}

func (m *Memory) GetAgent(_ context.Context, id string) (*AgentRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	row, ok := m.agents[id]
	if !ok {
		return nil, nil
	}
	c := *row
	return &c, nil
}

func (m *Memory) AgentStats(_ context.Context, id string) (*AgentStats, error) {
	all, err := m.AllAgentStats(context.Background())
	if err != nil {
		return nil, err
	}
	return all[id], nil
}

func (m *Memory) AllAgentStats(_ context.Context) (map[string]*AgentStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]*AgentStats)
	sessions := make(map[string]map[string]struct{})
	for _, e := range m.events {
		s, ok := stats[e.AgentID]
		if !ok {
			s = &AgentStats{AgentID: e.AgentID, FirstSeenAt: e.Timestamp, LastSeenAt: e.Timestamp}
			stats[e.AgentID] = s
			sessions[e.AgentID] = make(map[string]struct{})
		}
		if e.Timestamp.Before(s.FirstSeenAt) {
			s.FirstSeenAt = e.Timestamp
		}
		if e.Timestamp.After(s.LastSeenAt) {
			s.LastSeenAt = e.Timestamp
		}
		sessions[e.AgentID][e.SessionID] = struct{}{}
	}
	for agentID, s := range stats {
		s.SessionCount = len(sessions[agentID])
	}
	return stats, nil
}

func (m *Memory) PauseAgent(_ context.Context, id, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.agents[id]
	if !ok {
		return false, nil
	}
	now := time.Now().UTC()
	row.PausedAt = &now
	row.PauseReason = &reason
	return true, nil
}

func (m *Memory) UnpauseAgent(_ context.Context, id string, clearModelOverride bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.agents[id]
	if !ok {
		return false, nil
	}
	row.PausedAt = nil
	row.PauseReason = nil
	if clearModelOverride {
		row.ModelOverride = nil
	}
	return true, nil
}

func (m *Memory) SetModelOverride(_ context.Context, id, model string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.agents[id]
	if !ok {
		return false, nil
	}
	row.ModelOverride = &model
	return true, nil
}

func (m *Memory) Close() error { return nil }

// sortEvents orders by timestamp, stable so equal timestamps keep
// insertion order.
func sortEvents(events []*event.Event, asc bool) {
	sort.SliceStable(events, func(i, j int) bool {
		if asc {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		return events[i].Timestamp.After(events[j].Timestamp)
	})
}

func inRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}
