package projection

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/triage-ai/chronicle/internal/chain"
	"github.com/triage-ai/chronicle/internal/event"
	"github.com/triage-ai/chronicle/internal/store"
	"go.uber.org/zap"
)

var base = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

type eventSpec struct {
	typ      event.Type
	severity event.Severity
	payload  string
	offset   time.Duration
}

// seedSession links and inserts a session's events in one batch.
func seedSession(t *testing.T, st store.Store, sessionID, agentID string, specs []eventSpec) {
	t.Helper()
	events := make([]*event.Event, len(specs))
	for i, s := range specs {
		sev := s.severity
		if sev == "" {
			sev = event.SeverityInfo
		}
		payload := s.payload
		if payload == "" {
			payload = "{}"
		}
		events[i] = &event.Event{
			ID:        fmt.Sprintf("%s_e%d", sessionID, i),
			Timestamp: base.Add(s.offset),
			SessionID: sessionID,
			AgentID:   agentID,
			Type:      s.typ,
			Severity:  sev,
			Payload:   json.RawMessage(payload),
		}
	}
	if err := chain.Link(events, nil); err != nil {
		t.Fatalf("Link: %v", err)
	}
	if err := st.InsertEvents(context.Background(), events); err != nil {
		t.Fatalf("InsertEvents: %v", err)
	}
}

func newTestProjector(st store.Store) *Projector {
	return New(st, nil, zap.NewNop())
}

func TestGetSession_DerivesSummary(t *testing.T) {
	st := store.NewMemory()
	seedSession(t, st, "s1", "a1", []eventSpec{
		{typ: event.TypeSessionStarted, payload: `{"agentName":"deploy-bot","tags":["prod","deploy"]}`},
		{typ: event.TypeToolCall, payload: `{"tool":"kubectl"}`, offset: time.Second},
		{typ: event.TypeToolError, severity: event.SeverityError, payload: `{"tool":"kubectl","message":"denied"}`, offset: 2 * time.Second},
		{typ: event.TypeCostTracked, payload: `{"costUsd":0.05}`, offset: 3 * time.Second},
		{typ: event.TypeLLMResponse, payload: `{"model":"gpt-4","latencyMs":420,"costUsd":0.02}`, offset: 4 * time.Second},
	})

	s, err := newTestProjector(st).GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if s == nil {
		t.Fatal("expected a session")
	}

	if s.Status != StatusActive {
		t.Errorf("session without session_ended should be active, got %s", s.Status)
	}
	if s.AgentName != "deploy-bot" {
		t.Errorf("agentName: got %q", s.AgentName)
	}
	if len(s.Tags) != 2 || s.Tags[0] != "prod" {
		t.Errorf("tags: got %v", s.Tags)
	}
	if s.EventCount != 5 {
		t.Errorf("eventCount: got %d", s.EventCount)
	}
	if s.ToolCallCount != 1 {
		t.Errorf("toolCallCount: got %d", s.ToolCallCount)
	}
	if s.ErrorCount != 1 {
		t.Errorf("errorCount: got %d", s.ErrorCount)
	}
	if s.TotalCostUSD != 0.07 {
		t.Errorf("totalCostUsd: got %v", s.TotalCostUSD)
	}
	if !s.StartedAt.Equal(base) {
		t.Errorf("startedAt should be the first event's timestamp")
	}
	if s.EndedAt != nil {
		t.Error("active session should have nil endedAt")
	}
}

func TestGetSession_ToolRunLifecycle(t *testing.T) {
	st := store.NewMemory()
	seedSession(t, st, "sess_1", "a1", []eventSpec{
		{typ: event.TypeSessionStarted, payload: `{"agentName":"runner"}`},
		{typ: event.TypeToolCall, payload: `{"tool":"search"}`, offset: time.Second},
		{typ: event.TypeToolResponse, payload: `{"tool":"search","durationMs":100}`, offset: 2 * time.Second},
		{typ: event.TypeSessionEnded, payload: `{"reason":"completed"}`, offset: 3 * time.Second},
	})

	s, err := newTestProjector(st).GetSession(context.Background(), "sess_1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != StatusCompleted {
		t.Errorf("status: got %s", s.Status)
	}
	if s.EventCount != 4 {
		t.Errorf("eventCount: got %d", s.EventCount)
	}
	if s.ToolCallCount != 1 {
		t.Errorf("toolCallCount: got %d", s.ToolCallCount)
	}
	if s.ErrorCount != 0 {
		t.Errorf("errorCount: got %d", s.ErrorCount)
	}
}

func TestGetSession_UnknownReturnsNil(t *testing.T) {
	s, err := newTestProjector(store.NewMemory()).GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if s != nil {
		t.Error("expected nil for unknown session")
	}
}

func TestGetSession_TerminalStatus(t *testing.T) {
	cases := []struct {
		name   string
		reason string
		want   Status
	}{
		{"completed", "completed", StatusCompleted},
		{"error reason", "error", StatusError},
		{"other reason", "timeout", StatusCompleted},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			st := store.NewMemory()
			seedSession(t, st, "s1", "a1", []eventSpec{
				{typ: event.TypeSessionStarted},
				{typ: event.TypeSessionEnded, payload: fmt.Sprintf(`{"reason":%q}`, tc.reason), offset: time.Minute},
			})

			s, err := newTestProjector(st).GetSession(context.Background(), "s1")
			if err != nil {
				t.Fatal(err)
			}
			if s.Status != tc.want {
				t.Errorf("reason %q: expected %s, got %s", tc.reason, tc.want, s.Status)
			}
			if s.EndedAt == nil || !s.EndedAt.Equal(base.Add(time.Minute)) {
				t.Error("endedAt should be the session_ended timestamp")
			}
		})
	}
}

func TestGetSession_LastSessionEndedWins(t *testing.T) {
	st := store.NewMemory()
	seedSession(t, st, "s1", "a1", []eventSpec{
		{typ: event.TypeSessionStarted},
		{typ: event.TypeSessionEnded, payload: `{"reason":"error"}`, offset: time.Minute},
		{typ: event.TypeSessionEnded, payload: `{"reason":"completed"}`, offset: 2 * time.Minute},
	})

	s, err := newTestProjector(st).GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != StatusCompleted {
		t.Errorf("latest session_ended should decide status, got %s", s.Status)
	}
}

func TestGetSession_CacheInvalidation(t *testing.T) {
	st := store.NewMemory()
	p := New(st, NewMemoryCache(time.Minute), zap.NewNop())
	ctx := context.Background()

	seedSession(t, st, "s1", "a1", []eventSpec{
		{typ: event.TypeSessionStarted},
	})
	s, err := p.GetSession(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if s.EventCount != 1 {
		t.Fatalf("eventCount: got %d", s.EventCount)
	}

	// Append to the chain. Without invalidation the cached projection
	// is stale; after invalidation the new event is visible.
	next := []*event.Event{{
		ID:        "s1_later",
		Timestamp: base.Add(time.Hour),
		SessionID: "s1",
		AgentID:   "a1",
		Type:      event.TypeToolCall,
		Severity:  event.SeverityInfo,
	}}
	tip, _ := st.SessionEvents(ctx, "s1")
	if err := chain.Link(next, map[string]string{"s1": tip[len(tip)-1].Hash}); err != nil {
		t.Fatal(err)
	}
	if err := st.InsertEvents(ctx, next); err != nil {
		t.Fatal(err)
	}

	s, _ = p.GetSession(ctx, "s1")
	if s.EventCount != 1 {
		t.Error("cached projection should still be served before invalidation")
	}

	p.InvalidateSession(ctx, "s1")
	s, _ = p.GetSession(ctx, "s1")
	if s.EventCount != 2 {
		t.Errorf("after invalidation expected 2 events, got %d", s.EventCount)
	}
}

func TestQuerySessions_Filters(t *testing.T) {
	st := store.NewMemory()
	seedSession(t, st, "s1", "a1", []eventSpec{
		{typ: event.TypeSessionStarted, payload: `{"agentName":"bot-a","tags":["prod"]}`},
	})
	seedSession(t, st, "s2", "a1", []eventSpec{
		{typ: event.TypeSessionStarted, payload: `{"agentName":"bot-a","tags":["staging"]}`, offset: time.Hour},
		{typ: event.TypeSessionEnded, payload: `{"reason":"completed"}`, offset: 2 * time.Hour},
	})
	seedSession(t, st, "s3", "a2", []eventSpec{
		{typ: event.TypeSessionStarted, payload: `{"agentName":"bot-b","tags":["production"]}`, offset: 3 * time.Hour},
	})

	p := newTestProjector(st)
	ctx := context.Background()

	page, err := p.QuerySessions(ctx, SessionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 3 {
		t.Fatalf("expected 3 sessions, got %d", page.Total)
	}
	if page.Sessions[0].ID != "s3" {
		t.Errorf("sessions should order by startedAt desc, got %s first", page.Sessions[0].ID)
	}

	page, _ = p.QuerySessions(ctx, SessionFilter{AgentID: "a1"})
	if page.Total != 2 {
		t.Errorf("agentId filter: expected 2, got %d", page.Total)
	}

	page, _ = p.QuerySessions(ctx, SessionFilter{Status: StatusActive})
	if page.Total != 2 {
		t.Errorf("status filter: expected 2 active, got %d", page.Total)
	}

	// Tag match is exact: "prod" must not match "production".
	page, _ = p.QuerySessions(ctx, SessionFilter{Tags: []string{"prod"}})
	if page.Total != 1 || page.Sessions[0].ID != "s1" {
		t.Errorf("tag filter should match exactly, got %d sessions", page.Total)
	}

	from := base.Add(30 * time.Minute)
	page, _ = p.QuerySessions(ctx, SessionFilter{From: &from})
	if page.Total != 2 {
		t.Errorf("from filter on startedAt: expected 2, got %d", page.Total)
	}
}

func TestQuerySessions_Pagination(t *testing.T) {
	st := store.NewMemory()
	for i := 0; i < 5; i++ {
		seedSession(t, st, fmt.Sprintf("s%d", i), "a1", []eventSpec{
			{typ: event.TypeSessionStarted, offset: time.Duration(i) * time.Hour},
		})
	}

	p := newTestProjector(st)
	page, err := p.QuerySessions(context.Background(), SessionFilter{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 5 {
		t.Errorf("total: got %d", page.Total)
	}
	if len(page.Sessions) != 1 {
		t.Errorf("offset past all but one: expected 1 session, got %d", len(page.Sessions))
	}
}
