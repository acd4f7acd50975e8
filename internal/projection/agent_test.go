package projection

import (
	"context"
	"testing"
	"time"

	"github.com/triage-ai/chronicle/internal/event"
	"github.com/triage-ai/chronicle/internal/store"
)

func TestListAgents_StatsAndOrder(t *testing.T) {
	st := store.NewMemory()
	seedSession(t, st, "s1", "a1", []eventSpec{
		{typ: event.TypeSessionStarted, payload: `{"agentName":"bot-a"}`},
	})
	seedSession(t, st, "s2", "a1", []eventSpec{
		{typ: event.TypeSessionStarted, payload: `{"agentName":"bot-a"}`, offset: time.Hour},
	})
	seedSession(t, st, "s3", "a2", []eventSpec{
		{typ: event.TypeSessionStarted, payload: `{"agentName":"bot-b"}`, offset: 2 * time.Hour},
	})

	agents, err := newTestProjector(st).ListAgents(context.Background())
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(agents))
	}
	if agents[0].ID != "a2" {
		t.Errorf("most recently seen agent should sort first, got %s", agents[0].ID)
	}

	var a1 *Agent
	for _, a := range agents {
		if a.ID == "a1" {
			a1 = a
		}
	}
	if a1 == nil {
		t.Fatal("missing a1")
	}
	if a1.SessionCount != 2 {
		t.Errorf("a1 sessionCount: got %d", a1.SessionCount)
	}
	if a1.Name != "bot-a" {
		t.Errorf("a1 name: got %q", a1.Name)
	}
	if !a1.FirstSeenAt.Equal(base) {
		t.Error("firstSeenAt should come from the event log")
	}
	if !a1.LastSeenAt.Equal(base.Add(time.Hour)) {
		t.Error("lastSeenAt should come from the event log")
	}
}

func TestGetAgent_Unknown(t *testing.T) {
	a, err := newTestProjector(store.NewMemory()).GetAgent(context.Background(), "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if a != nil {
		t.Error("expected nil for unknown agent")
	}
}

func TestPauseUnpauseFlow(t *testing.T) {
	st := store.NewMemory()
	seedSession(t, st, "s1", "a1", []eventSpec{
		{typ: event.TypeSessionStarted, payload: `{"agentName":"bot-a"}`},
	})
	p := newTestProjector(st)
	ctx := context.Background()

	ok, err := p.PauseAgent(ctx, "a1", "suspicious tool use")
	if err != nil || !ok {
		t.Fatalf("PauseAgent: ok=%v err=%v", ok, err)
	}
	a, _ := p.GetAgent(ctx, "a1")
	if a.PausedAt == nil {
		t.Fatal("pausedAt not set")
	}
	if a.PauseReason == nil || *a.PauseReason != "suspicious tool use" {
		t.Error("pauseReason not recorded")
	}

	if ok, _ := p.SetModelOverride(ctx, "a1", "claude-haiku"); !ok {
		t.Fatal("SetModelOverride failed")
	}
	a, _ = p.GetAgent(ctx, "a1")
	if a.ModelOverride == nil || *a.ModelOverride != "claude-haiku" {
		t.Error("modelOverride not recorded")
	}

	// Unpause keeps the override unless asked to clear it.
	if ok, _ := p.UnpauseAgent(ctx, "a1", false); !ok {
		t.Fatal("UnpauseAgent failed")
	}
	a, _ = p.GetAgent(ctx, "a1")
	if a.PausedAt != nil || a.PauseReason != nil {
		t.Error("pause fields should be cleared")
	}
	if a.ModelOverride == nil {
		t.Error("modelOverride should survive an unpause without clear")
	}

	if ok, _ := p.UnpauseAgent(ctx, "a1", true); !ok {
		t.Fatal("UnpauseAgent failed")
	}
	a, _ = p.GetAgent(ctx, "a1")
	if a.ModelOverride != nil {
		t.Error("modelOverride should be cleared when requested")
	}
}

func TestAgentOps_UnknownAgent(t *testing.T) {
	p := newTestProjector(store.NewMemory())
	ctx := context.Background()

	if ok, err := p.PauseAgent(ctx, "ghost", "r"); err != nil || ok {
		t.Errorf("PauseAgent: ok=%v err=%v", ok, err)
	}
	if ok, err := p.UnpauseAgent(ctx, "ghost", true); err != nil || ok {
		t.Errorf("UnpauseAgent: ok=%v err=%v", ok, err)
	}
	if ok, err := p.SetModelOverride(ctx, "ghost", "m"); err != nil || ok {
		t.Errorf("SetModelOverride: ok=%v err=%v", ok, err)
	}
}
