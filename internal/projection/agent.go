package projection

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Agent is the derived per-agent summary plus the three operational
// fields an operator (or the guardrail layer) mutates directly.
type Agent struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	FirstSeenAt   time.Time  `json:"firstSeenAt"`
	LastSeenAt    time.Time  `json:"lastSeenAt"`
	SessionCount  int        `json:"sessionCount"`
	ModelOverride *string    `json:"modelOverride"`
	PausedAt      *time.Time `json:"pausedAt"`
	PauseReason   *string    `json:"pauseReason"`
}

// ListAgents returns every known agent ordered by LastSeenAt
// descending. Seen timestamps and session counts come from the event
// log; the cached agents-table values only cover agents that have no
// events yet (which should not happen under normal ingestion).
func (p *Projector) ListAgents(ctx context.Context) ([]*Agent, error) {
	rows, err := p.store.ListAgents(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListAgents: %w", err)
	}
	stats, err := p.store.AllAgentStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListAgents: %w", err)
	}

	agents := make([]*Agent, 0, len(rows))
	for _, row := range rows {
		a := &Agent{
			ID:            row.ID,
			Name:          row.Name,
			Description:   row.Description,
			FirstSeenAt:   row.FirstSeenAt,
			LastSeenAt:    row.LastSeenAt,
			ModelOverride: row.ModelOverride,
			PausedAt:      row.PausedAt,
			PauseReason:   row.PauseReason,
		}
		if s, ok := stats[row.ID]; ok {
			a.FirstSeenAt = s.FirstSeenAt
			a.LastSeenAt = s.LastSeenAt
			a.SessionCount = s.SessionCount
		}
		agents = append(agents, a)
	}

	sort.SliceStable(agents, func(i, j int) bool {
		return agents[i].LastSeenAt.After(agents[j].LastSeenAt)
	})
	return agents, nil
}

// GetAgent returns one agent, or nil if unknown.
func (p *Projector) GetAgent(ctx context.Context, id string) (*Agent, error) {
	row, err := p.store.GetAgent(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetAgent: %w", err)
	}
	if row == nil {
		return nil, nil
	}

	a := &Agent{
		ID:            row.ID,
		Name:          row.Name,
		Description:   row.Description,
		FirstSeenAt:   row.FirstSeenAt,
		LastSeenAt:    row.LastSeenAt,
		ModelOverride: row.ModelOverride,
		PausedAt:      row.PausedAt,
		PauseReason:   row.PauseReason,
	}
	stats, err := p.store.AgentStats(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("GetAgent: %w", err)
	}
	if stats != nil {
		a.FirstSeenAt = stats.FirstSeenAt
		a.LastSeenAt = stats.LastSeenAt
		a.SessionCount = stats.SessionCount
	}
	return a, nil
}

// PauseAgent sets pausedAt/pauseReason. Returns false if the agent is
// unknown so callers can tell a no-op from a failure.
func (p *Projector) PauseAgent(ctx context.Context, id, reason string) (bool, error) {
	ok, err := p.store.PauseAgent(ctx, id, reason)
	if err != nil {
		return false, err
	}
	if ok {
		p.logger.Info("agent paused",
			zap.String("agent_id", id),
			zap.String("reason", reason),
		)
	}
	return ok, nil
}

// UnpauseAgent clears the pause fields, and the model override too
// when clearModelOverride is set.
func (p *Projector) UnpauseAgent(ctx context.Context, id string, clearModelOverride bool) (bool, error) {
	ok, err := p.store.UnpauseAgent(ctx, id, clearModelOverride)
	if err != nil {
		return false, err
	}
	if ok {
		p.logger.Info("agent unpaused",
			zap.String("agent_id", id),
			zap.Bool("cleared_model_override", clearModelOverride),
		)
	}
	return ok, nil
}

// SetModelOverride pins the agent to a model. Returns false if the
// agent is unknown.
func (p *Projector) SetModelOverride(ctx context.Context, id, model string) (bool, error) {
	ok, err := p.store.SetModelOverride(ctx, id, model)
	if err != nil {
		return false, err
	}
	if ok {
		p.logger.Info("agent model override set",
			zap.String("agent_id", id),
			zap.String("model", model),
		)
	}
	return ok, nil
}
