package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/triage-ai/chronicle/internal/event"
)

// Postgres is the production Store. Events live in an append-only
// agent_events table; the agents table carries the three mutable
// operational columns plus cached seen timestamps.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a Postgres store backed by the given connection
// pool (pgx stdlib driver).
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// InitSchema creates tables and indexes idempotently. The unique index
// on (session_id, prev_hash) is the commit-time backstop for two
// writers racing on the same chain tip.
func (p *Postgres) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_events (
			seq        bigint GENERATED ALWAYS AS IDENTITY,
			id         text PRIMARY KEY,
			ts         timestamptz NOT NULL,
			session_id text NOT NULL,
			agent_id   text NOT NULL,
			event_type text NOT NULL,
			severity   text NOT NULL,
			payload    jsonb NOT NULL DEFAULT '{}',
			metadata   jsonb NOT NULL DEFAULT '{}',
			prev_hash  text,
			hash       text NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS agent_events_session_ts ON agent_events (session_id, ts)`,
		`CREATE INDEX IF NOT EXISTS agent_events_agent_ts ON agent_events (agent_id, ts)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS agent_events_session_prev
			ON agent_events (session_id, COALESCE(prev_hash, ''))`,
		`CREATE TABLE IF NOT EXISTS agents (
			id             text PRIMARY KEY,
			name           text NOT NULL DEFAULT '',
			description    text NOT NULL DEFAULT '',
			model_override text,
			paused_at      timestamptz,
			pause_reason   text,
			first_seen_at  timestamptz NOT NULL,
			last_seen_at   timestamptz NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("InitSchema: %w", err)
		}
	}
	return nil
}

// InsertEvents persists a batch in a single transaction. Per-session
// advisory locks serialize writers appending to the same chain; the
// chain-tip check and the inserts are one atomic unit.
func (p *Postgres) InsertEvents(ctx context.Context, batch []*event.Event) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("InsertEvents: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	// Lock sessions in sorted order so two batches touching the same
	// sessions cannot deadlock on their advisory locks.
	sessions := distinctSessions(batch)
	tips := make(map[string]*string, len(sessions))
	for _, sid := range sessions {
		if _, err := tx.ExecContext(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, sid); err != nil {
			return fmt.Errorf("InsertEvents: lock session %s: %w", sid, err)
		}
		var hash string
		err := tx.QueryRowContext(ctx,
			`SELECT hash FROM agent_events WHERE session_id = $1 ORDER BY seq DESC LIMIT 1`,
			sid,
		).Scan(&hash)
		switch {
		case err == sql.ErrNoRows:
			tips[sid] = nil
		case err != nil:
			return fmt.Errorf("InsertEvents: chain tip for %s: %w", sid, err)
		default:
			tips[sid] = &hash
		}
	}

	if err := validateBatch(batch, func(sessionID string) (*string, error) {
		return tips[sessionID], nil
	}); err != nil {
		return err
	}

	for _, e := range batch {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO agent_events
				(id, ts, session_id, agent_id, event_type, severity, payload, metadata, prev_hash, hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.ID, e.Timestamp, e.SessionID, e.AgentID, string(e.Type), string(e.Severity),
			objectOrEmptyText(e.Payload), objectOrEmptyText(e.Metadata), e.PrevHash, e.Hash,
		)
		if err != nil {
			return mapInsertError(err, e)
		}
	}

	if err := p.touchAgents(ctx, tx, batch); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("InsertEvents: commit: %w", err)
	}
	return nil
}

// touchAgents upserts the convenience agents rows for a batch. These
// cached columns only serve ListAgents ordering; the events table
// stays the source of truth.
func (p *Postgres) touchAgents(ctx context.Context, tx *sql.Tx, batch []*event.Event) error {
	type seen struct {
		name  string
		first time.Time
		last  time.Time
	}
	agents := make(map[string]*seen)
	for _, e := range batch {
		s, ok := agents[e.AgentID]
		if !ok {
			s = &seen{first: e.Timestamp, last: e.Timestamp}
			agents[e.AgentID] = s
		}
		if e.Timestamp.Before(s.first) {
			s.first = e.Timestamp
		}
		if e.Timestamp.After(s.last) {
			s.last = e.Timestamp
		}
		if e.Type == event.TypeSessionStarted {
			if name := e.SessionStarted().AgentName; name != "" {
				s.name = name
			}
		}
	}
	for id, s := range agents {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO agents (id, name, first_seen_at, last_seen_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET
				name          = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE agents.name END,
				first_seen_at = LEAST(agents.first_seen_at, EXCLUDED.first_seen_at),
				last_seen_at  = GREATEST(agents.last_seen_at, EXCLUDED.last_seen_at)`,
			id, s.name, s.first, s.last,
		)
		if err != nil {
			return fmt.Errorf("InsertEvents: touch agent %s: %w", id, err)
		}
	}
	return nil
}

// mapInsertError translates constraint violations into the store's
// error taxonomy.
func mapInsertError(err error, e *event.Event) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		if strings.Contains(pgErr.ConstraintName, "session_prev") {
			// A concurrent writer committed the same chain tip first.
			return &ChainViolationError{SessionID: e.SessionID, EventID: e.ID,
				Reason: "concurrent append raced on the same prevHash"}
		}
		return &DuplicateIDError{ID: e.ID}
	}
	return fmt.Errorf("InsertEvents: %w", err)
}

const eventColumns = `id, ts, session_id, agent_id, event_type, severity, payload, metadata, prev_hash, hash`

func (p *Postgres) QueryEvents(ctx context.Context, f EventFilter) (*EventPage, error) {
	f.Normalize()
	where, args := buildEventWhere(f)

	var total int
	countQuery := `SELECT count(*) FROM agent_events` + where
	if err := p.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("QueryEvents count: %w", err)
	}

	dir := "DESC"
	if f.Order == "asc" {
		dir = "ASC"
	}
	dataQuery := fmt.Sprintf(
		`SELECT %s FROM agent_events%s ORDER BY ts %s, seq %s LIMIT $%d OFFSET $%d`,
		eventColumns, where, dir, dir, len(args)+1, len(args)+2,
	)
	args = append(args, f.Limit, f.Offset)

	events, err := p.queryEventRows(ctx, dataQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("QueryEvents: %w", err)
	}

	return &EventPage{
		Events:  events,
		Total:   total,
		HasMore: f.Offset+len(events) < total,
	}, nil
}

func (p *Postgres) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM agent_events WHERE id = $1`, id)
	e, err := scanEvent(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetEvent: %w", err)
	}
	return e, nil
}

func (p *Postgres) CountEvents(ctx context.Context, f EventFilter) (int, error) {
	where, args := buildEventWhere(f)
	var total int
	if err := p.db.QueryRowContext(ctx,
		`SELECT count(*) FROM agent_events`+where, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("CountEvents: %w", err)
	}
	return total, nil
}

func (p *Postgres) SessionEvents(ctx context.Context, sessionID string) ([]*event.Event, error) {
	events, err := p.queryEventRows(ctx,
		`SELECT `+eventColumns+` FROM agent_events WHERE session_id = $1 ORDER BY ts ASC, seq ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("SessionEvents: %w", err)
	}
	return events, nil
}

func (p *Postgres) SessionIDs(ctx context.Context, agentID string) ([]string, error) {
	query := `SELECT session_id FROM agent_events GROUP BY session_id ORDER BY min(seq)`
	args := []any{}
	if agentID != "" {
		query = `SELECT session_id FROM agent_events WHERE agent_id = $1 GROUP BY session_id ORDER BY min(seq)`
		args = append(args, agentID)
	}
	ids, err := p.queryStrings(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("SessionIDs: %w", err)
	}
	return ids, nil
}

func (p *Postgres) SessionIDsInRange(ctx context.Context, from, to *time.Time) ([]string, error) {
	conditions, args := rangeConditions(from, to, "")
	query := `SELECT session_id FROM agent_events` + conditions + ` GROUP BY session_id ORDER BY min(seq)`
	ids, err := p.queryStrings(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("SessionIDsInRange: %w", err)
	}
	return ids, nil
}

func (p *Postgres) EventsInRange(ctx context.Context, from, to *time.Time, agentID string) ([]*event.Event, error) {
	conditions, args := rangeConditions(from, to, agentID)
	events, err := p.queryEventRows(ctx,
		`SELECT `+eventColumns+` FROM agent_events`+conditions+` ORDER BY ts ASC, seq ASC`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("EventsInRange: %w", err)
	}
	return events, nil
}

func (p *Postgres) ListAgents(ctx context.Context) ([]*AgentRow, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, description, model_override, paused_at, pause_reason,
		       first_seen_at, last_seen_at
		FROM agents ORDER BY last_seen_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListAgents: %w", err)
	}
	defer rows.Close()

	var agents []*AgentRow
	for rows.Next() {
		row, err := scanAgentRow(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("ListAgents: %w", err)
		}
		agents = append(agents, row)
	}
	return agents, rows.Err()
}

func (p *Postgres) GetAgent(ctx context.Context, id string) (*AgentRow, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, description, model_override, paused_at, pause_reason,
		       first_seen_at, last_seen_at
		FROM agents WHERE id = $1`, id)
	agent, err := scanAgentRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetAgent: %w", err)
	}
	return agent, nil
}

func (p *Postgres) AgentStats(ctx context.Context, id string) (*AgentStats, error) {
	var s AgentStats
	err := p.db.QueryRowContext(ctx, `
		SELECT agent_id, min(ts), max(ts), count(DISTINCT session_id)
		FROM agent_events WHERE agent_id = $1 GROUP BY agent_id`, id,
	).Scan(&s.AgentID, &s.FirstSeenAt, &s.LastSeenAt, &s.SessionCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("AgentStats: %w", err)
	}
	return &s, nil
}

func (p *Postgres) AllAgentStats(ctx context.Context) (map[string]*AgentStats, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT agent_id, min(ts), max(ts), count(DISTINCT session_id)
		FROM agent_events GROUP BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("AllAgentStats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]*AgentStats)
	for rows.Next() {
		var s AgentStats
		if err := rows.Scan(&s.AgentID, &s.FirstSeenAt, &s.LastSeenAt, &s.SessionCount); err != nil {
			return nil, fmt.Errorf("AllAgentStats: %w", err)
		}
		stats[s.AgentID] = &s
	}
	return stats, rows.Err()
}

func (p *Postgres) PauseAgent(ctx context.Context, id, reason string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE agents SET paused_at = now(), pause_reason = $2 WHERE id = $1`,
		id, reason)
	if err != nil {
		return false, fmt.Errorf("PauseAgent: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (p *Postgres) UnpauseAgent(ctx context.Context, id string, clearModelOverride bool) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE agents SET
			paused_at      = NULL,
			pause_reason   = NULL,
			model_override = CASE WHEN $2 THEN NULL ELSE model_override END
		WHERE id = $1`,
		id, clearModelOverride)
	if err != nil {
		return false, fmt.Errorf("UnpauseAgent: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (p *Postgres) SetModelOverride(ctx context.Context, id, model string) (bool, error) {
	result, err := p.db.ExecContext(ctx, `
		UPDATE agents SET model_override = $2 WHERE id = $1`,
		id, model)
	if err != nil {
		return false, fmt.Errorf("SetModelOverride: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// --- helpers ---

func distinctSessions(batch []*event.Event) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, e := range batch {
		if _, ok := seen[e.SessionID]; !ok {
			seen[e.SessionID] = struct{}{}
			out = append(out, e.SessionID)
		}
	}
	sort.Strings(out)
	return out
}

// buildEventWhere compiles an EventFilter to a WHERE clause with
// positional args, the way the filter conditions are assembled one by
// one. Returns "" when no condition applies.
func buildEventWhere(f EventFilter) (string, []any) {
	var conditions []string
	var args []any
	add := func(cond string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if f.SessionID != "" {
		add("session_id = $%d", f.SessionID)
	}
	if f.AgentID != "" {
		add("agent_id = $%d", f.AgentID)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		add("event_type = ANY($%d)", types)
	}
	if len(f.Severities) > 0 {
		sevs := make([]string, len(f.Severities))
		for i, s := range f.Severities {
			sevs[i] = string(s)
		}
		add("severity = ANY($%d)", sevs)
	}
	if f.From != nil {
		add("ts >= $%d", *f.From)
	}
	if f.To != nil {
		add("ts <= $%d", *f.To)
	}
	if f.Search != "" {
		add(`(event_type || ' ' || payload::text) ILIKE '%%' || $%d || '%%'`, likeEscape(f.Search))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// likeEscape neutralizes LIKE metacharacters so search is a plain
// substring match.
func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func rangeConditions(from, to *time.Time, agentID string) (string, []any) {
	var conditions []string
	var args []any
	if from != nil {
		args = append(args, *from)
		conditions = append(conditions, fmt.Sprintf("ts >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, *to)
		conditions = append(conditions, fmt.Sprintf("ts <= $%d", len(args)))
	}
	if agentID != "" {
		args = append(args, agentID)
		conditions = append(conditions, fmt.Sprintf("agent_id = $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (p *Postgres) queryEventRows(ctx context.Context, query string, args ...any) ([]*event.Event, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*event.Event
	for rows.Next() {
		e, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (p *Postgres) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// scanEvent reads one event row. A payload or metadata column that
// fails to parse degrades to {} rather than failing the whole read.
func scanEvent(scan func(dest ...any) error) (*event.Event, error) {
	var (
		e        event.Event
		typ      string
		severity string
		payload  []byte
		metadata []byte
		prevHash sql.NullString
	)
	err := scan(&e.ID, &e.Timestamp, &e.SessionID, &e.AgentID, &typ, &severity,
		&payload, &metadata, &prevHash, &e.Hash)
	if err != nil {
		return nil, err
	}
	e.Type = event.Type(typ)
	e.Severity = event.Severity(severity)
	e.Payload = event.ObjectOrEmpty(payload)
	e.Metadata = event.ObjectOrEmpty(metadata)
	if prevHash.Valid {
		e.PrevHash = &prevHash.String
	}
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

func scanAgentRow(scan func(dest ...any) error) (*AgentRow, error) {
	var (
		row           AgentRow
		modelOverride sql.NullString
		pausedAt      sql.NullTime
		pauseReason   sql.NullString
	)
	err := scan(&row.ID, &row.Name, &row.Description, &modelOverride, &pausedAt,
		&pauseReason, &row.FirstSeenAt, &row.LastSeenAt)
	if err != nil {
		return nil, err
	}
	if modelOverride.Valid {
		row.ModelOverride = &modelOverride.String
	}
	if pausedAt.Valid {
		t := pausedAt.Time.UTC()
		row.PausedAt = &t
	}
	if pauseReason.Valid {
		row.PauseReason = &pauseReason.String
	}
	return &row, nil
}

// objectOrEmptyText returns the canonical text for a jsonb column.
func objectOrEmptyText(raw json.RawMessage) string {
	return string(event.ObjectOrEmpty(raw))
}
