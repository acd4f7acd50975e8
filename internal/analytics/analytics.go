// Package analytics buckets the event stream into calendar-aligned
// time windows and computes per-bucket and whole-range metrics. It
// scans the raw rows on every call — there is no materialized rollup
// to drift from the log.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/triage-ai/chronicle/internal/event"
	"github.com/triage-ai/chronicle/internal/store"
)

// Granularity is the bucket width.
type Granularity string

const (
	GranularityHour Granularity = "hour"
	GranularityDay  Granularity = "day"
	GranularityWeek Granularity = "week"
)

// Valid reports whether g is a recognized granularity.
func (g Granularity) Valid() bool {
	return g == GranularityHour || g == GranularityDay || g == GranularityWeek
}

// Params bounds an analytics query. AgentID is optional.
type Params struct {
	From        time.Time
	To          time.Time
	Granularity Granularity
	AgentID     string
}

// Metrics is the shared per-bucket and totals metric set.
// AvgLatencyMs is the mean tool_response durationMs (0 when none);
// TotalCostUSD sums cost from cost_tracked and llm_response payloads.
type Metrics struct {
	EventCount     int     `json:"eventCount"`
	ToolCallCount  int     `json:"toolCallCount"`
	ErrorCount     int     `json:"errorCount"`
	AvgLatencyMs   float64 `json:"avgLatencyMs"`
	TotalCostUSD   float64 `json:"totalCostUsd"`
	UniqueSessions int     `json:"uniqueSessions"`
	UniqueAgents   int     `json:"uniqueAgents"`
}

// Bucket is one calendar-aligned window. Timestamp is the bucket start.
type Bucket struct {
	Timestamp time.Time `json:"timestamp"`
	Metrics
}

// Report is the full analytics response.
type Report struct {
	Buckets []Bucket `json:"buckets"`
	Totals  Metrics  `json:"totals"`
}

// Aggregator computes analytics over a Store.
type Aggregator struct {
	store store.Store
}

// New creates an Aggregator.
func New(st store.Store) *Aggregator {
	return &Aggregator{store: st}
}

// accumulator folds events into one metric set.
type accumulator struct {
	events       int
	toolCalls    int
	errors       int
	latencySum   float64
	latencyCount int
	cost         float64
	sessions     map[string]struct{}
	agents       map[string]struct{}
}

func newAccumulator() *accumulator {
	return &accumulator{
		sessions: make(map[string]struct{}),
		agents:   make(map[string]struct{}),
	}
}

func (a *accumulator) add(e *event.Event) {
	a.events++
	if e.Type == event.TypeToolCall {
		a.toolCalls++
	}
	if e.CountsAsError() {
		a.errors++
	}
	if e.Type == event.TypeToolResponse {
		a.latencySum += e.ToolResponse().DurationMs
		a.latencyCount++
	}
	a.cost += e.CostUSD()
	a.sessions[e.SessionID] = struct{}{}
	a.agents[e.AgentID] = struct{}{}
}

func (a *accumulator) metrics() Metrics {
	m := Metrics{
		EventCount:     a.events,
		ToolCallCount:  a.toolCalls,
		ErrorCount:     a.errors,
		TotalCostUSD:   a.cost,
		UniqueSessions: len(a.sessions),
		UniqueAgents:   len(a.agents),
	}
	if a.latencyCount > 0 {
		m.AvgLatencyMs = a.latencySum / float64(a.latencyCount)
	}
	return m
}

// GetAnalytics scans [From, To] and returns one bucket per window that
// contains events, plus totals across the range. An empty range yields
// an empty bucket list and zeroed totals, not an error.
func (a *Aggregator) GetAnalytics(ctx context.Context, p Params) (*Report, error) {
	if !p.Granularity.Valid() {
		p.Granularity = GranularityDay
	}

	from, to := p.From, p.To
	events, err := a.store.EventsInRange(ctx, &from, &to, p.AgentID)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics: %w", err)
	}

	byBucket := make(map[time.Time]*accumulator)
	totals := newAccumulator()
	for _, e := range events {
		start := BucketStart(e.Timestamp, p.Granularity)
		acc, ok := byBucket[start]
		if !ok {
			acc = newAccumulator()
			byBucket[start] = acc
		}
		acc.add(e)
		totals.add(e)
	}

	buckets := make([]Bucket, 0, len(byBucket))
	for start, acc := range byBucket {
		buckets = append(buckets, Bucket{Timestamp: start, Metrics: acc.metrics()})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Timestamp.Before(buckets[j].Timestamp)
	})

	return &Report{Buckets: buckets, Totals: totals.metrics()}, nil
}

// BucketStart returns the calendar-aligned window start containing t.
// Weeks are ISO weeks, starting Monday. All alignment is UTC.
func BucketStart(t time.Time, g Granularity) time.Time {
	t = t.UTC()
	switch g {
	case GranularityHour:
		return t.Truncate(time.Hour)
	case GranularityWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		return day.AddDate(0, 0, -offset)
	default: // day
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
}
