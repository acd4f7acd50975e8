// Package verify replays session chains against the codec and reports
// every break it finds.
package verify

import (
	"context"
	"fmt"
	"time"

	"github.com/triage-ai/chronicle/internal/chain"
	"github.com/triage-ai/chronicle/internal/event"
	"github.com/triage-ai/chronicle/internal/store"
	"go.uber.org/zap"
)

// Result is a complete integrity report. Verification never
// short-circuits: BrokenChains lists every failed session so the
// caller sees the full damage at once.
type Result struct {
	Verified        bool     `json:"verified"`
	SessionsChecked int      `json:"sessionsChecked"`
	BrokenChains    []string `json:"brokenChains"`
}

// Verifier replays stored chains.
type Verifier struct {
	store  store.Store
	logger *zap.Logger
}

// New creates a Verifier.
func New(st store.Store, logger *zap.Logger) *Verifier {
	return &Verifier{store: st, logger: logger}
}

// VerifyChain checks every session with at least one event in
// [from, to] (nil bounds are open). Each session's chain is replayed
// from its genesis event in timestamp order: recompute each hash and
// check the prevHash linkage.
func (v *Verifier) VerifyChain(ctx context.Context, from, to *time.Time) (*Result, error) {
	ids, err := v.store.SessionIDsInRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("VerifyChain: %w", err)
	}

	result := &Result{BrokenChains: []string{}}
	for _, id := range ids {
		events, err := v.store.SessionEvents(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("VerifyChain: session %s: %w", id, err)
		}
		result.SessionsChecked++

		if reason := replayChain(events); reason != "" {
			v.logger.Warn("broken chain",
				zap.String("session_id", id),
				zap.String("reason", reason),
			)
			result.BrokenChains = append(result.BrokenChains, id)
		}
	}

	result.Verified = len(result.BrokenChains) == 0
	return result, nil
}

// replayChain returns "" for an intact chain, or the first break found.
func replayChain(events []*event.Event) string {
	var prev *string
	for i, e := range events {
		switch {
		case i == 0 && e.PrevHash != nil:
			return fmt.Sprintf("genesis event %s has a prevHash", e.ID)
		case i > 0 && e.PrevHash == nil:
			return fmt.Sprintf("event %s is missing its prevHash", e.ID)
		case i > 0 && *e.PrevHash != *prev:
			return fmt.Sprintf("event %s does not link to its predecessor", e.ID)
		}
		if !chain.Verify(e) {
			return fmt.Sprintf("event %s fails fingerprint verification", e.ID)
		}
		h := e.Hash
		prev = &h
	}
	return ""
}
