package store

import (
	"github.com/triage-ai/chronicle/internal/chain"
	"github.com/triage-ai/chronicle/internal/event"
)

// validateBatch checks a batch's chain linkage and payload shape
// before any row is written. tip returns the stored chain tip hash for a session, or nil
// if the session has no events yet. The batch is checked in order:
// within a session, each event must link to its in-batch predecessor;
// the first event of each per-session subsequence must link to the
// stored tip (or be a genesis event). Every hash is recomputed — the
// store never trusts a submitted fingerprint.
func validateBatch(batch []*event.Event, tip func(sessionID string) (*string, error)) error {
	seen := make(map[string]struct{}, len(batch))
	tips := make(map[string]*string)

	for _, e := range batch {
		if _, dup := seen[e.ID]; dup {
			return &DuplicateIDError{ID: e.ID}
		}
		seen[e.ID] = struct{}{}

		if !event.IsObject(e.Payload) {
			return &MalformedEventError{EventID: e.ID, Field: "payload"}
		}
		if !event.IsObject(e.Metadata) {
			return &MalformedEventError{EventID: e.ID, Field: "metadata"}
		}

		want, known := tips[e.SessionID]
		if !known {
			stored, err := tip(e.SessionID)
			if err != nil {
				return err
			}
			want = stored
		}

		switch {
		case want == nil && e.PrevHash != nil:
			return &ChainViolationError{SessionID: e.SessionID, EventID: e.ID,
				Reason: "prevHash set on the first event of a session"}
		case want != nil && e.PrevHash == nil:
			return &ChainViolationError{SessionID: e.SessionID, EventID: e.ID,
				Reason: "missing prevHash for a session with an existing chain tip"}
		case want != nil && *e.PrevHash != *want:
			return &ChainViolationError{SessionID: e.SessionID, EventID: e.ID,
				Reason: "prevHash does not match the session chain tip"}
		}

		got, err := chain.Fingerprint(e)
		if err != nil {
			return &ChainViolationError{SessionID: e.SessionID, EventID: e.ID,
				Reason: "fingerprint: " + err.Error()}
		}
		if got != e.Hash {
			return &ChainViolationError{SessionID: e.SessionID, EventID: e.ID,
				Reason: "hash does not match recomputed fingerprint"}
		}

		h := e.Hash
		tips[e.SessionID] = &h
	}
	return nil
}
