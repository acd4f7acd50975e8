package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by operations that require an existing
// resource. Lookups return (nil, nil) instead; guarded column writes
// return false instead.
var ErrNotFound = errors.New("not found")

// DuplicateIDError means a batch contained an event id that already
// exists (in the store or earlier in the same batch). Non-fatal to the
// caller: retry with a de-duplicated batch.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate event id %q", e.ID)
}

// ChainViolationError means a batch broke a session's hash chain:
// a prevHash that does not match the chain tip, or a stored hash that
// does not match the event's recomputed fingerprint. It indicates a
// producer bug or a concurrent write race and is never auto-repaired.
type ChainViolationError struct {
	SessionID string
	EventID   string
	Reason    string
}

func (e *ChainViolationError) Error() string {
	return fmt.Sprintf("chain violation in session %q at event %q: %s", e.SessionID, e.EventID, e.Reason)
}

// MalformedEventError means a submitted event carried a payload or
// metadata value that is not a JSON object. Such rows are refused at
// write time: persisting them would either store non-object JSON or
// silently rewrite the hashed bytes, and either way the row could not
// re-verify against its fingerprint later.
type MalformedEventError struct {
	EventID string
	Field   string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("event %q: %s is not a JSON object", e.EventID, e.Field)
}

// IsDuplicateID reports whether err is a DuplicateIDError.
func IsDuplicateID(err error) bool {
	var dup *DuplicateIDError
	return errors.As(err, &dup)
}

// IsChainViolation reports whether err is a ChainViolationError.
func IsChainViolation(err error) bool {
	var cv *ChainViolationError
	return errors.As(err, &cv)
}

// IsMalformedEvent reports whether err is a MalformedEventError.
func IsMalformedEvent(err error) bool {
	var me *MalformedEventError
	return errors.As(err, &me)
}
