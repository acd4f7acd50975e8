// Package chain computes and verifies the per-session hash chain.
//
// Each event's fingerprint is SHA-256 over a canonical serialization of
// {id, timestamp, sessionId, agentId, eventType, severity, payload,
// metadata, prevHash}. Canonical form fixes field order, sorts object
// keys, preserves numeric literals via json.Number, and formats the
// timestamp with a fixed six-digit fraction so a round trip through
// storage never changes the hash.
package chain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/triage-ai/chronicle/internal/event"
)

// TimestampLayout is the canonical timestamp form: UTC, microseconds.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// CanonicalTime truncates t to microsecond precision in UTC. Events
// must carry canonical timestamps before hashing; Postgres timestamptz
// stores microseconds, so anything finer would break verification.
func CanonicalTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Fingerprint returns the deterministic hash of an event's canonical
// content, ignoring the event's own Hash field. Pure function.
func Fingerprint(e *event.Event) (string, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	writeStringField(&b, "id", e.ID)
	b.WriteByte(',')
	writeStringField(&b, "timestamp", CanonicalTime(e.Timestamp).Format(TimestampLayout))
	b.WriteByte(',')
	writeStringField(&b, "sessionId", e.SessionID)
	b.WriteByte(',')
	writeStringField(&b, "agentId", e.AgentID)
	b.WriteByte(',')
	writeStringField(&b, "eventType", string(e.Type))
	b.WriteByte(',')
	writeStringField(&b, "severity", string(e.Severity))
	b.WriteString(`,"payload":`)
	if err := writeCanonicalJSON(&b, e.Payload); err != nil {
		return "", fmt.Errorf("Fingerprint: payload: %w", err)
	}
	b.WriteString(`,"metadata":`)
	if err := writeCanonicalJSON(&b, e.Metadata); err != nil {
		return "", fmt.Errorf("Fingerprint: metadata: %w", err)
	}
	b.WriteString(`,"prevHash":`)
	if e.PrevHash == nil {
		b.WriteString("null")
	} else {
		writeJSONString(&b, *e.PrevHash)
	}
	b.WriteByte('}')

	sum := sha256.Sum256(b.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// Verify recomputes the event's fingerprint and compares it to the
// stored Hash.
func Verify(e *event.Event) bool {
	got, err := Fingerprint(e)
	return err == nil && got == e.Hash
}

// Link seals an ordered batch into per-session chains: it assigns each
// event's PrevHash from its predecessor in the same session (or from
// tips, the stored chain tip per session; a missing entry means a new
// session) and computes its Hash. This is the producer-side helper —
// the store accepts only pre-sealed batches.
func Link(events []*event.Event, tips map[string]string) error {
	local := make(map[string]string, len(tips))
	for k, v := range tips {
		local[k] = v
	}
	for _, e := range events {
		e.Timestamp = CanonicalTime(e.Timestamp)
		if tip, ok := local[e.SessionID]; ok {
			prev := tip
			e.PrevHash = &prev
		} else {
			e.PrevHash = nil
		}
		h, err := Fingerprint(e)
		if err != nil {
			return fmt.Errorf("Link: event %s: %w", e.ID, err)
		}
		e.Hash = h
		local[e.SessionID] = h
	}
	return nil
}

func writeStringField(b *bytes.Buffer, key, val string) {
	writeJSONString(b, key)
	b.WriteByte(':')
	writeJSONString(b, val)
}

func writeJSONString(b *bytes.Buffer, s string) {
	enc, _ := json.Marshal(s)
	b.Write(enc)
}

// writeCanonicalJSON re-serializes raw with sorted object keys and
// json.Number literals preserved verbatim. Empty or malformed input
// canonicalizes to {} (the same degradation the read path applies).
func writeCanonicalJSON(b *bytes.Buffer, raw json.RawMessage) error {
	if len(raw) == 0 {
		b.WriteString("{}")
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		b.WriteString("{}")
		return nil
	}
	return writeCanonicalValue(b, v)
}

func writeCanonicalValue(b *bytes.Buffer, v any) error {
	switch x := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		if x {
			b.WriteString("true")
		} else {
			b.WriteString("false")
		}
	case json.Number:
		b.WriteString(x.String())
	case string:
		writeJSONString(b, x)
	case []any:
		b.WriteByte('[')
		for i, item := range x {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonicalValue(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			writeJSONString(b, k)
			b.WriteByte(':')
			if err := writeCanonicalValue(b, x[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		return fmt.Errorf("unsupported JSON value %T", v)
	}
	return nil
}
