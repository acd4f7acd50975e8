package store

import (
	"database/sql"
	"testing"
	"time"
)

// fakeScan hands scanEvent a fixed row the way sql.Rows.Scan would.
func fakeScan(payload, metadata string) func(dest ...any) error {
	return func(dest ...any) error {
		*dest[0].(*string) = "evt_1"
		*dest[1].(*time.Time) = t0
		*dest[2].(*string) = "s1"
		*dest[3].(*string) = "a1"
		*dest[4].(*string) = "custom"
		*dest[5].(*string) = "info"
		*dest[6].(*[]byte) = []byte(payload)
		*dest[7].(*[]byte) = []byte(metadata)
		*dest[8].(*sql.NullString) = sql.NullString{}
		*dest[9].(*string) = "deadbeef"
		return nil
	}
}

func TestScanEvent_CorruptColumnsDegradeToEmptyObject(t *testing.T) {
	e, err := scanEvent(fakeScan(`{corrupt`, ``))
	if err != nil {
		t.Fatalf("scanEvent should not fail on a corrupt payload column: %v", err)
	}
	if string(e.Payload) != "{}" {
		t.Errorf("corrupt payload should degrade to {}, got %s", e.Payload)
	}
	if string(e.Metadata) != "{}" {
		t.Errorf("empty metadata column should read as {}, got %s", e.Metadata)
	}
	if e.ID != "evt_1" || e.Hash != "deadbeef" {
		t.Errorf("intact columns mis-scanned: %+v", e)
	}
	if e.PrevHash != nil {
		t.Error("NULL prev_hash should scan as nil")
	}
}

func TestScanEvent_ValidPayloadKeptVerbatim(t *testing.T) {
	e, err := scanEvent(fakeScan(`{"tool":"search"}`, `{"sdk":"go"}`))
	if err != nil {
		t.Fatalf("scanEvent: %v", err)
	}
	if string(e.Payload) != `{"tool":"search"}` {
		t.Errorf("valid payload must not be rewritten, got %s", e.Payload)
	}
	if string(e.Metadata) != `{"sdk":"go"}` {
		t.Errorf("valid metadata must not be rewritten, got %s", e.Metadata)
	}
}
