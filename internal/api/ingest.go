package api

import (
	"net/http"

	"github.com/triage-ai/chronicle/internal/chain"
	"github.com/triage-ai/chronicle/internal/event"
	"github.com/triage-ai/chronicle/internal/store"
	"go.uber.org/zap"
)

func (d *Dependencies) handleInsertEvents(w http.ResponseWriter, r *http.Request) {
	var req InsertEventsReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if len(req.Events) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "events must be a non-empty list"})
		return
	}

	for _, e := range req.Events {
		if e == nil || e.ID == "" || e.SessionID == "" || e.AgentID == "" {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "every event needs id, sessionId and agentId"})
			return
		}
		if e.Timestamp.IsZero() {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "every event needs a timestamp"})
			return
		}
		if !e.Type.Valid() {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "unknown eventType: " + string(e.Type)})
			return
		}
		if !e.Severity.Valid() {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "unknown severity: " + string(e.Severity)})
			return
		}
		// payload and metadata are opaque to the store but must be JSON
		// objects: anything else cannot round-trip storage and
		// re-verify against its fingerprint.
		if !event.IsObject(e.Payload) {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "event " + e.ID + ": payload must be a JSON object"})
			return
		}
		if !event.IsObject(e.Metadata) {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "event " + e.ID + ": metadata must be a JSON object"})
			return
		}
		// Producers hash canonical (microsecond) timestamps; anything
		// finer would fail fingerprint validation below anyway.
		e.Timestamp = chain.CanonicalTime(e.Timestamp)
	}

	if err := d.Store.InsertEvents(r.Context(), req.Events); err != nil {
		switch {
		case store.IsDuplicateID(err):
			writeJSON(w, http.StatusConflict, ErrorResp{Detail: err.Error()})
		case store.IsChainViolation(err):
			writeJSON(w, http.StatusConflict, ErrorResp{Detail: err.Error()})
		case store.IsMalformedEvent(err):
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		default:
			d.Logger.Error("failed to insert events", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to insert events"})
		}
		return
	}

	// Side channels after commit: archive mirror and cache invalidation.
	invalidated := make(map[string]struct{})
	for _, e := range req.Events {
		d.Mirror.Write(e)
		if _, done := invalidated[e.SessionID]; !done {
			invalidated[e.SessionID] = struct{}{}
			d.Projector.InvalidateSession(r.Context(), e.SessionID)
		}
	}

	writeJSON(w, http.StatusCreated, InsertEventsResp{Inserted: len(req.Events)})
}
