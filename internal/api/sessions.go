package api

import (
	"net/http"

	"github.com/triage-ai/chronicle/internal/projection"
	"github.com/triage-ai/chronicle/internal/store"
	"go.uber.org/zap"
)

func (d *Dependencies) handleQuerySessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	f := projection.SessionFilter{
		AgentID: q.Get("agentId"),
		Tags:    splitCSV(q.Get("tags")),
		From:    queryTime(q, "from"),
		To:      queryTime(q, "to"),
		Limit:   queryInt(q, "limit", store.DefaultLimit),
		Offset:  queryInt(q, "offset", 0),
	}
	if raw := q.Get("status"); raw != "" {
		status := projection.Status(raw)
		if !status.Valid() {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "unknown status: " + raw})
			return
		}
		f.Status = status
	}

	page, err := d.Projector.QuerySessions(r.Context(), f)
	if err != nil {
		d.Logger.Error("failed to query sessions", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to query sessions"})
		return
	}

	sessions := page.Sessions
	if sessions == nil {
		sessions = []*projection.Session{}
	}
	writeJSON(w, http.StatusOK, SessionListResp{Sessions: sessions, Total: page.Total})
}

func (d *Dependencies) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	s, err := d.Projector.GetSession(r.Context(), sessionID)
	if err != nil {
		d.Logger.Error("failed to get session", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get session"})
		return
	}
	if s == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Session not found."})
		return
	}

	writeJSON(w, http.StatusOK, s)
}
