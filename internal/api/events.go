package api

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/triage-ai/chronicle/internal/event"
	"github.com/triage-ai/chronicle/internal/store"
	"go.uber.org/zap"
)

func (d *Dependencies) handleQueryEvents(w http.ResponseWriter, r *http.Request) {
	f, errDetail := eventFilterFromQuery(r.URL.Query())
	if errDetail != "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: errDetail})
		return
	}

	page, err := d.Store.QueryEvents(r.Context(), f)
	if err != nil {
		d.Logger.Error("failed to query events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to query events"})
		return
	}

	events := page.Events
	if events == nil {
		events = []*event.Event{}
	}
	writeJSON(w, http.StatusOK, EventListResp{
		Events:  events,
		Total:   page.Total,
		HasMore: page.HasMore,
	})
}

func (d *Dependencies) handleCountEvents(w http.ResponseWriter, r *http.Request) {
	f, errDetail := eventFilterFromQuery(r.URL.Query())
	if errDetail != "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: errDetail})
		return
	}

	count, err := d.Store.CountEvents(r.Context(), f)
	if err != nil {
		d.Logger.Error("failed to count events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to count events"})
		return
	}

	writeJSON(w, http.StatusOK, CountResp{Count: count})
}

func (d *Dependencies) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("event_id")

	e, err := d.Store.GetEvent(r.Context(), eventID)
	if err != nil {
		d.Logger.Error("failed to get event", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get event"})
		return
	}
	if e == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Event not found."})
		return
	}

	writeJSON(w, http.StatusOK, e)
}

// eventFilterFromQuery maps query-string parameters 1:1 onto an
// EventFilter. Numeric and range values are clamped; unrecognized
// enum values are rejected with the returned detail string.
func eventFilterFromQuery(q url.Values) (store.EventFilter, string) {
	f := store.EventFilter{
		SessionID: q.Get("sessionId"),
		AgentID:   q.Get("agentId"),
		Search:    q.Get("search"),
		Order:     q.Get("order"),
		Limit:     queryInt(q, "limit", store.DefaultLimit),
		Offset:    queryInt(q, "offset", 0),
	}

	for _, raw := range splitCSV(q.Get("eventType")) {
		t := event.Type(raw)
		if !t.Valid() {
			return f, "unknown eventType: " + raw
		}
		f.Types = append(f.Types, t)
	}
	for _, raw := range splitCSV(q.Get("severity")) {
		s := event.Severity(raw)
		if !s.Valid() {
			return f, "unknown severity: " + raw
		}
		f.Severities = append(f.Severities, s)
	}

	f.From = queryTime(q, "from")
	f.To = queryTime(q, "to")
	f.Normalize()
	return f, ""
}

// splitCSV splits a comma-joined parameter, dropping empty items.
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// queryTime parses an RFC 3339 timestamp parameter. Unparseable
// values are treated as absent.
func queryTime(q url.Values, key string) *time.Time {
	v := q.Get(key)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func queryInt(q url.Values, key string, defaultVal int) int {
	v := q.Get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}
