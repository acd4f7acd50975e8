package api

import (
	"net/http"
	"time"

	"github.com/triage-ai/chronicle/internal/analytics"
	"go.uber.org/zap"
)

// defaultAnalyticsWindow applies when no from/to is given.
const defaultAnalyticsWindow = 7 * 24 * time.Hour

func (d *Dependencies) handleGetAnalytics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	granularity := analytics.GranularityDay
	if raw := q.Get("granularity"); raw != "" {
		granularity = analytics.Granularity(raw)
		if !granularity.Valid() {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "unknown granularity: " + raw})
			return
		}
	}

	now := time.Now().UTC()
	params := analytics.Params{
		From:        now.Add(-defaultAnalyticsWindow),
		To:          now,
		Granularity: granularity,
		AgentID:     q.Get("agentId"),
	}
	if t := queryTime(q, "from"); t != nil {
		params.From = *t
	}
	if t := queryTime(q, "to"); t != nil {
		params.To = *t
	}

	report, err := d.Analytics.GetAnalytics(r.Context(), params)
	if err != nil {
		d.Logger.Error("failed to get analytics", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get analytics"})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (d *Dependencies) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	result, err := d.Verifier.VerifyChain(r.Context(), queryTime(q, "from"), queryTime(q, "to"))
	if err != nil {
		d.Logger.Error("failed to verify chains", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to verify chains"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}
