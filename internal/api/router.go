// Package api exposes the event store, projections, analytics, and
// integrity verification over HTTP. Query-string parameters map 1:1
// to the store's filter fields.
package api

import (
	"net/http"

	"github.com/triage-ai/chronicle/internal/analytics"
	"github.com/triage-ai/chronicle/internal/mirror"
	"github.com/triage-ai/chronicle/internal/projection"
	"github.com/triage-ai/chronicle/internal/store"
	"github.com/triage-ai/chronicle/internal/verify"
	"go.uber.org/zap"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Store     store.Store
	Projector *projection.Projector
	Analytics *analytics.Aggregator
	Verifier  *verify.Verifier
	Mirror    mirror.Writer
	Logger    *zap.Logger
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Ingestion (pre-hashed, chain-linked batches)
	mux.HandleFunc("POST /api/chronicle/events", deps.handleInsertEvents)

	// Event queries
	mux.HandleFunc("GET /api/chronicle/events", deps.handleQueryEvents)
	mux.HandleFunc("GET /api/chronicle/events/count", deps.handleCountEvents)
	mux.HandleFunc("GET /api/chronicle/events/{event_id}", deps.handleGetEvent)

	// Session projections
	mux.HandleFunc("GET /api/chronicle/sessions", deps.handleQuerySessions)
	mux.HandleFunc("GET /api/chronicle/sessions/{session_id}", deps.handleGetSession)

	// Agent projections and operational state
	mux.HandleFunc("GET /api/chronicle/agents", deps.handleListAgents)
	mux.HandleFunc("GET /api/chronicle/agents/{agent_id}", deps.handleGetAgent)
	mux.HandleFunc("POST /api/chronicle/agents/{agent_id}/pause", deps.handlePauseAgent)
	mux.HandleFunc("POST /api/chronicle/agents/{agent_id}/unpause", deps.handleUnpauseAgent)
	mux.HandleFunc("PUT /api/chronicle/agents/{agent_id}/model-override", deps.handleSetModelOverride)

	// Analytics & integrity
	mux.HandleFunc("GET /api/chronicle/analytics", deps.handleGetAnalytics)
	mux.HandleFunc("GET /api/chronicle/integrity", deps.handleVerifyChain)

	// Health check
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
