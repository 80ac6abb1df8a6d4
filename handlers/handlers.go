// Package handlers implements the HTTP API surface.
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/carbonlake/aquiferai/pkg/pipeline"
	"github.com/carbonlake/aquiferai/pkg/session"
)

// defaultLockTTL bounds how long one question may hold a session.
const defaultLockTTL = 5 * time.Minute

// Handlers carries the dependencies shared by all endpoints.
type Handlers struct {
	Log      *slog.Logger
	Pipeline *pipeline.Pipeline
	Sessions session.Store
	Store    pipeline.GraphStore
	// ContextWindow is how many past exchanges feed the planner.
	ContextWindow int
	// LockTTL bounds how long a request may hold a session lock.
	LockTTL time.Duration
}

// New creates the handler set.
func New(log *slog.Logger, p *pipeline.Pipeline, sessions session.Store, store pipeline.GraphStore) *Handlers {
	return &Handlers{
		Log:           log,
		Pipeline:      p,
		Sessions:      sessions,
		Store:         store,
		ContextWindow: 3,
		LockTTL:       defaultLockTTL,
	}
}

// Healthz reports liveness.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Schema returns the graph vocabulary so clients can show what is queryable.
func (h *Handlers) Schema(w http.ResponseWriter, r *http.Request) {
	vocab, err := h.Store.Vocabulary(r.Context())
	if err != nil {
		http.Error(w, internalError("Failed to fetch schema", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, vocab)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// internalError formats an error for the response body.
func internalError(msg string, err error) string {
	return fmt.Sprintf("%s: %v", msg, err)
}
