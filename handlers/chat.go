package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carbonlake/aquiferai/metrics"
	"github.com/carbonlake/aquiferai/pkg/pipeline"
	"github.com/carbonlake/aquiferai/pkg/session"
)

// ChatRequest is the incoming request for a chat message.
type ChatRequest struct {
	SessionID *uuid.UUID `json:"session_id,omitempty"`
	Question  string     `json:"question"`
	Detailed  bool       `json:"detailed,omitempty"`
}

// ChatResponse is the full pipeline result returned to the client.
type ChatResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	Answer    string    `json:"answer"`

	Report         *pipeline.AnalysisReport `json:"report,omitempty"`
	Trace          *pipeline.Trace          `json:"trace,omitempty"`
	ShouldEscalate bool                     `json:"should_escalate"`

	Error string `json:"error,omitempty"`
}

// Chat answers one question within a session. Requests on the same session
// are serialized through the session lock; a concurrent question gets 409.
func (h *Handlers) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()

	sessionID := uuid.New()
	if req.SessionID != nil && *req.SessionID != uuid.Nil {
		sessionID = *req.SessionID
		if _, err := h.Sessions.Get(ctx, sessionID); errors.Is(err, session.ErrNotFound) {
			if _, err := h.Sessions.Create(ctx, sessionID, nil); err != nil {
				http.Error(w, internalError("Failed to create session", err), http.StatusInternalServerError)
				return
			}
		} else if err != nil {
			http.Error(w, internalError("Failed to load session", err), http.StatusInternalServerError)
			return
		}
	} else {
		if _, err := h.Sessions.Create(ctx, sessionID, nil); err != nil {
			http.Error(w, internalError("Failed to create session", err), http.StatusInternalServerError)
			return
		}
	}

	lockID := uuid.NewString()
	if err := h.Sessions.AcquireLock(ctx, sessionID, lockID, h.LockTTL); err != nil {
		if errors.Is(err, session.ErrSessionBusy) {
			writeJSON(w, http.StatusConflict, ChatResponse{
				SessionID: sessionID,
				Error:     "session is busy answering another question",
			})
			return
		}
		http.Error(w, internalError("Failed to lock session", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := h.Sessions.ReleaseLock(ctx, sessionID, lockID); err != nil {
			h.Log.Warn("failed to release session lock", "session", sessionID, "error", err)
		}
	}()

	window, err := h.Sessions.RecentWindow(ctx, sessionID, h.ContextWindow)
	if err != nil {
		http.Error(w, internalError("Failed to load history", err), http.StatusInternalServerError)
		return
	}
	history := make([]pipeline.Message, 0, 2*len(window))
	for _, ex := range window {
		history = append(history,
			pipeline.Message{Role: "user", Content: ex.Question},
			pipeline.Message{Role: "assistant", Content: ex.Answer},
		)
	}

	run, err := h.Pipeline.RunWithHistory(ctx, req.Question, history, req.Detailed)
	if err != nil {
		http.Error(w, internalError("Failed to answer question", err), http.StatusInternalServerError)
		return
	}

	statuses := make([]string, 0, len(run.Outcomes))
	for _, o := range run.Outcomes {
		statuses = append(statuses, string(o.Status))
	}
	metrics.RecordRun(run.ShouldEscalate, run.TotalRetries, statuses)

	if err := h.Sessions.AppendExchange(ctx, sessionID, session.Exchange{
		Question:  req.Question,
		Answer:    run.AnswerText,
		CreatedAt: time.Now(),
	}); err != nil {
		h.Log.Warn("failed to persist exchange", "session", sessionID, "error", err)
	}

	writeJSON(w, http.StatusOK, ChatResponse{
		SessionID:      sessionID,
		Answer:         run.AnswerText,
		Report:         run.Report,
		Trace:          run.Trace,
		ShouldEscalate: run.ShouldEscalate,
	})
}
