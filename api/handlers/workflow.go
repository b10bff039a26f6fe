// Package handlers implements the HTTP API: query intake, result and
// history retrieval, and the per-session WebSocket upgrade.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auditflow/auditflow/guardrails"
	"github.com/auditflow/auditflow/store"
	"github.com/auditflow/auditflow/types"
)

// WorkflowRunner starts a full workflow run for a session. Implemented
// by the orchestrator.
type WorkflowRunner interface {
	Run(ctx context.Context, sessionID, query string, attachments []string) (*types.ComplianceResult, error)
}

// SessionChannel serves the per-session WebSocket. Implemented by the
// ws connection manager.
type SessionChannel interface {
	HandleSession(w http.ResponseWriter, r *http.Request, sessionID string)
}

// RefusalCounter counts pre-screen rejections. Implemented by the
// metrics collector; nil disables counting.
type RefusalCounter interface {
	RecordQueryRefused()
}

// WorkflowHandler serves the compliance workflow endpoints.
type WorkflowHandler struct {
	runner   WorkflowRunner
	store    store.SessionStore
	screener *guardrails.Screener
	channel  SessionChannel
	refusals RefusalCounter
	logger   *zap.Logger

	// runTimeout bounds a detached background run.
	runTimeout time.Duration
}

// NewWorkflowHandler wires the workflow endpoints. channel and refusals
// may be nil.
func NewWorkflowHandler(runner WorkflowRunner, sessions store.SessionStore, screener *guardrails.Screener, channel SessionChannel, refusals RefusalCounter, logger *zap.Logger) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowHandler{
		runner:     runner,
		store:      sessions,
		screener:   screener,
		channel:    channel,
		refusals:   refusals,
		logger:     logger.With(zap.String("component", "workflow_handler")),
		runTimeout: 10 * time.Minute,
	}
}

// AskRequest is the body of POST /api/v1/ask. SessionID is optional: a
// client that opened its channel first supplies the ID it subscribed
// under, otherwise one is generated.
type AskRequest struct {
	SessionID   string   `json:"session_id,omitempty"`
	Query       string   `json:"query"`
	Attachments []string `json:"attachments,omitempty"`
}

// AskResponse acknowledges an accepted or refused query.
type AskResponse struct {
	SessionID string                  `json:"session_id"`
	Status    string                  `json:"status"`
	Channel   string                  `json:"channel,omitempty"`
	Result    *types.ComplianceResult `json:"result,omitempty"`
}

// Ask screens the query and, when it passes, starts a workflow run in
// the background. Refused queries still get a persisted session so the
// refusal is auditable.
func (h *WorkflowHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if req.Query == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "query is required", h.logger)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	screen := h.screener.ScreenQuery(req.Query)
	if !screen.Accepted() {
		if h.refusals != nil {
			h.refusals.RecordQueryRefused()
		}
		h.screener.LogSecurityEvent("query_refused",
			zap.String("session_id", sessionID),
			zap.String("reason", screen.Reason),
		)

		refusal := guardrails.SafeRefusal(screen.Reason)
		if err := h.store.CreateSession(r.Context(), sessionID, req.Query, req.Attachments); err != nil {
			h.logger.Error("persisting refused session failed",
				zap.String("session_id", sessionID), zap.Error(err))
		} else if err := h.store.SaveFinalResult(r.Context(), sessionID, refusal); err != nil {
			h.logger.Error("persisting refusal result failed",
				zap.String("session_id", sessionID), zap.Error(err))
		}

		WriteSuccess(w, AskResponse{
			SessionID: sessionID,
			Status:    "refused",
			Result:    refusal,
		})
		return
	}

	// Run detached from the request: the caller polls or subscribes to
	// the session channel for the outcome.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.runTimeout)
		defer cancel()
		if _, err := h.runner.Run(ctx, sessionID, req.Query, req.Attachments); err != nil {
			h.logger.Error("workflow run failed",
				zap.String("session_id", sessionID), zap.Error(err))
		}
	}()

	WriteJSON(w, http.StatusAccepted, Response{
		Success: true,
		Data: AskResponse{
			SessionID: sessionID,
			Status:    "started",
			Channel:   "/ws/" + sessionID,
		},
		Timestamp: time.Now(),
	})
}

// ResultResponse is the body of GET /api/v1/sessions/{id}/result.
type ResultResponse struct {
	SessionID string                  `json:"session_id"`
	Stage     string                  `json:"stage"`
	Status    string                  `json:"status"`
	Result    *types.ComplianceResult `json:"result,omitempty"`
}

// Result returns the final result for a session, or its current stage
// while the run is still in flight.
func (h *WorkflowHandler) Result(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	resp := ResultResponse{
		SessionID: sess.SessionID,
		Stage:     sess.Stage,
	}
	if sess.FinalResult != nil {
		resp.Status = "completed"
		resp.Result = sess.FinalResult
	} else {
		resp.Status = "pending"
	}
	WriteSuccess(w, resp)
}

// History returns the full persisted session: agent outputs, human
// interactions, and the final result when present.
func (h *WorkflowHandler) History(w http.ResponseWriter, r *http.Request, sessionID string) {
	sess, err := h.store.GetSession(r.Context(), sessionID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	WriteSuccess(w, sess)
}

// Session upgrades to the per-session WebSocket channel.
func (h *WorkflowHandler) Session(w http.ResponseWriter, r *http.Request, sessionID string) {
	if h.channel == nil {
		WriteErrorMessage(w, http.StatusNotImplemented, types.ErrInternalError, "session channel unavailable", h.logger)
		return
	}
	h.channel.HandleSession(w, r, sessionID)
}

func (h *WorkflowHandler) writeStoreError(w http.ResponseWriter, err error) {
	if apiErr, ok := err.(*types.Error); ok {
		WriteError(w, apiErr, h.logger)
		return
	}
	WriteErrorMessage(w, http.StatusInternalServerError, types.ErrInternalError, "session lookup failed", h.logger)
}
