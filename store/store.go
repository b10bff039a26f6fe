// Package store persists workflow sessions: agent results, human
// interaction records, and final compliance results. Implementations
// must tolerate concurrent writes from different sessions.
package store

import (
	"context"

	"github.com/auditflow/auditflow/types"
)

// SessionStore is the persistence collaborator used by the orchestrator
// and the API handlers.
type SessionStore interface {
	// CreateSession records a new run.
	CreateSession(ctx context.Context, sessionID, query string, attachments []string) error
	// UpdateStage records the session's current workflow stage.
	UpdateStage(ctx context.Context, sessionID, stage string) error
	// SaveAgentResult appends an agent's result keyed by (session, agent).
	SaveAgentResult(ctx context.Context, sessionID string, result types.AgentResult) error
	// SaveHumanInteraction appends one resolved or timed-out HITL round.
	SaveHumanInteraction(ctx context.Context, sessionID string, interaction types.HumanInteraction) error
	// SaveFinalResult attaches the terminal ComplianceResult; the session
	// is immutable afterwards except for appended interaction records.
	SaveFinalResult(ctx context.Context, sessionID string, result *types.ComplianceResult) error
	// GetSession reads back the full session history. Returns a
	// SESSION_NOT_FOUND error when the session is unknown.
	GetSession(ctx context.Context, sessionID string) (*types.SessionState, error)
	// GetResult reads back the final result. Returns SESSION_NOT_FOUND
	// when the session is unknown or has no final result yet.
	GetResult(ctx context.Context, sessionID string) (*types.ComplianceResult, error)
}

// ErrNotFound builds the canonical unknown-session error.
func ErrNotFound(sessionID string) *types.Error {
	return types.NewError(types.ErrSessionNotFound, "session not found: "+sessionID)
}
