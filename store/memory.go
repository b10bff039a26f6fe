package store

import (
	"context"
	"sync"
	"time"

	"github.com/auditflow/auditflow/types"
)

// MemoryStore is an in-process SessionStore used in tests and demos.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*types.SessionState
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*types.SessionState)}
}

func (s *MemoryStore) CreateSession(ctx context.Context, sessionID, query string, attachments []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.sessions[sessionID] = &types.SessionState{
		SessionID:         sessionID,
		CreatedAt:         now,
		UpdatedAt:         now,
		Query:             query,
		Attachments:       attachments,
		AgentOutputs:      make(map[string]types.AgentResult),
		HumanInteractions: []types.HumanInteraction{},
	}
	return nil
}

func (s *MemoryStore) UpdateStage(ctx context.Context, sessionID, stage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound(sessionID)
	}
	sess.Stage = stage
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SaveAgentResult(ctx context.Context, sessionID string, result types.AgentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound(sessionID)
	}
	sess.AgentOutputs[result.Agent] = result
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SaveHumanInteraction(ctx context.Context, sessionID string, interaction types.HumanInteraction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound(sessionID)
	}
	sess.HumanInteractions = append(sess.HumanInteractions, interaction)
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) SaveFinalResult(ctx context.Context, sessionID string, result *types.ComplianceResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound(sessionID)
	}
	sess.FinalResult = result
	sess.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, sessionID string) (*types.SessionState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound(sessionID)
	}

	// Copy so callers cannot mutate stored state.
	out := *sess
	out.AgentOutputs = make(map[string]types.AgentResult, len(sess.AgentOutputs))
	for k, v := range sess.AgentOutputs {
		out.AgentOutputs[k] = v
	}
	out.HumanInteractions = append([]types.HumanInteraction(nil), sess.HumanInteractions...)
	return &out, nil
}

func (s *MemoryStore) GetResult(ctx context.Context, sessionID string) (*types.ComplianceResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok || sess.FinalResult == nil {
		return nil, ErrNotFound(sessionID)
	}
	result := *sess.FinalResult
	return &result, nil
}
