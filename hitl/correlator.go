// Package hitl implements the human-in-the-loop request/response
// correlation protocol: outgoing requests are matched to their eventual
// responses by a unique request identifier, with a timeout fallback so a
// silent operator never stalls a workflow run.
package hitl

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auditflow/auditflow/types"
)

// DefaultWaitTimeout is the budget for one HITL round.
const DefaultWaitTimeout = 60 * time.Second

// SendFunc delivers a request to the remote operator over the session's
// duplex channel. A send failure does not cancel the round; the wait
// still resolves via timeout.
type SendFunc func(ctx context.Context, req types.HITLRequest) error

// RoundResult is the outcome of one HITL round. Response is nil when the
// wait timed out; the caller must treat that as "no answer" and proceed.
type RoundResult struct {
	Response    *types.HITLResponse
	Interaction types.HumanInteraction
}

// Answered reports whether a response arrived before the wait expired.
func (r RoundResult) Answered() bool { return r.Response != nil }

type pendingRequest struct {
	request    types.HITLRequest
	responseCh chan types.HITLResponse
}

// Correlator matches outgoing HITL requests to their responses. The
// wait-handle table is process-wide state keyed by request identifier;
// entries are inserted at request time and removed unconditionally when
// a round resolves or times out. Identifiers are never reused, so a late
// or duplicate response can never be misattributed to a future round.
type Correlator struct {
	waitTimeout time.Duration
	logger      *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// NewCorrelator creates a Correlator. A zero waitTimeout uses
// DefaultWaitTimeout; a nil logger is replaced with a nop logger.
func NewCorrelator(waitTimeout time.Duration, logger *zap.Logger) *Correlator {
	if waitTimeout <= 0 {
		waitTimeout = DefaultWaitTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Correlator{
		waitTimeout: waitTimeout,
		logger:      logger.With(zap.String("component", "hitl_correlator")),
		pending:     make(map[string]*pendingRequest),
	}
}

// Ask performs one HITL round: it registers a wait handle under a fresh
// request identifier, sends the request, and blocks the calling stage
// (not the process) until a matching response arrives or the wait budget
// elapses. The wait handle and any buffered response are always
// discarded on exit.
func (c *Correlator) Ask(ctx context.Context, send SendFunc, sessionID string, reqType types.HITLRequestType, prompt string) RoundResult {
	req := types.HITLRequest{
		SessionID: sessionID,
		RequestID: uuid.NewString(),
		Type:      reqType,
		Prompt:    prompt,
	}

	pending := &pendingRequest{
		request:    req,
		responseCh: make(chan types.HITLResponse, 1),
	}

	c.mu.Lock()
	c.pending[req.RequestID] = pending
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, req.RequestID)
		c.mu.Unlock()
	}()

	c.logger.Info("sending HITL request",
		zap.String("session_id", sessionID),
		zap.String("request_id", req.RequestID),
		zap.String("type", string(reqType)),
	)

	if err := send(ctx, req); err != nil {
		// The operator may be disconnected; the round still resolves via
		// timeout and the run continues without this answer.
		c.logger.Warn("HITL request send failed",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
	}

	timer := time.NewTimer(c.waitTimeout)
	defer timer.Stop()

	select {
	case resp := <-pending.responseCh:
		interaction := types.HumanInteraction{
			Timestamp: time.Now().UTC(),
			Type:      reqType,
			Prompt:    prompt,
			Response:  responseText(resp),
			Status:    interactionStatus(reqType, resp),
		}
		c.logger.Info("HITL response received",
			zap.String("request_id", req.RequestID),
			zap.String("status", string(interaction.Status)),
		)
		return RoundResult{Response: &resp, Interaction: interaction}

	case <-timer.C:
	case <-ctx.Done():
	}

	c.logger.Warn("HITL round timed out",
		zap.String("session_id", sessionID),
		zap.String("request_id", req.RequestID),
		zap.Duration("wait_timeout", c.waitTimeout),
	)
	return RoundResult{
		Interaction: types.HumanInteraction{
			Timestamp: time.Now().UTC(),
			Type:      reqType,
			Prompt:    prompt,
			Response:  "",
			Status:    types.InteractionTimeout,
		},
	}
}

// Resolve delivers an operator response to its outstanding wait. At most
// one response is accepted per request identifier; a response for an
// unknown, already-resolved, or timed-out identifier is a no-op.
func (c *Correlator) Resolve(resp types.HITLResponse) bool {
	c.mu.Lock()
	pending, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("discarding HITL response with no outstanding wait",
			zap.String("session_id", resp.SessionID),
			zap.String("request_id", resp.RequestID),
		)
		return false
	}

	// Buffered channel of size one; the waiter may already have given up,
	// in which case the round's deferred cleanup discards this response.
	select {
	case pending.responseCh <- resp:
	default:
	}
	return true
}

// PendingCount returns the number of outstanding waits.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// responseText renders the response payload for the audit record: the
// "text" field when present, otherwise the JSON-encoded payload.
func responseText(resp types.HITLResponse) string {
	if text, ok := resp.Payload["text"].(string); ok {
		return text
	}
	data, err := json.Marshal(resp.Payload)
	if err != nil {
		return fmt.Sprintf("%v", resp.Payload)
	}
	return string(data)
}

func interactionStatus(reqType types.HITLRequestType, resp types.HITLResponse) types.InteractionStatus {
	if reqType == types.HITLApproval || resp.ResponseType == types.HITLResponseApproval {
		if approved, ok := resp.Payload["approved"].(bool); ok {
			if approved {
				return types.InteractionApproved
			}
			return types.InteractionDenied
		}
	}
	return types.InteractionProvided
}
