// Package agent defines the analysis agent contract, the runner that
// enforces timeout/retry/status semantics around agent invocations, and
// the built-in compliance analysis agents.
package agent

import (
	"context"
	"time"

	"github.com/auditflow/auditflow/types"
)

// Agent names used as Context keys and persistence keys.
const (
	NamePolicyRetriever   = "policy_retriever"
	NameEvidenceCollector = "evidence_collector"
	NameVisionOCR         = "vision_ocr"
	NameCodeScanner       = "code_scanner"
	NameRiskScorer        = "risk_scorer"
	NameRedTeamCritic     = "red_team_critic"
)

// Agent is one pluggable analysis step. Execute computes a payload for
// the query given the accumulated run context; it may fault, and must
// complete within the declared timeout or be treated as timed out by
// the Runner.
type Agent interface {
	// Name returns the agent's stable identifier.
	Name() string
	// Timeout returns the per-attempt execution budget.
	Timeout() time.Duration
	// Execute computes the agent's payload.
	Execute(ctx context.Context, query string, rc *types.Context) (types.Payload, error)
}

// State tracks one agent's lifecycle for progress reporting.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateTimeout   State = "timeout"
	StateFailed    State = "failed"
)

// Func adapts a function to the Agent interface. Used in tests and for
// lightweight custom agents.
type Func struct {
	AgentName    string
	AgentTimeout time.Duration
	Fn           func(ctx context.Context, query string, rc *types.Context) (types.Payload, error)
}

func (f *Func) Name() string { return f.AgentName }

func (f *Func) Timeout() time.Duration {
	if f.AgentTimeout <= 0 {
		return 30 * time.Second
	}
	return f.AgentTimeout
}

func (f *Func) Execute(ctx context.Context, query string, rc *types.Context) (types.Payload, error) {
	return f.Fn(ctx, query, rc)
}
