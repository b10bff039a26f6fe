// Package orchestrator drives the staged compliance workflow: a parallel
// collection fan-out, dependent risk-scoring and critic stages, an
// optional human-in-the-loop exchange, and final result synthesis.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/auditflow/auditflow/agent"
	"github.com/auditflow/auditflow/guardrails"
	"github.com/auditflow/auditflow/hitl"
	"github.com/auditflow/auditflow/store"
	"github.com/auditflow/auditflow/types"
)

// Workflow stage identifiers as reported over the session transport.
const (
	StagePlanning           = "planning"
	StageParallelCollection = "parallel_collection"
	StageRiskScoring        = "risk_scoring"
	StageCriticReview       = "critic_review"
	StageAwaitingHuman      = "awaiting_human"
	StageFinalized          = "finalized"
	StageError              = "error"
)

// DefaultMaxHITLRounds caps how many critic follow-up questions are put
// to the human operator in one run.
const DefaultMaxHITLRounds = 2

// Transport is the per-session duplex channel to the human operator.
// Implementations must be safe for concurrent use by multiple sessions.
// Send failures are non-fatal: a disconnected operator never aborts a run.
type Transport interface {
	SendProgress(ctx context.Context, sessionID string, update types.ProgressUpdate) error
	SendHITLRequest(ctx context.Context, req types.HITLRequest) error
}

// NopTransport discards all outgoing messages.
type NopTransport struct{}

func (NopTransport) SendProgress(ctx context.Context, sessionID string, update types.ProgressUpdate) error {
	return nil
}

func (NopTransport) SendHITLRequest(ctx context.Context, req types.HITLRequest) error {
	return nil
}

// Metrics receives workflow-level observations. Implemented by the
// metrics collector; a nil Metrics is ignored.
type Metrics interface {
	ObserveStage(stage string, duration time.Duration)
	ObserveWorkflow(decision string, duration time.Duration)
	ObserveHITLRound(status string)
}

// Config assembles an Orchestrator. Collection agents run concurrently in
// stage 2; RiskScorer and Critic are the dependent sequential stages. The
// stage table is fixed at construction, not resolved by name at runtime.
type Config struct {
	Collection []agent.Agent
	RiskScorer agent.Agent
	Critic     agent.Agent

	Runner     *agent.Runner
	Correlator *hitl.Correlator
	Store      store.SessionStore
	Transport  Transport
	Screener   *guardrails.Screener
	Metrics    Metrics
	Logger     *zap.Logger

	// MaxHITLRounds caps HITL rounds per run; zero means the default.
	MaxHITLRounds int
}

// Orchestrator owns one session's run at a time; distinct sessions run
// concurrently on distinct goroutines with no shared mutable state
// beyond the store and transport collaborators.
type Orchestrator struct {
	collection []agent.Agent
	riskScorer agent.Agent
	critic     agent.Agent

	runner        *agent.Runner
	correlator    *hitl.Correlator
	store         store.SessionStore
	transport     Transport
	screener      *guardrails.Screener
	metrics       Metrics
	logger        *zap.Logger
	tracer        trace.Tracer
	maxHITLRounds int
}

// New creates an Orchestrator from cfg, filling in defaults for optional
// collaborators.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := cfg.Transport
	if transport == nil {
		transport = NopTransport{}
	}
	runner := cfg.Runner
	if runner == nil {
		runner = agent.NewRunner(nil, logger)
	}
	correlator := cfg.Correlator
	if correlator == nil {
		correlator = hitl.NewCorrelator(0, logger)
	}
	screener := cfg.Screener
	if screener == nil {
		screener = guardrails.NewScreener(logger)
	}
	rounds := cfg.MaxHITLRounds
	if rounds <= 0 {
		rounds = DefaultMaxHITLRounds
	}
	return &Orchestrator{
		collection:    cfg.Collection,
		riskScorer:    cfg.RiskScorer,
		critic:        cfg.Critic,
		runner:        runner,
		correlator:    correlator,
		store:         cfg.Store,
		transport:     transport,
		screener:      screener,
		metrics:       cfg.Metrics,
		logger:        logger.With(zap.String("component", "orchestrator")),
		tracer:        otel.Tracer("orchestrator"),
		maxHITLRounds: rounds,
	}
}

// HandleHITLResponse delivers an operator response to its outstanding
// wait. Responses with no registered wait are discarded.
func (o *Orchestrator) HandleHITLResponse(resp types.HITLResponse) {
	o.correlator.Resolve(resp)
}

// Run executes the full staged plan for one session and returns the
// final result. Agent failures and HITL timeouts are absorbed into the
// run; only a stage fault aborts it, in which case no final result is
// persisted.
func (o *Orchestrator) Run(ctx context.Context, sessionID, query string, attachments []string) (*types.ComplianceResult, error) {
	start := time.Now()
	logger := o.logger.With(zap.String("session_id", sessionID))

	ctx, span := o.tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	if err := o.store.CreateSession(ctx, sessionID, query, attachments); err != nil {
		return nil, o.fail(ctx, sessionID, StagePlanning, fmt.Errorf("create session: %w", err))
	}

	// Stage 1: Planning.
	o.progress(ctx, sessionID, StagePlanning, types.ProgressStarted, nil)
	rc := types.NewContext(sessionID, query, attachments)
	o.setStage(ctx, sessionID, StagePlanning)
	o.progress(ctx, sessionID, StagePlanning, types.ProgressCompleted, nil)

	// Stage 2: Parallel collection.
	if err := o.runCollection(ctx, sessionID, rc); err != nil {
		return nil, o.fail(ctx, sessionID, StageParallelCollection, err)
	}

	// Stage 3: Risk scoring, only after stage 2 fully drains.
	if err := o.runDependent(ctx, sessionID, StageRiskScoring, o.riskScorer, rc); err != nil {
		return nil, o.fail(ctx, sessionID, StageRiskScoring, err)
	}

	// Stage 4: Critic review.
	if err := o.runDependent(ctx, sessionID, StageCriticReview, o.critic, rc); err != nil {
		return nil, o.fail(ctx, sessionID, StageCriticReview, err)
	}

	// Stage 5: Conditional HITL.
	interactions, err := o.runHITL(ctx, sessionID, rc)
	if err != nil {
		return nil, o.fail(ctx, sessionID, StageAwaitingHuman, err)
	}

	// Stage 6: Finalization.
	o.progress(ctx, sessionID, StageFinalized, types.ProgressStarted, nil)
	o.setStage(ctx, sessionID, StageFinalized)

	result := Synthesize(rc, interactions)
	result.Rationale = guardrails.Sanitize(result.Rationale)

	if screen := o.screener.ScreenResult(result); !screen.IsValid {
		// The validator never mutates the result; inconsistencies are
		// surfaced for operators and the result ships as synthesized.
		logger.Warn("final result failed consistency screen",
			zap.Any("errors", screen.Errors))
	}

	if err := o.store.SaveFinalResult(ctx, sessionID, result); err != nil {
		return nil, o.fail(ctx, sessionID, StageFinalized, fmt.Errorf("persist final result: %w", err))
	}

	o.progress(ctx, sessionID, StageFinalized, types.ProgressCompleted, map[string]any{
		"decision":   string(result.Decision),
		"confidence": result.Confidence,
	})

	duration := time.Since(start)
	if o.metrics != nil {
		o.metrics.ObserveWorkflow(string(result.Decision), duration)
	}
	logger.Info("workflow finished",
		zap.String("decision", string(result.Decision)),
		zap.Float64("confidence", result.Confidence),
		zap.Float64("risk_score", result.RiskScore),
		zap.Duration("duration", duration),
	)
	return result, nil
}

// runCollection fans out the independent collection agents and joins on
// a barrier. Success, failure, and timeout all count as finished; one
// agent's fault never blocks or cancels its siblings. Every result is
// written into the context and persisted.
func (o *Orchestrator) runCollection(ctx context.Context, sessionID string, rc *types.Context) error {
	stageStart := time.Now()
	o.progress(ctx, sessionID, StageParallelCollection, types.ProgressStarted, nil)
	o.setStage(ctx, sessionID, StageParallelCollection)

	ctx, span := o.tracer.Start(ctx, "workflow.stage",
		trace.WithAttributes(attribute.String("stage", StageParallelCollection)))
	defer span.End()

	var g errgroup.Group
	resultCh := make(chan types.AgentResult, len(o.collection))
	for _, ag := range o.collection {
		g.Go(func() error {
			resultCh <- o.runner.Run(ctx, ag, rc.Query, rc)
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(resultCh)
	}()

	for result := range resultCh {
		rc.SetResult(result)
		if err := o.store.SaveAgentResult(ctx, sessionID, result); err != nil {
			return fmt.Errorf("persist result for %s: %w", result.Agent, err)
		}
	}

	o.observeStage(StageParallelCollection, stageStart)
	o.progress(ctx, sessionID, StageParallelCollection, types.ProgressCompleted, nil)
	return nil
}

// runDependent runs a single sequential-stage agent over the accumulated
// context. A failed or timed-out agent is recorded and the run proceeds;
// persistence errors are stage faults.
func (o *Orchestrator) runDependent(ctx context.Context, sessionID, stage string, ag agent.Agent, rc *types.Context) error {
	if ag == nil {
		return fmt.Errorf("stage %s has no agent configured", stage)
	}

	stageStart := time.Now()
	o.progress(ctx, sessionID, stage, types.ProgressStarted, nil)
	o.setStage(ctx, sessionID, stage)

	ctx, span := o.tracer.Start(ctx, "workflow.stage",
		trace.WithAttributes(attribute.String("stage", stage)))
	defer span.End()

	result := o.runner.Run(ctx, ag, rc.Query, rc)
	rc.SetResult(result)
	if err := o.store.SaveAgentResult(ctx, sessionID, result); err != nil {
		return fmt.Errorf("persist result for %s: %w", result.Agent, err)
	}

	o.observeStage(stage, stageStart)
	o.progress(ctx, sessionID, stage, types.ProgressCompleted, nil)
	return nil
}

// runHITL performs the conditional human-in-the-loop stage: when the
// critic requests human input, its follow-up questions are put to the
// operator one round at a time, up to the round cap. A timed-out round
// yields a timeout interaction and the run continues without the answer.
func (o *Orchestrator) runHITL(ctx context.Context, sessionID string, rc *types.Context) ([]types.HumanInteraction, error) {
	critic, ok := rc.Payload(agent.NameRedTeamCritic).(types.CriticPayload)
	if !ok || !critic.NeedsHITL || len(critic.FollowUpQuestions) == 0 {
		return nil, nil
	}

	stageStart := time.Now()
	o.progress(ctx, sessionID, StageAwaitingHuman, types.ProgressStarted, nil)
	o.setStage(ctx, sessionID, StageAwaitingHuman)

	questions := critic.FollowUpQuestions
	if len(questions) > o.maxHITLRounds {
		questions = questions[:o.maxHITLRounds]
	}

	send := func(sendCtx context.Context, req types.HITLRequest) error {
		return o.transport.SendHITLRequest(sendCtx, req)
	}

	var interactions []types.HumanInteraction
	for _, question := range questions {
		round := o.correlator.Ask(ctx, send, sessionID, types.HITLClarification, question)
		interactions = append(interactions, round.Interaction)

		if err := o.store.SaveHumanInteraction(ctx, sessionID, round.Interaction); err != nil {
			return nil, fmt.Errorf("persist human interaction: %w", err)
		}
		if o.metrics != nil {
			o.metrics.ObserveHITLRound(string(round.Interaction.Status))
		}
		if round.Answered() {
			rc.AddHITLAnswer(types.HITLAnswer{
				Prompt:   question,
				Response: round.Interaction.Response,
			})
		}
	}

	o.observeStage(StageAwaitingHuman, stageStart)
	o.progress(ctx, sessionID, StageAwaitingHuman, types.ProgressCompleted, map[string]any{
		"rounds": len(interactions),
	})
	return interactions, nil
}

// fail reports a fatal stage fault and abandons the run. No partial
// final result is synthesized or persisted.
func (o *Orchestrator) fail(ctx context.Context, sessionID, stage string, err error) error {
	o.logger.Error("stage fault, abandoning run",
		zap.String("session_id", sessionID),
		zap.String("stage", stage),
		zap.Error(err),
	)
	o.progress(ctx, sessionID, stage, types.ProgressFailed, map[string]any{"error": err.Error()})
	o.progress(ctx, sessionID, StageError, types.ProgressFailed, map[string]any{"error": err.Error()})
	o.setStage(ctx, sessionID, StageError)
	return types.NewError(types.ErrStageFault, fmt.Sprintf("stage %s failed", stage)).WithCause(err)
}

func (o *Orchestrator) progress(ctx context.Context, sessionID, stage, status string, meta map[string]any) {
	update := types.ProgressUpdate{Stage: stage, Status: status, Meta: meta}
	if err := o.transport.SendProgress(ctx, sessionID, update); err != nil {
		o.logger.Debug("progress send failed",
			zap.String("session_id", sessionID),
			zap.String("stage", stage),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) setStage(ctx context.Context, sessionID, stage string) {
	if err := o.store.UpdateStage(ctx, sessionID, stage); err != nil {
		o.logger.Warn("stage update failed",
			zap.String("session_id", sessionID),
			zap.String("stage", stage),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) observeStage(stage string, start time.Time) {
	if o.metrics != nil {
		o.metrics.ObserveStage(stage, time.Since(start))
	}
}
