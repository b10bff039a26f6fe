package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/auditflow/auditflow/retry"
	"github.com/auditflow/auditflow/types"
)

// Observer receives execution outcomes for reporting. Implemented by the
// metrics collector; a nil observer is ignored.
type Observer interface {
	ObserveAgentExecution(agent string, status types.ResultStatus, duration time.Duration)
}

// Runner wraps agent invocations with per-attempt timeout enforcement,
// bounded retry with exponential backoff, and status tracking. Run never
// returns an error: faults and timeouts are converted into AgentResult
// statuses so one agent's failure cannot abort the workflow.
//
// Each retry attempt gets a fresh timeout budget. A timeout is not
// retried: the expired budget already represents the full allotment for
// that invocation.
type Runner struct {
	retryer  *retry.Retryer
	logger   *zap.Logger
	observer Observer

	mu        sync.RWMutex
	states    map[string]State
	durations map[string]time.Duration
}

// NewRunner creates a Runner. A nil policy uses retry.DefaultPolicy.
func NewRunner(policy *retry.Policy, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "agent_runner"))
	return &Runner{
		retryer:   retry.New(policy, logger),
		logger:    logger,
		states:    make(map[string]State),
		durations: make(map[string]time.Duration),
	}
}

// WithObserver attaches an execution observer and returns the runner.
func (r *Runner) WithObserver(o Observer) *Runner {
	r.observer = o
	return r
}

// Run executes one agent and returns its result. The returned status is
// success, failed, or timeout; the workflow treats all three as a
// finished invocation.
func (r *Runner) Run(ctx context.Context, ag Agent, query string, rc *types.Context) types.AgentResult {
	name := ag.Name()
	r.setState(name, StateRunning)
	start := time.Now()

	var payload types.Payload
	err := r.retryer.Do(ctx, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, ag.Timeout())
		defer cancel()

		p, execErr := r.execute(attemptCtx, ag, query, rc)
		if execErr != nil {
			if errors.Is(execErr, context.DeadlineExceeded) && ctx.Err() == nil {
				// The attempt consumed its full budget; don't retry.
				return retry.WrapPermanent(execErr)
			}
			return execErr
		}
		payload = p
		return nil
	})

	duration := time.Since(start)
	r.recordDuration(name, duration)

	result := types.AgentResult{Agent: name, Duration: duration}
	switch {
	case err == nil:
		result.Status = types.ResultSuccess
		result.Payload = payload
		r.setState(name, StateCompleted)
	case errors.Is(err, context.DeadlineExceeded):
		result.Status = types.ResultTimeout
		result.Error = fmt.Sprintf("agent timed out after %s", ag.Timeout())
		r.setState(name, StateTimeout)
		r.logger.Warn("agent timed out",
			zap.String("agent", name),
			zap.Duration("timeout", ag.Timeout()),
			zap.Duration("elapsed", duration),
		)
	default:
		result.Status = types.ResultFailed
		result.Error = err.Error()
		r.setState(name, StateFailed)
		r.logger.Warn("agent failed",
			zap.String("agent", name),
			zap.Duration("elapsed", duration),
			zap.Error(err),
		)
	}

	if r.observer != nil {
		r.observer.ObserveAgentExecution(name, result.Status, duration)
	}
	return result
}

type execOutcome struct {
	payload types.Payload
	err     error
}

// execute invokes the agent in its own goroutine so a blocked agent
// cannot outlive its budget, and converts a panic into an error so a
// misbehaving agent cannot take down the run.
func (r *Runner) execute(ctx context.Context, ag Agent, query string, rc *types.Context) (types.Payload, error) {
	outCh := make(chan execOutcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				outCh <- execOutcome{err: fmt.Errorf("agent panicked: %v", rec)}
			}
		}()
		p, err := ag.Execute(ctx, query, rc)
		outCh <- execOutcome{payload: p, err: err}
	}()

	select {
	case out := <-outCh:
		return out.payload, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Status returns the observed lifecycle state for an agent.
func (r *Runner) Status(agent string) State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.states[agent]; ok {
		return s
	}
	return StateIdle
}

// ExecutionTime returns the duration of the agent's last invocation.
func (r *Runner) ExecutionTime(agent string) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.durations[agent]
}

func (r *Runner) setState(agent string, s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[agent] = s
}

func (r *Runner) recordDuration(agent string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[agent] = d
}
