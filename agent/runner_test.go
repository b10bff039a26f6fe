package agent

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/auditflow/auditflow/retry"
	"github.com/auditflow/auditflow/types"
)

func fastRetryPolicy() *retry.Policy {
	return &retry.Policy{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestRunSuccess(t *testing.T) {
	r := NewRunner(fastRetryPolicy(), zaptest.NewLogger(t))
	ag := &Func{AgentName: "stub_agent", AgentTimeout: time.Second, Fn: func(ctx context.Context, query string, rc *types.Context) (types.Payload, error) {
		return types.RiskPayload{RiskScore: 0.2, Confidence: 0.9}, nil
	}}

	rc := types.NewContext("s1", "query", nil)
	result := r.Run(context.Background(), ag, "query", rc)

	assert.Equal(t, types.ResultSuccess, result.Status)
	assert.Equal(t, "stub_agent", result.Agent)
	require.IsType(t, types.RiskPayload{}, result.Payload)
	assert.Equal(t, StateCompleted, r.Status("stub_agent"))
	assert.Greater(t, r.ExecutionTime("stub_agent"), time.Duration(0))
}

func TestRunRetriesTransientFault(t *testing.T) {
	r := NewRunner(fastRetryPolicy(), zaptest.NewLogger(t))

	var mu sync.Mutex
	calls := 0
	ag := &Func{AgentName: "flaky_agent", AgentTimeout: time.Second, Fn: func(ctx context.Context, query string, rc *types.Context) (types.Payload, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls < 2 {
			return nil, errors.New("transient fault")
		}
		return types.CodePayload{ComplianceItems: 1}, nil
	}}

	result := r.Run(context.Background(), ag, "q", types.NewContext("s1", "q", nil))

	assert.Equal(t, types.ResultSuccess, result.Status)
	mu.Lock()
	assert.Equal(t, 2, calls)
	mu.Unlock()
}

func TestRunFailsAfterRetriesExhausted(t *testing.T) {
	r := NewRunner(fastRetryPolicy(), zaptest.NewLogger(t))

	var mu sync.Mutex
	calls := 0
	ag := &Func{AgentName: "broken_agent", AgentTimeout: time.Second, Fn: func(ctx context.Context, query string, rc *types.Context) (types.Payload, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return nil, errors.New("permanently broken")
	}}

	result := r.Run(context.Background(), ag, "q", types.NewContext("s1", "q", nil))

	assert.Equal(t, types.ResultFailed, result.Status)
	assert.Contains(t, result.Error, "permanently broken")
	assert.Nil(t, result.Payload)
	assert.Equal(t, StateFailed, r.Status("broken_agent"))
	mu.Lock()
	assert.Equal(t, 3, calls, "two retries after the first attempt")
	mu.Unlock()
}

func TestRunTimeoutIsNotRetried(t *testing.T) {
	r := NewRunner(fastRetryPolicy(), zaptest.NewLogger(t))

	var mu sync.Mutex
	calls := 0
	ag := &Func{AgentName: "slow_agent", AgentTimeout: 10 * time.Millisecond, Fn: func(ctx context.Context, query string, rc *types.Context) (types.Payload, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		select {
		case <-time.After(time.Second):
			return types.RiskPayload{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}

	result := r.Run(context.Background(), ag, "q", types.NewContext("s1", "q", nil))

	assert.Equal(t, types.ResultTimeout, result.Status)
	assert.Contains(t, result.Error, "timed out")
	assert.Equal(t, StateTimeout, r.Status("slow_agent"))
	mu.Lock()
	assert.Equal(t, 1, calls, "an expired budget must not be retried")
	mu.Unlock()
}

func TestRunRecoversFromPanic(t *testing.T) {
	r := NewRunner(fastRetryPolicy(), zaptest.NewLogger(t))
	ag := &Func{AgentName: "panicky_agent", AgentTimeout: time.Second, Fn: func(ctx context.Context, query string, rc *types.Context) (types.Payload, error) {
		panic("unexpected state")
	}}

	result := r.Run(context.Background(), ag, "q", types.NewContext("s1", "q", nil))

	assert.Equal(t, types.ResultFailed, result.Status)
	assert.Contains(t, result.Error, "agent panicked")
}

type recordingObserver struct {
	mu       sync.Mutex
	observed []string
}

func (o *recordingObserver) ObserveAgentExecution(agent string, status types.ResultStatus, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.observed = append(o.observed, agent+":"+string(status))
}

func TestRunReportsToObserver(t *testing.T) {
	obs := &recordingObserver{}
	r := NewRunner(fastRetryPolicy(), zaptest.NewLogger(t)).WithObserver(obs)
	ag := &Func{AgentName: "observed_agent", AgentTimeout: time.Second, Fn: func(ctx context.Context, query string, rc *types.Context) (types.Payload, error) {
		return types.CriticPayload{}, nil
	}}

	r.Run(context.Background(), ag, "q", types.NewContext("s1", "q", nil))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.observed, 1)
	assert.Equal(t, "observed_agent:success", obs.observed[0])
}

func TestStatusDefaultsToIdle(t *testing.T) {
	r := NewRunner(nil, zaptest.NewLogger(t))
	assert.Equal(t, StateIdle, r.Status("never_ran"))
}
