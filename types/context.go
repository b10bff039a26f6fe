package types

import "sync"

// Context is the shared accumulator of agent outputs for one workflow run.
// It is owned by the orchestrator for the duration of the run and is never
// shared across sessions. Writes are keyed by agent name; stage 2 agents run
// concurrently and each contributes only its own entry, so access is guarded
// by a mutex.
type Context struct {
	SessionID   string
	Query       string
	Attachments []string

	mu          sync.RWMutex
	results     map[string]AgentResult
	hitlAnswers []HITLAnswer
}

// HITLAnswer is one gathered human answer appended to the run context
// during the conditional HITL stage.
type HITLAnswer struct {
	Prompt   string
	Response string
}

// NewContext creates the per-run context for a session.
func NewContext(sessionID, query string, attachments []string) *Context {
	return &Context{
		SessionID:   sessionID,
		Query:       query,
		Attachments: attachments,
		results:     make(map[string]AgentResult),
	}
}

// SetResult stores an agent's result under its name. Each agent writes
// exactly one entry; later stages read earlier stages' entries.
func (c *Context) SetResult(result AgentResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[result.Agent] = result
}

// Result returns the stored result for the named agent.
func (c *Context) Result(agent string) (AgentResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[agent]
	return r, ok
}

// Payload returns the payload for the named agent when its invocation
// succeeded, or nil when the agent is missing, failed, or timed out.
func (c *Context) Payload(agent string) Payload {
	r, ok := c.Result(agent)
	if !ok || r.Status != ResultSuccess {
		return nil
	}
	return r.Payload
}

// Results returns a copy of all stored results.
func (c *Context) Results() map[string]AgentResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]AgentResult, len(c.results))
	for k, v := range c.results {
		out[k] = v
	}
	return out
}

// AddHITLAnswer appends a gathered human answer.
func (c *Context) AddHITLAnswer(answer HITLAnswer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hitlAnswers = append(c.hitlAnswers, answer)
}

// HITLAnswers returns the gathered human answers in arrival order.
func (c *Context) HITLAnswers() []HITLAnswer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]HITLAnswer, len(c.hitlAnswers))
	copy(out, c.hitlAnswers)
	return out
}
