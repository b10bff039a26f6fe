package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentResultRoundTripKeepsPayloadBytes(t *testing.T) {
	in := AgentResult{
		Agent:  "risk_scorer",
		Status: ResultSuccess,
		Payload: RiskPayload{
			RiskScore:      0.42,
			Confidence:     0.8,
			Recommendation: "needs_review",
		},
		Duration: 1500 * time.Millisecond,
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out AgentResult
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Equal(t, in.Agent, out.Agent)
	assert.Equal(t, in.Status, out.Status)
	assert.Equal(t, in.Duration, out.Duration)

	raw, ok := out.Payload.(RawPayload)
	require.True(t, ok, "payload should decode as RawPayload")

	var risk RiskPayload
	require.NoError(t, json.Unmarshal(raw, &risk))
	assert.Equal(t, 0.42, risk.RiskScore)
	assert.Equal(t, "needs_review", risk.Recommendation)
}

func TestAgentResultRoundTripWithoutPayload(t *testing.T) {
	in := AgentResult{
		Agent:  "policy_retriever",
		Status: ResultFailed,
		Error:  "deadline exceeded",
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)

	var out AgentResult
	require.NoError(t, json.Unmarshal(data, &out))

	assert.Nil(t, out.Payload)
	assert.Equal(t, "deadline exceeded", out.Error)
}
