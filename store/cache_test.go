package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/auditflow/auditflow/types"
)

func cachedStore(t *testing.T) (*CachedStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCachedStore(NewMemoryStore(), client, time.Minute, zaptest.NewLogger(t)), mr
}

func TestCachedStorePrimesCacheOnFinalize(t *testing.T) {
	s, mr := cachedStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "s1", "q", nil))
	require.NoError(t, s.SaveFinalResult(ctx, "s1", &types.ComplianceResult{
		Decision:   types.DecisionCompliant,
		Confidence: 0.85,
		RiskScore:  0.25,
	}))

	assert.True(t, mr.Exists("result:s1"))

	result, err := s.GetResult(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, types.DecisionCompliant, result.Decision)
}

func TestCachedStoreFallsBackToInnerStore(t *testing.T) {
	s, mr := cachedStore(t)
	ctx := context.Background()

	// Seed the inner store directly, bypassing the cache.
	require.NoError(t, s.SessionStore.CreateSession(ctx, "s1", "q", nil))
	require.NoError(t, s.SessionStore.SaveFinalResult(ctx, "s1", &types.ComplianceResult{
		Decision: types.DecisionNonCompliant,
	}))
	require.False(t, mr.Exists("result:s1"))

	result, err := s.GetResult(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, types.DecisionNonCompliant, result.Decision)
	assert.True(t, mr.Exists("result:s1"), "miss repopulates the cache")
}

func TestCachedStoreSurvivesRedisOutage(t *testing.T) {
	s, mr := cachedStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "s1", "q", nil))
	require.NoError(t, s.SessionStore.SaveFinalResult(ctx, "s1", &types.ComplianceResult{
		Decision: types.DecisionCompliant,
	}))

	mr.Close()

	result, err := s.GetResult(ctx, "s1")
	require.NoError(t, err, "cache faults degrade to store reads")
	assert.Equal(t, types.DecisionCompliant, result.Decision)
}

func TestCachedStoreDiscardsCorruptEntries(t *testing.T) {
	s, mr := cachedStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, "s1", "q", nil))
	require.NoError(t, s.SessionStore.SaveFinalResult(ctx, "s1", &types.ComplianceResult{
		Decision: types.DecisionCompliant,
	}))
	require.NoError(t, mr.Set("result:s1", "not json"))

	result, err := s.GetResult(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, types.DecisionCompliant, result.Decision)
}

func TestCachedStoreUnknownSessionIsNotFound(t *testing.T) {
	s, _ := cachedStore(t)

	_, err := s.GetResult(context.Background(), "missing")
	assert.Equal(t, types.ErrSessionNotFound, types.GetErrorCode(err))
}
