package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/auditflow/auditflow/types"
)

// DefaultResultTTL bounds how long a cached final result is served.
const DefaultResultTTL = 10 * time.Minute

// CachedStore decorates a SessionStore with a Redis read-through cache
// for final results, the hot path once a run has finished. Writes go to
// the underlying store first; cache faults degrade to store reads and
// are never surfaced to callers.
type CachedStore struct {
	SessionStore
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedStore wraps inner with a result cache on client. A zero ttl
// means the default.
func NewCachedStore(inner SessionStore, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{
		SessionStore: inner,
		redis:        client,
		ttl:          ttl,
		logger:       logger.With(zap.String("component", "result_cache")),
	}
}

func resultKey(sessionID string) string {
	return "result:" + sessionID
}

// SaveFinalResult persists through the inner store, then primes the
// cache so the first poll after finalization already hits.
func (c *CachedStore) SaveFinalResult(ctx context.Context, sessionID string, result *types.ComplianceResult) error {
	if err := c.SessionStore.SaveFinalResult(ctx, sessionID, result); err != nil {
		return err
	}
	data, err := json.Marshal(result)
	if err != nil {
		c.logger.Warn("result not cacheable", zap.String("session_id", sessionID), zap.Error(err))
		return nil
	}
	if err := c.redis.Set(ctx, resultKey(sessionID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("result cache write failed", zap.String("session_id", sessionID), zap.Error(err))
	}
	return nil
}

// GetResult serves from the cache when possible and falls back to the
// inner store, repopulating the cache on a miss.
func (c *CachedStore) GetResult(ctx context.Context, sessionID string) (*types.ComplianceResult, error) {
	data, err := c.redis.Get(ctx, resultKey(sessionID)).Bytes()
	if err == nil {
		var result types.ComplianceResult
		if jsonErr := json.Unmarshal(data, &result); jsonErr == nil {
			return &result, nil
		}
		c.logger.Warn("discarding corrupt cache entry", zap.String("session_id", sessionID))
		_ = c.redis.Del(ctx, resultKey(sessionID)).Err()
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("result cache read failed", zap.String("session_id", sessionID), zap.Error(err))
	}

	result, err := c.SessionStore.GetResult(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if data, jsonErr := json.Marshal(result); jsonErr == nil {
		if cacheErr := c.redis.Set(ctx, resultKey(sessionID), data, c.ttl).Err(); cacheErr != nil {
			c.logger.Warn("result cache write failed", zap.String("session_id", sessionID), zap.Error(cacheErr))
		}
	}
	return result, nil
}
