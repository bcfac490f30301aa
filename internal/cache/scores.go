package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

// ScoreCache caches trust scores by entity key. The in-process tier is always
// used; when Redis is enabled it is a shared second tier.
type ScoreCache struct {
	local  *Cache
	redis  *RedisClient
	ttl    time.Duration
	prefix string
}

// NewScoreCache creates a score cache; redis may be nil or disabled
func NewScoreCache(ttl time.Duration, redis *RedisClient) *ScoreCache {
	if redis == nil {
		redis = NewDisabledRedisClient()
	}
	return &ScoreCache{
		local:  NewCache(ttl),
		redis:  redis,
		ttl:    ttl,
		prefix: "trust:score:",
	}
}

func (sc *ScoreCache) key(entityType types.EntityType, entityID string) string {
	return sc.prefix + types.EntityKey(entityType, entityID)
}

// Get returns a cached score
func (sc *ScoreCache) Get(ctx context.Context, entityType types.EntityType, entityID string) (*types.EntityTrustScore, bool) {
	key := sc.key(entityType, entityID)

	data, found := sc.local.Get(key)
	if !found && sc.redis.IsEnabled() {
		raw, err := sc.redis.GetClient().Get(ctx, key).Bytes()
		if err == nil {
			data, found = raw, true
			sc.local.Set(key, raw)
		}
	}
	if !found {
		return nil, false
	}

	var score types.EntityTrustScore
	if err := json.Unmarshal(data, &score); err != nil {
		slog.Error("Failed to unmarshal cached score", "error", err, "key", key)
		sc.local.Delete(key)
		return nil, false
	}

	slog.Debug("Score cache hit", "entity", types.EntityKey(entityType, entityID))
	return &score, true
}

// Set caches a score
func (sc *ScoreCache) Set(ctx context.Context, score *types.EntityTrustScore) {
	key := sc.key(score.EntityType, score.EntityID)

	data, err := json.Marshal(score)
	if err != nil {
		slog.Error("Failed to marshal score for cache", "error", err, "key", key)
		return
	}

	sc.local.Set(key, data)
	if sc.redis.IsEnabled() {
		if err := sc.redis.GetClient().Set(ctx, key, data, sc.ttl).Err(); err != nil {
			slog.Warn("Failed to cache score in Redis", "error", err, "key", key)
		}
	}
}

// Invalidate drops a cached score from both tiers
func (sc *ScoreCache) Invalidate(ctx context.Context, entityType types.EntityType, entityID string) {
	key := sc.key(entityType, entityID)

	sc.local.Delete(key)
	if sc.redis.IsEnabled() {
		if err := sc.redis.GetClient().Del(ctx, key).Err(); err != nil {
			slog.Warn("Failed to invalidate score in Redis", "error", err, "key", key)
		}
	}
}

// GetStats returns cache statistics
func (sc *ScoreCache) GetStats() map[string]interface{} {
	stats := sc.local.Stats()
	stats["redis_enabled"] = sc.redis.IsEnabled()
	return stats
}

// Close releases the in-process tier
func (sc *ScoreCache) Close() {
	sc.local.Close()
}
