package leaderboard

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/cache"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

// LeaderboardCache provides caching for leaderboard data
type LeaderboardCache struct {
	cache *cache.Cache
}

// NewLeaderboardCache creates a new leaderboard cache
func NewLeaderboardCache(ttl time.Duration) *LeaderboardCache {
	return &LeaderboardCache{
		cache: cache.NewCache(ttl),
	}
}

// generateCacheKey creates a cache key for leaderboard data
func (lc *LeaderboardCache) generateCacheKey(q Query) string {
	return fmt.Sprintf("leaderboard:%s:%s:%d:%.2f", q.EntityType, q.Order, q.Limit, q.MinConfidence)
}

// generateRankCacheKey creates a cache key for individual rank data
func (lc *LeaderboardCache) generateRankCacheKey(entityType types.EntityType, entityID string) string {
	return fmt.Sprintf("rank:%s", types.EntityKey(entityType, entityID))
}

// GetLeaderboard retrieves cached leaderboard data
func (lc *LeaderboardCache) GetLeaderboard(q Query) (*LeaderboardResponse, bool) {
	cacheKey := lc.generateCacheKey(q)

	data, found := lc.cache.Get(cacheKey)
	if !found {
		return nil, false
	}

	var response LeaderboardResponse
	if err := json.Unmarshal(data, &response); err != nil {
		slog.Error("Failed to unmarshal cached leaderboard data", "error", err, "key", cacheKey)
		return nil, false
	}

	slog.Debug("Leaderboard cache hit", "entity_type", q.EntityType, "order", q.Order, "limit", q.Limit)
	return &response, true
}

// SetLeaderboard caches leaderboard data
func (lc *LeaderboardCache) SetLeaderboard(q Query, response *LeaderboardResponse) {
	cacheKey := lc.generateCacheKey(q)

	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal leaderboard data for cache", "error", err, "entity_type", q.EntityType)
		return
	}

	lc.cache.Set(cacheKey, data)
	slog.Debug("Leaderboard cached", "entity_type", q.EntityType, "order", q.Order, "entries", len(response.Entries))
}

// GetEntityRank retrieves cached rank data
func (lc *LeaderboardCache) GetEntityRank(entityType types.EntityType, entityID string) (*LeaderboardEntry, bool) {
	cacheKey := lc.generateRankCacheKey(entityType, entityID)

	data, found := lc.cache.Get(cacheKey)
	if !found {
		return nil, false
	}

	var entry LeaderboardEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		slog.Error("Failed to unmarshal cached rank data", "error", err, "key", cacheKey)
		return nil, false
	}
	return &entry, true
}

// SetEntityRank caches rank data
func (lc *LeaderboardCache) SetEntityRank(entry *LeaderboardEntry) {
	cacheKey := lc.generateRankCacheKey(entry.EntityType, entry.EntityID)

	data, err := json.Marshal(entry)
	if err != nil {
		slog.Error("Failed to marshal rank data for cache", "error", err, "key", cacheKey)
		return
	}

	lc.cache.Set(cacheKey, data)
}

// InvalidateAll drops every cached ranking
func (lc *LeaderboardCache) InvalidateAll() {
	lc.cache.Clear()
}

// GetStats returns cache statistics
func (lc *LeaderboardCache) GetStats() map[string]interface{} {
	return lc.cache.Stats()
}

// Close stops the cache cleanup loop
func (lc *LeaderboardCache) Close() {
	lc.cache.Close()
}
