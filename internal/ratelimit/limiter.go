package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis_rate/v10"
	"golang.org/x/time/rate"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/cache"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/monitoring"
)

// Config holds rate limiter configuration
type Config struct {
	EventLimitPerMin int           // per-producer event admissions per minute
	BurstMultiplier  int           // burst capacity multiplier for the in-memory limiter
	CleanupInterval  time.Duration // how often idle in-memory limiters are dropped
}

// DefaultConfig returns default rate limiting configuration
func DefaultConfig() Config {
	return Config{
		EventLimitPerMin: 600,
		BurstMultiplier:  1,
		CleanupInterval:  time.Hour,
	}
}

// Rate is a limit of Limit admissions per Period
type Rate struct {
	Limit  int
	Period time.Duration
}

// Result represents the result of a rate limit check
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

type fallbackLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter provides distributed rate limiting with Redis and in-memory fallback
type RateLimiter struct {
	redisLimiter *redis_rate.Limiter
	redisClient  *cache.RedisClient
	config       Config
	metrics      *monitoring.Metrics

	fallbackLimiters map[string]*fallbackLimiter
	fallbackMutex    sync.Mutex

	done chan struct{}
	once sync.Once
}

// NewRateLimiter creates a new rate limiter with Redis and in-memory fallback
func NewRateLimiter(redisClient *cache.RedisClient, config Config, metrics *monitoring.Metrics) *RateLimiter {
	if redisClient == nil {
		redisClient = cache.NewDisabledRedisClient()
	}
	if config.BurstMultiplier < 1 {
		config.BurstMultiplier = 1
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Hour
	}

	rl := &RateLimiter{
		redisClient:      redisClient,
		config:           config,
		metrics:          metrics,
		fallbackLimiters: make(map[string]*fallbackLimiter),
		done:             make(chan struct{}),
	}

	if redisClient.IsEnabled() {
		rl.redisLimiter = redis_rate.NewLimiter(redisClient.GetClient())
		slog.Info("Redis rate limiter initialized")
	} else {
		slog.Warn("Redis unavailable, using in-memory rate limiting only")
	}

	go rl.cleanupLoop()

	return rl
}

// AllowProducer checks the per-minute admission limit of an event producer
func (rl *RateLimiter) AllowProducer(ctx context.Context, producer string) (*Result, error) {
	key := fmt.Sprintf("ratelimit:producer:%s", producer)
	return rl.Allow(ctx, key, Rate{Limit: rl.config.EventLimitPerMin, Period: time.Minute})
}

// Allow performs the rate limit check using Redis, falling back to memory
func (rl *RateLimiter) Allow(ctx context.Context, key string, limit Rate) (*Result, error) {
	if limit.Limit <= 0 || limit.Period <= 0 {
		return nil, fmt.Errorf("invalid rate %d/%s", limit.Limit, limit.Period)
	}

	if rl.redisClient.IsEnabled() && rl.redisLimiter != nil {
		result, err := rl.allowRedis(ctx, key, limit)
		if err == nil {
			return result, nil
		}
		slog.Warn("Redis rate limit check failed, using fallback", "key", key, "error", err)
		if rl.metrics != nil {
			rl.metrics.IncrementRateLimitRedisError()
		}
	}

	if rl.metrics != nil {
		rl.metrics.IncrementRateLimitFallback()
	}
	return rl.allowFallback(key, limit), nil
}

// allowRedis performs rate limiting using the Redis GCRA limiter
func (rl *RateLimiter) allowRedis(ctx context.Context, key string, limit Rate) (*Result, error) {
	res, err := rl.redisLimiter.Allow(ctx, key, redis_rate.Limit{
		Rate:   limit.Limit,
		Burst:  limit.Limit,
		Period: limit.Period,
	})
	if err != nil {
		return nil, fmt.Errorf("redis rate limit check failed: %w", err)
	}

	return &Result{
		Allowed:    res.Allowed > 0,
		Limit:      res.Limit.Rate,
		Remaining:  res.Remaining,
		ResetAt:    time.Now().Add(res.ResetAfter),
		RetryAfter: res.RetryAfter,
	}, nil
}

// allowFallback performs rate limiting using an in-memory token bucket
func (rl *RateLimiter) allowFallback(key string, limit Rate) *Result {
	now := time.Now()

	rl.fallbackMutex.Lock()
	fl, exists := rl.fallbackLimiters[key]
	if !exists {
		rps := rate.Limit(float64(limit.Limit) / limit.Period.Seconds())
		fl = &fallbackLimiter{limiter: rate.NewLimiter(rps, limit.Limit*rl.config.BurstMultiplier)}
		rl.fallbackLimiters[key] = fl
	}
	fl.lastSeen = now
	rl.fallbackMutex.Unlock()

	allowed := fl.limiter.AllowN(now, 1)
	remaining := int(fl.limiter.TokensAt(now))
	if remaining < 0 {
		remaining = 0
	}

	result := &Result{
		Allowed:   allowed,
		Limit:     limit.Limit,
		Remaining: remaining,
		ResetAt:   now.Add(limit.Period),
	}
	if !allowed {
		// Time until one token is back
		result.RetryAfter = time.Duration(float64(time.Second) / float64(fl.limiter.Limit()))
		if result.RetryAfter <= 0 {
			result.RetryAfter = time.Second
		}
	}
	return result
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

// cleanup drops in-memory limiters idle for longer than the cleanup interval
func (rl *RateLimiter) cleanup() {
	cutoff := time.Now().Add(-rl.config.CleanupInterval)

	rl.fallbackMutex.Lock()
	defer rl.fallbackMutex.Unlock()

	removed := 0
	for key, fl := range rl.fallbackLimiters {
		if fl.lastSeen.Before(cutoff) {
			delete(rl.fallbackLimiters, key)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("Cleaned up fallback rate limiters", "removed", removed, "remaining", len(rl.fallbackLimiters))
	}
}

// Close stops background cleanup
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.done) })
}

// GetStats returns rate limiter statistics
func (rl *RateLimiter) GetStats() map[string]interface{} {
	rl.fallbackMutex.Lock()
	fallbackCount := len(rl.fallbackLimiters)
	rl.fallbackMutex.Unlock()

	stats := map[string]interface{}{
		"redis_enabled":     rl.redisClient.IsEnabled(),
		"fallback_limiters": fallbackCount,
		"config": map[string]interface{}{
			"event_limit_per_min": rl.config.EventLimitPerMin,
			"burst_multiplier":    rl.config.BurstMultiplier,
		},
	}

	if rl.redisClient.IsEnabled() {
		stats["redis_pool"] = rl.redisClient.GetPoolStats()
	}

	return stats
}
