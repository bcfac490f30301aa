package monitoring

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const sampleWindow = 1000

// Metrics holds application metrics
type Metrics struct {
	RequestCount        int64
	ErrorCount          int64
	CacheHits           int64
	CacheMisses         int64
	AverageResponseTime int64 // in nanoseconds
	StartTime           time.Time

	ResponseTimes      []time.Duration
	ResponseTimesMutex sync.RWMutex

	RequestCountByStatus map[int]int64
	StatusMutex          sync.RWMutex

	RequestCountByRoute map[string]int64
	RouteMutex          sync.RWMutex

	// Circuit breaker metrics
	CircuitBreakerOpens  int64
	CircuitBreakerCloses int64

	// Memory and system metrics
	GCCount        int64
	GCPauseTotalNs int64
	HeapAlloc      int64
	HeapSys        int64
	Goroutines     int64

	// Rate limit metrics
	RateLimitBlocks        int64
	RateLimitRedisErrors   int64
	RateLimitFallbackCount int64

	// Update pipeline metrics
	TriggersByReason    map[string]int64
	TriggerMutex        sync.RWMutex
	RecomputeSuccesses  int64
	RecomputeFailures   int64
	RecomputeTimes      []time.Duration
	RecomputeTimesMutex sync.RWMutex
	NotificationsSent   int64
	NotificationsFailed int64
	DeadLetters         int64
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime:            time.Now(),
		ResponseTimes:        make([]time.Duration, 0, sampleWindow),
		RequestCountByStatus: make(map[int]int64),
		RequestCountByRoute:  make(map[string]int64),
		TriggersByReason:     make(map[string]int64),
		RecomputeTimes:       make([]time.Duration, 0, sampleWindow),
	}
}

// IncrementRequest increments the request count
func (m *Metrics) IncrementRequest() {
	atomic.AddInt64(&m.RequestCount, 1)
}

// IncrementError increments the error count
func (m *Metrics) IncrementError() {
	atomic.AddInt64(&m.ErrorCount, 1)
}

// IncrementCacheHit increments cache hit count
func (m *Metrics) IncrementCacheHit() {
	atomic.AddInt64(&m.CacheHits, 1)
}

// IncrementCacheMiss increments cache miss count
func (m *Metrics) IncrementCacheMiss() {
	atomic.AddInt64(&m.CacheMisses, 1)
}

func appendSample(samples []time.Duration, d time.Duration) []time.Duration {
	samples = append(samples, d)
	if len(samples) > sampleWindow {
		samples = samples[1:]
	}
	return samples
}

// RecordResponseTime records response time for averaging and percentiles
func (m *Metrics) RecordResponseTime(duration time.Duration) {
	current := atomic.LoadInt64(&m.AverageResponseTime)
	newAverage := (current + duration.Nanoseconds()) / 2
	atomic.StoreInt64(&m.AverageResponseTime, newAverage)

	m.ResponseTimesMutex.Lock()
	m.ResponseTimes = appendSample(m.ResponseTimes, duration)
	m.ResponseTimesMutex.Unlock()
}

// RecordRequestByStatus records request count by HTTP status code
func (m *Metrics) RecordRequestByStatus(statusCode int) {
	m.StatusMutex.Lock()
	defer m.StatusMutex.Unlock()
	m.RequestCountByStatus[statusCode]++
}

// RecordRequestByRoute records request count by method and route template
func (m *Metrics) RecordRequestByRoute(method, route string) {
	m.RouteMutex.Lock()
	defer m.RouteMutex.Unlock()
	m.RequestCountByRoute[method+" "+route]++
}

// GetRouteDistribution returns request count by method and route template
func (m *Metrics) GetRouteDistribution() map[string]int64 {
	m.RouteMutex.RLock()
	defer m.RouteMutex.RUnlock()

	out := make(map[string]int64, len(m.RequestCountByRoute))
	for route, count := range m.RequestCountByRoute {
		out[route] = count
	}
	return out
}

// IncrementCircuitBreakerOpen increments circuit breaker open count
func (m *Metrics) IncrementCircuitBreakerOpen() {
	atomic.AddInt64(&m.CircuitBreakerOpens, 1)
}

// IncrementCircuitBreakerClose increments circuit breaker close count
func (m *Metrics) IncrementCircuitBreakerClose() {
	atomic.AddInt64(&m.CircuitBreakerCloses, 1)
}

// RecordGCMetrics records Go garbage collector metrics
func (m *Metrics) RecordGCMetrics(gcCount int64, gcPauseTotalNs int64, heapAlloc, heapSys int64, goroutines int) {
	atomic.StoreInt64(&m.GCCount, gcCount)
	atomic.StoreInt64(&m.GCPauseTotalNs, gcPauseTotalNs)
	atomic.StoreInt64(&m.HeapAlloc, heapAlloc)
	atomic.StoreInt64(&m.HeapSys, heapSys)
	atomic.StoreInt64(&m.Goroutines, int64(goroutines))
}

// RecordTrigger counts an update trigger by reason
func (m *Metrics) RecordTrigger(reason string) {
	m.TriggerMutex.Lock()
	defer m.TriggerMutex.Unlock()
	m.TriggersByReason[reason]++
}

// RecordRecompute records the outcome and duration of one recompute
func (m *Metrics) RecordRecompute(duration time.Duration, success bool) {
	if !success {
		atomic.AddInt64(&m.RecomputeFailures, 1)
		return
	}
	atomic.AddInt64(&m.RecomputeSuccesses, 1)

	m.RecomputeTimesMutex.Lock()
	m.RecomputeTimes = appendSample(m.RecomputeTimes, duration)
	m.RecomputeTimesMutex.Unlock()
}

// RecordNotification counts a change notification delivery
func (m *Metrics) RecordNotification(success bool) {
	if success {
		atomic.AddInt64(&m.NotificationsSent, 1)
		return
	}
	atomic.AddInt64(&m.NotificationsFailed, 1)
}

// IncrementDeadLetter counts an event dropped after its retries
func (m *Metrics) IncrementDeadLetter() {
	atomic.AddInt64(&m.DeadLetters, 1)
}

// IncrementRateLimitBlock increments admission rate limit blocks
func (m *Metrics) IncrementRateLimitBlock() {
	atomic.AddInt64(&m.RateLimitBlocks, 1)
}

// IncrementRateLimitRedisError increments Redis error count for rate limiting
func (m *Metrics) IncrementRateLimitRedisError() {
	atomic.AddInt64(&m.RateLimitRedisErrors, 1)
}

// IncrementRateLimitFallback increments fallback rate limiter usage count
func (m *Metrics) IncrementRateLimitFallback() {
	atomic.AddInt64(&m.RateLimitFallbackCount, 1)
}

func percentile(samples []time.Duration, p float64) time.Duration {
	if len(samples) == 0 {
		return 0
	}

	times := make([]time.Duration, len(samples))
	copy(times, samples)
	sort.Slice(times, func(i, j int) bool {
		return times[i] < times[j]
	})

	index := int(float64(len(times)-1) * p / 100.0)
	if index >= len(times) {
		index = len(times) - 1
	}
	return times[index]
}

// GetPercentileResponseTime calculates percentile response time
func (m *Metrics) GetPercentileResponseTime(p float64) time.Duration {
	m.ResponseTimesMutex.RLock()
	defer m.ResponseTimesMutex.RUnlock()
	return percentile(m.ResponseTimes, p)
}

// GetPercentileRecomputeTime calculates percentile recompute duration
func (m *Metrics) GetPercentileRecomputeTime(p float64) time.Duration {
	m.RecomputeTimesMutex.RLock()
	defer m.RecomputeTimesMutex.RUnlock()
	return percentile(m.RecomputeTimes, p)
}

// GetStatusCodeDistribution returns request count by status code
func (m *Metrics) GetStatusCodeDistribution() map[int]int64 {
	m.StatusMutex.RLock()
	defer m.StatusMutex.RUnlock()

	distribution := make(map[int]int64)
	for code, count := range m.RequestCountByStatus {
		distribution[code] = count
	}
	return distribution
}

// GetTriggerStats returns trigger counts by reason
func (m *Metrics) GetTriggerStats() map[string]int64 {
	m.TriggerMutex.RLock()
	defer m.TriggerMutex.RUnlock()

	out := make(map[string]int64, len(m.TriggersByReason))
	for reason, count := range m.TriggersByReason {
		out[reason] = count
	}
	return out
}

// GetStats returns current metrics statistics
func (m *Metrics) GetStats() map[string]interface{} {
	requests := atomic.LoadInt64(&m.RequestCount)
	errors := atomic.LoadInt64(&m.ErrorCount)
	cacheHits := atomic.LoadInt64(&m.CacheHits)
	cacheMisses := atomic.LoadInt64(&m.CacheMisses)
	avgResponseTime := atomic.LoadInt64(&m.AverageResponseTime)

	errorRate := float64(0)
	if requests > 0 {
		errorRate = float64(errors) / float64(requests) * 100
	}

	cacheHitRate := float64(0)
	if total := cacheHits + cacheMisses; total > 0 {
		cacheHitRate = float64(cacheHits) / float64(total) * 100
	}

	heapAlloc := atomic.LoadInt64(&m.HeapAlloc)
	heapSys := atomic.LoadInt64(&m.HeapSys)
	heapUsage := float64(0)
	if heapSys > 0 {
		heapUsage = float64(heapAlloc) / float64(heapSys) * 100
	}

	return map[string]interface{}{
		"uptime_seconds":         time.Since(m.StartTime).Seconds(),
		"total_requests":         requests,
		"error_count":            errors,
		"error_rate_percent":     errorRate,
		"cache_hits":             cacheHits,
		"cache_misses":           cacheMisses,
		"cache_hit_rate_percent": cacheHitRate,
		"avg_response_time_ms":   float64(avgResponseTime) / 1000000,
		"start_time":             m.StartTime.Format(time.RFC3339),

		"p50_response_time_ms":     float64(m.GetPercentileResponseTime(50)) / 1000000,
		"p95_response_time_ms":     float64(m.GetPercentileResponseTime(95)) / 1000000,
		"status_code_distribution": m.GetStatusCodeDistribution(),
		"route_distribution":       m.GetRouteDistribution(),

		"triggers_by_reason":      m.GetTriggerStats(),
		"recompute_successes":     atomic.LoadInt64(&m.RecomputeSuccesses),
		"recompute_failures":      atomic.LoadInt64(&m.RecomputeFailures),
		"p50_recompute_time_ms":   float64(m.GetPercentileRecomputeTime(50)) / 1000000,
		"p95_recompute_time_ms":   float64(m.GetPercentileRecomputeTime(95)) / 1000000,
		"notifications_sent":      atomic.LoadInt64(&m.NotificationsSent),
		"notifications_failed":    atomic.LoadInt64(&m.NotificationsFailed),
		"dead_letters":            atomic.LoadInt64(&m.DeadLetters),
		"circuit_breaker_opens":   atomic.LoadInt64(&m.CircuitBreakerOpens),
		"circuit_breaker_closes":  atomic.LoadInt64(&m.CircuitBreakerCloses),
		"rate_limit_blocks":       atomic.LoadInt64(&m.RateLimitBlocks),
		"rate_limit_redis_errors": atomic.LoadInt64(&m.RateLimitRedisErrors),
		"rate_limit_fallbacks":    atomic.LoadInt64(&m.RateLimitFallbackCount),

		"go_gc_count":           atomic.LoadInt64(&m.GCCount),
		"go_gc_pause_total_ns":  atomic.LoadInt64(&m.GCPauseTotalNs),
		"go_heap_alloc_bytes":   heapAlloc,
		"go_heap_sys_bytes":     heapSys,
		"go_heap_usage_percent": heapUsage,
		"go_goroutines":         atomic.LoadInt64(&m.Goroutines),
	}
}
