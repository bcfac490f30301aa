package resilience

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ZanzyTHEbar/nft-trust-score/internal/errors"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	var calls int32
	var retries []int

	cfg := fastRetry(5)
	cfg.OnRetry = func(attempt int, _ time.Duration, _ error) {
		retries = append(retries, attempt)
	}

	err := RetryWithConfig(context.Background(), cfg, func(context.Context) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return apperrors.NewPipelineError("fetch latest data", errors.New("503"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, int32(3), calls)
	assert.Equal(t, []int{0, 1}, retries)
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	var calls int32
	err := RetryWithConfig(context.Background(), fastRetry(5), func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return apperrors.NewValidationError("bad event", nil)
	})

	require.Error(t, err)
	assert.Equal(t, int32(1), calls)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryValidation))
}

func TestRetryReturnsLastErrorWhenExhausted(t *testing.T) {
	var calls int32
	err := RetryWithConfig(context.Background(), fastRetry(3), func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return apperrors.NewPipelineError("persist score", nil)
	})

	require.Error(t, err)
	assert.Equal(t, int32(3), calls)
	assert.True(t, apperrors.IsCategory(err, apperrors.CategoryPipeline))
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := fastRetry(10)
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour
	cfg.OnRetry = func(int, time.Duration, error) { cancel() }

	err := RetryWithConfig(ctx, cfg, func(context.Context) error {
		return apperrors.NewPipelineError("fetch", nil)
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCalculateDelay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, BackoffFactor: 2, MaxDelay: time.Second}

	assert.Equal(t, 100*time.Millisecond, CalculateDelay(cfg, 0))
	assert.Equal(t, 200*time.Millisecond, CalculateDelay(cfg, 1))
	assert.Equal(t, 800*time.Millisecond, CalculateDelay(cfg, 3))
	assert.Equal(t, time.Second, CalculateDelay(cfg, 10))

	cfg.JitterEnabled = true
	for i := 0; i < 50; i++ {
		d := CalculateDelay(cfg, 1)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.Less(t, d, 220*time.Millisecond)
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	var transitions []string
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 3,
		RecoveryTimeout:  time.Minute,
		OnStateChange: func(from, to CircuitBreakerState) {
			transitions = append(transitions, from.String()+"->"+to.String())
		},
	})
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }

	failing := func() error { return errors.New("upstream down") }
	for i := 0; i < 3; i++ {
		assert.Error(t, cb.Call(failing))
	}
	assert.Equal(t, StateOpen, cb.State())

	var called bool
	err := cb.Call(func() error { called = true; return nil })
	var cbErr *CircuitBreakerError
	require.ErrorAs(t, err, &cbErr)
	assert.False(t, called)

	// After the recovery timeout one trial call is let through
	now = now.Add(2 * time.Minute)
	require.NoError(t, cb.Call(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())

	assert.Equal(t, []string{"closed->open", "half_open->closed"}, transitions)
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, RecoveryTimeout: time.Second})
	now := time.Now()
	cb.now = func() time.Time { return now }

	assert.Error(t, cb.Call(func() error { return errors.New("fail") }))
	now = now.Add(2 * time.Second)
	assert.Error(t, cb.Call(func() error { return errors.New("still failing") }))
	assert.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
}

func TestHealthMonitorLevels(t *testing.T) {
	hm := NewHealthMonitor(HealthConfig{Window: 10, DegradedThreshold: 0.2, CriticalThreshold: 0.5})
	hm.Register("fetcher", nil)
	hm.Register("score_store", nil)

	for i := 0; i < 10; i++ {
		hm.Record("fetcher", nil)
	}
	assert.Equal(t, LevelNormal, hm.Overall())

	hm.Record("fetcher", errors.New("timeout"))
	hm.Record("fetcher", errors.New("timeout"))
	health := hm.Health()["fetcher"]
	assert.Equal(t, LevelDegraded, health.Level)
	assert.InDelta(t, 0.2, health.ErrorRate, 1e-9)
	assert.Equal(t, 10, health.Samples)
	assert.Equal(t, "timeout", health.LastError)

	for i := 0; i < 3; i++ {
		hm.Record("fetcher", errors.New("refused"))
	}
	assert.Equal(t, LevelCritical, hm.Overall())

	// Recovery rolls the failures out of the window
	for i := 0; i < 10; i++ {
		hm.Record("fetcher", nil)
	}
	assert.Equal(t, LevelNormal, hm.Overall())

	hm.Record("unknown", errors.New("ignored"))
	assert.Len(t, hm.Health(), 2)
}

func TestHealthMonitorChecks(t *testing.T) {
	hm := NewHealthMonitor(HealthConfig{CheckTimeout: 50 * time.Millisecond})

	var slowCalls atomic.Int32
	hm.Register("database", func(context.Context) error { return nil })
	hm.Register("redis", func(ctx context.Context) error {
		slowCalls.Add(1)
		<-ctx.Done()
		return ctx.Err()
	})
	hm.Register("outcomes_only", nil)

	hm.CheckAll(context.Background())

	health := hm.Health()
	assert.Equal(t, 1, health["database"].Samples)
	assert.Equal(t, 0.0, health["database"].ErrorRate)
	assert.Equal(t, 1.0, health["redis"].ErrorRate)
	assert.Equal(t, LevelCritical, health["redis"].Level)
	assert.Equal(t, 0, health["outcomes_only"].Samples)
	assert.Equal(t, int32(1), slowCalls.Load())
}

func TestHealthMonitorRunStopsOnCancel(t *testing.T) {
	hm := NewHealthMonitor(HealthConfig{CheckInterval: 5 * time.Millisecond})
	var checks atomic.Int32
	hm.Register("database", func(context.Context) error {
		checks.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hm.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return checks.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestDegradationLevelJSON(t *testing.T) {
	text, err := LevelDegraded.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "degraded", string(text))
	assert.Equal(t, "unknown", DegradationLevel(9).String())
}
