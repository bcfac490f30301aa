package resilience

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DegradationLevel represents the current degradation state of a dependency
type DegradationLevel int

const (
	LevelNormal DegradationLevel = iota
	LevelDegraded
	LevelCritical
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelDegraded:
		return "degraded"
	case LevelCritical:
		return "critical"
	}
	return "unknown"
}

// MarshalText renders the level by name in JSON output
func (l DegradationLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// HealthConfig holds thresholds for dependency health tracking
type HealthConfig struct {
	CheckInterval     time.Duration
	CheckTimeout      time.Duration
	Window            int     // number of recent outcomes the error rate covers
	DegradedThreshold float64 // error rate in [0,1]
	CriticalThreshold float64
}

// DefaultHealthConfig returns sensible defaults
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval:     30 * time.Second,
		CheckTimeout:      5 * time.Second,
		Window:            100,
		DegradedThreshold: 0.1,
		CriticalThreshold: 0.5,
	}
}

// DependencyHealth is a snapshot of one dependency
type DependencyHealth struct {
	Name          string           `json:"name"`
	Level         DegradationLevel `json:"level"`
	ErrorRate     float64          `json:"error_rate"`
	Samples       int              `json:"samples"`
	LastError     string           `json:"last_error,omitempty"`
	LastErrorTime time.Time        `json:"last_error_time,omitempty"`
}

// HealthCheckFunc checks a dependency
type HealthCheckFunc func(ctx context.Context) error

type dependencyState struct {
	outcomes      []bool
	next          int
	filled        bool
	level         DegradationLevel
	lastError     string
	lastErrorTime time.Time
	check         HealthCheckFunc
}

func (s *dependencyState) errorRate() (float64, int) {
	n := s.next
	if s.filled {
		n = len(s.outcomes)
	}
	if n == 0 {
		return 0, 0
	}
	failures := 0
	for i := 0; i < n; i++ {
		if !s.outcomes[i] {
			failures++
		}
	}
	return float64(failures) / float64(n), n
}

// HealthMonitor tracks recent outcomes of the pipeline's dependencies
// (score store, raw-data fetcher, Redis) and derives a degradation level
type HealthMonitor struct {
	config HealthConfig
	mu     sync.RWMutex
	deps   map[string]*dependencyState
}

// NewHealthMonitor creates a monitor
func NewHealthMonitor(config HealthConfig) *HealthMonitor {
	d := DefaultHealthConfig()
	if config.CheckInterval <= 0 {
		config.CheckInterval = d.CheckInterval
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = d.CheckTimeout
	}
	if config.Window <= 0 {
		config.Window = d.Window
	}
	if config.DegradedThreshold <= 0 {
		config.DegradedThreshold = d.DegradedThreshold
	}
	if config.CriticalThreshold <= 0 {
		config.CriticalThreshold = d.CriticalThreshold
	}
	return &HealthMonitor{config: config, deps: make(map[string]*dependencyState)}
}

// Register adds a dependency; check may be nil for outcome-only tracking
func (hm *HealthMonitor) Register(name string, check HealthCheckFunc) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	hm.deps[name] = &dependencyState{
		outcomes: make([]bool, hm.config.Window),
		check:    check,
	}
	slog.Info("Registered dependency for health tracking", "dependency", name)
}

// Record stores the outcome of one call; unknown dependencies are ignored
func (hm *HealthMonitor) Record(name string, err error) {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	dep, ok := hm.deps[name]
	if !ok {
		return
	}

	dep.outcomes[dep.next] = err == nil
	dep.next++
	if dep.next == len(dep.outcomes) {
		dep.next = 0
		dep.filled = true
	}
	if err != nil {
		dep.lastError = err.Error()
		dep.lastErrorTime = time.Now()
	}

	rate, _ := dep.errorRate()
	level := LevelNormal
	switch {
	case rate >= hm.config.CriticalThreshold:
		level = LevelCritical
	case rate >= hm.config.DegradedThreshold:
		level = LevelDegraded
	}

	if level != dep.level {
		slog.Warn("Dependency degradation level changed",
			"dependency", name,
			"old_level", dep.level.String(),
			"new_level", level.String(),
			"error_rate", rate)
		dep.level = level
	}
}

// Health returns a snapshot of every dependency
func (hm *HealthMonitor) Health() map[string]DependencyHealth {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	out := make(map[string]DependencyHealth, len(hm.deps))
	for name, dep := range hm.deps {
		rate, samples := dep.errorRate()
		out[name] = DependencyHealth{
			Name:          name,
			Level:         dep.level,
			ErrorRate:     rate,
			Samples:       samples,
			LastError:     dep.lastError,
			LastErrorTime: dep.lastErrorTime,
		}
	}
	return out
}

// Overall returns the worst level across dependencies
func (hm *HealthMonitor) Overall() DegradationLevel {
	hm.mu.RLock()
	defer hm.mu.RUnlock()

	worst := LevelNormal
	for _, dep := range hm.deps {
		if dep.level > worst {
			worst = dep.level
		}
	}
	return worst
}

// Run performs periodic health checks until ctx is done
func (hm *HealthMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(hm.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			hm.CheckAll(ctx)
		}
	}
}

// CheckAll runs every registered health check once
func (hm *HealthMonitor) CheckAll(ctx context.Context) {
	hm.mu.RLock()
	checks := make(map[string]HealthCheckFunc)
	for name, dep := range hm.deps {
		if dep.check != nil {
			checks[name] = dep.check
		}
	}
	hm.mu.RUnlock()

	var wg sync.WaitGroup
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check HealthCheckFunc) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, hm.config.CheckTimeout)
			defer cancel()
			hm.Record(name, check(checkCtx))
		}(name, check)
	}
	wg.Wait()
}
