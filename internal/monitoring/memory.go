package monitoring

import (
	"context"
	"log/slog"
	"runtime"
	"time"
)

// RuntimeCollector samples Go runtime memory statistics into Metrics
type RuntimeCollector struct {
	metrics  *Metrics
	logger   *Logger
	interval time.Duration
	// heapWarnBytes logs a warning when the heap exceeds it; zero disables
	heapWarnBytes uint64
}

// NewRuntimeCollector creates a collector sampling every interval
func NewRuntimeCollector(metrics *Metrics, logger *Logger, interval time.Duration, heapWarnBytes uint64) *RuntimeCollector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RuntimeCollector{
		metrics:       metrics,
		logger:        logger,
		interval:      interval,
		heapWarnBytes: heapWarnBytes,
	}
}

// Run samples until ctx is done
func (rc *RuntimeCollector) Run(ctx context.Context) {
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	slog.Info("Starting runtime metrics collection", "interval_ms", rc.interval.Milliseconds())
	rc.Collect()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Runtime metrics collection stopped")
			return
		case <-ticker.C:
			rc.Collect()
		}
	}
}

// Collect takes one sample
func (rc *RuntimeCollector) Collect() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	rc.metrics.RecordGCMetrics(
		int64(memStats.NumGC),
		int64(memStats.PauseTotalNs),
		int64(memStats.HeapAlloc),
		int64(memStats.HeapSys),
		runtime.NumGoroutine(),
	)

	if rc.heapWarnBytes > 0 && memStats.HeapAlloc > rc.heapWarnBytes && rc.logger != nil {
		rc.logger.PerformanceLogger("heap_alloc_mb", float64(memStats.HeapAlloc)/(1024*1024), "MB")
	}
}
