package events

import (
	"sync"
	"time"
)

const durationWindow = 100

// Stats is a snapshot of event processing statistics
type Stats struct {
	TotalReceived         int64            `json:"total_received"`
	TotalProcessed        int64            `json:"total_processed"`
	TotalFailed           int64            `json:"total_failed"`
	TotalRetried          int64            `json:"total_retried"`
	TotalRejected         int64            `json:"total_rejected"`
	TotalDuplicates       int64            `json:"total_duplicates"`
	TotalInterrupted      int64            `json:"total_interrupted"`
	AverageProcessingTime time.Duration    `json:"average_processing_time_ns"`
	QueueDepth            int              `json:"queue_depth"`
	ActiveProcessing      int              `json:"active_processing"`
	EventTypeCounts       map[string]int64 `json:"event_type_counts"`
}

type statsCollector struct {
	mu          sync.Mutex
	received    int64
	processed   int64
	failed      int64
	retried     int64
	rejected    int64
	duplicates  int64
	interrupted int64
	active      int
	byType      map[string]int64
	durations   []time.Duration
}

func newStatsCollector() *statsCollector {
	return &statsCollector{
		byType:    make(map[string]int64),
		durations: make([]time.Duration, 0, durationWindow),
	}
}

func (s *statsCollector) receive(eventType string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received++
	s.byType[eventType]++
}

func (s *statsCollector) reject() {
	s.mu.Lock()
	s.rejected++
	s.mu.Unlock()
}

func (s *statsCollector) duplicate() {
	s.mu.Lock()
	s.duplicates++
	s.mu.Unlock()
}

func (s *statsCollector) retry() {
	s.mu.Lock()
	s.retried++
	s.mu.Unlock()
}

func (s *statsCollector) begin() {
	s.mu.Lock()
	s.active++
	s.mu.Unlock()
}

func (s *statsCollector) cancelBegin() {
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
}

// interrupt ends an event cut short by shutdown; it counts as neither processed nor failed
func (s *statsCollector) interrupt() {
	s.mu.Lock()
	s.active--
	s.interrupted++
	s.mu.Unlock()
}

// finish records the outcome of one event; the rolling average covers successes only
func (s *statsCollector) finish(d time.Duration, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active--
	if !success {
		s.failed++
		return
	}
	s.processed++
	s.durations = append(s.durations, d)
	if len(s.durations) > durationWindow {
		s.durations = s.durations[1:]
	}
}

func (s *statsCollector) snapshot(queueDepth int) Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	var avg time.Duration
	if n := len(s.durations); n > 0 {
		var total time.Duration
		for _, d := range s.durations {
			total += d
		}
		avg = total / time.Duration(n)
	}

	byType := make(map[string]int64, len(s.byType))
	for k, v := range s.byType {
		byType[k] = v
	}

	return Stats{
		TotalReceived:         s.received,
		TotalProcessed:        s.processed,
		TotalFailed:           s.failed,
		TotalRetried:          s.retried,
		TotalRejected:         s.rejected,
		TotalDuplicates:       s.duplicates,
		TotalInterrupted:      s.interrupted,
		AverageProcessingTime: avg,
		QueueDepth:            queueDepth,
		ActiveProcessing:      s.active,
		EventTypeCounts:       byType,
	}
}
