package events

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/errors"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/resilience"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

// Handler processes one dequeued event
type Handler interface {
	Handle(ctx context.Context, event types.UpdateEvent) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, event types.UpdateEvent) error

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, event types.UpdateEvent) error {
	return f(ctx, event)
}

// Config holds event processor settings
type Config struct {
	QueueCapacity           int
	MaxConcurrentProcessing int
	MaxRetries              int
	InitialDelay            time.Duration
	MaxDelay                time.Duration
	BackoffMultiplier       float64
	EnablePrioritization    bool
	// Priorities maps event types to queue priority; an event's own non-zero
	// Priority wins over the table
	Priorities      map[string]int
	DefaultPriority int
	DedupWindow     time.Duration
	// OnDrop receives events that failed after every retry
	OnDrop func(event types.UpdateEvent, err error)
}

// DefaultPriorities ranks fraud and sale events ahead of social noise
func DefaultPriorities() map[string]int {
	return map[string]int{
		"fraud_confirmed":     10,
		"sale":                9,
		"fraud_signal":        8,
		"verification_change": 8,
		"transfer":            6,
		"floor_price_change":  5,
		"metadata_update":     4,
		"market_signal":       4,
		"price_change":        4,
		"nft_update":          3,
		"creator_update":      3,
		"collection_update":   3,
		"social_signal":       2,
	}
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		QueueCapacity:           1000,
		MaxConcurrentProcessing: 10,
		MaxRetries:              3,
		InitialDelay:            time.Second,
		MaxDelay:                time.Minute,
		BackoffMultiplier:       2,
		EnablePrioritization:    true,
		Priorities:              DefaultPriorities(),
		DefaultPriority:         1,
		DedupWindow:             5 * time.Minute,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.MaxConcurrentProcessing <= 0 {
		c.MaxConcurrentProcessing = d.MaxConcurrentProcessing
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffMultiplier <= 0 {
		c.BackoffMultiplier = d.BackoffMultiplier
	}
	if c.Priorities == nil {
		c.Priorities = d.Priorities
	}
}

// Processor is a bounded priority queue drained by a fixed worker pool.
// Submit never blocks: a full queue rejects the event.
type Processor struct {
	cfg     Config
	handler Handler
	logger  *slog.Logger
	dedup   *Deduplicator
	stats   *statsCollector

	mu    sync.Mutex
	queue *priorityQueue

	signal  chan struct{}
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	running bool
	now     func() time.Time
}

// NewProcessor creates a processor; call Start to launch the workers
func NewProcessor(cfg Config, handler Handler, logger *slog.Logger) *Processor {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		dedup:   NewDeduplicator(cfg.DedupWindow),
		stats:   newStatsCollector(),
		queue:   newPriorityQueue(cfg.QueueCapacity),
		signal:  make(chan struct{}, 1),
		now:     time.Now,
	}
}

func (p *Processor) priorityOf(event types.UpdateEvent) int {
	if !p.cfg.EnablePrioritization {
		return 0
	}
	if event.Priority != 0 {
		return event.Priority
	}
	if pr, ok := p.cfg.Priorities[event.EventType]; ok {
		return pr
	}
	return p.cfg.DefaultPriority
}

// Submit enqueues an event. It returns a validation error for malformed events
// and an overload error when the queue is at capacity.
func (p *Processor) Submit(event types.UpdateEvent) error {
	if err := event.Validate(); err != nil {
		return errors.NewValidationError("invalid update event", err)
	}

	p.stats.receive(event.EventType)

	// Keyed on the caller's view of the event so a redelivery matches
	if !p.dedup.Admit(event) {
		p.stats.duplicate()
		p.logger.Debug("Duplicate event ignored",
			"event_id", event.ID,
			"event_type", event.EventType,
			"entity", event.Key())
		return nil
	}

	admitted := event
	if admitted.ID == "" {
		admitted.ID = uuid.NewString()
	}
	if admitted.Timestamp.IsZero() {
		admitted.Timestamp = p.now()
	}

	p.mu.Lock()
	ok := p.queue.push(admitted, p.priorityOf(admitted))
	depth := p.queue.len()
	p.mu.Unlock()

	if !ok {
		p.dedup.Forget(event)
		p.stats.reject()
		p.logger.Warn("Event queue full, rejecting event",
			"event_type", event.EventType,
			"entity", event.Key(),
			"queue_capacity", p.cfg.QueueCapacity)
		return errors.NewOverloadError(fmt.Sprintf("event queue full (capacity %d)", p.cfg.QueueCapacity))
	}

	p.logger.Debug("Event queued",
		"event_id", admitted.ID,
		"event_type", admitted.EventType,
		"entity", admitted.Key(),
		"queue_depth", depth)
	p.wake()
	return nil
}

func (p *Processor) wake() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *Processor) next() (types.UpdateEvent, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ev, ok := p.queue.pop()
	if ok && p.queue.len() > 0 {
		p.wake()
	}
	return ev, ok
}

// Start launches the worker pool; it is a no-op if already running
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	for i := 0; i < p.cfg.MaxConcurrentProcessing; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("Event processor started",
		"workers", p.cfg.MaxConcurrentProcessing,
		"queue_capacity", p.cfg.QueueCapacity,
		"prioritization", p.cfg.EnablePrioritization)
}

// Stop cancels the workers and waits for them. In-flight events see a cancelled
// context; queued events stay queued.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.logger.Info("Event processor stopped", "queue_depth", p.QueueDepth())
}

// WaitIdle blocks until the queue is empty and no event is in flight
func (p *Processor) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		s := p.Stats()
		if s.QueueDepth == 0 && s.ActiveProcessing == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Processor) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		p.stats.begin()
		ev, ok := p.next()
		if !ok {
			p.stats.cancelBegin()
			select {
			case <-ctx.Done():
				return
			case <-p.signal:
			}
			continue
		}

		p.process(ctx, id, ev)
	}
}

func (p *Processor) process(ctx context.Context, worker int, event types.UpdateEvent) {
	start := p.now()

	retryCfg := resilience.RetryConfig{
		MaxAttempts:     p.cfg.MaxRetries + 1,
		InitialDelay:    p.cfg.InitialDelay,
		MaxDelay:        p.cfg.MaxDelay,
		BackoffFactor:   p.cfg.BackoffMultiplier,
		RetryableErrors: errors.IsRetryableError,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			p.stats.retry()
			p.logger.Warn("Event processing failed, retrying",
				"event_id", event.ID,
				"event_type", event.EventType,
				"entity", event.Key(),
				"attempt", attempt+1,
				"delay_ms", delay.Milliseconds(),
				"error", err)
		},
	}

	err := resilience.RetryWithConfig(ctx, retryCfg, func(ctx context.Context) error {
		return p.handler.Handle(ctx, event)
	})
	duration := p.now().Sub(start)

	if err != nil && ctx.Err() != nil && stderrors.Is(err, context.Canceled) {
		p.logger.Info("Event processing interrupted by shutdown",
			"event_id", event.ID,
			"event_type", event.EventType,
			"entity", event.Key(),
			"worker", worker)
		p.stats.interrupt()
		return
	}

	if err != nil {
		p.logger.Error("Event processing failed",
			"event_id", event.ID,
			"event_type", event.EventType,
			"entity", event.Key(),
			"worker", worker,
			"error", err)
		if p.cfg.OnDrop != nil {
			p.cfg.OnDrop(event, err)
		}
		// Counted after OnDrop so WaitIdle covers dead-letter handling
		p.stats.finish(duration, false)
		return
	}

	p.stats.finish(duration, true)

	p.logger.Debug("Event processed",
		"event_id", event.ID,
		"event_type", event.EventType,
		"entity", event.Key(),
		"worker", worker,
		"duration_ms", duration.Milliseconds())
}

// Stats returns a snapshot of processing statistics
func (p *Processor) Stats() Stats {
	return p.stats.snapshot(p.QueueDepth())
}

// QueueDepth returns the number of queued events
func (p *Processor) QueueDepth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue.len()
}
