package update

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/analysis"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/errors"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

// Fetcher returns the latest raw input for an entity; found is false when none exists
type Fetcher interface {
	FetchLatest(ctx context.Context, entityType types.EntityType, entityID string) (raw types.RawEntityInput, found bool, err error)
}

// Store persists trust scores. Get returns nil, nil when no score exists.
type Store interface {
	Get(ctx context.Context, entityType types.EntityType, entityID string) (*types.EntityTrustScore, error)
	Save(ctx context.Context, score *types.EntityTrustScore) error
}

// Notifier delivers change notifications
type Notifier interface {
	Notify(ctx context.Context, n types.ChangeNotification) error
}

// FactorSource scores every factor of an entity; it must not fail
type FactorSource interface {
	ScoreAll(ctx context.Context, raw types.RawEntityInput) map[string]types.FactorScore
}

// Metrics receives recompute outcomes
type Metrics interface {
	RecordTrigger(reason string)
	RecordRecompute(duration time.Duration, success bool)
}

// Components are the collaborators a recompute needs
type Components struct {
	Fetcher     Fetcher
	Store       Store
	Notifier    Notifier
	Scorers     map[types.EntityType]FactorSource
	Aggregators map[types.EntityType]*analysis.Aggregator
}

// Options tune the engine; zero values fall back to defaults
type Options struct {
	Configs      map[types.EntityType]EntityConfig
	Policy       TriggerPolicy
	Dependencies DependencyTable
	// Dispatch, when set, receives derived dependency events instead of
	// handling them inline (the server routes them back through the processor)
	Dispatch func(types.UpdateEvent) error
	Logger   *slog.Logger
	Metrics  Metrics
	Now      func() time.Time
}

// EntityState is the lifecycle state of one entity
type EntityState string

const (
	StateIdle         EntityState = "idle"
	StateAccumulating EntityState = "accumulating"
	StateTriggered    EntityState = "triggered"
)

// EntityStatus is a snapshot of an entity's update record
type EntityStatus struct {
	State        EntityState `json:"state"`
	PendingCount int         `json:"pending_count"`
	LastUpdate   time.Time   `json:"last_update"`
}

type entityState struct {
	pending      []types.UpdateEvent
	lastUpdate   time.Time
	lastActivity time.Time
	running      bool
	rerun        bool
}

func (s *entityState) status() EntityStatus {
	st := StateIdle
	switch {
	case s.running:
		st = StateTriggered
	case len(s.pending) > 0:
		st = StateAccumulating
	}
	return EntityStatus{State: st, PendingCount: len(s.pending), LastUpdate: s.lastUpdate}
}

// Engine decides, per entity, when incoming events trigger a recompute. At most
// one recompute runs per entity; a trigger that arrives meanwhile is coalesced
// into one more pass by the running recompute.
type Engine struct {
	components Components
	configs    map[types.EntityType]EntityConfig
	policy     TriggerPolicy
	deps       DependencyTable
	dispatch   func(types.UpdateEvent) error
	logger     *slog.Logger
	metrics    Metrics
	now        func() time.Time

	mu       sync.Mutex
	entities map[string]*entityState
}

// NewEngine creates an update decision engine
func NewEngine(components Components, opts Options) *Engine {
	if opts.Configs == nil {
		opts.Configs = DefaultConfigs()
	}
	if opts.Policy == nil {
		opts.Policy = NewRandomizedPolicy(0)
	}
	if opts.Dependencies == nil {
		opts.Dependencies = DefaultDependencies()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		components: components,
		configs:    opts.Configs,
		policy:     opts.Policy,
		deps:       opts.Dependencies,
		dispatch:   opts.Dispatch,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		now:        opts.Now,
		entities:   make(map[string]*entityState),
	}
}

// Handle implements the event processor's handler contract
func (e *Engine) Handle(ctx context.Context, event types.UpdateEvent) error {
	return e.HandleEvent(ctx, event)
}

// HandleEvent records the event and, if the entity's rules say so, recomputes it
func (e *Engine) HandleEvent(ctx context.Context, event types.UpdateEvent) error {
	if err := event.Validate(); err != nil {
		return errors.NewValidationError("invalid update event", err)
	}

	cfg := e.configFor(event.EntityType)
	threshold := cfg.Threshold(event.EventType)
	key := event.Key()
	now := e.now()

	e.mu.Lock()
	st, ok := e.entities[key]
	if !ok {
		st = &entityState{}
		e.entities[key] = st
	}
	st.lastActivity = now
	appendPending(st, event)

	trigger, reason := e.decide(cfg, st, threshold, now)
	if !trigger {
		pending := len(st.pending)
		e.mu.Unlock()
		e.logger.Debug("Update deferred",
			"entity", key,
			"event_type", event.EventType,
			"threshold", threshold,
			"reason", reason,
			"pending", pending)
		return nil
	}

	if st.running {
		st.rerun = true
		e.mu.Unlock()
		e.logger.Debug("Recompute already in flight, coalescing", "entity", key, "event_type", event.EventType)
		return nil
	}

	st.running = true
	events := st.pending
	st.pending = nil
	prevUpdate := st.lastUpdate
	st.lastUpdate = now
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordTrigger(reason)
	}
	e.logger.Info("Update triggered",
		"entity", key,
		"event_type", event.EventType,
		"threshold", threshold,
		"reason", reason,
		"drained", len(events))

	return e.run(ctx, event, st, events, prevUpdate)
}

// appendPending adds the event unless an event with the same ID is already pending
func appendPending(st *entityState, event types.UpdateEvent) {
	if event.ID != "" {
		for _, p := range st.pending {
			if p.ID == event.ID {
				return
			}
		}
	}
	st.pending = append(st.pending, event)
}

func (e *Engine) decide(cfg EntityConfig, st *entityState, threshold float64, now time.Time) (bool, string) {
	if threshold >= AlwaysTriggerThreshold {
		return true, "always"
	}

	if !st.lastUpdate.IsZero() && now.Sub(st.lastUpdate) < cfg.MinInterval && threshold < CooldownBypassThreshold {
		return false, "cooldown"
	}

	if cfg.MaxPending > 0 && len(st.pending) >= cfg.MaxPending {
		return true, "backlog"
	}

	weight := 0.0
	for _, p := range st.pending {
		weight += cfg.Threshold(p.EventType)
	}
	d := Decision{Threshold: threshold, PendingCount: len(st.pending), PendingWeight: weight}
	if e.policy.ShouldTrigger(d) {
		return true, e.policy.Name()
	}
	return false, "accumulating"
}

// run recomputes until no coalesced trigger remains, then propagates to dependents.
// prevUpdate is the last completed update, restored if a pass fails.
func (e *Engine) run(ctx context.Context, event types.UpdateEvent, st *entityState, events []types.UpdateEvent, prevUpdate time.Time) error {
	var raw types.RawEntityInput
	for {
		var err error
		raw, err = e.recompute(ctx, event.EntityType, event.EntityID)

		e.mu.Lock()
		if err != nil {
			// Keep the drained events so the entity stays accumulating
			restored := events
			for _, p := range st.pending {
				restored = appendUnique(restored, p)
			}
			st.pending = restored
			st.lastUpdate = prevUpdate
			st.running = false
			st.rerun = false
			e.mu.Unlock()
			return err
		}
		if !st.rerun {
			st.running = false
			e.mu.Unlock()
			break
		}
		st.rerun = false
		events = st.pending
		st.pending = nil
		prevUpdate = st.lastUpdate
		st.lastUpdate = e.now()
		e.mu.Unlock()
	}

	if raw != nil {
		e.propagate(ctx, event, raw)
	}
	return nil
}

func appendUnique(events []types.UpdateEvent, event types.UpdateEvent) []types.UpdateEvent {
	if event.ID != "" {
		for _, p := range events {
			if p.ID == event.ID {
				return events
			}
		}
	}
	return append(events, event)
}

// propagate synthesizes "<type>_update" events for dependents of a recomputed
// entity. Dependents of the same type are skipped to avoid cycles.
func (e *Engine) propagate(ctx context.Context, source types.UpdateEvent, raw types.RawEntityInput) {
	for _, dep := range e.deps[source.EntityType] {
		if dep.Target == source.EntityType {
			continue
		}
		for _, id := range dep.resolveIDs(raw, source.Data) {
			derived := types.UpdateEvent{
				EventType:  DerivedEventType(source.EntityType),
				EntityID:   id,
				EntityType: dep.Target,
				Timestamp:  e.now(),
				Data: map[string]interface{}{
					"source_entity_type": string(source.EntityType),
					"source_entity_id":   source.EntityID,
				},
			}

			var err error
			if e.dispatch != nil {
				err = e.dispatch(derived)
			} else {
				err = e.HandleEvent(ctx, derived)
			}
			if err != nil {
				e.logger.Warn("Dependency propagation failed",
					"source", source.Key(),
					"target", derived.Key(),
					"error", err)
			}
		}
	}
}

func (e *Engine) configFor(entityType types.EntityType) EntityConfig {
	if cfg, ok := e.configs[entityType]; ok {
		return cfg
	}
	return EntityConfig{DefaultThreshold: 0.3, MaxPending: 10}
}

// Status returns the update record of an entity; ok is false if none exists
func (e *Engine) Status(entityType types.EntityType, entityID string) (EntityStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.entities[types.EntityKey(entityType, entityID)]
	if !ok {
		return EntityStatus{State: StateIdle}, false
	}
	return st.status(), true
}

// Evict drops idle records whose last activity is older than maxAge
func (e *Engine) Evict(maxAge time.Duration) int {
	cutoff := e.now().Add(-maxAge)

	e.mu.Lock()
	defer e.mu.Unlock()

	evicted := 0
	for key, st := range e.entities {
		if st.running || len(st.pending) > 0 {
			continue
		}
		if st.lastActivity.Before(cutoff) {
			delete(e.entities, key)
			evicted++
		}
	}
	return evicted
}

// TrackedEntities returns the number of in-memory entity records
func (e *Engine) TrackedEntities() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entities)
}
