package trust

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/analysis"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/cache"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/config"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/database"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/errors"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/events"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/factors"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/leaderboard"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/monitoring"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/notify"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/resilience"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/update"
)

// Options are the collaborators a Service is built from. DB, Config, Logger and
// Metrics are required; the rest fall back to defaults.
type Options struct {
	Config  *config.Config
	DB      *database.DB
	Redis   *cache.RedisClient
	Logger  *monitoring.Logger
	Metrics *monitoring.Metrics
	// Fetcher replaces the SQLite snapshot fetcher
	Fetcher update.Fetcher
	// Notifier replaces the Redis and log notifiers
	Notifier update.Notifier
	// Policy replaces the policy named by the configuration
	Policy update.TriggerPolicy
}

// Service wires the confidence engine, aggregator, update decision engine and
// event processor into the operations the API and CLI expose
type Service struct {
	cfg     *config.Config
	logger  *monitoring.Logger
	metrics *monitoring.Metrics

	scores      *database.ScoreRepository
	snapshots   *database.SnapshotRepository
	deadLetters *database.DeadLetterRepository
	cache       *cache.ScoreCache
	rankings    *leaderboard.Service
	health      *resilience.HealthMonitor
	fetcher     *update.GuardedFetcher
	engine      *update.Engine
	processor   *events.Processor

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService builds the scoring pipeline
func NewService(opts Options) (*Service, error) {
	if opts.Config == nil || opts.DB == nil || opts.Logger == nil || opts.Metrics == nil {
		return nil, errors.NewConfigurationError("trust service requires config, database, logger and metrics", nil)
	}
	if opts.Redis == nil {
		opts.Redis = cache.NewDisabledRedisClient()
	}
	cfg := opts.Config

	s := &Service{
		cfg:         cfg,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		scores:      database.NewScoreRepository(opts.DB),
		snapshots:   database.NewSnapshotRepository(opts.DB),
		deadLetters: database.NewDeadLetterRepository(opts.DB),
		cache:       cache.NewScoreCache(cfg.ScoreCacheTTL, opts.Redis),
		rankings:    leaderboard.NewServiceWithCache(opts.DB, leaderboard.NewLeaderboardCache(cfg.ScoreCacheTTL)),
		health:      resilience.NewHealthMonitor(resilience.DefaultHealthConfig()),
	}

	s.health.Register(DependencyScoreStore, nil)
	s.health.Register(DependencyFetcher, nil)
	s.health.Register(DependencyDatabase, opts.DB.PingContext)
	if opts.Redis.IsEnabled() {
		s.health.Register(DependencyRedis, opts.Redis.HealthCheck)
	}

	profiles, err := analysis.NewProfileStore(cfg.ProfileDir).LoadAll()
	if err != nil {
		return nil, errors.NewConfigurationError("failed to load scoring profiles", err)
	}

	scorers := make(map[types.EntityType]update.FactorSource, len(profiles))
	aggregators := make(map[types.EntityType]*analysis.Aggregator, len(profiles))
	for entityType, profile := range profiles {
		registry, err := factors.NewRegistryFromProfile(profile)
		if err != nil {
			return nil, errors.NewConfigurationError(fmt.Sprintf("invalid profile for %s", entityType), err)
		}
		scorers[entityType] = registry
		aggregators[entityType] = analysis.NewAggregator(profile)
	}

	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.BreakerFailures,
		RecoveryTimeout:  cfg.BreakerTimeout,
		OnStateChange: func(from, to resilience.CircuitBreakerState) {
			switch to {
			case resilience.StateOpen:
				s.metrics.IncrementCircuitBreakerOpen()
			case resilience.StateClosed:
				s.metrics.IncrementCircuitBreakerClose()
			}
			s.logger.Warn("Fetcher circuit breaker changed state", "from", from.String(), "to", to.String())
		},
	})

	var fetcher update.Fetcher = s.snapshots
	if opts.Fetcher != nil {
		fetcher = opts.Fetcher
	}
	s.fetcher = update.NewGuardedFetcher(&observedFetcher{next: fetcher, health: s.health}, breaker)

	notifier := opts.Notifier
	if notifier == nil {
		notifiers := []notify.Notifier{notify.NewLogNotifier(s.logger)}
		if opts.Redis.IsEnabled() {
			notifiers = append(notifiers, notify.NewRedisNotifier(opts.Redis, cfg.NotifyChannelPrefix, s.logger))
		}
		notifier = notify.NewMultiNotifier(s.metrics, notifiers...)
	}

	policy := opts.Policy
	if policy == nil {
		policy = update.PolicyByName(cfg.TriggerPolicy, cfg.TriggerSeed)
	}

	s.engine = update.NewEngine(update.Components{
		Fetcher:     s.fetcher,
		Store: &cachedStore{
			next:   s.scores,
			cache:  s.cache,
			health: s.health,
			onSave: func(*types.EntityTrustScore) { s.rankings.InvalidateCache() },
		},
		Notifier:    notifier,
		Scorers:     scorers,
		Aggregators: aggregators,
	}, update.Options{
		Policy:   policy,
		Dispatch: s.dispatch,
		Logger:   s.logger.Logger,
		Metrics:  s.metrics,
	})

	s.processor = events.NewProcessor(events.Config{
		QueueCapacity:           cfg.QueueCapacity,
		MaxConcurrentProcessing: cfg.MaxConcurrentProcessing,
		MaxRetries:              cfg.MaxRetries,
		InitialDelay:            cfg.RetryInitialDelay,
		MaxDelay:                time.Minute,
		BackoffMultiplier:       cfg.RetryBackoffMultiplier,
		EnablePrioritization:    cfg.EnablePrioritization,
		Priorities:              events.DefaultPriorities(),
		DefaultPriority:         1,
		DedupWindow:             cfg.DedupWindow,
		OnDrop:                  s.deadLetter,
	}, s.engine, s.logger.Logger)

	return s, nil
}

// dispatch routes derived dependency events back through the processor
func (s *Service) dispatch(event types.UpdateEvent) error {
	return s.processor.Submit(event)
}

func (s *Service) deadLetter(event types.UpdateEvent, cause error) {
	s.metrics.IncrementDeadLetter()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.deadLetters.Record(ctx, event, cause); err != nil {
		s.logger.Error("Failed to record dead letter", "event_id", event.ID, "entity", event.Key(), "error", err)
		return
	}
	s.logger.Warn("Event moved to dead letters", "event_id", event.ID, "entity", event.Key(), "error", cause)
}

// Start launches the event workers, the health checks and the idle-state eviction loop
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.processor.Start(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.health.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.evictLoop(ctx)
	}()
}

// Stop halts the workers and background loops
func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	s.processor.Stop()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.cache.Close()
	s.rankings.Close()
}

func (s *Service) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.engine.Evict(s.cfg.EntityStateTTL); n > 0 {
				s.logger.Info("Evicted idle entity records", "count", n, "tracked", s.engine.TrackedEntities())
			}
		}
	}
}

// GetScore returns the latest score, or nil when the entity has never been scored
func (s *Service) GetScore(ctx context.Context, entityType types.EntityType, entityID string) (*types.EntityTrustScore, error) {
	if err := validateEntity(entityType, entityID); err != nil {
		return nil, err
	}

	if score, ok := s.cache.Get(ctx, entityType, entityID); ok {
		s.metrics.IncrementCacheHit()
		return score, nil
	}
	s.metrics.IncrementCacheMiss()

	score, err := s.scores.Get(ctx, entityType, entityID)
	if err != nil {
		return nil, errors.NewInternalError("failed to load score", err)
	}
	if score == nil {
		return nil, nil
	}
	s.cache.Set(ctx, score)
	return score, nil
}

// GetHistory returns the entity's score history, oldest first
func (s *Service) GetHistory(ctx context.Context, entityType types.EntityType, entityID string) ([]types.ScoreHistoryPoint, error) {
	if err := validateEntity(entityType, entityID); err != nil {
		return nil, err
	}
	history, err := s.scores.History(ctx, entityType, entityID)
	if err != nil {
		return nil, errors.NewInternalError("failed to load history", err)
	}
	return history, nil
}

// SubmitEvent admits an event into the processing queue
func (s *Service) SubmitEvent(event types.UpdateEvent) error {
	err := s.processor.Submit(event)

	outcome := "accepted"
	switch {
	case errors.IsCategory(err, errors.CategoryValidation):
		outcome = "invalid"
	case err != nil:
		outcome = "rejected"
	}
	s.logger.EventLogger(outcome, event, s.processor.QueueDepth())
	return err
}

// Leaderboard ranks the scored entities of one type
func (s *Service) Leaderboard(ctx context.Context, q leaderboard.Query) (*leaderboard.LeaderboardResponse, error) {
	resp, err := s.rankings.GetLeaderboard(ctx, q)
	if stderrors.Is(err, leaderboard.ErrInvalidQuery) {
		return nil, errors.NewValidationError(err.Error(), nil)
	}
	if err != nil {
		return nil, errors.NewInternalError("failed to build leaderboard", err)
	}
	return resp, nil
}

// EntityRank returns the entity's position within its type, or nil when unscored
func (s *Service) EntityRank(ctx context.Context, entityType types.EntityType, entityID string) (*leaderboard.LeaderboardEntry, error) {
	if err := validateEntity(entityType, entityID); err != nil {
		return nil, err
	}
	entry, err := s.rankings.GetEntityRank(ctx, entityType, entityID)
	if err != nil {
		return nil, errors.NewInternalError("failed to rank entity", err)
	}
	return entry, nil
}

// GetProcessingStats returns the processor's counters
func (s *Service) GetProcessingStats() events.Stats {
	return s.processor.Stats()
}

// PutEntityData stores the raw input the fetcher returns for an entity
func (s *Service) PutEntityData(ctx context.Context, entityType types.EntityType, entityID string, raw types.RawEntityInput) error {
	if err := validateEntity(entityType, entityID); err != nil {
		return err
	}
	if err := s.snapshots.Put(ctx, entityType, entityID, raw); err != nil {
		return errors.NewInternalError("failed to store entity data", err)
	}
	return nil
}

// EntityStatus returns the update record of an entity
func (s *Service) EntityStatus(entityType types.EntityType, entityID string) (update.EntityStatus, bool) {
	return s.engine.Status(entityType, entityID)
}

// DeadLetters lists the most recent events dropped after retries
func (s *Service) DeadLetters(ctx context.Context, limit int) ([]database.DeadLetter, error) {
	letters, err := s.deadLetters.List(ctx, limit)
	if err != nil {
		return nil, errors.NewInternalError("failed to list dead letters", err)
	}
	return letters, nil
}

// WaitIdle blocks until every queued event, including derived ones, was processed
func (s *Service) WaitIdle(ctx context.Context) error {
	return s.processor.WaitIdle(ctx)
}

// HealthReport summarizes dependency health
type HealthReport struct {
	Status          string                                 `json:"status"`
	Level           resilience.DegradationLevel            `json:"level"`
	Dependencies    map[string]resilience.DependencyHealth `json:"dependencies"`
	FetcherBreaker  string                                 `json:"fetcher_breaker"`
	QueueDepth      int                                    `json:"queue_depth"`
	TrackedEntities int                                    `json:"tracked_entities"`
	ScoreCache      map[string]interface{}                 `json:"score_cache"`
}

// Health reports dependency degradation and pipeline occupancy
func (s *Service) Health() HealthReport {
	level := s.health.Overall()
	status := "ok"
	if level != resilience.LevelNormal {
		status = level.String()
	}
	return HealthReport{
		Status:          status,
		Level:           level,
		Dependencies:    s.health.Health(),
		FetcherBreaker:  s.fetcher.BreakerState().String(),
		QueueDepth:      s.processor.QueueDepth(),
		TrackedEntities: s.engine.TrackedEntities(),
		ScoreCache:      s.cache.GetStats(),
	}
}

func validateEntity(entityType types.EntityType, entityID string) error {
	if !entityType.Valid() {
		return errors.NewValidationError(fmt.Sprintf("unknown entity type %q", entityType), nil)
	}
	if entityID == "" {
		return errors.NewValidationError("entity id is required", nil)
	}
	return nil
}
