package update

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/analysis"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/errors"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/factors"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

type memoryFetcher struct {
	mu    sync.Mutex
	data  map[string]types.RawEntityInput
	err   error
	delay time.Duration
	probe *exclusivityProbe
}

func (f *memoryFetcher) FetchLatest(_ context.Context, et types.EntityType, id string) (types.RawEntityInput, bool, error) {
	if f.probe != nil {
		f.probe.enter()
		defer f.probe.exit()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, false, f.err
	}
	raw, ok := f.data[types.EntityKey(et, id)]
	return raw, ok, nil
}

func (f *memoryFetcher) set(et types.EntityType, id string, raw types.RawEntityInput) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[types.EntityKey(et, id)] = raw
}

func (f *memoryFetcher) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type memoryStore struct {
	mu     sync.Mutex
	scores map[string]*types.EntityTrustScore
	saves  map[string]int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		scores: make(map[string]*types.EntityTrustScore),
		saves:  make(map[string]int),
	}
}

func (s *memoryStore) Get(_ context.Context, et types.EntityType, id string) (*types.EntityTrustScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scores[types.EntityKey(et, id)], nil
}

func (s *memoryStore) Save(_ context.Context, score *types.EntityTrustScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := types.EntityKey(score.EntityType, score.EntityID)
	s.scores[key] = score
	s.saves[key]++
	return nil
}

func (s *memoryStore) saveCount(et types.EntityType, id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves[types.EntityKey(et, id)]
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []types.ChangeNotification
}

func (n *recordingNotifier) Notify(_ context.Context, note types.ChangeNotification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

type countingMetrics struct {
	triggers   sync.Map
	recomputes atomic.Int64
	failures   atomic.Int64
}

func (m *countingMetrics) RecordTrigger(reason string) {
	v, _ := m.triggers.LoadOrStore(reason, new(atomic.Int64))
	v.(*atomic.Int64).Add(1)
}

func (m *countingMetrics) RecordRecompute(_ time.Duration, success bool) {
	m.recomputes.Add(1)
	if !success {
		m.failures.Add(1)
	}
}

func (m *countingMetrics) triggerCount(reason string) int64 {
	v, ok := m.triggers.Load(reason)
	if !ok {
		return 0
	}
	return v.(*atomic.Int64).Load()
}

// exclusivityProbe records the highest number of concurrent holders
type exclusivityProbe struct {
	current atomic.Int32
	max     atomic.Int32
}

func (p *exclusivityProbe) enter() {
	n := p.current.Add(1)
	for {
		m := p.max.Load()
		if n <= m || p.max.CompareAndSwap(m, n) {
			return
		}
	}
}

func (p *exclusivityProbe) exit() {
	p.current.Add(-1)
}

type fixedPolicy bool

func (p fixedPolicy) Name() string                { return fmt.Sprintf("fixed-%t", bool(p)) }
func (p fixedPolicy) ShouldTrigger(Decision) bool { return bool(p) }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	engine   *Engine
	fetcher  *memoryFetcher
	store    *memoryStore
	notifier *recordingNotifier
	metrics  *countingMetrics
	clock    *fakeClock
}

func signals(score float64) map[string]interface{} {
	out := make(map[string]interface{})
	for _, key := range []string{
		analysis.FactorOriginality,
		analysis.FactorTransactionLegitimacy,
		analysis.FactorCreatorReputation,
		analysis.FactorCollectionPerformance,
		analysis.FactorMetadataConsistency,
		analysis.FactorSocialSignals,
	} {
		out[key] = map[string]interface{}{
			"score":      score,
			"confidence": 0.9,
			"details":    map[string]interface{}{"source": "test"},
		}
	}
	return out
}

func nftRaw(score float64) types.RawEntityInput {
	return types.RawEntityInput{
		"signals":    signals(score),
		"creator":    map[string]interface{}{"id": "creator-1"},
		"collection": map[string]interface{}{"id": "collection-1"},
	}
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()

	h := &harness{
		fetcher:  &memoryFetcher{data: make(map[string]types.RawEntityInput)},
		store:    newMemoryStore(),
		notifier: &recordingNotifier{},
		metrics:  &countingMetrics{},
		clock:    &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}

	scorers := make(map[types.EntityType]FactorSource)
	aggregators := make(map[types.EntityType]*analysis.Aggregator)
	for _, et := range []types.EntityType{types.EntityNFT, types.EntityCreator, types.EntityCollection} {
		profile := analysis.DefaultProfile(et)
		registry, err := factors.NewRegistryFromProfile(profile)
		require.NoError(t, err)
		scorers[et] = registry
		aggregators[et] = analysis.NewAggregator(profile)
	}

	if opts.Dependencies == nil {
		opts.Dependencies = DependencyTable{}
	}
	if opts.Policy == nil {
		opts.Policy = fixedPolicy(false)
	}
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	opts.Metrics = h.metrics
	opts.Now = h.clock.Now

	h.engine = NewEngine(Components{
		Fetcher:     h.fetcher,
		Store:       h.store,
		Notifier:    h.notifier,
		Scorers:     scorers,
		Aggregators: aggregators,
	}, opts)
	return h
}

func nftEvent(eventType, id string) types.UpdateEvent {
	return types.UpdateEvent{
		ID:         fmt.Sprintf("%s-%s-%d", eventType, id, time.Now().UnixNano()),
		EventType:  eventType,
		EntityID:   id,
		EntityType: types.EntityNFT,
	}
}

func TestHighThresholdEventsAlwaysTrigger(t *testing.T) {
	h := newHarness(t, Options{})
	h.fetcher.set(types.EntityNFT, "nft-1", nftRaw(70))
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		eventType := "sale"
		if i%2 == 1 {
			eventType = "fraud_confirmed"
		}
		require.NoError(t, h.engine.HandleEvent(ctx, nftEvent(eventType, "nft-1")))
		h.clock.Advance(time.Second)
	}

	assert.Equal(t, 100, h.store.saveCount(types.EntityNFT, "nft-1"))
	assert.Equal(t, int64(100), h.metrics.triggerCount("always"))

	status, ok := h.engine.Status(types.EntityNFT, "nft-1")
	require.True(t, ok)
	assert.Equal(t, StateIdle, status.State)
	assert.Zero(t, status.PendingCount)
}

func TestCooldownSuppressesMediumEvents(t *testing.T) {
	h := newHarness(t, Options{Policy: fixedPolicy(true)})
	h.fetcher.set(types.EntityNFT, "nft-1", nftRaw(70))
	ctx := context.Background()

	require.NoError(t, h.engine.HandleEvent(ctx, nftEvent("fraud_confirmed", "nft-1")))
	before, _ := h.engine.Status(types.EntityNFT, "nft-1")

	h.clock.Advance(time.Minute)
	require.NoError(t, h.engine.HandleEvent(ctx, nftEvent("transfer", "nft-1")))
	h.clock.Advance(time.Minute)
	require.NoError(t, h.engine.HandleEvent(ctx, nftEvent("metadata_update", "nft-1")))

	after, _ := h.engine.Status(types.EntityNFT, "nft-1")
	assert.Equal(t, 1, h.store.saveCount(types.EntityNFT, "nft-1"))
	assert.Equal(t, StateAccumulating, after.State)
	assert.Equal(t, 2, after.PendingCount)
	assert.Equal(t, before.LastUpdate, after.LastUpdate)

	// fraud_signal (0.85) is above the cool-down bypass
	require.NoError(t, h.engine.HandleEvent(ctx, nftEvent("fraud_signal", "nft-1")))
	assert.Equal(t, 2, h.store.saveCount(types.EntityNFT, "nft-1"))

	// Once the interval has passed the policy decides again
	h.clock.Advance(10 * time.Minute)
	require.NoError(t, h.engine.HandleEvent(ctx, nftEvent("transfer", "nft-1")))
	assert.Equal(t, 3, h.store.saveCount(types.EntityNFT, "nft-1"))
}

func TestBacklogTriggersAtMaxPending(t *testing.T) {
	h := newHarness(t, Options{})
	h.fetcher.set(types.EntityNFT, "nft-1", nftRaw(70))
	ctx := context.Background()

	for i := 0; i < 9; i++ {
		require.NoError(t, h.engine.HandleEvent(ctx, nftEvent("social_signal", "nft-1")))
	}
	status, _ := h.engine.Status(types.EntityNFT, "nft-1")
	assert.Equal(t, 9, status.PendingCount)
	assert.Zero(t, h.store.saveCount(types.EntityNFT, "nft-1"))

	require.NoError(t, h.engine.HandleEvent(ctx, nftEvent("social_signal", "nft-1")))
	status, _ = h.engine.Status(types.EntityNFT, "nft-1")
	assert.Zero(t, status.PendingCount)
	assert.Equal(t, 1, h.store.saveCount(types.EntityNFT, "nft-1"))
	assert.Equal(t, int64(1), h.metrics.triggerCount("backlog"))
}

func TestDuplicatePendingEventIsIgnored(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	event := nftEvent("social_signal", "nft-1")
	require.NoError(t, h.engine.HandleEvent(ctx, event))
	require.NoError(t, h.engine.HandleEvent(ctx, event))

	status, _ := h.engine.Status(types.EntityNFT, "nft-1")
	assert.Equal(t, 1, status.PendingCount)
}

func TestConcurrentTriggersNeverOverlap(t *testing.T) {
	h := newHarness(t, Options{})
	probe := &exclusivityProbe{}
	h.fetcher.probe = probe
	h.fetcher.delay = 2 * time.Millisecond
	h.fetcher.set(types.EntityNFT, "nft-1", nftRaw(70))

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			event := nftEvent("sale", "nft-1")
			event.ID = fmt.Sprintf("concurrent-%d", i)
			assert.NoError(t, h.engine.HandleEvent(context.Background(), event))
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), probe.max.Load())
	saves := h.store.saveCount(types.EntityNFT, "nft-1")
	assert.GreaterOrEqual(t, saves, 1)
	assert.LessOrEqual(t, saves, 50)

	status, _ := h.engine.Status(types.EntityNFT, "nft-1")
	assert.Equal(t, StateIdle, status.State)
}

func TestRandomizedPolicyTriggerRate(t *testing.T) {
	p := NewRandomizedPolicy(42)
	const trials = 20000

	for _, threshold := range []float64{0.3, 0.5, 0.7} {
		hits := 0
		for i := 0; i < trials; i++ {
			if p.ShouldTrigger(Decision{Threshold: threshold}) {
				hits++
			}
		}
		rate := float64(hits) / trials
		assert.InDelta(t, threshold, rate, 0.02, "threshold %v", threshold)
	}
}

func TestRandomizedPolicyThroughEngine(t *testing.T) {
	h := newHarness(t, Options{Policy: NewRandomizedPolicy(7)})
	ctx := context.Background()

	const entities = 2000
	for i := 0; i < entities; i++ {
		id := fmt.Sprintf("nft-%d", i)
		h.fetcher.set(types.EntityNFT, id, nftRaw(60))
		require.NoError(t, h.engine.HandleEvent(ctx, nftEvent("price_change", id)))
	}

	rate := float64(h.metrics.triggerCount("randomized")) / entities
	assert.InDelta(t, 0.4, rate, 0.05)
}

func TestWeightedPolicyAccumulates(t *testing.T) {
	h := newHarness(t, Options{Policy: NewWeightedPolicy(1.0)})
	h.fetcher.set(types.EntityNFT, "nft-1", nftRaw(70))
	ctx := context.Background()

	require.NoError(t, h.engine.HandleEvent(ctx, nftEvent("transfer", "nft-1")))
	assert.Zero(t, h.store.saveCount(types.EntityNFT, "nft-1"))

	require.NoError(t, h.engine.HandleEvent(ctx, nftEvent("metadata_update", "nft-1")))
	assert.Equal(t, 1, h.store.saveCount(types.EntityNFT, "nft-1"))
	assert.Equal(t, int64(1), h.metrics.triggerCount("weighted"))
}

func TestPolicyByName(t *testing.T) {
	assert.Equal(t, "weighted", PolicyByName("weighted", 0).Name())
	assert.Equal(t, "randomized", PolicyByName("randomized", 1).Name())
	assert.Equal(t, "randomized", PolicyByName("", 0).Name())

	a, b := PolicyByName("randomized", 99), PolicyByName("randomized", 99)
	for i := 0; i < 100; i++ {
		d := Decision{Threshold: 0.5}
		assert.Equal(t, a.ShouldTrigger(d), b.ShouldTrigger(d))
	}
}

func TestPropagationDispatchesDerivedEvents(t *testing.T) {
	var (
		mu      sync.Mutex
		derived []types.UpdateEvent
	)
	deps := DefaultDependencies()
	deps[types.EntityNFT] = append(deps[types.EntityNFT], Dependency{
		Target:  types.EntityNFT,
		IDPaths: []string{"creator.id"},
	})

	h := newHarness(t, Options{
		Dependencies: deps,
		Dispatch: func(e types.UpdateEvent) error {
			mu.Lock()
			defer mu.Unlock()
			derived = append(derived, e)
			return nil
		},
	})
	h.fetcher.set(types.EntityNFT, "nft-1", nftRaw(70))

	require.NoError(t, h.engine.HandleEvent(context.Background(), nftEvent("sale", "nft-1")))

	require.Len(t, derived, 2)
	targets := map[string]string{}
	for _, e := range derived {
		assert.Equal(t, "nft_update", e.EventType)
		assert.Equal(t, "nft-1", e.Data["source_entity_id"])
		targets[string(e.EntityType)] = e.EntityID
	}
	assert.Equal(t, map[string]string{"creator": "creator-1", "collection": "collection-1"}, targets)
}

func TestPropagationInlineRecomputesDependents(t *testing.T) {
	h := newHarness(t, Options{Dependencies: DefaultDependencies(), Policy: fixedPolicy(true)})
	h.fetcher.set(types.EntityNFT, "nft-1", nftRaw(70))
	h.fetcher.set(types.EntityCreator, "creator-1", types.RawEntityInput{"signals": signals(80)})

	require.NoError(t, h.engine.HandleEvent(context.Background(), nftEvent("sale", "nft-1")))

	assert.Equal(t, 1, h.store.saveCount(types.EntityNFT, "nft-1"))
	assert.Equal(t, 1, h.store.saveCount(types.EntityCreator, "creator-1"))
	// The collection has no raw data, so its recompute is skipped
	assert.Zero(t, h.store.saveCount(types.EntityCollection, "collection-1"))
	_, tracked := h.engine.Status(types.EntityCollection, "collection-1")
	assert.True(t, tracked)
}

func TestPropagationFallsBackToEventData(t *testing.T) {
	dep := Dependency{Target: types.EntityCreator, IDPaths: []string{"creator.id", "creator_id"}}

	ids := dep.resolveIDs(types.RawEntityInput{"signals": map[string]interface{}{}}, map[string]interface{}{"creator_id": "c9"})
	assert.Equal(t, []string{"c9"}, ids)

	ids = dep.resolveIDs(map[string]interface{}{"creator_id": []interface{}{"a", "b", "a", 3}})
	assert.Equal(t, []string{"a", "b"}, ids)

	assert.Empty(t, dep.resolveIDs(nil))
}

func TestFailedRecomputeRestoresPendingEvents(t *testing.T) {
	h := newHarness(t, Options{})
	h.fetcher.set(types.EntityNFT, "nft-1", nftRaw(70))
	h.fetcher.fail(fmt.Errorf("upstream unavailable"))
	ctx := context.Background()

	event := nftEvent("sale", "nft-1")
	err := h.engine.HandleEvent(ctx, event)
	require.Error(t, err)
	assert.True(t, errors.IsRetryableError(err))

	status, _ := h.engine.Status(types.EntityNFT, "nft-1")
	assert.Equal(t, StateAccumulating, status.State)
	assert.Equal(t, 1, status.PendingCount)
	assert.Equal(t, int64(1), h.metrics.failures.Load())

	// A retry of the same event does not duplicate the pending record
	h.fetcher.fail(nil)
	require.NoError(t, h.engine.HandleEvent(ctx, event))
	status, _ = h.engine.Status(types.EntityNFT, "nft-1")
	assert.Equal(t, StateIdle, status.State)
	assert.Equal(t, 1, h.store.saveCount(types.EntityNFT, "nft-1"))
}

func TestFailedRecomputeDoesNotStartCooldown(t *testing.T) {
	tests := []struct {
		name       string
		priorScore bool
	}{
		{"first update", false},
		{"after an earlier update", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, Options{Policy: fixedPolicy(true)})
			h.fetcher.set(types.EntityNFT, "nft-1", nftRaw(70))
			ctx := context.Background()

			saves := 0
			if tt.priorScore {
				require.NoError(t, h.engine.HandleEvent(ctx, nftEvent("sale", "nft-1")))
				saves = 1
				h.clock.Advance(10 * time.Minute)
			}

			h.fetcher.fail(fmt.Errorf("upstream unavailable"))
			event := nftEvent("transfer", "nft-1")
			err := h.engine.HandleEvent(ctx, event)
			require.Error(t, err)
			assert.True(t, errors.IsRetryableError(err))

			// The retry lands inside the cool-down window of the failed attempt
			h.clock.Advance(time.Second)
			h.fetcher.fail(nil)
			require.NoError(t, h.engine.HandleEvent(ctx, event))

			assert.Equal(t, saves+1, h.store.saveCount(types.EntityNFT, "nft-1"))
			status, _ := h.engine.Status(types.EntityNFT, "nft-1")
			assert.Equal(t, StateIdle, status.State)
			assert.Zero(t, status.PendingCount)
		})
	}
}

func TestAbsentRawDataSkipsRecompute(t *testing.T) {
	h := newHarness(t, Options{})

	require.NoError(t, h.engine.HandleEvent(context.Background(), nftEvent("sale", "ghost")))
	assert.Zero(t, h.store.saveCount(types.EntityNFT, "ghost"))
	assert.Zero(t, h.metrics.failures.Load())
}

func TestCancelledRecomputeIsNotPersisted(t *testing.T) {
	h := newHarness(t, Options{})
	h.fetcher.set(types.EntityNFT, "nft-1", nftRaw(70))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.engine.HandleEvent(ctx, nftEvent("sale", "nft-1"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.store.saveCount(types.EntityNFT, "nft-1"))
}

func TestSignificantChangeNotifies(t *testing.T) {
	h := newHarness(t, Options{})
	h.fetcher.set(types.EntityNFT, "nft-1", nftRaw(80))
	ctx := context.Background()

	require.NoError(t, h.engine.HandleEvent(ctx, nftEvent("sale", "nft-1")))
	assert.Empty(t, h.notifier.notes)

	require.NoError(t, h.engine.HandleEvent(ctx, nftEvent("sale", "nft-1")))
	assert.Empty(t, h.notifier.notes)

	h.fetcher.set(types.EntityNFT, "nft-1", nftRaw(30))
	require.NoError(t, h.engine.HandleEvent(ctx, nftEvent("fraud_confirmed", "nft-1")))
	require.Len(t, h.notifier.notes, 1)

	note := h.notifier.notes[0]
	assert.Equal(t, 80.0, note.Before.OverallScore)
	assert.Equal(t, 30.0, note.After.OverallScore)
	assert.NotEmpty(t, note.SignificantChanges)
	require.Len(t, note.After.History, 1)
}

func TestInvalidEventIsRejected(t *testing.T) {
	h := newHarness(t, Options{})

	err := h.engine.HandleEvent(context.Background(), types.UpdateEvent{EventType: "sale", EntityType: types.EntityNFT})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
	assert.Zero(t, h.engine.TrackedEntities())
}

func TestEvictDropsIdleRecords(t *testing.T) {
	h := newHarness(t, Options{})
	h.fetcher.set(types.EntityNFT, "idle", nftRaw(70))
	ctx := context.Background()

	require.NoError(t, h.engine.HandleEvent(ctx, nftEvent("sale", "idle")))
	require.NoError(t, h.engine.HandleEvent(ctx, nftEvent("social_signal", "pending")))
	require.Equal(t, 2, h.engine.TrackedEntities())

	h.clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, h.engine.Evict(time.Hour))
	assert.Equal(t, 1, h.engine.TrackedEntities())

	_, tracked := h.engine.Status(types.EntityNFT, "pending")
	assert.True(t, tracked)
}

func TestEntityConfigThreshold(t *testing.T) {
	cfg := DefaultConfigs()[types.EntityCreator]
	assert.Equal(t, 0.9, cfg.Threshold("verification_change"))
	assert.Equal(t, 0.5, cfg.Threshold(DerivedEventType(types.EntityNFT)))
	assert.Equal(t, cfg.DefaultThreshold, cfg.Threshold("unknown"))
}
