package trust

import (
	"context"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/cache"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/resilience"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/update"
)

// Dependency names reported by the health monitor
const (
	DependencyScoreStore = "score_store"
	DependencyFetcher    = "fetcher"
	DependencyDatabase   = "database"
	DependencyRedis      = "redis"
)

// cachedStore invalidates the read caches on every save and reports outcomes
type cachedStore struct {
	next   update.Store
	cache  *cache.ScoreCache
	health *resilience.HealthMonitor
	onSave func(score *types.EntityTrustScore)
}

func (s *cachedStore) Get(ctx context.Context, entityType types.EntityType, entityID string) (*types.EntityTrustScore, error) {
	score, err := s.next.Get(ctx, entityType, entityID)
	s.health.Record(DependencyScoreStore, err)
	return score, err
}

func (s *cachedStore) Save(ctx context.Context, score *types.EntityTrustScore) error {
	err := s.next.Save(ctx, score)
	s.health.Record(DependencyScoreStore, err)
	if err == nil {
		s.cache.Invalidate(ctx, score.EntityType, score.EntityID)
		if s.onSave != nil {
			s.onSave(score)
		}
	}
	return err
}

// observedFetcher reports fetch outcomes to the health monitor
type observedFetcher struct {
	next   update.Fetcher
	health *resilience.HealthMonitor
}

func (f *observedFetcher) FetchLatest(ctx context.Context, entityType types.EntityType, entityID string) (types.RawEntityInput, bool, error) {
	raw, found, err := f.next.FetchLatest(ctx, entityType, entityID)
	f.health.Record(DependencyFetcher, err)
	return raw, found, err
}
