package update

import (
	"context"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/resilience"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

// GuardedFetcher wraps a Fetcher with a circuit breaker so a failing data source
// is not hammered by every retry
type GuardedFetcher struct {
	next    Fetcher
	breaker *resilience.CircuitBreaker
}

// NewGuardedFetcher wraps next with the given breaker
func NewGuardedFetcher(next Fetcher, breaker *resilience.CircuitBreaker) *GuardedFetcher {
	return &GuardedFetcher{next: next, breaker: breaker}
}

// FetchLatest calls the wrapped fetcher unless the breaker is open
func (f *GuardedFetcher) FetchLatest(ctx context.Context, entityType types.EntityType, entityID string) (types.RawEntityInput, bool, error) {
	var (
		raw   types.RawEntityInput
		found bool
	)
	err := f.breaker.Call(func() error {
		var err error
		raw, found, err = f.next.FetchLatest(ctx, entityType, entityID)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return raw, found, nil
}

// BreakerState reports the breaker state for health output
func (f *GuardedFetcher) BreakerState() resilience.CircuitBreakerState {
	return f.breaker.State()
}
