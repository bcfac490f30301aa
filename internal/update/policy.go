package update

import (
	"math/rand"
	"sync"
	"time"
)

// Decision is what a policy sees when neither the always-trigger, cool-down nor
// backlog rules settled the outcome
type Decision struct {
	Threshold     float64
	PendingCount  int
	PendingWeight float64
}

// TriggerPolicy decides medium-importance events
type TriggerPolicy interface {
	Name() string
	ShouldTrigger(d Decision) bool
}

// RandomizedPolicy triggers with probability equal to the event threshold.
// Identical event sequences can therefore trigger at different times; it spreads
// recompute load for medium-importance events.
type RandomizedPolicy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomizedPolicy creates a randomized policy; seed 0 uses the clock
func NewRandomizedPolicy(seed int64) *RandomizedPolicy {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomizedPolicy{rng: rand.New(rand.NewSource(seed))}
}

func (p *RandomizedPolicy) Name() string { return "randomized" }

// ShouldTrigger draws once per call
func (p *RandomizedPolicy) ShouldTrigger(d Decision) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64() < d.Threshold
}

// WeightedPolicy triggers once the summed thresholds of pending events reach Limit
type WeightedPolicy struct {
	Limit float64
}

// NewWeightedPolicy creates a deterministic accumulation policy; limit <= 0 means 1.0
func NewWeightedPolicy(limit float64) *WeightedPolicy {
	if limit <= 0 {
		limit = 1.0
	}
	return &WeightedPolicy{Limit: limit}
}

func (p *WeightedPolicy) Name() string { return "weighted" }

func (p *WeightedPolicy) ShouldTrigger(d Decision) bool {
	return d.PendingWeight >= p.Limit
}

// PolicyByName resolves a policy from configuration; seed only affects the randomized policy
func PolicyByName(name string, seed int64) TriggerPolicy {
	if name == "weighted" {
		return NewWeightedPolicy(1.0)
	}
	return NewRandomizedPolicy(seed)
}
