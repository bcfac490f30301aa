package factors

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/analysis"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/errors"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

const (
	failedScore      = 0.0
	failedConfidence = 0.1
)

// Scorer scores one factor from an entity's raw input
type Scorer interface {
	Score(ctx context.Context, raw types.RawEntityInput) (types.FactorScore, error)
}

// ScorerFunc adapts a function to the Scorer interface
type ScorerFunc func(ctx context.Context, raw types.RawEntityInput) (types.FactorScore, error)

// Score calls f
func (f ScorerFunc) Score(ctx context.Context, raw types.RawEntityInput) (types.FactorScore, error) {
	return f(ctx, raw)
}

type registration struct {
	key    string
	scorer Scorer
	weight float64
}

// Registry holds the scorers registered for one entity type
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

// Register adds or replaces the scorer for a factor key
func (r *Registry) Register(key string, weight float64, scorer Scorer) error {
	if key == "" {
		return fmt.Errorf("factor key is required")
	}
	if scorer == nil {
		return fmt.Errorf("scorer for %s is nil", key)
	}
	if weight < 0 {
		return fmt.Errorf("weight for %s must not be negative", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = registration{key: key, scorer: scorer, weight: weight}
	return nil
}

// Keys returns the registered factor keys in sorted order
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Weights returns the registered weight per factor
func (r *Registry) Weights() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()

	weights := make(map[string]float64, len(r.entries))
	for k, e := range r.entries {
		weights[k] = e.weight
	}
	return weights
}

// ScoreAll runs every registered scorer. A scorer that errors or panics is
// replaced by a zero score with 0.1 confidence; other factors are unaffected.
func (r *Registry) ScoreAll(ctx context.Context, raw types.RawEntityInput) map[string]types.FactorScore {
	r.mu.RLock()
	entries := make([]registration, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	scores := make(map[string]types.FactorScore, len(entries))
	for _, e := range entries {
		scores[e.key] = safeScore(ctx, e, raw)
	}
	return scores
}

func safeScore(ctx context.Context, e registration, raw types.RawEntityInput) (fs types.FactorScore) {
	defer func() {
		if r := recover(); r != nil {
			cause := fmt.Errorf("panic: %v", r)
			scoreErr := errors.NewScorerError(e.key, cause)
			slog.Error("Factor scorer panicked", "factor", e.key, "category", scoreErr.Category, "error", scoreErr)
			fs = failedFactor(e.key, cause)
		}
	}()

	fs, err := e.scorer.Score(ctx, raw)
	if err != nil {
		scoreErr := errors.NewScorerError(e.key, err)
		slog.Warn("Factor scorer failed", "factor", e.key, "category", scoreErr.Category, "error", scoreErr)
		return failedFactor(e.key, err)
	}
	fs.Score = analysis.ClampScore(fs.Score)
	fs.Confidence = analysis.ClampConfidence(fs.Confidence)
	return fs
}

func failedFactor(key string, err error) types.FactorScore {
	return types.FactorScore{
		Score:       failedScore,
		Confidence:  failedConfidence,
		Explanation: fmt.Sprintf("%s could not be scored: %v", key, err),
		Details:     map[string]interface{}{"error": err.Error()},
	}
}

// NewRegistryFromProfile registers a SignalScorer for every factor of a profile
func NewRegistryFromProfile(p *analysis.Profile) (*Registry, error) {
	r := NewRegistry()
	for key, weight := range p.Weights {
		if err := r.Register(key, weight, NewSignalScorer(key)); err != nil {
			return nil, err
		}
	}
	return r, nil
}
