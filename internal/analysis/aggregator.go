package analysis

import (
	"math"
	"sort"
	"time"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

const (
	neutralScore      = 50.0
	defaultConfidence = 0.3

	completenessFull     = 1.0
	completenessNoDetail = 0.7
	completenessLowConf  = 0.5
	lowConfidenceFactor  = 0.3
)

// Aggregator combines factor scores into an EntityTrustScore
type Aggregator struct {
	weights    map[string]float64
	order      []string
	confidence *ConfidenceEngine
	now        func() time.Time
}

// NewAggregator creates an aggregator for one scoring profile
func NewAggregator(p *Profile) *Aggregator {
	return &Aggregator{
		weights:    p.Weights,
		order:      p.FactorKeys(),
		confidence: NewConfidenceEngineFromProfile(p),
		now:        time.Now,
	}
}

// ConfidenceEngine exposes the engine the aggregator delegates to
func (a *Aggregator) ConfidenceEngine() *ConfidenceEngine {
	return a.confidence
}

// dataCompleteness is a three-tier heuristic on a single factor score
func dataCompleteness(fs types.FactorScore) float64 {
	switch {
	case fs.Confidence < lowConfidenceFactor:
		return completenessLowConf
	case len(fs.Details) == 0:
		return completenessNoDetail
	default:
		return completenessFull
	}
}

// AdjustedWeights scales each base weight by confidence and data completeness and
// normalizes the result to sum to 1. When every adjusted weight is zero the factors
// present share the weight equally.
func (a *Aggregator) AdjustedWeights(scores map[string]types.FactorScore) map[string]float64 {
	adjusted := make(map[string]float64, len(scores))
	if len(scores) == 0 {
		return adjusted
	}

	total := 0.0
	for key, fs := range scores {
		w := a.weights[key] * ClampConfidence(fs.Confidence) * dataCompleteness(fs)
		adjusted[key] = w
		total += w
	}

	if total <= 0 {
		equal := 1 / float64(len(scores))
		for key := range adjusted {
			adjusted[key] = equal
		}
		return adjusted
	}

	for key, w := range adjusted {
		adjusted[key] = w / total
	}
	return adjusted
}

// Aggregate produces the composite score. It never fails: missing input yields a
// neutral 50 with 0.3 confidence, which callers should read as "no information".
func (a *Aggregator) Aggregate(entityType types.EntityType, entityID string, scores map[string]types.FactorScore, raw types.RawEntityInput, previous *types.EntityTrustScore) *types.EntityTrustScore {
	clamped := make(map[string]types.FactorScore, len(scores))
	for key, fs := range scores {
		fs.Score = ClampScore(fs.Score)
		fs.Confidence = ClampConfidence(fs.Confidence)
		clamped[key] = fs
	}

	result := &types.EntityTrustScore{
		EntityID:     entityID,
		EntityType:   entityType,
		OverallScore: neutralScore,
		Confidence:   defaultConfidence,
		FactorScores: clamped,
		FactorOrder:  a.factorOrder(clamped),
		Timestamp:    a.now(),
		History:      []types.ScoreHistoryPoint{},
	}

	if len(clamped) > 0 {
		weights := a.AdjustedWeights(clamped)
		sum, confSum := 0.0, 0.0
		for key, fs := range clamped {
			sum += fs.Score * weights[key]
			confSum += fs.Confidence
		}
		result.OverallScore = ClampScore(math.Round(sum))
		result.Confidence = ClampConfidence(confSum / float64(len(clamped)))
	}

	completeness := a.confidence.AssessCompleteness(raw)
	result.ConfidenceIntervals = a.confidence.ComputeIntervals(result, completeness)
	result.Limitations = a.confidence.ExplainLimitations(result, completeness)
	result.Recommendations = a.confidence.RecommendImprovements(result, completeness)
	result.Explanation = renderExplanation(result)

	if previous != nil {
		result.History = appendHistory(previous, result)
	}

	return result
}

// factorOrder lists present factors in profile order, then any extras
func (a *Aggregator) factorOrder(scores map[string]types.FactorScore) []string {
	order := make([]string, 0, len(scores))
	seen := make(map[string]bool, len(scores))
	for _, key := range a.order {
		if _, ok := scores[key]; ok {
			order = append(order, key)
			seen[key] = true
		}
	}
	extras := make([]string, 0)
	for key := range scores {
		if !seen[key] {
			extras = append(extras, key)
		}
	}
	sort.Strings(extras)
	return append(order, extras...)
}
