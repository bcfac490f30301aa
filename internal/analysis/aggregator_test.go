package analysis

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

func detailed(score, confidence float64) types.FactorScore {
	return types.FactorScore{
		Score:      score,
		Confidence: confidence,
		Details:    map[string]interface{}{"source": "test"},
	}
}

func twoFactorAggregator() *Aggregator {
	p := &Profile{
		EntityType: types.EntityNFT,
		Weights: map[string]float64{
			FactorOriginality:           0.6,
			FactorTransactionLegitimacy: 0.4,
		},
	}
	p.normalize()
	return NewAggregator(p)
}

func fixedClock(a *Aggregator, ts time.Time) {
	a.now = func() time.Time { return ts }
}

func TestAggregateWorkedExample(t *testing.T) {
	a := twoFactorAggregator()
	scores := map[string]types.FactorScore{
		FactorOriginality:           detailed(90, 0.9),
		FactorTransactionLegitimacy: detailed(40, 0.5),
	}

	weights := a.AdjustedWeights(scores)
	assert.InDelta(t, 0.73, weights[FactorOriginality], 0.01)
	assert.InDelta(t, 0.27, weights[FactorTransactionLegitimacy], 0.01)

	result := a.Aggregate(types.EntityNFT, "nft-1", scores, nil, nil)
	assert.InDelta(t, 77, result.OverallScore, 1)
	assert.InDelta(t, 0.7, result.Confidence, 1e-9)
	assert.Equal(t, []string{FactorOriginality, FactorTransactionLegitimacy}, result.FactorOrder)
	assert.Empty(t, result.History)
	assert.Contains(t, result.ConfidenceIntervals, OverallKey)
}

func TestAdjustedWeightsSumToOne(t *testing.T) {
	a := NewAggregator(DefaultProfile(types.EntityNFT))

	tests := []struct {
		name   string
		scores map[string]types.FactorScore
	}{
		{
			name: "full details",
			scores: map[string]types.FactorScore{
				FactorOriginality:           detailed(80, 0.9),
				FactorCreatorReputation:     detailed(60, 0.8),
				FactorMetadataConsistency:   detailed(10, 0.4),
				FactorCollectionPerformance: detailed(55, 0.7),
			},
		},
		{
			name: "mixed completeness tiers",
			scores: map[string]types.FactorScore{
				FactorOriginality:       {Score: 70, Confidence: 0.9},
				FactorCreatorReputation: {Score: 20, Confidence: 0.2},
				"unregistered":          detailed(50, 1),
			},
		},
		{
			name: "all adjusted weights zero",
			scores: map[string]types.FactorScore{
				FactorOriginality:       {Score: 70, Confidence: 0},
				FactorCreatorReputation: {Score: 20, Confidence: 0},
			},
		},
		{
			name:   "single factor",
			scores: map[string]types.FactorScore{FactorOriginality: detailed(42, 0.3)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			weights := a.AdjustedWeights(tt.scores)
			require.Len(t, weights, len(tt.scores))
			sum := 0.0
			for _, w := range weights {
				sum += w
			}
			assert.InDelta(t, 1.0, sum, 1e-9)
		})
	}
}

func TestAdjustedWeightsEqualSplitFallback(t *testing.T) {
	a := twoFactorAggregator()
	weights := a.AdjustedWeights(map[string]types.FactorScore{
		FactorOriginality:           {Score: 90, Confidence: 0},
		FactorTransactionLegitimacy: {Score: 10, Confidence: 0},
	})
	assert.InDelta(t, 0.5, weights[FactorOriginality], 1e-9)
	assert.InDelta(t, 0.5, weights[FactorTransactionLegitimacy], 1e-9)
}

func TestAggregateBounds(t *testing.T) {
	a := NewAggregator(DefaultProfile(types.EntityNFT))

	inputs := []map[string]types.FactorScore{
		{FactorOriginality: detailed(250, 3), FactorCreatorReputation: detailed(120, 1.5)},
		{FactorOriginality: detailed(-40, -1), FactorCreatorReputation: detailed(-5, 0.5)},
		{FactorOriginality: detailed(math.NaN(), math.NaN())},
		{FactorOriginality: detailed(100, 1), FactorCreatorReputation: detailed(0, 0)},
	}

	for _, scores := range inputs {
		result := a.Aggregate(types.EntityNFT, "bounded", scores, nil, nil)
		assert.GreaterOrEqual(t, result.OverallScore, 0.0)
		assert.LessOrEqual(t, result.OverallScore, 100.0)
		assert.GreaterOrEqual(t, result.Confidence, 0.0)
		assert.LessOrEqual(t, result.Confidence, 1.0)
		for key, fs := range result.FactorScores {
			assert.GreaterOrEqual(t, fs.Score, 0.0, key)
			assert.LessOrEqual(t, fs.Score, 100.0, key)
			assert.GreaterOrEqual(t, fs.Confidence, 0.0, key)
			assert.LessOrEqual(t, fs.Confidence, 1.0, key)
		}
		for key, iv := range result.ConfidenceIntervals {
			assert.LessOrEqual(t, iv.Lower, iv.Upper, key)
			assert.GreaterOrEqual(t, iv.Lower, 0.0, key)
			assert.LessOrEqual(t, iv.Upper, 100.0, key)
		}
	}
}

func TestAggregateWithoutFactorsIsNeutral(t *testing.T) {
	a := NewAggregator(DefaultProfile(types.EntityCollection))

	result := a.Aggregate(types.EntityCollection, "empty", nil, nil, nil)
	assert.Equal(t, 50.0, result.OverallScore)
	assert.Equal(t, 0.3, result.Confidence)
	assert.Contains(t, result.Explanation, "neutral placeholder")
	assert.NotNil(t, result.History)
}

func TestAggregateIdempotentWithoutChange(t *testing.T) {
	a := twoFactorAggregator()
	fixedClock(a, time.Unix(1_700_000_000, 0))
	scores := map[string]types.FactorScore{
		FactorOriginality:           detailed(90, 0.9),
		FactorTransactionLegitimacy: detailed(40, 0.5),
	}

	first := a.Aggregate(types.EntityNFT, "nft-1", scores, nil, nil)
	previous := a.Aggregate(types.EntityNFT, "nft-1", scores, nil, first)
	again := a.Aggregate(types.EntityNFT, "nft-1", scores, nil, first)

	assert.Equal(t, previous.OverallScore, again.OverallScore)
	assert.Equal(t, previous.Confidence, again.Confidence)
	assert.Equal(t, first.History, again.History)
	assert.Empty(t, again.History)
}

func TestAggregateAppendsHistoryOnSignificantChange(t *testing.T) {
	a := twoFactorAggregator()
	base := time.Unix(1_700_000_000, 0)

	fixedClock(a, base)
	first := a.Aggregate(types.EntityNFT, "nft-1", map[string]types.FactorScore{
		FactorOriginality:           detailed(90, 0.9),
		FactorTransactionLegitimacy: detailed(40, 0.5),
	}, nil, nil)

	fixedClock(a, base.Add(time.Minute))
	second := a.Aggregate(types.EntityNFT, "nft-1", map[string]types.FactorScore{
		FactorOriginality:           detailed(60, 0.9),
		FactorTransactionLegitimacy: detailed(40, 0.5),
	}, nil, first)
	require.Len(t, second.History, 1)
	assert.Equal(t, second.OverallScore, second.History[0].Score)
	assert.Equal(t, FactorOriginality, second.History[0].SignificantChanges[0].Factor)

	// A clock that steps backwards still yields non-decreasing timestamps
	fixedClock(a, base)
	third := a.Aggregate(types.EntityNFT, "nft-1", map[string]types.FactorScore{
		FactorOriginality:           detailed(95, 0.9),
		FactorTransactionLegitimacy: detailed(40, 0.5),
	}, nil, second)
	require.Len(t, third.History, 2)
	assert.Equal(t, second.History[0], third.History[0])
	assert.False(t, third.History[1].Timestamp.Before(third.History[0].Timestamp))

	// Appending must not mutate the previous score's history
	assert.Len(t, second.History, 1)
}

func TestDetectSignificantChanges(t *testing.T) {
	prev := &types.EntityTrustScore{
		OverallScore: 60,
		FactorScores: map[string]types.FactorScore{
			"a": {Score: 50},
			"b": {Score: 10},
			"c": {Score: 80},
			"d": {Score: 0},
		},
	}
	cur := &types.EntityTrustScore{
		OverallScore: 63,
		FactorScores: map[string]types.FactorScore{
			"a": {Score: 58},
			"b": {Score: 13},
			"c": {Score: 70},
			"d": {Score: 4},
			"e": {Score: 99},
		},
	}

	changes := DetectSignificantChanges(prev, cur)
	factors := make([]string, 0, len(changes))
	for _, c := range changes {
		factors = append(factors, c.Factor)
	}
	// a: 8 points and 16% is below both cutoffs; e has no previous value
	assert.Equal(t, []string{"b", "c", "d"}, factors)

	cur.OverallScore = 54
	changes = DetectSignificantChanges(prev, cur)
	last := changes[len(changes)-1]
	assert.Equal(t, OverallKey, last.Factor)
	assert.Equal(t, -6.0, last.Delta)

	assert.Nil(t, DetectSignificantChanges(nil, cur))
}

func TestExplanationHighlights(t *testing.T) {
	a := twoFactorAggregator()
	orig := detailed(95, 0.95)
	orig.Strengths = []types.Strength{
		{Significance: types.LevelLow, Description: "minor"},
		{Significance: types.LevelHigh, Description: "verified original artwork"},
	}
	tx := detailed(92, 0.9)
	tx.RedFlags = []types.RedFlag{
		{Severity: types.LevelMedium, Description: "wash trading pattern"},
		{Severity: types.LevelHigh, Description: "stolen token transfer"},
		{Severity: types.LevelLow, Description: "thin volume"},
	}

	result := a.Aggregate(types.EntityNFT, "nft-1", map[string]types.FactorScore{
		FactorOriginality:           orig,
		FactorTransactionLegitimacy: tx,
	}, nil, nil)

	assert.True(t, strings.HasPrefix(result.Explanation, "Overall trust score of 94/100 indicates excellent"))
	assert.Contains(t, result.Explanation, "Key strengths: verified original artwork; minor.")
	assert.Contains(t, result.Explanation, "Key concerns: stolen token transfer; wash trading pattern.")
	assert.NotContains(t, result.Explanation, "thin volume")
}

func TestScoreBand(t *testing.T) {
	tests := map[float64]string{
		95: "excellent",
		90: "excellent",
		80: "high",
		60: "moderate",
		45: "below average",
		10: "low",
	}
	for score, band := range tests {
		assert.Equal(t, band, scoreBand(score), "score %v", score)
	}
}
