package factors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/analysis"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

func constant(score, confidence float64) Scorer {
	return ScorerFunc(func(context.Context, types.RawEntityInput) (types.FactorScore, error) {
		return types.FactorScore{Score: score, Confidence: confidence, Explanation: "constant"}, nil
	})
}

func TestRegisterValidates(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register("", 1, constant(1, 1)))
	assert.Error(t, r.Register("originality", 1, nil))
	assert.Error(t, r.Register("originality", -0.5, constant(1, 1)))

	require.NoError(t, r.Register("originality", 0.6, constant(1, 1)))
	require.NoError(t, r.Register("creator_reputation", 0.4, constant(1, 1)))
	require.NoError(t, r.Register("originality", 0.7, constant(1, 1)))

	assert.Equal(t, []string{"creator_reputation", "originality"}, r.Keys())
	assert.Equal(t, 0.7, r.Weights()["originality"])
}

func TestScoreAllIsolatesFailures(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("healthy", 0.4, constant(82, 0.9)))
	require.NoError(t, r.Register("erroring", 0.3, ScorerFunc(func(context.Context, types.RawEntityInput) (types.FactorScore, error) {
		return types.FactorScore{Score: 99}, errors.New("marketplace API returned 503")
	})))
	require.NoError(t, r.Register("panicking", 0.3, ScorerFunc(func(context.Context, types.RawEntityInput) (types.FactorScore, error) {
		var m map[string]int
		m["boom"]++
		return types.FactorScore{}, nil
	})))

	scores := r.ScoreAll(context.Background(), types.RawEntityInput{})
	require.Len(t, scores, 3)

	assert.Equal(t, 82.0, scores["healthy"].Score)
	assert.Equal(t, 0.9, scores["healthy"].Confidence)

	for _, key := range []string{"erroring", "panicking"} {
		fs := scores[key]
		assert.Equal(t, 0.0, fs.Score, key)
		assert.Equal(t, 0.1, fs.Confidence, key)
		assert.Contains(t, fs.Explanation, key+" could not be scored", key)
		assert.Contains(t, fs.Details, "error", key)
	}
	assert.Contains(t, scores["erroring"].Explanation, "503")
}

func TestScoreAllClampsOutOfRange(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("wild", 1, constant(140, -2)))

	fs := r.ScoreAll(context.Background(), nil)["wild"]
	assert.Equal(t, 100.0, fs.Score)
	assert.Equal(t, 0.0, fs.Confidence)
}

func TestSignalScorer(t *testing.T) {
	raw := types.RawEntityInput{
		"signals": map[string]interface{}{
			"originality": map[string]interface{}{
				"score":       91.5,
				"confidence":  "0.8",
				"explanation": "No near-duplicate images found",
				"details":     map[string]interface{}{"matches": 0},
				"red_flags": []interface{}{
					map[string]interface{}{"severity": "medium", "description": "Metadata changed after mint"},
					"ignored",
				},
				"strengths": []interface{}{
					map[string]interface{}{"significance": "high", "description": "Verified creator signature", "evidence": "sig:0x1"},
				},
			},
			"broken": map[string]interface{}{"score": true, "confidence": 0.5},
		},
	}
	ctx := context.Background()

	fs, err := NewSignalScorer("originality").Score(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, 91.5, fs.Score)
	assert.Equal(t, 0.8, fs.Confidence)
	assert.Equal(t, "No near-duplicate images found", fs.Explanation)
	assert.Equal(t, 0, fs.Details["matches"])
	require.Len(t, fs.RedFlags, 1)
	assert.Equal(t, types.LevelMedium, fs.RedFlags[0].Severity)
	require.Len(t, fs.Strengths, 1)
	assert.Equal(t, "sig:0x1", fs.Strengths[0].Evidence)

	missing, err := NewSignalScorer("social_signals").Score(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, 50.0, missing.Score)
	assert.Equal(t, 0.2, missing.Confidence)
	assert.Empty(t, missing.Details)

	_, err = NewSignalScorer("broken").Score(ctx, raw)
	assert.Error(t, err)
}

func TestRegistryFromProfile(t *testing.T) {
	profile := analysis.DefaultProfile(types.EntityCollection)
	r, err := NewRegistryFromProfile(profile)
	require.NoError(t, err)

	assert.Equal(t, profile.Weights, r.Weights())

	scores := r.ScoreAll(context.Background(), types.RawEntityInput{})
	assert.Len(t, scores, len(profile.Weights))
	for key, fs := range scores {
		assert.Equal(t, 50.0, fs.Score, key)
	}
}
