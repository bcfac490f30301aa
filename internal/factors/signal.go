package factors

import (
	"context"
	"fmt"
	"strconv"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

// SignalScorer reads a factor score that an upstream system already computed.
// It expects raw["signals"][key] to be an object with "score", "confidence" and
// optional "explanation", "details", "red_flags" and "strengths".
type SignalScorer struct {
	key string
}

// NewSignalScorer creates a pass-through scorer for a factor key
func NewSignalScorer(key string) *SignalScorer {
	return &SignalScorer{key: key}
}

// Score extracts the precomputed signal. A missing signal is not an error: it
// yields a neutral, low-confidence score with an empty details bag.
func (s *SignalScorer) Score(_ context.Context, raw types.RawEntityInput) (types.FactorScore, error) {
	signals, _ := raw["signals"].(map[string]interface{})
	sig, ok := signals[s.key].(map[string]interface{})
	if !ok {
		return types.FactorScore{
			Score:       50,
			Confidence:  0.2,
			Explanation: fmt.Sprintf("No %s signal available", s.key),
		}, nil
	}

	score, err := toFloat(sig["score"])
	if err != nil {
		return types.FactorScore{}, fmt.Errorf("invalid %s score: %w", s.key, err)
	}
	conf, err := toFloat(sig["confidence"])
	if err != nil {
		return types.FactorScore{}, fmt.Errorf("invalid %s confidence: %w", s.key, err)
	}

	fs := types.FactorScore{
		Score:      score,
		Confidence: conf,
	}
	fs.Explanation, _ = sig["explanation"].(string)
	fs.Details, _ = sig["details"].(map[string]interface{})
	fs.RedFlags = parseRedFlags(sig["red_flags"])
	fs.Strengths = parseStrengths(sig["strengths"])
	return fs, nil
}

func toFloat(v interface{}) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	case nil:
		return 0, fmt.Errorf("value missing")
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}

func parseRedFlags(v interface{}) []types.RedFlag {
	items, _ := v.([]interface{})
	flags := make([]types.RedFlag, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		sev, _ := m["severity"].(string)
		desc, _ := m["description"].(string)
		ev, _ := m["evidence"].(string)
		flags = append(flags, types.RedFlag{Severity: types.Level(sev), Description: desc, Evidence: ev})
	}
	return flags
}

func parseStrengths(v interface{}) []types.Strength {
	items, _ := v.([]interface{})
	strengths := make([]types.Strength, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		sig, _ := m["significance"].(string)
		desc, _ := m["description"].(string)
		ev, _ := m["evidence"].(string)
		strengths = append(strengths, types.Strength{Significance: types.Level(sig), Description: desc, Evidence: ev})
	}
	return strengths
}
