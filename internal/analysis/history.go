package analysis

import (
	"math"
	"sort"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

const (
	significantAbsDelta     = 10.0
	significantRelDelta     = 0.20
	significantOverallDelta = 5.0
)

// DetectSignificantChanges compares factors present in both scores. A factor is
// significant when it moved at least 10 points or 20% of its previous value.
// An overall move of 5 points or more is reported under the "overall" key.
func DetectSignificantChanges(previous, current *types.EntityTrustScore) []types.ScoreChange {
	if previous == nil || current == nil {
		return nil
	}

	keys := make([]string, 0, len(current.FactorScores))
	for key := range current.FactorScores {
		if _, ok := previous.FactorScores[key]; ok {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	changes := make([]types.ScoreChange, 0)
	for _, key := range keys {
		prev := previous.FactorScores[key].Score
		cur := current.FactorScores[key].Score
		change := newChange(key, prev, cur)
		if math.Abs(change.Delta) >= significantAbsDelta || change.RelativeDelta >= significantRelDelta {
			changes = append(changes, change)
		}
	}

	overall := newChange(OverallKey, previous.OverallScore, current.OverallScore)
	if math.Abs(overall.Delta) >= significantOverallDelta {
		changes = append(changes, overall)
	}

	return changes
}

func newChange(factor string, prev, cur float64) types.ScoreChange {
	delta := cur - prev
	rel := 0.0
	switch {
	case prev != 0:
		rel = math.Abs(delta) / math.Abs(prev)
	case delta != 0:
		rel = 1
	}
	return types.ScoreChange{
		Factor:        factor,
		Previous:      prev,
		Current:       cur,
		Delta:         delta,
		RelativeDelta: rel,
	}
}

// appendHistory copies the previous history and appends a point when anything
// significant moved. Timestamps never go backwards.
func appendHistory(previous, current *types.EntityTrustScore) []types.ScoreHistoryPoint {
	history := make([]types.ScoreHistoryPoint, len(previous.History), len(previous.History)+1)
	copy(history, previous.History)

	changes := DetectSignificantChanges(previous, current)
	if len(changes) == 0 {
		return history
	}

	ts := current.Timestamp
	if n := len(history); n > 0 && ts.Before(history[n-1].Timestamp) {
		ts = history[n-1].Timestamp
	}

	return append(history, types.ScoreHistoryPoint{
		Timestamp:          ts,
		Score:              current.OverallScore,
		Confidence:         current.Confidence,
		SignificantChanges: changes,
	})
}
