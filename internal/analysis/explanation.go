package analysis

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

const maxHighlights = 2

func scoreBand(score float64) string {
	switch {
	case score >= 90:
		return "excellent"
	case score >= 75:
		return "high"
	case score >= 60:
		return "moderate"
	case score >= 40:
		return "below average"
	default:
		return "low"
	}
}

type ranked struct {
	text string
	rank int
	pos  int
}

// topRanked orders by rank, then by first appearance
func topRanked(items []ranked, n int) []string {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].rank != items[j].rank {
			return items[i].rank > items[j].rank
		}
		return items[i].pos < items[j].pos
	})
	out := make([]string, 0, n)
	for i := 0; i < len(items) && i < n; i++ {
		out = append(out, items[i].text)
	}
	return out
}

func renderExplanation(score *types.EntityTrustScore) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall trust score of %.0f/100 indicates %s trustworthiness", score.OverallScore, scoreBand(score.OverallScore))
	if len(score.FactorScores) == 0 {
		b.WriteString("; no factor data was available, so this is a neutral placeholder.")
		return b.String()
	}
	fmt.Fprintf(&b, " (confidence %.0f%%).", score.Confidence*100)

	var strengths, flags []ranked
	for _, key := range score.FactorOrder {
		fs := score.FactorScores[key]
		for _, s := range fs.Strengths {
			strengths = append(strengths, ranked{text: s.Description, rank: s.Significance.Rank(), pos: len(strengths)})
		}
		for _, f := range fs.RedFlags {
			flags = append(flags, ranked{text: f.Description, rank: f.Severity.Rank(), pos: len(flags)})
		}
	}

	if top := topRanked(strengths, maxHighlights); len(top) > 0 {
		b.WriteString(" Key strengths: " + strings.Join(top, "; ") + ".")
	}
	if top := topRanked(flags, maxHighlights); len(top) > 0 {
		b.WriteString(" Key concerns: " + strings.Join(top, "; ") + ".")
	}
	return b.String()
}
