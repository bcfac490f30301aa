package analysis

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

const (
	// DefaultMinSampleSize is the factor count below which intervals are doubled
	DefaultMinSampleSize = 5

	// OverallKey is the interval key for the composite score
	OverallKey = "overall"

	intervalScale         = 20.0
	lowConfidenceCutoff   = 0.7
	qualityCutoff         = 0.5
	insufficientDataRatio = 0.5
	maxExplainedFactors   = 3
	recommendCutoff       = 0.9
)

// ConfidenceEngine derives completeness, intervals and plain-language limitations
// from factor scores. All methods are pure and never fail.
//
// Intervals are a heuristic: half-width = 20 * (1 - confidence) points, doubled when
// fewer than MinSampleSize factors contributed, clamped to [0,100]. They are monotonic
// in confidence and easy to explain, but they are not statistical confidence intervals.
type ConfidenceEngine struct {
	requiredFields map[string][]string
	minSampleSize  int
}

// NewConfidenceEngine creates an engine with per-factor required-field lists
func NewConfidenceEngine(requiredFields map[string][]string, minSampleSize int) *ConfidenceEngine {
	if minSampleSize <= 0 {
		minSampleSize = DefaultMinSampleSize
	}
	return &ConfidenceEngine{
		requiredFields: requiredFields,
		minSampleSize:  minSampleSize,
	}
}

// NewConfidenceEngineFromProfile builds an engine from a scoring profile
func NewConfidenceEngineFromProfile(p *Profile) *ConfidenceEngine {
	return NewConfidenceEngine(p.RequiredFields, p.MinSampleSize)
}

// AssessCompleteness returns, per factor, the fraction of required fields present in raw
func (e *ConfidenceEngine) AssessCompleteness(raw types.RawEntityInput) map[string]float64 {
	completeness := make(map[string]float64, len(e.requiredFields))
	for factor, fields := range e.requiredFields {
		if len(raw) == 0 {
			completeness[factor] = 0
			continue
		}
		if len(fields) == 0 {
			completeness[factor] = 1
			continue
		}
		present := 0
		for _, path := range fields {
			if hasValue(raw, path) {
				present++
			}
		}
		completeness[factor] = float64(present) / float64(len(fields))
	}
	return completeness
}

// hasValue resolves a dotted path such as "creator.social.followers"
func hasValue(raw map[string]interface{}, path string) bool {
	var current interface{} = raw
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(current)
		if !ok {
			return false
		}
		current, ok = m[part]
		if !ok {
			return false
		}
	}
	switch v := current.(type) {
	case nil:
		return false
	case string:
		return v != ""
	}
	return true
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case types.RawEntityInput:
		return m, true
	}
	return nil, false
}

// ComputeIntervals returns an interval for the overall score and each factor.
// A factor with zero completeness gets the widest (doubled) band.
func (e *ConfidenceEngine) ComputeIntervals(score *types.EntityTrustScore, completeness map[string]float64) map[string]types.ConfidenceInterval {
	intervals := make(map[string]types.ConfidenceInterval, len(score.FactorScores)+1)
	small := len(score.FactorScores) < e.minSampleSize

	intervals[OverallKey] = e.interval(score.OverallScore, score.Confidence, small)
	for key, fs := range score.FactorScores {
		conf := fs.Confidence
		if c, ok := completeness[key]; ok && c == 0 {
			conf = 0
		}
		intervals[key] = e.interval(fs.Score, conf, small)
	}
	return intervals
}

func (e *ConfidenceEngine) interval(center, confidence float64, small bool) types.ConfidenceInterval {
	half := intervalScale * (1 - ClampConfidence(confidence))
	if small {
		half *= 2
	}
	return types.ConfidenceInterval{
		Lower: ClampScore(center - half),
		Upper: ClampScore(center + half),
	}
}

type limitation struct {
	factor       string
	confidence   float64
	completeness float64
	kind         string
}

const (
	kindInsufficient = "insufficient data"
	kindQuality      = "data quality concerns"
	kindModerate     = "moderate confidence"
)

// lowConfidenceFactors lists factors below the cutoff, lowest confidence first
func lowConfidenceFactors(score *types.EntityTrustScore, completeness map[string]float64) []limitation {
	var out []limitation
	for key, fs := range score.FactorScores {
		if fs.Confidence >= lowConfidenceCutoff {
			continue
		}
		c, ok := completeness[key]
		if !ok {
			c = 1
		}
		l := limitation{factor: key, confidence: fs.Confidence, completeness: c, kind: kindModerate}
		switch {
		case c < insufficientDataRatio:
			l.kind = kindInsufficient
		case fs.Confidence < qualityCutoff:
			l.kind = kindQuality
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].confidence != out[j].confidence {
			return out[i].confidence < out[j].confidence
		}
		return out[i].factor < out[j].factor
	})
	return out
}

// ExplainLimitations describes the (up to three) weakest factors
func (e *ConfidenceEngine) ExplainLimitations(score *types.EntityTrustScore, completeness map[string]float64) string {
	low := lowConfidenceFactors(score, completeness)
	if len(low) == 0 {
		return "All factors were assessed with adequate confidence."
	}
	if len(low) > maxExplainedFactors {
		low = low[:maxExplainedFactors]
	}

	parts := make([]string, 0, len(low))
	for _, l := range low {
		detail := fmt.Sprintf("%.0f%% confidence", l.confidence*100)
		if l.kind == kindInsufficient {
			detail = fmt.Sprintf("only %.0f%% of expected data available", l.completeness*100)
		}
		parts = append(parts, fmt.Sprintf("%s (%s: %s)", humanize(l.factor), l.kind, detail))
	}
	return "Confidence is limited by " + strings.Join(parts, "; ") + "."
}

// RecommendImprovements returns one instruction per low-confidence factor
func (e *ConfidenceEngine) RecommendImprovements(score *types.EntityTrustScore, completeness map[string]float64) []string {
	low := lowConfidenceFactors(score, completeness)
	recs := make([]string, 0, len(low))
	for _, l := range low {
		name := humanize(l.factor)
		switch l.kind {
		case kindInsufficient:
			recs = append(recs, fmt.Sprintf("Provide more %s data: %.0f%% of the expected fields are missing.", name, math.Round((1-l.completeness)*100)))
		case kindQuality:
			recs = append(recs, fmt.Sprintf("Verify the %s sources; the available evidence is inconsistent or unreliable.", name))
		default:
			recs = append(recs, fmt.Sprintf("Add corroborating %s signals to raise confidence above %.0f%%.", name, lowConfidenceCutoff*100))
		}
	}
	if len(recs) == 0 && score.Confidence < recommendCutoff {
		recs = append(recs, "Keep collecting transaction and market history to strengthen overall confidence.")
	}
	return recs
}

func humanize(key string) string {
	return strings.ReplaceAll(key, "_", " ")
}
