package analysis

import "math"

func clip(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// ClampScore bounds a score to [0,100]; NaN maps to 0.
func ClampScore(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return clip(x, 0, 100)
}

// ClampConfidence bounds a confidence to [0,1]; NaN maps to 0.
func ClampConfidence(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return clip(x, 0, 1)
}
