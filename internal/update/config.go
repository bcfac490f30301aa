package update

import (
	"time"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

const (
	// AlwaysTriggerThreshold fires regardless of cool-down
	AlwaysTriggerThreshold = 0.9
	// CooldownBypassThreshold lets an event ignore the minimum interval
	CooldownBypassThreshold = 0.8
)

// EntityConfig controls when an entity type is recomputed
type EntityConfig struct {
	// Thresholds maps event type to importance in [0,1]
	Thresholds       map[string]float64 `json:"thresholds"`
	DefaultThreshold float64            `json:"default_threshold"`
	MinInterval      time.Duration      `json:"min_interval"`
	MaxPending       int                `json:"max_pending"`
}

// Threshold returns the configured importance of an event type
func (c EntityConfig) Threshold(eventType string) float64 {
	if t, ok := c.Thresholds[eventType]; ok {
		return t
	}
	return c.DefaultThreshold
}

// DefaultConfigs returns the built-in per-entity-type update configuration
func DefaultConfigs() map[types.EntityType]EntityConfig {
	return map[types.EntityType]EntityConfig{
		types.EntityNFT: {
			Thresholds: map[string]float64{
				"fraud_confirmed": 1.0,
				"sale":            0.95,
				"fraud_signal":    0.85,
				"transfer":        0.6,
				"metadata_update": 0.5,
				"market_signal":   0.4,
				"price_change":    0.4,
				"social_signal":   0.3,
			},
			DefaultThreshold: 0.3,
			MinInterval:      5 * time.Minute,
			MaxPending:       10,
		},
		types.EntityCreator: {
			Thresholds: map[string]float64{
				"fraud_confirmed":     1.0,
				"verification_change": 0.9,
				"fraud_signal":        0.85,
				"nft_update":          0.5,
				"collection_update":   0.5,
				"social_signal":       0.4,
				"market_signal":       0.3,
			},
			DefaultThreshold: 0.3,
			MinInterval:      15 * time.Minute,
			MaxPending:       20,
		},
		types.EntityCollection: {
			Thresholds: map[string]float64{
				"fraud_confirmed":    1.0,
				"fraud_signal":       0.85,
				"floor_price_change": 0.6,
				"market_signal":      0.5,
				"creator_update":     0.5,
				"nft_update":         0.4,
				"social_signal":      0.3,
			},
			DefaultThreshold: 0.3,
			MinInterval:      10 * time.Minute,
			MaxPending:       25,
		},
	}
}
