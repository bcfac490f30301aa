package types

import (
	"fmt"
	"time"
)

// EntityType identifies the kind of entity a trust score belongs to
type EntityType string

const (
	EntityNFT        EntityType = "nft"
	EntityCreator    EntityType = "creator"
	EntityCollection EntityType = "collection"
)

// Valid reports whether t is one of the known entity types
func (t EntityType) Valid() bool {
	switch t {
	case EntityNFT, EntityCreator, EntityCollection:
		return true
	}
	return false
}

// EntityKey builds the in-memory key for an entity, "type:id"
func EntityKey(entityType EntityType, entityID string) string {
	return fmt.Sprintf("%s:%s", entityType, entityID)
}

// Level is the severity of a red flag or the significance of a strength
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// Rank orders levels; unknown levels rank lowest
func (l Level) Rank() int {
	switch l {
	case LevelHigh:
		return 3
	case LevelMedium:
		return 2
	case LevelLow:
		return 1
	}
	return 0
}

// RedFlag is a negative finding reported by a factor scorer
type RedFlag struct {
	Severity    Level  `json:"severity"`
	Description string `json:"description"`
	Evidence    string `json:"evidence,omitempty"`
}

// Strength is a positive finding reported by a factor scorer
type Strength struct {
	Significance Level  `json:"significance"`
	Description  string `json:"description"`
	Evidence     string `json:"evidence,omitempty"`
}

// FactorScore is the output of one factor scorer for one entity
type FactorScore struct {
	Score       float64                `json:"score"`
	Confidence  float64                `json:"confidence"`
	Explanation string                 `json:"explanation"`
	Details     map[string]interface{} `json:"details,omitempty"`
	RedFlags    []RedFlag              `json:"red_flags,omitempty"`
	Strengths   []Strength             `json:"strengths,omitempty"`
}

// ConfidenceInterval is a [Lower, Upper] band on the 0-100 score scale
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// ScoreChange describes a significant move of one factor (or "overall")
type ScoreChange struct {
	Factor        string  `json:"factor"`
	Previous      float64 `json:"previous"`
	Current       float64 `json:"current"`
	Delta         float64 `json:"delta"`
	RelativeDelta float64 `json:"relative_delta"`
}

// ScoreHistoryPoint is one append-only entry in an entity's score history
type ScoreHistoryPoint struct {
	Timestamp          time.Time     `json:"timestamp"`
	Score              float64       `json:"score"`
	Confidence         float64       `json:"confidence"`
	SignificantChanges []ScoreChange `json:"significant_changes"`
}

// EntityTrustScore is the composite score for an NFT, creator or collection.
// A new instance supersedes the previous one; instances are not mutated.
type EntityTrustScore struct {
	EntityID            string                        `json:"entity_id"`
	EntityType          EntityType                    `json:"entity_type"`
	OverallScore        float64                       `json:"overall_score"`
	Confidence          float64                       `json:"confidence"`
	FactorScores        map[string]FactorScore        `json:"factor_scores"`
	FactorOrder         []string                      `json:"factor_order"`
	Explanation         string                        `json:"explanation"`
	ConfidenceIntervals map[string]ConfidenceInterval `json:"confidence_intervals"`
	Limitations         string                        `json:"limitations,omitempty"`
	Recommendations     []string                      `json:"recommendations,omitempty"`
	Timestamp           time.Time                     `json:"timestamp"`
	History             []ScoreHistoryPoint           `json:"history"`
}

// RawEntityInput is the latest raw data fetched for an entity
type RawEntityInput map[string]interface{}

// UpdateEvent is a change signal emitted by an external producer
type UpdateEvent struct {
	ID         string                 `json:"id,omitempty"`
	EventType  string                 `json:"event_type"`
	EntityID   string                 `json:"entity_id"`
	EntityType EntityType             `json:"entity_type"`
	Timestamp  time.Time              `json:"timestamp"`
	Data       map[string]interface{} `json:"data,omitempty"`
	// Priority overrides the processor's event-type table when non-zero
	Priority int `json:"priority,omitempty"`
}

// Key returns the entity key the event targets
func (e UpdateEvent) Key() string {
	return EntityKey(e.EntityType, e.EntityID)
}

// Validate checks the fields every event must carry
func (e UpdateEvent) Validate() error {
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	if !e.EntityType.Valid() {
		return fmt.Errorf("unknown entity_type %q", e.EntityType)
	}
	return nil
}

// ChangeNotification is emitted when a recompute produced significant changes
type ChangeNotification struct {
	EntityType         EntityType        `json:"entity_type"`
	EntityID           string            `json:"entity_id"`
	SignificantChanges []ScoreChange     `json:"significant_changes"`
	Before             *EntityTrustScore `json:"before,omitempty"`
	After              *EntityTrustScore `json:"after"`
}
