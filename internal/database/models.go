package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

// HistoryRecord is one row of the score_history ledger
type HistoryRecord struct {
	ID         string
	EntityType types.EntityType
	EntityID   string
	RecordedAt time.Time
	Score      float64
	Confidence float64
	Changes    string
}

// DeadLetter is an event that failed after every retry
type DeadLetter struct {
	ID         string            `json:"id"`
	EventID    string            `json:"event_id"`
	EventType  string            `json:"event_type"`
	EntityType types.EntityType  `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Event      types.UpdateEvent `json:"event"`
	Error      string            `json:"error"`
	CreatedAt  time.Time         `json:"created_at"`
}

// NewHistoryRecord converts a history point into a ledger row with a generated ID
func NewHistoryRecord(entityType types.EntityType, entityID string, point types.ScoreHistoryPoint) (*HistoryRecord, error) {
	changes := point.SignificantChanges
	if changes == nil {
		changes = []types.ScoreChange{}
	}
	data, err := json.Marshal(changes)
	if err != nil {
		return nil, fmt.Errorf("failed to encode history changes: %w", err)
	}

	return &HistoryRecord{
		ID:         uuid.New().String(),
		EntityType: entityType,
		EntityID:   entityID,
		RecordedAt: point.Timestamp,
		Score:      point.Score,
		Confidence: point.Confidence,
		Changes:    string(data),
	}, nil
}

// NewDeadLetter creates a dead-letter record for a dropped event
func NewDeadLetter(event types.UpdateEvent, cause error) *DeadLetter {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return &DeadLetter{
		ID:         uuid.New().String(),
		EventID:    event.ID,
		EventType:  event.EventType,
		EntityType: event.EntityType,
		EntityID:   event.EntityID,
		Event:      event,
		Error:      msg,
		CreatedAt:  time.Now(),
	}
}
