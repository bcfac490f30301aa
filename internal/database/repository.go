package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

// ScoreRepository persists the latest score per entity plus its history ledger
type ScoreRepository struct {
	db *DB
}

// NewScoreRepository creates a new score repository
func NewScoreRepository(db *DB) *ScoreRepository {
	return &ScoreRepository{db: db}
}

// Get returns the stored score, or nil when the entity was never scored
func (r *ScoreRepository) Get(ctx context.Context, entityType types.EntityType, entityID string) (*types.EntityTrustScore, error) {
	stmt, err := r.db.GetPreparedStatement("get_score")
	if err != nil {
		return nil, err
	}

	var payload string
	err = stmt.QueryRowContext(ctx, string(entityType), entityID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query score: %w", err)
	}

	var score types.EntityTrustScore
	if err := json.Unmarshal([]byte(payload), &score); err != nil {
		return nil, fmt.Errorf("failed to decode score: %w", err)
	}
	return &score, nil
}

// Save upserts the score and appends history points newer than the ledger's
// latest entry, in one transaction
func (r *ScoreRepository) Save(ctx context.Context, score *types.EntityTrustScore) error {
	if score == nil {
		return fmt.Errorf("score is nil")
	}

	payload, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("failed to encode score: %w", err)
	}

	upsert, err := r.db.GetPreparedStatement("upsert_score")
	if err != nil {
		return err
	}
	latest, err := r.db.GetPreparedStatement("latest_history")
	if err != nil {
		return err
	}
	insert, err := r.db.GetPreparedStatement("insert_history")
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	et := string(score.EntityType)
	_, err = tx.StmtContext(ctx, upsert).ExecContext(ctx,
		et, score.EntityID, score.OverallScore, score.Confidence, string(payload), score.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to upsert score: %w", err)
	}

	var latestNanos int64
	if err := tx.StmtContext(ctx, latest).QueryRowContext(ctx, et, score.EntityID).Scan(&latestNanos); err != nil {
		return fmt.Errorf("failed to read latest history entry: %w", err)
	}

	for _, point := range score.History {
		if point.Timestamp.UnixNano() <= latestNanos {
			continue
		}
		rec, err := NewHistoryRecord(score.EntityType, score.EntityID, point)
		if err != nil {
			return err
		}
		_, err = tx.StmtContext(ctx, insert).ExecContext(ctx,
			rec.ID, et, rec.EntityID, rec.RecordedAt.UnixNano(), rec.Score, rec.Confidence, rec.Changes)
		if err != nil {
			return fmt.Errorf("failed to insert history entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit score: %w", err)
	}
	return nil
}

// History returns the ledger for an entity, oldest first; an unscored entity
// has an empty history
func (r *ScoreRepository) History(ctx context.Context, entityType types.EntityType, entityID string) ([]types.ScoreHistoryPoint, error) {
	stmt, err := r.db.GetPreparedStatement("get_history")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, string(entityType), entityID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	points := []types.ScoreHistoryPoint{}
	for rows.Next() {
		var (
			nanos   int64
			point   types.ScoreHistoryPoint
			changes string
		)
		if err := rows.Scan(&nanos, &point.Score, &point.Confidence, &changes); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		if err := json.Unmarshal([]byte(changes), &point.SignificantChanges); err != nil {
			return nil, fmt.Errorf("failed to decode history changes: %w", err)
		}
		point.Timestamp = time.Unix(0, nanos).UTC()
		points = append(points, point)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return points, nil
}

// SnapshotRepository stores the raw inputs that recomputes read
type SnapshotRepository struct {
	db *DB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Put replaces the raw input of an entity
func (r *SnapshotRepository) Put(ctx context.Context, entityType types.EntityType, entityID string, raw types.RawEntityInput) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	stmt, err := r.db.GetPreparedStatement("upsert_snapshot")
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, string(entityType), entityID, string(data), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// FetchLatest returns the stored raw input; found is false when none exists
func (r *SnapshotRepository) FetchLatest(ctx context.Context, entityType types.EntityType, entityID string) (types.RawEntityInput, bool, error) {
	stmt, err := r.db.GetPreparedStatement("get_snapshot")
	if err != nil {
		return nil, false, err
	}

	var data string
	err = stmt.QueryRowContext(ctx, string(entityType), entityID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to query snapshot: %w", err)
	}

	var raw types.RawEntityInput
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return nil, false, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return raw, true, nil
}

// DeadLetterRepository records events the processor gave up on
type DeadLetterRepository struct {
	db *DB
}

// NewDeadLetterRepository creates a new dead-letter repository
func NewDeadLetterRepository(db *DB) *DeadLetterRepository {
	return &DeadLetterRepository{db: db}
}

// Record stores a dropped event with its final error
func (r *DeadLetterRepository) Record(ctx context.Context, event types.UpdateEvent, cause error) error {
	dl := NewDeadLetter(event, cause)
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	stmt, err := r.db.GetPreparedStatement("insert_dead_letter")
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx, dl.ID, dl.EventID, dl.EventType, string(dl.EntityType), dl.EntityID,
		string(payload), dl.Error, dl.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record dead letter: %w", err)
	}
	return nil
}

// List returns the most recent dead letters, newest first
func (r *DeadLetterRepository) List(ctx context.Context, limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 100
	}

	stmt, err := r.db.GetPreparedStatement("list_dead_letters")
	if err != nil {
		return nil, err
	}

	rows, err := stmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var (
			dl         DeadLetter
			entityType string
			payload    string
			nanos      int64
		)
		if err := rows.Scan(&dl.ID, &dl.EventID, &dl.EventType, &entityType, &dl.EntityID, &payload, &dl.Error, &nanos); err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &dl.Event); err != nil {
			return nil, fmt.Errorf("failed to decode dead letter event: %w", err)
		}
		dl.EntityType = types.EntityType(entityType)
		dl.CreatedAt = time.Unix(0, nanos).UTC()
		letters = append(letters, dl)
	}
	return letters, rows.Err()
}
