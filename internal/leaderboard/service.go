package leaderboard

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/database"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

// Order selects the end of the ranking
type Order string

const (
	// OrderTop ranks the most trusted entities first
	OrderTop Order = "top"
	// OrderBottom ranks the least trusted entities first
	OrderBottom Order = "bottom"
)

// ErrInvalidQuery is wrapped by every query validation failure
var ErrInvalidQuery = errors.New("invalid leaderboard query")

const (
	defaultLimit = 50
	maxLimit     = 100
)

// Query describes one leaderboard request
type Query struct {
	EntityType    types.EntityType
	Order         Order
	Limit         int
	MinConfidence float64
}

// LeaderboardEntry represents one ranked entity
type LeaderboardEntry struct {
	EntityType   types.EntityType `json:"entity_type"`
	EntityID     string           `json:"entity_id"`
	Rank         int              `json:"rank"`
	OverallScore float64          `json:"overall_score"`
	Confidence   float64          `json:"confidence"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// LeaderboardResponse represents the response for leaderboard queries
type LeaderboardResponse struct {
	EntityType    types.EntityType   `json:"entity_type"`
	Order         Order              `json:"order"`
	MinConfidence float64            `json:"min_confidence"`
	Entries       []LeaderboardEntry `json:"entries"`
	Total         int                `json:"total"`
	GeneratedAt   time.Time          `json:"generated_at"`
}

// Service ranks scored entities of one type by overall score. Rankings are
// read from the latest stored scores and cached until InvalidateCache or the
// cache TTL.
type Service struct {
	db    *database.DB
	cache *LeaderboardCache
}

// NewService creates a new leaderboard service
func NewService(db *database.DB) *Service {
	return &Service{
		db:    db,
		cache: NewLeaderboardCache(time.Minute),
	}
}

// NewServiceWithCache creates a new leaderboard service with custom cache
func NewServiceWithCache(db *database.DB, cache *LeaderboardCache) *Service {
	return &Service{
		db:    db,
		cache: cache,
	}
}

func (q *Query) normalize() error {
	if !q.EntityType.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidQuery, q.EntityType)
	}
	switch q.Order {
	case "":
		q.Order = OrderTop
	case OrderTop, OrderBottom:
	default:
		return fmt.Errorf("%w: order must be top or bottom, got %q", ErrInvalidQuery, q.Order)
	}
	if q.Limit <= 0 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if q.MinConfidence < 0 || q.MinConfidence > 1 {
		return fmt.Errorf("%w: min confidence must be within [0,1], got %g", ErrInvalidQuery, q.MinConfidence)
	}
	return nil
}

// GetLeaderboard returns the ranked entities of one type
func (s *Service) GetLeaderboard(ctx context.Context, q Query) (*LeaderboardResponse, error) {
	if err := q.normalize(); err != nil {
		return nil, err
	}

	// Try cache first
	if cachedResponse, found := s.cache.GetLeaderboard(q); found {
		return cachedResponse, nil
	}

	direction := "DESC"
	if q.Order == OrderBottom {
		direction = "ASC"
	}
	query := fmt.Sprintf(`
		SELECT entity_id, overall_score, confidence, updated_at
		FROM entity_scores
		WHERE entity_type = ? AND confidence >= ?
		ORDER BY overall_score %s, confidence DESC, entity_id ASC
		LIMIT ?
	`, direction)

	rows, err := s.db.QueryContext(ctx, query, string(q.EntityType), q.MinConfidence, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	entries := make([]LeaderboardEntry, 0, q.Limit)
	for rows.Next() {
		entry := LeaderboardEntry{EntityType: q.EntityType, Rank: len(entries) + 1}
		var updatedNanos int64
		if err := rows.Scan(&entry.EntityID, &entry.OverallScore, &entry.Confidence, &updatedNanos); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard entry: %w", err)
		}
		entry.UpdatedAt = time.Unix(0, updatedNanos).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read leaderboard: %w", err)
	}

	response := &LeaderboardResponse{
		EntityType:    q.EntityType,
		Order:         q.Order,
		MinConfidence: q.MinConfidence,
		Entries:       entries,
		Total:         len(entries),
		GeneratedAt:   time.Now().UTC(),
	}

	// Cache the response for future requests
	s.cache.SetLeaderboard(q, response)

	return response, nil
}

// GetEntityRank returns the entity's position among all scored entities of its
// type, highest score first. It returns nil when the entity has no score.
func (s *Service) GetEntityRank(ctx context.Context, entityType types.EntityType, entityID string) (*LeaderboardEntry, error) {
	if cached, found := s.cache.GetEntityRank(entityType, entityID); found {
		return cached, nil
	}

	entry := LeaderboardEntry{EntityType: entityType, EntityID: entityID}
	var updatedNanos int64
	err := s.db.QueryRowContext(ctx, `
		SELECT overall_score, confidence, updated_at
		FROM entity_scores
		WHERE entity_type = ? AND entity_id = ?
	`, string(entityType), entityID).Scan(&entry.OverallScore, &entry.Confidence, &updatedNanos)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query entity score: %w", err)
	}
	entry.UpdatedAt = time.Unix(0, updatedNanos).UTC()

	var higher int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entity_scores
		WHERE entity_type = ? AND overall_score > ?
	`, string(entityType), entry.OverallScore).Scan(&higher)
	if err != nil {
		return nil, fmt.Errorf("failed to compute rank: %w", err)
	}
	entry.Rank = higher + 1

	s.cache.SetEntityRank(&entry)
	return &entry, nil
}

// GetCacheStats returns cache statistics
func (s *Service) GetCacheStats() map[string]interface{} {
	return s.cache.GetStats()
}

// InvalidateCache drops cached rankings
func (s *Service) InvalidateCache() {
	s.cache.InvalidateAll()
}

// Close releases the cache
func (s *Service) Close() {
	s.cache.Close()
}
