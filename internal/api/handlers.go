package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/errors"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/leaderboard"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/middleware"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/monitoring"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/resilience"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

type handlers struct {
	service     ScoreService
	metrics     *monitoring.Metrics
	compression *middleware.CompressionMiddleware
}

func entityParams(c *gin.Context) (types.EntityType, string, error) {
	entityType := types.EntityType(c.Param("type"))
	entityID := c.Param("id")
	if !entityType.Valid() {
		return "", "", errors.NewValidationError(fmt.Sprintf("unknown entity type %q", entityType), nil)
	}
	return entityType, entityID, nil
}

func (h *handlers) health(c *gin.Context) {
	report := h.service.Health()

	status := http.StatusOK
	if report.Level == resilience.LevelCritical {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":     report.Status,
		"timestamp":  time.Now().Format(time.RFC3339),
		"pipeline":   report,
		"processing": h.service.GetProcessingStats(),
		"metrics":    h.metrics.GetStats(),
	})
}

func (h *handlers) getScore(c *gin.Context) {
	entityType, entityID, err := entityParams(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	score, err := h.service.GetScore(c.Request.Context(), entityType, entityID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if score == nil {
		_ = c.Error(errors.NewNotFoundError(types.EntityKey(entityType, entityID)))
		return
	}

	c.JSON(http.StatusOK, score)
}

func (h *handlers) getHistory(c *gin.Context) {
	entityType, entityID, err := entityParams(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	history, err := h.service.GetHistory(c.Request.Context(), entityType, entityID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entity_type": entityType,
		"entity_id":   entityID,
		"history":     history,
	})
}

func (h *handlers) getStatus(c *gin.Context) {
	entityType, entityID, err := entityParams(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	status, tracked := h.service.EntityStatus(entityType, entityID)
	c.JSON(http.StatusOK, gin.H{
		"entity_type": entityType,
		"entity_id":   entityID,
		"tracked":     tracked,
		"status":      status,
	})
}

func (h *handlers) getRank(c *gin.Context) {
	entityType, entityID, err := entityParams(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	entry, err := h.service.EntityRank(c.Request.Context(), entityType, entityID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if entry == nil {
		_ = c.Error(errors.NewNotFoundError(types.EntityKey(entityType, entityID)))
		return
	}

	c.JSON(http.StatusOK, entry)
}

func (h *handlers) getLeaderboard(c *gin.Context) {
	q := leaderboard.Query{
		EntityType: types.EntityType(c.Param("type")),
		Order:      leaderboard.Order(c.DefaultQuery("order", string(leaderboard.OrderTop))),
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			_ = c.Error(errors.NewValidationError("limit must be an integer", err))
			return
		}
		q.Limit = limit
	}
	if confStr := c.Query("min_confidence"); confStr != "" {
		conf, err := strconv.ParseFloat(confStr, 64)
		if err != nil {
			_ = c.Error(errors.NewValidationError("min_confidence must be a number", err))
			return
		}
		q.MinConfidence = conf
	}

	resp, err := h.service.Leaderboard(c.Request.Context(), q)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *handlers) putEntityData(c *gin.Context) {
	entityType, entityID, err := entityParams(c)
	if err != nil {
		_ = c.Error(err)
		return
	}

	var raw types.RawEntityInput
	if err := c.ShouldBindJSON(&raw); err != nil {
		_ = c.Error(errors.NewValidationError("request body must be a JSON object", err))
		return
	}

	if err := h.service.PutEntityData(c.Request.Context(), entityType, entityID, raw); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "stored",
		"entity_type": entityType,
		"entity_id":   entityID,
	})
}

func (h *handlers) submitEvent(c *gin.Context) {
	var event types.UpdateEvent
	if err := c.ShouldBindJSON(&event); err != nil {
		_ = c.Error(errors.NewValidationError("invalid event body", err))
		return
	}

	if err := h.service.SubmitEvent(event); err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":      "accepted",
		"event_type":  event.EventType,
		"entity_type": event.EntityType,
		"entity_id":   event.EntityID,
	})
}

func (h *handlers) stats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"processing":       h.service.GetProcessingStats(),
		"triggers":         h.metrics.GetTriggerStats(),
		"recompute_p50_ms": h.metrics.GetPercentileRecomputeTime(50).Milliseconds(),
		"recompute_p95_ms": h.metrics.GetPercentileRecomputeTime(95).Milliseconds(),
		"compression":      h.compression.GetStats(),
		"timestamp":        time.Now().Format(time.RFC3339),
	})
}

func (h *handlers) deadLetters(c *gin.Context) {
	limit := defaultDeadLetterLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= maxDeadLetterLimit {
			limit = l
		}
	}

	letters, err := h.service.DeadLetters(c.Request.Context(), limit)
	if err != nil {
		_ = c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"dead_letters": letters,
		"count":        len(letters),
	})
}
