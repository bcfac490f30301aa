package api

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/database"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/errors"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/events"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/leaderboard"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/middleware"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/monitoring"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/ratelimit"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/security"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/trust"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/update"
)

// ScoreService is the part of trust.Service the HTTP layer uses
type ScoreService interface {
	GetScore(ctx context.Context, entityType types.EntityType, entityID string) (*types.EntityTrustScore, error)
	GetHistory(ctx context.Context, entityType types.EntityType, entityID string) ([]types.ScoreHistoryPoint, error)
	SubmitEvent(event types.UpdateEvent) error
	GetProcessingStats() events.Stats
	PutEntityData(ctx context.Context, entityType types.EntityType, entityID string, raw types.RawEntityInput) error
	EntityStatus(entityType types.EntityType, entityID string) (update.EntityStatus, bool)
	DeadLetters(ctx context.Context, limit int) ([]database.DeadLetter, error)
	Leaderboard(ctx context.Context, q leaderboard.Query) (*leaderboard.LeaderboardResponse, error)
	EntityRank(ctx context.Context, entityType types.EntityType, entityID string) (*leaderboard.LeaderboardEntry, error)
	Health() trust.HealthReport
}

// Dependencies are what the router needs; Limiter may be nil to disable admission limits
type Dependencies struct {
	Service     ScoreService
	Limiter     *ratelimit.RateLimiter
	Metrics     *monitoring.Metrics
	Logger      *monitoring.Logger
	CORSOrigins []string
}

// NewRouter builds the gin engine with middleware and routes
func NewRouter(deps Dependencies) *gin.Engine {
	r := gin.New()

	compression := middleware.NewCompressionMiddleware(middleware.DefaultCompressionConfig())

	r.Use(monitoring.MonitoringMiddleware(deps.Metrics, deps.Logger))
	r.Use(compression.Handler())
	r.Use(errors.ErrorHandler())
	r.Use(errors.RecoveryHandler())
	r.Use(cors.New(corsConfig(deps.CORSOrigins)))

	sm := security.NewSecurityMiddleware(security.DefaultSecurityConfig())
	r.Use(sm.SecurityHeaders, sm.RequestTimeout)

	h := &handlers{service: deps.Service, metrics: deps.Metrics, compression: compression}

	r.GET("/health", h.health)

	v1 := r.Group("/v1")
	v1.Use(sm.ValidateContentType, sm.LimitBody, sm.ValidateEntityParams)
	{
		v1.GET("/scores/:type/:id", h.getScore)
		v1.GET("/scores/:type/:id/history", h.getHistory)
		v1.GET("/entities/:type/:id/status", h.getStatus)
		v1.GET("/entities/:type/:id/rank", h.getRank)
		v1.PUT("/entities/:type/:id/data", h.putEntityData)
		v1.GET("/stats", h.stats)
		v1.GET("/dead-letters", h.deadLetters)
		v1.GET("/leaderboard/:type", h.getLeaderboard)

		if deps.Limiter != nil {
			v1.POST("/events", deps.Limiter.ProducerRateLimitMiddleware(), h.submitEvent)
		} else {
			v1.POST("/events", h.submitEvent)
		}
	}

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
