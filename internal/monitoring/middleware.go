package monitoring

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

const (
	slowRequestThreshold = 2 * time.Second
	unmatchedRoute       = "unmatched"
)

// requestEntity returns the entity key addressed by a :type/:id route, or ""
func requestEntity(c *gin.Context) string {
	entityType, entityID := c.Param("type"), c.Param("id")
	if entityType == "" || entityID == "" {
		return ""
	}
	return types.EntityKey(types.EntityType(entityType), entityID)
}

// MonitoringMiddleware records request metrics per route template and logs
// each request with the entity it addressed
func MonitoringMiddleware(metrics *Metrics, logger *Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		metrics.IncrementRequest()

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()
		method := c.Request.Method
		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		entity := requestEntity(c)

		metrics.RecordResponseTime(duration)
		metrics.RecordRequestByStatus(statusCode)
		metrics.RecordRequestByRoute(method, route)

		// 429 is admission backpressure, not a service error
		if statusCode >= 400 && statusCode != http.StatusTooManyRequests {
			metrics.IncrementError()
		}

		logger.RequestLogger(method, route, entity, c.ClientIP(), statusCode, duration)
		for _, err := range c.Errors {
			logger.APIErrorLogger(err.Err, method, route, entity, statusCode)
		}

		if duration > slowRequestThreshold {
			logger.PerformanceLogger("slow_request:"+route, duration.Seconds(), "seconds")
		}
		if statusCode >= http.StatusInternalServerError {
			logger.SystemLogger("server_error", fmt.Sprintf("status %d for %s %s (%s)", statusCode, method, route, entity))
		}
	}
}
