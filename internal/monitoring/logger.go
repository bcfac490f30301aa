package monitoring

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

// Logger provides enhanced structured logging with context
type Logger struct {
	*slog.Logger
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(w io.Writer, level slog.Level) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.Attr{
					Key:   "timestamp",
					Value: slog.StringValue(a.Value.Time().Format(time.RFC3339)),
				}
			}
			return a
		},
	})
}

// NewLogger creates a JSON logger on stdout at the given level
func NewLogger(level string) *Logger {
	return NewLoggerTo(os.Stdout, level)
}

// NewLoggerTo creates a JSON logger writing to w
func NewLoggerTo(w io.Writer, level string) *Logger {
	return &Logger{
		Logger: slog.New(newHandler(w, ParseLevel(level))),
	}
}

// RequestLogger logs HTTP request details; entity is empty for routes without one
func (l *Logger) RequestLogger(method, route, entity, ip string, statusCode int, duration time.Duration) {
	attrs := []any{
		"method", method,
		"route", route,
		"ip", ip,
		"status_code", statusCode,
		"duration_ms", duration.Milliseconds(),
	}
	if entity != "" {
		attrs = append(attrs, "entity", entity)
	}
	l.Info("HTTP Request", attrs...)
}

// APIErrorLogger logs API errors with context
func (l *Logger) APIErrorLogger(err error, method, route, entity string, statusCode int) {
	l.Error("API Error",
		"error", err.Error(),
		"method", method,
		"route", route,
		"entity", entity,
		"status_code", statusCode,
	)
}

// EventLogger logs an ingestion outcome: accepted, duplicate or rejected
func (l *Logger) EventLogger(outcome string, event types.UpdateEvent, queueDepth int) {
	level := slog.LevelDebug
	if outcome == "rejected" {
		level = slog.LevelWarn
	}
	l.Log(context.Background(), level, "Update Event",
		"outcome", outcome,
		"event_id", event.ID,
		"event_type", event.EventType,
		"entity", event.Key(),
		"queue_depth", queueDepth,
	)
}

// NotificationLogger logs a change notification delivery
func (l *Logger) NotificationLogger(channel string, n types.ChangeNotification, err error) {
	attrs := []any{
		"channel", channel,
		"entity", types.EntityKey(n.EntityType, n.EntityID),
		"changes", len(n.SignificantChanges),
	}
	if err != nil {
		l.Warn("Change Notification Failed", append(attrs, "error", err)...)
		return
	}
	l.Info("Change Notification", attrs...)
}

// SystemLogger logs system-level events
func (l *Logger) SystemLogger(event, details string) {
	l.Info("System Event",
		"event", event,
		"details", details,
		"uptime", time.Since(startTime).String(),
	)
}

// PerformanceLogger logs performance metrics
func (l *Logger) PerformanceLogger(metric string, value float64, unit string) {
	l.Info("Performance Metric",
		"metric", metric,
		"value", value,
		"unit", unit,
	)
}

var startTime = time.Now()
