package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/cache"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/monitoring"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

// Notifier delivers change notifications
type Notifier interface {
	Notify(ctx context.Context, n types.ChangeNotification) error
}

// Message is the published form of a change notification
type Message struct {
	EntityType         types.EntityType        `json:"entity_type"`
	EntityID           string                  `json:"entity_id"`
	SignificantChanges []types.ScoreChange     `json:"significant_changes"`
	Before             *types.EntityTrustScore `json:"before,omitempty"`
	After              *types.EntityTrustScore `json:"after"`
}

// NewMessage converts a notification for publishing
func NewMessage(n types.ChangeNotification) Message {
	return Message{
		EntityType:         n.EntityType,
		EntityID:           n.EntityID,
		SignificantChanges: n.SignificantChanges,
		Before:             n.Before,
		After:              n.After,
	}
}

// RedisNotifier publishes notifications on "<prefix>:<entityType>" channels
type RedisNotifier struct {
	client *cache.RedisClient
	prefix string
	logger *monitoring.Logger
}

// NewRedisNotifier creates a publisher; a disabled client makes Notify a no-op
func NewRedisNotifier(client *cache.RedisClient, prefix string, logger *monitoring.Logger) *RedisNotifier {
	if prefix == "" {
		prefix = "trust:changes"
	}
	return &RedisNotifier{client: client, prefix: prefix, logger: logger}
}

// Channel returns the channel for an entity type
func (r *RedisNotifier) Channel(entityType types.EntityType) string {
	return fmt.Sprintf("%s:%s", r.prefix, entityType)
}

// Notify publishes the notification as JSON
func (r *RedisNotifier) Notify(ctx context.Context, n types.ChangeNotification) error {
	if r.client == nil || !r.client.IsEnabled() {
		return nil
	}

	payload, err := json.Marshal(NewMessage(n))
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	channel := r.Channel(n.EntityType)
	err = r.client.GetClient().Publish(ctx, channel, payload).Err()
	if r.logger != nil {
		r.logger.NotificationLogger(channel, n, err)
	}
	if err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}

// LogNotifier writes notifications to the structured log
type LogNotifier struct {
	logger *monitoring.Logger
}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier(logger *monitoring.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs the notification
func (l *LogNotifier) Notify(_ context.Context, n types.ChangeNotification) error {
	l.logger.NotificationLogger("log", n, nil)
	return nil
}

// MultiNotifier fans a notification out to every notifier. Every notifier is
// attempted; the joined error reports the ones that failed.
type MultiNotifier struct {
	notifiers []Notifier
	metrics   *monitoring.Metrics
}

// NewMultiNotifier creates a fan-out notifier; metrics may be nil
func NewMultiNotifier(metrics *monitoring.Metrics, notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers, metrics: metrics}
}

// Notify delivers to all notifiers
func (m *MultiNotifier) Notify(ctx context.Context, n types.ChangeNotification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if m.metrics != nil {
		m.metrics.RecordNotification(err == nil)
	}
	return err
}
