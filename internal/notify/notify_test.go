package notify

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/cache"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/monitoring"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

type recordingNotifier struct {
	received []types.ChangeNotification
	err      error
}

func (r *recordingNotifier) Notify(_ context.Context, n types.ChangeNotification) error {
	r.received = append(r.received, n)
	return r.err
}

func sampleNotification() types.ChangeNotification {
	return types.ChangeNotification{
		EntityType: types.EntityCollection,
		EntityID:   "col-1",
		SignificantChanges: []types.ScoreChange{
			{Factor: "collection_performance", Previous: 40, Current: 70, Delta: 30, RelativeDelta: 0.75},
		},
		After: &types.EntityTrustScore{EntityType: types.EntityCollection, EntityID: "col-1", OverallScore: 70},
	}
}

func TestMultiNotifierDeliversToAll(t *testing.T) {
	metrics := monitoring.NewMetrics()
	failing := &recordingNotifier{err: fmt.Errorf("broker down")}
	ok := &recordingNotifier{}

	err := NewMultiNotifier(metrics, failing, ok).Notify(context.Background(), sampleNotification())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, failing.received, 1)
	assert.Len(t, ok.received, 1)
	assert.Equal(t, int64(1), metrics.NotificationsFailed)
}

func TestRedisNotifierDisabledIsNoop(t *testing.T) {
	n := NewRedisNotifier(cache.NewDisabledRedisClient(), "", nil)

	assert.Equal(t, "trust:changes:collection", n.Channel(types.EntityCollection))
	assert.NoError(t, n.Notify(context.Background(), sampleNotification()))
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(monitoring.NewLoggerTo(&buf, "info"))

	require.NoError(t, n.Notify(context.Background(), sampleNotification()))
	assert.Contains(t, buf.String(), `"entity":"collection:col-1"`)
}
