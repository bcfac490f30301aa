package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

const pruneEvery = 1024

// Deduplicator collapses repeated deliveries of the same event. Delivery is
// at-least-once, so a producer may send an event twice; an event is a duplicate
// when its ID, or its (type, entity, timestamp) fingerprint, was admitted within
// the window.
type Deduplicator struct {
	mu      sync.Mutex
	window  time.Duration
	seen    map[string]time.Time
	inserts int
	now     func() time.Time
}

// NewDeduplicator creates a deduplicator; a zero window disables it
func NewDeduplicator(window time.Duration) *Deduplicator {
	return &Deduplicator{
		window: window,
		seen:   make(map[string]time.Time),
		now:    time.Now,
	}
}

func keysFor(event types.UpdateEvent) []string {
	keys := make([]string, 0, 2)
	if event.ID != "" {
		keys = append(keys, "id:"+event.ID)
	}
	if !event.Timestamp.IsZero() {
		keys = append(keys, fmt.Sprintf("fp:%s|%s|%d", event.EventType, event.Key(), event.Timestamp.UnixNano()))
	}
	return keys
}

// Admit records the event and reports whether it is new. The check and the
// record happen under one lock, so concurrent redeliveries admit only once.
func (d *Deduplicator) Admit(event types.UpdateEvent) bool {
	if d.window <= 0 {
		return true
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	keys := keysFor(event)
	for _, k := range keys {
		if at, ok := d.seen[k]; ok && now.Sub(at) < d.window {
			return false
		}
	}
	for _, k := range keys {
		d.seen[k] = now
	}

	d.inserts++
	if d.inserts%pruneEvery == 0 {
		for k, at := range d.seen {
			if now.Sub(at) >= d.window {
				delete(d.seen, k)
			}
		}
	}
	return true
}

// Forget releases an admitted event, e.g. when the queue refused it
func (d *Deduplicator) Forget(event types.UpdateEvent) {
	if d.window <= 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, k := range keysFor(event) {
		delete(d.seen, k)
	}
}

// Size returns the number of remembered keys
func (d *Deduplicator) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
