package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/errors"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/events"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

const overloadBackoff = 10 * time.Millisecond

// EventSubmitter is the part of the pipeline replay drives
type EventSubmitter interface {
	SubmitEvent(event types.UpdateEvent) error
	WaitIdle(ctx context.Context) error
	GetProcessingStats() events.Stats
}

// ReplayResult summarizes a replay run
type ReplayResult struct {
	Submitted int          `json:"submitted"`
	Invalid   int          `json:"invalid"`
	Stats     events.Stats `json:"stats"`
}

// readEvents parses one JSON event per line; blank lines and #-comments are skipped
func readEvents(r io.Reader) ([]types.UpdateEvent, error) {
	var evs []types.UpdateEvent
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var ev types.UpdateEvent
		if err := json.Unmarshal([]byte(text), &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		evs = append(evs, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return evs, nil
}

// replay submits every event, waiting out a full queue instead of dropping,
// then blocks until the processor is idle
func replay(ctx context.Context, sub EventSubmitter, evs []types.UpdateEvent, timeout time.Duration) (*ReplayResult, error) {
	result := &ReplayResult{}

	for _, ev := range evs {
		for {
			err := sub.SubmitEvent(ev)
			if err == nil {
				result.Submitted++
				break
			}
			if errors.IsCategory(err, errors.CategoryValidation) {
				result.Invalid++
				break
			}
			if !errors.IsCategory(err, errors.CategoryOverload) {
				return nil, err
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(overloadBackoff):
			}
		}
	}

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := sub.WaitIdle(waitCtx); err != nil {
		return nil, fmt.Errorf("queue did not drain: %w", err)
	}

	result.Stats = sub.GetProcessingStats()
	return result, nil
}
