package update

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/analysis"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/errors"
	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

// recompute fetches, scores, aggregates and persists one entity. It returns the
// raw input used so dependents can be resolved; nil raw means nothing was scored.
func (e *Engine) recompute(ctx context.Context, entityType types.EntityType, entityID string) (types.RawEntityInput, error) {
	start := e.now()
	key := types.EntityKey(entityType, entityID)

	scorer, ok := e.components.Scorers[entityType]
	if !ok {
		return nil, errors.NewConfigurationError(fmt.Sprintf("no factor scorers for %s", entityType), nil)
	}
	aggregator, ok := e.components.Aggregators[entityType]
	if !ok {
		return nil, errors.NewConfigurationError(fmt.Sprintf("no aggregator for %s", entityType), nil)
	}

	raw, found, err := e.components.Fetcher.FetchLatest(ctx, entityType, entityID)
	if err != nil {
		e.record(start, false)
		return nil, errors.NewPipelineError("fetch latest data", err)
	}
	if !found {
		e.logger.Warn("No raw data for entity, skipping recompute", "entity", key, "category", errors.CategoryInput)
		e.record(start, true)
		return nil, nil
	}

	scores := scorer.ScoreAll(ctx, raw)

	previous, err := e.components.Store.Get(ctx, entityType, entityID)
	if err != nil {
		e.record(start, false)
		return nil, errors.NewPipelineError("load previous score", err)
	}

	result := aggregator.Aggregate(entityType, entityID, scores, raw, previous)

	// Never persist a result computed under a cancelled context
	if err := ctx.Err(); err != nil {
		e.record(start, false)
		return nil, err
	}

	if err := e.components.Store.Save(ctx, result); err != nil {
		e.record(start, false)
		return nil, errors.NewPipelineError("persist score", err)
	}

	changes := analysis.DetectSignificantChanges(previous, result)
	duration := e.now().Sub(start)
	e.logger.Info("Recompute completed",
		"entity", key,
		"score", result.OverallScore,
		"confidence", result.Confidence,
		"factors", len(result.FactorScores),
		"significant_changes", len(changes),
		"duration_ms", duration.Milliseconds())
	e.record(start, true)

	if len(changes) > 0 && e.components.Notifier != nil {
		n := types.ChangeNotification{
			EntityType:         entityType,
			EntityID:           entityID,
			SignificantChanges: changes,
			Before:             previous,
			After:              result,
		}
		if err := e.components.Notifier.Notify(ctx, n); err != nil {
			e.logger.Warn("Change notification failed", "entity", key, "error", err)
		}
	}

	return raw, nil
}

func (e *Engine) record(start time.Time, success bool) {
	if e.metrics != nil {
		e.metrics.RecordRecompute(e.now().Sub(start), success)
	}
}
