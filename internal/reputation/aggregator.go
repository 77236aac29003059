// Package reputation derives a user's score from the ratings they received.
// Nothing is stored; an optional cache only shortens repeated reads. The
// cache must never replace a summary with one computed over fewer ratings.
package reputation

import (
	"context"
	"log/slog"
	"math"

	"github.com/example/trip-negotiation/internal/models"
	"github.com/example/trip-negotiation/internal/observability"
	"github.com/example/trip-negotiation/internal/storage"
)

// DefaultScore is reported for users nobody has rated yet.
const DefaultScore = 5.0

type Source interface {
	RatingAggregate(ctx context.Context, rateeID string) (storage.RatingAggregate, error)
}

type Cache interface {
	Get(ctx context.Context, userID string) (models.Reputation, bool, error)
	// Set keeps whichever of rep and the cached entry has the larger count.
	Set(ctx context.Context, rep models.Reputation) error
}

type Aggregator struct {
	source Source
	cache  Cache
	logger *slog.Logger
}

// New builds an aggregator. cache may be nil.
func New(source Source, cache Cache, logger *slog.Logger) *Aggregator {
	return &Aggregator{source: source, cache: cache, logger: logger}
}

func (a *Aggregator) AverageRating(ctx context.Context, userID string) (float64, error) {
	rep, err := a.Summary(ctx, userID)
	if err != nil {
		return 0, err
	}
	return rep.Average, nil
}

func (a *Aggregator) RatingCount(ctx context.Context, userID string) (int64, error) {
	rep, err := a.Summary(ctx, userID)
	if err != nil {
		return 0, err
	}
	return rep.Count, nil
}

// Summary returns average and count together. Cache failures are logged
// and fall through to the store.
func (a *Aggregator) Summary(ctx context.Context, userID string) (models.Reputation, error) {
	if a.cache != nil {
		rep, ok, err := a.cache.Get(ctx, userID)
		switch {
		case err != nil:
			observability.ReputationCacheTotal.WithLabelValues("error").Inc()
			a.logger.Warn("reputation cache read failed", "user_id", userID, "error", err)
		case ok:
			observability.ReputationCacheTotal.WithLabelValues("hit").Inc()
			return rep, nil
		default:
			observability.ReputationCacheTotal.WithLabelValues("miss").Inc()
		}
	}
	rep, err := a.compute(ctx, userID)
	if err != nil {
		return models.Reputation{}, err
	}
	if a.cache != nil {
		if err := a.cache.Set(ctx, rep); err != nil {
			a.logger.Warn("reputation cache write failed", "user_id", userID, "error", err)
		}
	}
	return rep, nil
}

// Refresh recomputes from the store and writes the result to the cache. The
// rating service calls it after every committed rating.
func (a *Aggregator) Refresh(ctx context.Context, userID string) (models.Reputation, error) {
	rep, err := a.compute(ctx, userID)
	if err != nil {
		return models.Reputation{}, err
	}
	if a.cache != nil {
		if err := a.cache.Set(ctx, rep); err != nil {
			return rep, err
		}
	}
	return rep, nil
}

func (a *Aggregator) compute(ctx context.Context, userID string) (models.Reputation, error) {
	agg, err := a.source.RatingAggregate(ctx, userID)
	if err != nil {
		return models.Reputation{}, err
	}
	return models.Reputation{UserID: userID, Average: averageOf(agg), Count: agg.Count}, nil
}

func averageOf(agg storage.RatingAggregate) float64 {
	if agg.Count == 0 || agg.Mean == nil {
		return DefaultScore
	}
	m := *agg.Mean
	if math.IsNaN(m) || math.IsInf(m, 0) {
		return DefaultScore
	}
	return m
}
