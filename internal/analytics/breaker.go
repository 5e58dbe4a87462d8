// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/nova-social/feedrank/internal/logging"
	"github.com/nova-social/feedrank/internal/metrics"
	"github.com/nova-social/feedrank/internal/models"
)

// BreakerStore wraps Store with a shared circuit breaker so a struggling
// analytics database is not hammered by every feed request. While the
// circuit is open, candidate queries fail fast with ErrUnavailable and the
// ranking engine degrades (partial sources, then fallback) instead of
// queueing on a dead connection.
//
// The breaker uses real time for its interval and timeout. Unit tests that
// need failure injection should stub the store, not the breaker.
type BreakerStore struct {
	store *Store
	cb    *gobreaker.CircuitBreaker[any]
	name  string
}

// NewBreakerStore wraps the analytics store with a circuit breaker.
// Configuration:
// - Max 3 concurrent probes in half-open state
// - 1 minute measurement window in closed state
// - 30 second timeout before attempting recovery
// - Opens after 60% failure rate with minimum 10 requests
func NewBreakerStore(store *Store) *BreakerStore {
	cbName := "analytics-store"

	metrics.CircuitBreakerState.WithLabelValues(cbName).Set(0) // 0 = closed

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        cbName,
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,

		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			shouldTrip := failureRatio >= 0.6
			if shouldTrip {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", failureRatio*100).
					Msg("[CIRCUIT BREAKER] Opening analytics circuit")
			}
			return shouldTrip
		},

		OnStateChange: func(name string, from, to gobreaker.State) {
			fromStr := stateToString(from)
			toStr := stateToString(to)
			logging.Info().Str("from", fromStr).Str("to", toStr).Msg("[CIRCUIT BREAKER] State transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, fromStr, toStr).Inc()
		},
	})

	return &BreakerStore{store: store, cb: cb, name: cbName}
}

// Unwrap returns the underlying store. Background refreshers that already
// run on relaxed schedules query it directly; request-path callers must
// stay behind the breaker.
func (b *BreakerStore) Unwrap() *Store {
	return b.store
}

// execute runs fn behind the breaker. An open circuit is reported as
// ErrUnavailable so callers can treat it like any other store outage.
func (b *BreakerStore) execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	return result, nil
}

// castResult type-asserts the breaker result.
func castResult[T any](result any, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Ping verifies store connectivity with breaker protection.
func (b *BreakerStore) Ping(ctx context.Context) error {
	_, err := b.execute(func() (any, error) {
		return nil, b.store.Ping(ctx)
	})
	return err
}

// FollowCandidates runs Store.FollowCandidates with breaker protection.
func (b *BreakerStore) FollowCandidates(ctx context.Context, userID uuid.UUID) ([]models.RankedPost, error) {
	return castResult[[]models.RankedPost](b.execute(func() (any, error) {
		return b.store.FollowCandidates(ctx, userID)
	}))
}

// TrendingCandidates runs Store.TrendingCandidates with breaker protection.
func (b *BreakerStore) TrendingCandidates(ctx context.Context) ([]models.RankedPost, error) {
	return castResult[[]models.RankedPost](b.execute(func() (any, error) {
		return b.store.TrendingCandidates(ctx)
	}))
}

// AffinityCandidates runs Store.AffinityCandidates with breaker protection.
func (b *BreakerStore) AffinityCandidates(ctx context.Context, userID uuid.UUID) ([]models.RankedPost, error) {
	return castResult[[]models.RankedPost](b.execute(func() (any, error) {
		return b.store.AffinityCandidates(ctx, userID)
	}))
}

// AffinityCounts runs Store.AffinityCounts with breaker protection.
func (b *BreakerStore) AffinityCounts(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]uint32, error) {
	return castResult[map[uuid.UUID]uint32](b.execute(func() (any, error) {
		return b.store.AffinityCounts(ctx, userID)
	}))
}

// ActiveUsers runs Store.ActiveUsers with breaker protection.
func (b *BreakerStore) ActiveUsers(ctx context.Context, window time.Duration, limit int) ([]uuid.UUID, error) {
	return castResult[[]uuid.UUID](b.execute(func() (any, error) {
		return b.store.ActiveUsers(ctx, window, limit)
	}))
}

// SuggestCandidates runs Store.SuggestCandidates with breaker protection.
func (b *BreakerStore) SuggestCandidates(ctx context.Context, userID uuid.UUID, limit int) ([]models.SuggestedUser, error) {
	return castResult[[]models.SuggestedUser](b.execute(func() (any, error) {
		return b.store.SuggestCandidates(ctx, userID, limit)
	}))
}
