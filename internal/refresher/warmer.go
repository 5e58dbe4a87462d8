// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package refresher

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/nova-social/feedrank/internal/config"
	"github.com/nova-social/feedrank/internal/metrics"
	"github.com/nova-social/feedrank/internal/ranking"
)

// FeedServer is the engine surface the warmer drives. Warming is just a
// feed request that nobody reads: the value is the cache write-back.
type FeedServer interface {
	GetFeed(ctx context.Context, req ranking.FeedRequest) (*ranking.FeedResult, error)
}

// ActiveUserSource supplies the warm population.
type ActiveUserSource interface {
	ActiveUsers(ctx context.Context, window time.Duration, limit int) ([]uuid.UUID, error)
}

// WarmerService pre-ranks the first feed page for the most active users so
// their next visit is a cache hit. Passes are rate limited: warming is
// strictly lower priority than live traffic against the analytics store.
type WarmerService struct {
	engine  FeedServer
	source  ActiveUserSource
	cfg     *config.RefreshConfig
	rank    *config.RankingConfig
	limiter *rate.Limiter
	logger  zerolog.Logger
	name    string
}

// NewWarmerService creates the feed warmer.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewWarmerService(engine FeedServer, source ActiveUserSource, cfg *config.RefreshConfig, rank *config.RankingConfig, logger zerolog.Logger) *WarmerService {
	warmRate := cfg.WarmerRate
	if warmRate <= 0 {
		warmRate = 1
	}
	return &WarmerService{
		engine:  engine,
		source:  source,
		cfg:     cfg,
		rank:    rank,
		limiter: rate.NewLimiter(rate.Limit(warmRate), 1),
		logger:  logger.With().Str("service", "warmer").Logger(),
		name:    "feed-warmer",
	}
}

// Serve implements the suture.Service interface.
func (s *WarmerService) Serve(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.cfg.WarmerInterval).
		Int("users", s.cfg.WarmerUsers).
		Float64("rate", float64(s.limiter.Limit())).
		Msg("feed warmer starting")

	ticker := time.NewTicker(s.cfg.WarmerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("feed warmer shutting down")
			return ctx.Err()

		case <-ticker.C:
			if err := s.warm(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Warn().Err(err).Msg("warm pass failed")
			}
		}
	}
}

// warm runs one warming pass over the active-user sample.
func (s *WarmerService) warm(ctx context.Context) error {
	start := time.Now()
	var err error
	defer func() { metrics.RecordRefresherRun("warmer", time.Since(start), err) }()

	var users []uuid.UUID
	users, err = s.source.ActiveUsers(ctx, s.cfg.ActiveWindow, s.cfg.WarmerUsers)
	if err != nil {
		return err
	}

	warmed := 0
	for _, userID := range users {
		if err = s.limiter.Wait(ctx); err != nil {
			return err
		}

		// SkipSeenMark: a warmed page was not shown to anyone.
		result, werr := s.engine.GetFeed(ctx, ranking.FeedRequest{
			UserID:       userID,
			Limit:        uint32(s.rank.DefaultLimit),
			SkipSeenMark: true,
		})
		if werr != nil {
			s.logger.Warn().Err(werr).Str("user_id", userID.String()).Msg("warm failed for user")
			continue
		}
		if !result.Cached && !result.Response.Degraded {
			metrics.WarmedPages.Inc()
			warmed++
		}
	}

	s.logger.Debug().
		Int("users", len(users)).
		Int("warmed", warmed).
		Dur("duration", time.Since(start)).
		Msg("warm pass complete")
	return nil
}

// String returns the service name for logging.
func (s *WarmerService) String() string {
	return s.name
}
