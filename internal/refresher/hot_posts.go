// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

// Package refresher provides the Suture-supervised background services that
// keep the cache tier warm: the global hot-post pool, per-user follow
// suggestions, and first-page feed warming for active users.
package refresher

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nova-social/feedrank/internal/config"
	"github.com/nova-social/feedrank/internal/feedcache"
	"github.com/nova-social/feedrank/internal/metrics"
	"github.com/nova-social/feedrank/internal/models"
	"github.com/nova-social/feedrank/internal/ranking"
)

// TrendingSource supplies the global trending candidates.
type TrendingSource interface {
	TrendingCandidates(ctx context.Context) ([]models.RankedPost, error)
}

// HotPostSink receives the refreshed pool.
type HotPostSink interface {
	PutHotPosts(ctx context.Context, window string, posts []models.HotPost) error
}

// HotPostService periodically recomputes the global trending pool and
// pushes it into the cache tier, so individual feed requests read trending
// candidates from a local cache instead of each hitting the analytics
// store. The pool is user-independent: one refresh serves everyone.
type HotPostService struct {
	source TrendingSource
	sink   HotPostSink
	rank   *config.RankingConfig
	cfg    *config.RefreshConfig
	logger zerolog.Logger
	name   string
}

// NewHotPostService creates the hot-post refresher.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewHotPostService(source TrendingSource, sink HotPostSink, rank *config.RankingConfig, cfg *config.RefreshConfig, logger zerolog.Logger) *HotPostService {
	return &HotPostService{
		source: source,
		sink:   sink,
		rank:   rank,
		cfg:    cfg,
		logger: logger.With().Str("service", "hot-posts").Logger(),
		name:   "hot-post-refresher",
	}
}

// Serve implements the suture.Service interface. It refreshes immediately
// on start so a cold process has a trending pool before its first request,
// then refreshes on the configured interval.
func (s *HotPostService) Serve(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.cfg.HotPostsInterval).
		Msg("hot post refresher starting")

	if err := s.refresh(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("initial hot post refresh failed (will retry on schedule)")
	}

	ticker := time.NewTicker(s.cfg.HotPostsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("hot post refresher shutting down")
			return ctx.Err()

		case <-ticker.C:
			if err := s.refresh(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("hot post refresh failed")
			}
		}
	}
}

// refresh queries the trending candidates and writes the scored pool.
// Scores here carry no affinity term: the pool is shared across users, and
// per-user affinity is applied later inside each ranking pass.
func (s *HotPostService) refresh(ctx context.Context) error {
	start := time.Now()
	var err error
	defer func() { metrics.RecordRefresherRun("hot_posts", time.Since(start), err) }()

	var posts []models.RankedPost
	posts, err = s.source.TrendingCandidates(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	hot := make([]models.HotPost, len(posts))
	for i, p := range posts {
		hot[i] = models.HotPost{
			PostID:      p.PostID,
			AuthorID:    p.AuthorID,
			CreatedAt:   p.CreatedAt,
			Likes:       p.Likes,
			Comments:    p.Comments,
			Shares:      p.Shares,
			Impressions: p.Impressions,
			Score: s.rank.FreshnessWeight*ranking.FreshnessScore(s.rank.FreshnessLambda, p.CreatedAt, now) +
				s.rank.EngagementWeight*ranking.EngagementScore(p.Likes, p.Comments, p.Shares, p.Impressions),
		}
	}

	window := feedcache.WindowLabel(s.rank.TrendingWindow)
	if err = s.sink.PutHotPosts(ctx, window, hot); err != nil {
		return err
	}

	s.logger.Debug().
		Int("posts", len(hot)).
		Dur("duration", time.Since(start)).
		Msg("hot post pool refreshed")
	return nil
}

// String returns the service name for logging.
func (s *HotPostService) String() string {
	return s.name
}
