// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package ranking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nova-social/feedrank/internal/config"
	"github.com/nova-social/feedrank/internal/feedcache"
	"github.com/nova-social/feedrank/internal/logging"
	"github.com/nova-social/feedrank/internal/metrics"
	"github.com/nova-social/feedrank/internal/models"
)

// CandidateSource is the analytics-store surface the engine ranks from.
// Production wires the circuit-breaker-wrapped DuckDB store.
type CandidateSource interface {
	FollowCandidates(ctx context.Context, userID uuid.UUID) ([]models.RankedPost, error)
	TrendingCandidates(ctx context.Context) ([]models.RankedPost, error)
	AffinityCandidates(ctx context.Context, userID uuid.UUID) ([]models.RankedPost, error)
	AffinityCounts(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]uint32, error)
}

// PageCache is the cache-tier surface the engine reads and writes.
type PageCache interface {
	GetPage(ctx context.Context, userID uuid.UUID, offset, limit uint32, version string) (*models.CachedFeedPage, error)
	PutPage(ctx context.Context, userID uuid.UUID, offset, limit uint32, version string, page *models.CachedFeedPage) error
	MarkSeen(ctx context.Context, userID uuid.UUID, postIDs []uuid.UUID) error
	FilterUnseen(ctx context.Context, userID uuid.UUID, postIDs []uuid.UUID) ([]uuid.UUID, error)
	HotPosts(ctx context.Context, window string) ([]models.HotPost, error)
}

// FallbackSource serves the degraded reverse-chronological path from the
// primary transactional store.
type FallbackSource interface {
	RecentFollowedPosts(ctx context.Context, userID uuid.UUID, offset, limit int) ([]uuid.UUID, bool, error)
}

// FeedRequest is one inbound feed query, already validated and clamped by
// the API layer.
type FeedRequest struct {
	UserID uuid.UUID
	Offset uint32
	Limit  uint32

	// SkipSeenMark serves the page without recording its posts in the seen
	// set. The cache warmer uses this: pre-ranking a page is not showing it.
	SkipSeenMark bool
}

// FeedResult is a served page plus serving metadata.
type FeedResult struct {
	Response *models.FeedResponse
	Cached   bool
}

// Engine runs the full feed pipeline for one request: cache check, fan-out
// to the three candidate generators, scoring, merge, seen filtering,
// saturation, pagination, cache write-back, and the fallback path when the
// ranked pipeline cannot produce.
type Engine struct {
	analytics CandidateSource
	cache     PageCache
	fallback  FallbackSource
	cfg       *config.RankingConfig

	// now is swapped in tests for deterministic freshness scoring.
	now func() time.Time
}

// NewEngine assembles a ranking engine.
func NewEngine(analytics CandidateSource, cache PageCache, fallback FallbackSource, cfg *config.RankingConfig) *Engine {
	return &Engine{
		analytics: analytics,
		cache:     cache,
		fallback:  fallback,
		cfg:       cfg,
		now:       time.Now,
	}
}

// GetFeed serves one feed page. The cache is consulted first; a miss runs a
// full ranking pass and writes the page back under a jittered TTL. Only
// when both the ranked pipeline and the fallback fail does an error
// (ErrFeedUnavailable) escape.
func (e *Engine) GetFeed(ctx context.Context, req FeedRequest) (*FeedResult, error) {
	req.Limit = e.clampLimit(req.Limit)

	if page, err := e.cache.GetPage(ctx, req.UserID, req.Offset, req.Limit, e.cfg.Version); err == nil && page != nil {
		e.markSeen(ctx, req, page.PostIDs)
		return &FeedResult{
			Response: &models.FeedResponse{
				PostIDs:    page.PostIDs,
				NextOffset: req.Offset + uint32(len(page.PostIDs)),
				HasMore:    page.HasMore,
			},
			Cached: true,
		}, nil
	} else if err != nil {
		// A broken cache read degrades to a ranking pass, never to a 5xx.
		logging.Ctx(ctx).Warn().Err(err).Msg("Feed page cache read failed")
	}

	start := e.now()
	ranked, produced, genErrs := e.rank(ctx, req.UserID)
	metrics.RankingPassDuration.Observe(e.now().Sub(start).Seconds())

	// The fallback is for a dead pipeline, not an empty one: candidates
	// that existed but were seen-filtered away still mean the generators
	// are alive, and the user gets a valid empty page.
	if !produced && genErrs > 0 {
		return e.serveFallback(ctx, req)
	}

	pageIDs, hasMore := paginate(ranked, req.Offset, req.Limit)

	// A cancelled request must not write: the pass may have been cut short
	// and a truncated page would be served to everyone for the next TTL.
	if ctx.Err() == nil {
		page := &models.CachedFeedPage{PostIDs: pageIDs, HasMore: hasMore}
		if err := e.cache.PutPage(ctx, req.UserID, req.Offset, req.Limit, e.cfg.Version, page); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Feed page cache write failed")
		}
	}

	e.markSeen(ctx, req, pageIDs)

	return &FeedResult{
		Response: &models.FeedResponse{
			PostIDs:    pageIDs,
			NextOffset: req.Offset + uint32(len(pageIDs)),
			HasMore:    hasMore,
		},
	}, nil
}

func (e *Engine) clampLimit(limit uint32) uint32 {
	if limit == 0 {
		return uint32(e.cfg.DefaultLimit)
	}
	if limit > uint32(e.cfg.MaxLimit) {
		return uint32(e.cfg.MaxLimit)
	}
	return limit
}

// rank runs one full ranking pass and returns the ordered post list,
// whether the generators produced any candidates before seen filtering,
// and the number of generator failures. Generators degrade independently:
// a dead source contributes nothing, the others still rank.
func (e *Engine) rank(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, bool, int) {
	var (
		wg       sync.WaitGroup
		follow   []models.RankedPost
		trending []models.RankedPost
		affinity []models.RankedPost
		counts   map[uuid.UUID]uint32

		followErr, trendingErr, affinityErr, countsErr error
	)

	wg.Add(4)
	go func() {
		defer wg.Done()
		gctx, cancel := context.WithTimeout(ctx, e.cfg.GeneratorTimeout)
		defer cancel()
		follow, followErr = e.analytics.FollowCandidates(gctx, userID)
	}()
	go func() {
		defer wg.Done()
		gctx, cancel := context.WithTimeout(ctx, e.cfg.GeneratorTimeout)
		defer cancel()
		trending, trendingErr = e.trendingCandidates(gctx)
	}()
	go func() {
		defer wg.Done()
		gctx, cancel := context.WithTimeout(ctx, e.cfg.GeneratorTimeout)
		defer cancel()
		affinity, affinityErr = e.analytics.AffinityCandidates(gctx, userID)
	}()
	go func() {
		defer wg.Done()
		gctx, cancel := context.WithTimeout(ctx, e.cfg.GeneratorTimeout)
		defer cancel()
		counts, countsErr = e.analytics.AffinityCounts(gctx, userID)
	}()
	wg.Wait()

	genErrs := 0
	for source, err := range map[string]error{
		string(models.SourceFollow):   followErr,
		string(models.SourceTrending): trendingErr,
		string(models.SourceAffinity): affinityErr,
	} {
		if err == nil {
			continue
		}
		genErrs++
		metrics.GeneratorFailures.WithLabelValues(source, failureReason(err)).Inc()
		logging.Ctx(ctx).Warn().Err(err).Str("source", source).Msg("Candidate generator failed")
	}
	if countsErr != nil {
		// Affinity sub-scores collapse to zero; ranking still proceeds.
		metrics.GeneratorFailures.WithLabelValues("affinity_counts", failureReason(countsErr)).Inc()
		logging.Ctx(ctx).Warn().Err(countsErr).Msg("Affinity counts fetch failed")
	}

	metrics.RankingCandidates.WithLabelValues(string(models.SourceFollow)).Observe(float64(len(follow)))
	metrics.RankingCandidates.WithLabelValues(string(models.SourceTrending)).Observe(float64(len(trending)))
	metrics.RankingCandidates.WithLabelValues(string(models.SourceAffinity)).Observe(float64(len(affinity)))

	merged := MergeDedup(follow, trending, affinity)
	if len(merged) == 0 {
		return nil, false, genErrs
	}

	ScorePosts(e.cfg, merged, counts, e.now())

	merged = e.filterSeen(ctx, userID, merged)
	SortByScore(merged)
	merged = ApplySaturation(merged, e.cfg.SaturationWindow)

	postIDs := make([]uuid.UUID, len(merged))
	for i, p := range merged {
		postIDs[i] = p.PostID
	}
	return postIDs, true, genErrs
}

// trendingCandidates serves the trending pool from the precomputed hot-post
// cache when fresh, falling back to a direct analytics query otherwise.
func (e *Engine) trendingCandidates(ctx context.Context) ([]models.RankedPost, error) {
	window := feedcache.WindowLabel(e.cfg.TrendingWindow)
	hot, err := e.cache.HotPosts(ctx, window)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Hot posts cache read failed")
	}
	if len(hot) > 0 {
		posts := make([]models.RankedPost, len(hot))
		for i, h := range hot {
			posts[i] = models.RankedPost{
				PostID:      h.PostID,
				AuthorID:    h.AuthorID,
				CreatedAt:   h.CreatedAt,
				Likes:       h.Likes,
				Comments:    h.Comments,
				Shares:      h.Shares,
				Impressions: h.Impressions,
				Source:      models.SourceTrending,
			}
		}
		return posts, nil
	}
	return e.analytics.TrendingCandidates(ctx)
}

// filterSeen drops posts the user has already been served within the seen
// TTL. A cache failure fails open: showing a repeat beats showing nothing.
func (e *Engine) filterSeen(ctx context.Context, userID uuid.UUID, posts []models.RankedPost) []models.RankedPost {
	ids := make([]uuid.UUID, len(posts))
	for i, p := range posts {
		ids[i] = p.PostID
	}
	unseen, err := e.cache.FilterUnseen(ctx, userID, ids)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Seen set filter failed, serving unfiltered")
		return posts
	}
	metrics.SeenSetSize.Observe(float64(len(ids) - len(unseen)))
	return FilterByID(posts, unseen)
}

// serveFallback produces the degraded reverse-chronological page from the
// primary store. Fallback pages are never cached: they would mask recovery
// of the ranked pipeline for a full TTL.
func (e *Engine) serveFallback(ctx context.Context, req FeedRequest) (*FeedResult, error) {
	metrics.FallbackActivations.Inc()
	logging.Ctx(ctx).Warn().Str("user_id", req.UserID.String()).Msg("Ranked pipeline unavailable, serving fallback feed")

	postIDs, hasMore, err := e.fallback.RecentFollowedPosts(ctx, req.UserID, int(req.Offset), int(req.Limit))
	if err != nil {
		metrics.FallbackFailures.Inc()
		return nil, fmt.Errorf("%w: %v", ErrFeedUnavailable, err)
	}

	e.markSeen(ctx, req, postIDs)

	return &FeedResult{
		Response: &models.FeedResponse{
			PostIDs:    postIDs,
			NextOffset: req.Offset + uint32(len(postIDs)),
			HasMore:    hasMore,
			Degraded:   true,
		},
	}, nil
}

// markSeen records served posts in the seen set. Best effort: a failed
// write means a possible repeat next session, not a failed request.
func (e *Engine) markSeen(ctx context.Context, req FeedRequest, postIDs []uuid.UUID) {
	if req.SkipSeenMark || len(postIDs) == 0 {
		return
	}
	if err := e.cache.MarkSeen(ctx, req.UserID, postIDs); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("Seen set write failed")
	}
}

func paginate(postIDs []uuid.UUID, offset, limit uint32) ([]uuid.UUID, bool) {
	if offset >= uint32(len(postIDs)) {
		return []uuid.UUID{}, false
	}
	end := offset + limit
	if end > uint32(len(postIDs)) {
		end = uint32(len(postIDs))
	}
	return postIDs[offset:end], end < uint32(len(postIDs))
}

func failureReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}
