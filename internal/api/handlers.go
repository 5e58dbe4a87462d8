// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nova-social/feedrank/internal/config"
	"github.com/nova-social/feedrank/internal/feedcache"
	"github.com/nova-social/feedrank/internal/logging"
	"github.com/nova-social/feedrank/internal/models"
	"github.com/nova-social/feedrank/internal/ranking"
	"github.com/nova-social/feedrank/internal/refresher"
)

// FeedEngine is the ranking surface the handlers drive.
type FeedEngine interface {
	GetFeed(ctx context.Context, req ranking.FeedRequest) (*ranking.FeedResult, error)
}

// CacheReader is the cache-tier surface the non-feed handlers read.
type CacheReader interface {
	HotPosts(ctx context.Context, window string) ([]models.HotPost, error)
	Suggestions(ctx context.Context, userID uuid.UUID) ([]models.SuggestedUser, error)
	MarkSeen(ctx context.Context, userID uuid.UUID, postIDs []uuid.UUID) error
}

// TrendingSource recomputes trending directly when the cached pool is cold.
type TrendingSource interface {
	TrendingCandidates(ctx context.Context) ([]models.RankedPost, error)
}

// Pinger reports backing-store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handlers carries the dependencies of all HTTP handlers.
type Handlers struct {
	engine    FeedEngine
	cache     CacheReader
	trending  TrendingSource
	analytics Pinger
	primary   Pinger
	publisher message.Publisher
	rank      *config.RankingConfig
}

// NewHandlers creates the handler set. publisher may be nil: suggestion
// misses then simply wait for the periodic sweep.
func NewHandlers(engine FeedEngine, cache CacheReader, trending TrendingSource, analytics, primary Pinger, publisher message.Publisher, rank *config.RankingConfig) *Handlers {
	return &Handlers{
		engine:    engine,
		cache:     cache,
		trending:  trending,
		analytics: analytics,
		primary:   primary,
		publisher: publisher,
		rank:      rank,
	}
}

type feedQuery struct {
	UserID string `validate:"required,uuid"`
	Limit  uint32 `validate:"lte=100"`
}

// GetFeed handles GET /api/v1/feed?user_id=&offset=&limit=.
func (h *Handlers) GetFeed(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	q := feedQuery{
		UserID: r.URL.Query().Get("user_id"),
		Limit:  getUintParam(r, "limit", uint32(h.rank.DefaultLimit)),
	}
	if apiErr := validateRequest(&q); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}
	userID, err := uuid.Parse(q.UserID)
	if err != nil {
		respondError(w, http.StatusBadRequest, models.ErrCodeValidation, "user_id must be a valid UUID", nil)
		return
	}

	result, err := h.engine.GetFeed(r.Context(), ranking.FeedRequest{
		UserID: userID,
		Offset: getUintParam(r, "offset", 0),
		Limit:  q.Limit,
	})
	if err != nil {
		if errors.Is(err, ranking.ErrFeedUnavailable) {
			respondError(w, http.StatusServiceUnavailable, models.ErrCodeFeedUnavailable, "feed temporarily unavailable", err)
			return
		}
		respondError(w, http.StatusInternalServerError, models.ErrCodeInternal, "internal error", err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   result.Response,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
			Cached:      result.Cached,
			Degraded:    result.Response.Degraded,
		},
	})
}

// GetTrending handles GET /api/v1/trending. It serves the precomputed pool
// and falls through to a live analytics query only when the pool is cold
// (process just started, refresher not yet run).
func (h *Handlers) GetTrending(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	window := feedcache.WindowLabel(h.rank.TrendingWindow)

	hot, err := h.cache.HotPosts(r.Context(), window)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Hot posts cache read failed")
	}
	cached := len(hot) > 0

	if !cached {
		posts, terr := h.trending.TrendingCandidates(r.Context())
		if terr != nil {
			respondError(w, http.StatusServiceUnavailable, models.ErrCodeFeedUnavailable, "trending temporarily unavailable", terr)
			return
		}
		hot = make([]models.HotPost, len(posts))
		for i, p := range posts {
			hot[i] = models.HotPost{
				PostID:      p.PostID,
				AuthorID:    p.AuthorID,
				CreatedAt:   p.CreatedAt,
				Likes:       p.Likes,
				Comments:    p.Comments,
				Shares:      p.Shares,
				Impressions: p.Impressions,
			}
		}
	}

	limit := int(getUintParam(r, "limit", 50))
	if limit < len(hot) {
		hot = hot[:limit]
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   hot,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
			Cached:      cached,
		},
	})
}

// GetSuggestions handles GET /api/v1/users/{userID}/suggestions. A miss
// returns an empty list and publishes a refresh trigger so the next visit
// finds a precomputed one.
func (h *Handlers) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, models.ErrCodeValidation, "userID must be a valid UUID", nil)
		return
	}

	suggestions, err := h.cache.Suggestions(r.Context(), userID)
	if err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Suggestions cache read failed")
	}

	cached := suggestions != nil
	if !cached && h.publisher != nil {
		msg := message.NewMessage(watermill.NewUUID(), []byte(userID.String()))
		if perr := h.publisher.Publish(refresher.SuggestionsTopic, msg); perr != nil {
			logging.Ctx(r.Context()).Warn().Err(perr).Msg("Suggestion refresh trigger publish failed")
		}
	}
	if suggestions == nil {
		suggestions = []models.SuggestedUser{}
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   suggestions,
		Metadata: models.Metadata{
			Timestamp:   time.Now(),
			QueryTimeMS: time.Since(start).Milliseconds(),
			Cached:      cached,
		},
	})
}

type markSeenRequest struct {
	UserID  string   `json:"user_id" validate:"required,uuid"`
	PostIDs []string `json:"post_ids" validate:"required,min=1,max=500,dive,uuid"`
}

// MarkSeen handles POST /api/v1/feed/seen: explicit client-side seen
// reports (impressions observed by the app) on top of the engine's
// serve-time marking.
func (h *Handlers) MarkSeen(w http.ResponseWriter, r *http.Request) {
	var req markSeenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, models.ErrCodeValidation, "invalid JSON body", nil)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respondError(w, http.StatusBadRequest, models.ErrCodeValidation, "user_id must be a valid UUID", nil)
		return
	}
	postIDs := make([]uuid.UUID, 0, len(req.PostIDs))
	for _, raw := range req.PostIDs {
		id, perr := uuid.Parse(raw)
		if perr != nil {
			respondError(w, http.StatusBadRequest, models.ErrCodeValidation, "post_ids must be valid UUIDs", nil)
			return
		}
		postIDs = append(postIDs, id)
	}

	if err := h.cache.MarkSeen(r.Context(), userID, postIDs); err != nil {
		respondError(w, http.StatusInternalServerError, models.ErrCodeInternal, "failed to record seen posts", err)
		return
	}

	respondJSON(w, http.StatusOK, &models.APIResponse{
		Status: "success",
		Data:   map[string]int{"marked": len(postIDs)},
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}

// Health handles GET /health. The feed engine is "ok" even when the
// analytics store is down (it degrades to fallback); it is "degraded" then,
// and only an unreachable primary on top of that makes the check fail.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := map[string]string{
		"analytics": "ok",
		"primary":   "ok",
	}
	status := "ok"
	httpStatus := http.StatusOK

	if err := h.analytics.Ping(ctx); err != nil {
		components["analytics"] = "unavailable"
		status = "degraded"
	}
	if err := h.primary.Ping(ctx); err != nil {
		components["primary"] = "unavailable"
		if status == "degraded" {
			status = "unavailable"
			httpStatus = http.StatusServiceUnavailable
		} else {
			status = "degraded"
		}
	}

	respondJSON(w, httpStatus, &models.APIResponse{
		Status: "success",
		Data: map[string]interface{}{
			"status":     status,
			"components": components,
		},
		Metadata: models.Metadata{
			Timestamp: time.Now(),
		},
	})
}
