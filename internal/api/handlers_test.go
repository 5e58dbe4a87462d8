// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-social/feedrank/internal/config"
	"github.com/nova-social/feedrank/internal/models"
	"github.com/nova-social/feedrank/internal/ranking"
)

type fakeEngine struct {
	result *ranking.FeedResult
	err    error
	last   ranking.FeedRequest
}

func (f *fakeEngine) GetFeed(_ context.Context, req ranking.FeedRequest) (*ranking.FeedResult, error) {
	f.last = req
	return f.result, f.err
}

type fakeCacheReader struct {
	hot         []models.HotPost
	suggestions []models.SuggestedUser
	seen        map[uuid.UUID][]uuid.UUID
	markErr     error
}

func (f *fakeCacheReader) HotPosts(context.Context, string) ([]models.HotPost, error) {
	return f.hot, nil
}

func (f *fakeCacheReader) Suggestions(context.Context, uuid.UUID) ([]models.SuggestedUser, error) {
	return f.suggestions, nil
}

func (f *fakeCacheReader) MarkSeen(_ context.Context, userID uuid.UUID, postIDs []uuid.UUID) error {
	if f.markErr != nil {
		return f.markErr
	}
	if f.seen == nil {
		f.seen = map[uuid.UUID][]uuid.UUID{}
	}
	f.seen[userID] = append(f.seen[userID], postIDs...)
	return nil
}

type fakeTrendingSource struct {
	posts []models.RankedPost
	err   error
	calls int
}

func (f *fakeTrendingSource) TrendingCandidates(context.Context) ([]models.RankedPost, error) {
	f.calls++
	return f.posts, f.err
}

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

type capturePublisher struct {
	topics   []string
	payloads []string
}

func (c *capturePublisher) Publish(topic string, messages ...*message.Message) error {
	for _, m := range messages {
		c.topics = append(c.topics, topic)
		c.payloads = append(c.payloads, string(m.Payload))
	}
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func testAPIConfig() *config.APIConfig {
	return &config.APIConfig{
		CORSOrigins:       []string{"https://app.example.com"},
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
	}
}

func testRankCfg() *config.RankingConfig {
	return &config.RankingConfig{
		DefaultLimit:   20,
		MaxLimit:       100,
		TrendingWindow: 24 * time.Hour,
		Version:        "v1",
	}
}

func newTestRouter(engine FeedEngine, cache CacheReader, trending TrendingSource, pub message.Publisher) http.Handler {
	h := NewHandlers(engine, cache, trending, &fakePinger{}, &fakePinger{}, pub, testRankCfg())
	return NewRouter(h, testAPIConfig())
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestGetFeedSuccess(t *testing.T) {
	postIDs := []uuid.UUID{uuid.New(), uuid.New()}
	engine := &fakeEngine{result: &ranking.FeedResult{
		Response: &models.FeedResponse{PostIDs: postIDs, NextOffset: 2, HasMore: true},
		Cached:   true,
	}}
	router := newTestRouter(engine, &fakeCacheReader{}, &fakeTrendingSource{}, nil)

	user := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed?user_id="+user.String()+"&offset=0&limit=2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.Equal(t, "success", resp.Status)
	assert.True(t, resp.Metadata.Cached)
	assert.False(t, resp.Metadata.Degraded)

	assert.Equal(t, user, engine.last.UserID)
	assert.Equal(t, uint32(2), engine.last.Limit)
	assert.False(t, engine.last.SkipSeenMark)
}

func TestGetFeedMissingUserID(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, &fakeCacheReader{}, &fakeTrendingSource{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.ErrCodeValidation, resp.Error.Code)
}

func TestGetFeedInvalidUserID(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, &fakeCacheReader{}, &fakeTrendingSource{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed?user_id=not-a-uuid", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetFeedUnavailable(t *testing.T) {
	engine := &fakeEngine{err: ranking.ErrFeedUnavailable}
	router := newTestRouter(engine, &fakeCacheReader{}, &fakeTrendingSource{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed?user_id="+uuid.New().String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.ErrCodeFeedUnavailable, resp.Error.Code)
}

func TestGetFeedDegradedFlagSurfaces(t *testing.T) {
	engine := &fakeEngine{result: &ranking.FeedResult{
		Response: &models.FeedResponse{PostIDs: []uuid.UUID{uuid.New()}, Degraded: true},
	}}
	router := newTestRouter(engine, &fakeCacheReader{}, &fakeTrendingSource{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed?user_id="+uuid.New().String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Metadata.Degraded)
}

func TestGetFeedDefaultLimitApplied(t *testing.T) {
	engine := &fakeEngine{result: &ranking.FeedResult{Response: &models.FeedResponse{}}}
	router := newTestRouter(engine, &fakeCacheReader{}, &fakeTrendingSource{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed?user_id="+uuid.New().String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint32(20), engine.last.Limit)
}

func TestGetFeedLimitAboveMaxRejected(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, &fakeCacheReader{}, &fakeTrendingSource{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/feed?user_id="+uuid.New().String()+"&limit=500", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetTrendingFromCache(t *testing.T) {
	cache := &fakeCacheReader{hot: []models.HotPost{
		{PostID: uuid.New(), Score: 2.5},
		{PostID: uuid.New(), Score: 1.5},
	}}
	trending := &fakeTrendingSource{}
	router := newTestRouter(&fakeEngine{}, cache, trending, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trending", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Metadata.Cached)
	assert.Equal(t, 0, trending.calls)
}

func TestGetTrendingColdPoolFallsThrough(t *testing.T) {
	trending := &fakeTrendingSource{posts: []models.RankedPost{
		{PostID: uuid.New(), AuthorID: uuid.New(), CreatedAt: time.Now()},
	}}
	router := newTestRouter(&fakeEngine{}, &fakeCacheReader{}, trending, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trending", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Metadata.Cached)
	assert.Equal(t, 1, trending.calls)
}

func TestGetTrendingUnavailable(t *testing.T) {
	trending := &fakeTrendingSource{err: errors.New("store down")}
	router := newTestRouter(&fakeEngine{}, &fakeCacheReader{}, trending, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/trending", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetSuggestionsHit(t *testing.T) {
	cache := &fakeCacheReader{suggestions: []models.SuggestedUser{
		{UserID: uuid.New(), Score: 3, Reason: "3 mutual connections"},
	}}
	pub := &capturePublisher{}
	router := newTestRouter(&fakeEngine{}, cache, &fakeTrendingSource{}, pub)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/"+uuid.New().String()+"/suggestions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.True(t, resp.Metadata.Cached)
	assert.Empty(t, pub.topics, "hit must not trigger a refresh")
}

func TestGetSuggestionsMissTriggersRefresh(t *testing.T) {
	pub := &capturePublisher{}
	router := newTestRouter(&fakeEngine{}, &fakeCacheReader{}, &fakeTrendingSource{}, pub)

	user := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/"+user.String()+"/suggestions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	assert.False(t, resp.Metadata.Cached)

	require.Len(t, pub.payloads, 1)
	assert.Equal(t, user.String(), pub.payloads[0])
}

func TestGetSuggestionsInvalidUserID(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, &fakeCacheReader{}, &fakeTrendingSource{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users/nope/suggestions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkSeen(t *testing.T) {
	cache := &fakeCacheReader{}
	router := newTestRouter(&fakeEngine{}, cache, &fakeTrendingSource{}, nil)

	user := uuid.New()
	posts := []string{uuid.New().String(), uuid.New().String()}
	body, err := json.Marshal(map[string]interface{}{
		"user_id":  user.String(),
		"post_ids": posts,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/feed/seen", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, cache.seen[user], 2)
}

func TestMarkSeenRejectsEmptyPostList(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, &fakeCacheReader{}, &fakeTrendingSource{}, nil)

	body := []byte(`{"user_id":"` + uuid.New().String() + `","post_ids":[]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/feed/seen", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkSeenRejectsInvalidJSON(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, &fakeCacheReader{}, &fakeTrendingSource{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/feed/seen", bytes.NewReader([]byte("{nope")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, &fakeCacheReader{}, &fakeTrendingSource{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthDegradedAnalyticsStillOK(t *testing.T) {
	h := NewHandlers(&fakeEngine{}, &fakeCacheReader{}, &fakeTrendingSource{},
		&fakePinger{err: errors.New("down")}, &fakePinger{}, nil, testRankCfg())
	router := NewRouter(h, testAPIConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthBothStoresDownIsUnavailable(t *testing.T) {
	h := NewHandlers(&fakeEngine{}, &fakeCacheReader{}, &fakeTrendingSource{},
		&fakePinger{err: errors.New("down")}, &fakePinger{err: errors.New("down")}, nil, testRankCfg())
	router := NewRouter(h, testAPIConfig())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	router := newTestRouter(&fakeEngine{}, &fakeCacheReader{}, &fakeTrendingSource{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/feed", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSecurityHeaders(t *testing.T) {
	router := newTestRouter(&fakeEngine{result: &ranking.FeedResult{Response: &models.FeedResponse{}}}, &fakeCacheReader{}, &fakeTrendingSource{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, rec.Header().Get("ETag"))
}

func TestSanitizeLogValue(t *testing.T) {
	assert.Equal(t, "hello", sanitizeLogValue("hello"))
	assert.Equal(t, `line1\x0aline2`, sanitizeLogValue("line1\nline2"))
	assert.Equal(t, `tab\x09sep`, sanitizeLogValue("tab\tsep"))
}
