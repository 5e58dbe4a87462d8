// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package refresher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-social/feedrank/internal/config"
	"github.com/nova-social/feedrank/internal/logging"
	"github.com/nova-social/feedrank/internal/models"
	"github.com/nova-social/feedrank/internal/ranking"
)

func testRefreshConfig() *config.RefreshConfig {
	return &config.RefreshConfig{
		HotPostsInterval:    time.Hour,
		SuggestionsInterval: time.Hour,
		SuggestionsPerUser:  20,
		SuggestionsBatch:    100,
		WarmerInterval:      time.Hour,
		WarmerUsers:         50,
		WarmerRate:          1000,
		ActiveWindow:        7 * 24 * time.Hour,
	}
}

func testRankCfg() *config.RankingConfig {
	return &config.RankingConfig{
		FreshnessWeight:  0.30,
		EngagementWeight: 0.40,
		AffinityWeight:   0.30,
		FreshnessLambda:  0.10,
		TrendingWindow:   24 * time.Hour,
		DefaultLimit:     20,
	}
}

type fakeTrending struct {
	posts []models.RankedPost
	err   error
}

func (f *fakeTrending) TrendingCandidates(context.Context) ([]models.RankedPost, error) {
	return f.posts, f.err
}

type fakeHotSink struct {
	mu     sync.Mutex
	window string
	posts  []models.HotPost
	writes int
}

func (f *fakeHotSink) PutHotPosts(_ context.Context, window string, posts []models.HotPost) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.window = window
	f.posts = posts
	f.writes++
	return nil
}

func TestHotPostRefresh(t *testing.T) {
	now := time.Now()
	source := &fakeTrending{posts: []models.RankedPost{
		{PostID: uuid.New(), AuthorID: uuid.New(), CreatedAt: now.Add(-time.Hour), Likes: 100, Comments: 10, Impressions: 1000},
		{PostID: uuid.New(), AuthorID: uuid.New(), CreatedAt: now.Add(-6 * time.Hour), Likes: 50, Impressions: 500},
	}}
	sink := &fakeHotSink{}

	svc := NewHotPostService(source, sink, testRankCfg(), testRefreshConfig(), logging.Logger())
	require.NoError(t, svc.refresh(context.Background()))

	assert.Equal(t, "24h", sink.window)
	require.Len(t, sink.posts, 2)
	for _, p := range sink.posts {
		assert.Greater(t, p.Score, 0.0)
	}
	// Fresher and more engaged ranks higher.
	assert.Greater(t, sink.posts[0].Score, sink.posts[1].Score)
}

func TestHotPostRefreshPropagatesSourceError(t *testing.T) {
	source := &fakeTrending{err: errors.New("store down")}
	sink := &fakeHotSink{}

	svc := NewHotPostService(source, sink, testRankCfg(), testRefreshConfig(), logging.Logger())
	require.Error(t, svc.refresh(context.Background()))
	assert.Equal(t, 0, sink.writes)
}

func TestHotPostServeRefreshesOnStart(t *testing.T) {
	source := &fakeTrending{posts: []models.RankedPost{{PostID: uuid.New()}}}
	sink := &fakeHotSink{}
	svc := NewHotPostService(source, sink, testRankCfg(), testRefreshConfig(), logging.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.writes >= 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

type fakeSuggestSource struct {
	mu          sync.Mutex
	suggestions map[uuid.UUID][]models.SuggestedUser
	active      []uuid.UUID
}

func (f *fakeSuggestSource) SuggestCandidates(_ context.Context, userID uuid.UUID, _ int) ([]models.SuggestedUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.suggestions[userID], nil
}

func (f *fakeSuggestSource) ActiveUsers(context.Context, time.Duration, int) ([]uuid.UUID, error) {
	return f.active, nil
}

type fakeSuggestSink struct {
	mu    sync.Mutex
	lists map[uuid.UUID][]models.SuggestedUser
}

func (f *fakeSuggestSink) PutSuggestions(_ context.Context, userID uuid.UUID, s []models.SuggestedUser) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lists == nil {
		f.lists = map[uuid.UUID][]models.SuggestedUser{}
	}
	f.lists[userID] = s
	return nil
}

func (f *fakeSuggestSink) get(userID uuid.UUID) []models.SuggestedUser {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists[userID]
}

func TestSuggestionServiceOnDemandTrigger(t *testing.T) {
	user := uuid.New()
	want := []models.SuggestedUser{{UserID: uuid.New(), Score: 3, Reason: "3 mutual connections"}}

	source := &fakeSuggestSource{suggestions: map[uuid.UUID][]models.SuggestedUser{user: want}}
	sink := &fakeSuggestSink{}
	bus := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))

	svc := NewSuggestionService(source, sink, bus, testRefreshConfig(), logging.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	// Give Subscribe a moment to register before publishing.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, bus.Publish(SuggestionsTopic, message.NewMessage(watermill.NewUUID(), []byte(user.String()))))

	require.Eventually(t, func() bool {
		return len(sink.get(user)) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, want, sink.get(user))

	cancel()
	<-done
}

func TestSuggestionSweepCoversActiveUsers(t *testing.T) {
	u1, u2 := uuid.New(), uuid.New()
	source := &fakeSuggestSource{
		active: []uuid.UUID{u1, u2},
		suggestions: map[uuid.UUID][]models.SuggestedUser{
			u1: {{UserID: uuid.New(), Score: 1, Reason: "1 mutual connection"}},
			u2: {},
		},
	}
	sink := &fakeSuggestSink{}
	bus := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewStdLogger(false, false))
	svc := NewSuggestionService(source, sink, bus, testRefreshConfig(), logging.Logger())

	require.NoError(t, svc.sweep(context.Background()))
	assert.Len(t, sink.get(u1), 1)
}

type fakeFeedServer struct {
	mu       sync.Mutex
	requests []ranking.FeedRequest
	cached   bool
}

func (f *fakeFeedServer) GetFeed(_ context.Context, req ranking.FeedRequest) (*ranking.FeedResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return &ranking.FeedResult{
		Response: &models.FeedResponse{},
		Cached:   f.cached,
	}, nil
}

type fakeActiveUsers struct {
	users []uuid.UUID
}

func (f *fakeActiveUsers) ActiveUsers(context.Context, time.Duration, int) ([]uuid.UUID, error) {
	return f.users, nil
}

func TestWarmerWarmsFirstPages(t *testing.T) {
	users := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	engine := &fakeFeedServer{}
	svc := NewWarmerService(engine, &fakeActiveUsers{users: users}, testRefreshConfig(), testRankCfg(), logging.Logger())

	require.NoError(t, svc.warm(context.Background()))

	require.Len(t, engine.requests, 3)
	for i, req := range engine.requests {
		assert.Equal(t, users[i], req.UserID)
		assert.Equal(t, uint32(0), req.Offset)
		assert.Equal(t, uint32(20), req.Limit)
		assert.True(t, req.SkipSeenMark, "warming must not mark posts seen")
	}
}

func TestWarmerStopsOnCancel(t *testing.T) {
	users := make([]uuid.UUID, 100)
	for i := range users {
		users[i] = uuid.New()
	}
	engine := &fakeFeedServer{}
	cfg := testRefreshConfig()
	cfg.WarmerRate = 5 // slow enough that cancellation lands mid-pass
	svc := NewWarmerService(engine, &fakeActiveUsers{users: users}, cfg, testRankCfg(), logging.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := svc.warm(ctx)
	require.Error(t, err)
	assert.Less(t, len(engine.requests), len(users))
}
