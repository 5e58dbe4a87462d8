// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

//go:build integration

package primary_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-social/feedrank/internal/config"
	"github.com/nova-social/feedrank/internal/primary"
	"github.com/nova-social/feedrank/internal/testinfra"
)

// TestFallbackAgainstContainer runs the fallback query path against a real
// PostgreSQL container instead of a DSN supplied by the environment.
func TestFallbackAgainstContainer(t *testing.T) {
	testinfra.SkipIfNoDocker(t)
	ctx := context.Background()

	pg, err := testinfra.NewPostgresContainer(ctx)
	require.NoError(t, err)
	defer testinfra.CleanupContainer(t, ctx, pg.Container)

	store, err := primary.Open(&config.PrimaryConfig{
		DSN:          pg.DSN,
		MaxOpenConns: 2,
		MaxIdleConns: 1,
		ConnLifetime: time.Minute,
		QueryTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	require.NoError(t, store.Ping(ctx))

	db := store.DB()
	for _, stmt := range []string{
		`CREATE TABLE posts (
			id UUID PRIMARY KEY,
			author_id UUID NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE follows (
			follower_id UUID NOT NULL,
			following_id UUID NOT NULL
		)`,
	} {
		_, err := db.ExecContext(ctx, stmt)
		require.NoError(t, err)
	}

	user := uuid.New()
	author := uuid.New()
	_, err = db.ExecContext(ctx,
		`INSERT INTO follows (follower_id, following_id) VALUES ($1, $2)`, user, author)
	require.NoError(t, err)

	newest := uuid.New()
	older := uuid.New()
	_, err = db.ExecContext(ctx,
		`INSERT INTO posts (id, author_id, created_at) VALUES ($1, $2, $3), ($4, $5, $6)`,
		newest, author, time.Now(),
		older, author, time.Now().Add(-time.Hour))
	require.NoError(t, err)

	posts, hasMore, err := store.RecentFollowedPosts(ctx, user, 0, 10)
	require.NoError(t, err)
	assert.False(t, hasMore)
	require.Len(t, posts, 2)
	assert.Equal(t, newest, posts[0])
	assert.Equal(t, older, posts[1])
}
