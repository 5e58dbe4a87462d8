// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

// Package primary reads the primary transactional store (PostgreSQL).
//
// Only the degraded fallback path touches this store: when the ranked
// pipeline cannot produce a page, the engine serves a plain
// reverse-chronological feed of posts from followed authors straight from
// the source of truth. Nothing here is ever cached and nothing here writes.
package primary

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/nova-social/feedrank/internal/config"
	"github.com/nova-social/feedrank/internal/logging"
)

// Store wraps the connection pool to the primary database.
type Store struct {
	db  *sql.DB
	cfg *config.PrimaryConfig
}

// Open opens the primary store connection pool. The pool is sized small:
// the fallback path is exceptional traffic and must never compete with the
// write workload that owns this database.
func Open(cfg *config.PrimaryConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open primary store: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	logging.Info().
		Int("max_open_conns", cfg.MaxOpenConns).
		Msg("Primary store opened")

	return &Store{db: db, cfg: cfg}, nil
}

// DB exposes the underlying pool for test fixtures.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping primary store: %w", err)
	}
	return nil
}

// RecentFollowedPosts returns one page of post IDs by authors the user
// follows, newest first with post ID as the deterministic tie-break. It
// fetches limit+1 rows to derive hasMore without a second count query.
//
// An empty page with no error is a real result (the user follows nobody,
// or their authors are quiet), not a failure.
func (s *Store) RecentFollowedPosts(ctx context.Context, userID uuid.UUID, offset, limit int) ([]uuid.UUID, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id
		FROM posts p
		JOIN follows f ON f.following_id = p.author_id
		WHERE f.follower_id = $1
		ORDER BY p.created_at DESC, p.id ASC
		LIMIT $2 OFFSET $3`,
		userID, limit+1, offset)
	if err != nil {
		return nil, false, fmt.Errorf("query recent followed posts: %w", err)
	}
	defer rows.Close()

	var postIDs []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, false, fmt.Errorf("scan post id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, false, fmt.Errorf("parse post id %q: %w", raw, err)
		}
		postIDs = append(postIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterate recent followed posts: %w", err)
	}

	hasMore := len(postIDs) > limit
	if hasMore {
		postIDs = postIDs[:limit]
	}
	return postIDs, hasMore, nil
}

// FollowedAuthors returns the set of author IDs the user currently follows.
func (s *Store) FollowedAuthors(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT following_id FROM follows WHERE follower_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query followed authors: %w", err)
	}
	defer rows.Close()

	var authors []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan author id: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse author id %q: %w", raw, err)
		}
		authors = append(authors, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate followed authors: %w", err)
	}
	return authors, nil
}
