// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

// Package analytics reads the columnar analytics store: a DuckDB database
// holding CDC-replicated posts, follow edges, engagement events, and the
// precomputed rolling aggregates (per-post hourly metrics, per-user-author
// 90-day affinity).
//
// The store is populated by the replication collaborator and is strictly
// read-only from this engine's perspective. Upstream propagation lag is
// bounded (<10s target) but not managed here.
package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"runtime"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/nova-social/feedrank/internal/config"
	"github.com/nova-social/feedrank/internal/logging"
)

// ErrUnavailable indicates the analytics store cannot be queried right now
// (connection failure, timeout, or open circuit). Candidate generators
// degrade to empty on this error; it never fails a whole request by itself.
var ErrUnavailable = errors.New("analytics store unavailable")

// Store wraps the DuckDB connection to the replicated analytics database.
// Candidate queries order by the same combined-score expression the ranking
// engine uses, so the per-source caps keep the highest-scoring rows; the
// engine recomputes canonical scores in Go from the raw counters returned.
type Store struct {
	conn *sql.DB
	cfg  *config.AnalyticsConfig
	rank *config.RankingConfig
}

// Open opens the analytics database. With ReadOnly set (the production
// default) DuckDB refuses writes at the storage layer, enforcing the
// ownership boundary mechanically.
func Open(cfg *config.AnalyticsConfig, rank *config.RankingConfig) (*Store, error) {
	numThreads := cfg.Threads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}

	connStr := fmt.Sprintf("%s?threads=%d&max_memory=%s", cfg.Path, numThreads, cfg.MaxMemory)
	if cfg.ReadOnly {
		connStr += "&access_mode=read_only"
	}

	conn, err := sql.Open("duckdb", connStr)
	if err != nil {
		return nil, fmt.Errorf("open analytics store: %w", err)
	}

	// DuckDB is an in-process engine; a small pool avoids contention on the
	// single writer lock while still allowing parallel reads.
	conn.SetMaxOpenConns(numThreads)
	conn.SetMaxIdleConns(2)

	logging.Info().
		Str("path", cfg.Path).
		Int("threads", numThreads).
		Bool("read_only", cfg.ReadOnly).
		Msg("Analytics store opened")

	return &Store{conn: conn, cfg: cfg, rank: rank}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping verifies the store is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// EnsureSchema creates the replicated tables when they do not exist yet.
// In production the replication collaborator owns the schema; this exists
// for local development and tests, and fails on a read-only store.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS posts_cdc (
			id UUID PRIMARY KEY,
			author_id UUID NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS follows_cdc (
			follower_id UUID NOT NULL,
			following_id UUID NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS post_metrics_1h (
			post_id UUID NOT NULL,
			author_id UUID NOT NULL,
			window_start TIMESTAMP NOT NULL,
			likes INTEGER NOT NULL DEFAULT 0,
			comments INTEGER NOT NULL DEFAULT 0,
			shares INTEGER NOT NULL DEFAULT 0,
			impressions INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS user_author_90d (
			user_id UUID NOT NULL,
			author_id UUID NOT NULL,
			interaction_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS engagement_events (
			user_id UUID NOT NULL,
			post_id UUID NOT NULL,
			event_type VARCHAR NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create analytics schema: %w", err)
		}
	}
	return nil
}
