// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

// Package main is the entry point for the feedrank server.
//
// Feedrank serves personalized, ranked feed pages for a social platform.
// Candidates come from three generators (followed authors, trending,
// affinity) fanned out against a read-only DuckDB analytics store, are
// scored and merged, and served through a BadgerDB cache tier. When the
// ranked pipeline cannot produce a page, a reverse-chronological fallback
// reads the primary PostgreSQL store.
//
// The server initializes components in the following order:
//
//  1. Configuration: environment variables over YAML over defaults (Koanf v2)
//  2. Analytics store: DuckDB over the CDC-replicated tables, wrapped in a
//     circuit breaker
//  3. Primary store: PostgreSQL, used only by the degraded fallback path
//  4. Cache tier: BadgerDB feed pages, seen markers, hot posts, suggestions
//  5. Ranking engine: candidate fan-out, scoring, merge, saturation
//  6. Refreshers: hot posts, suggestions, feed warmer
//  7. HTTP server: REST API under /api/v1 plus /health and /metrics
//
// All long-lived components run under a Suture supervision tree so a
// crashing refresher restarts with backoff instead of taking the API down.
//
// Graceful shutdown is triggered by SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/nova-social/feedrank/internal/analytics"
	"github.com/nova-social/feedrank/internal/api"
	"github.com/nova-social/feedrank/internal/config"
	"github.com/nova-social/feedrank/internal/feedcache"
	"github.com/nova-social/feedrank/internal/logging"
	"github.com/nova-social/feedrank/internal/primary"
	"github.com/nova-social/feedrank/internal/ranking"
	"github.com/nova-social/feedrank/internal/refresher"
	"github.com/nova-social/feedrank/internal/supervisor"
	"github.com/nova-social/feedrank/internal/supervisor/services"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("analytics_path", cfg.Analytics.Path).
		Str("cache_path", cfg.Cache.Path).
		Str("ranking_version", cfg.Ranking.Version).
		Msg("Starting feedrank")

	// Analytics store (DuckDB over CDC tables), wrapped in a circuit breaker
	// so a slow or dead analytics tier trips to the fallback path instead of
	// stacking up timed-out queries.
	analyticsStore, err := analytics.Open(&cfg.Analytics, &cfg.Ranking)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open analytics store")
	}
	defer func() {
		if err := analyticsStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing analytics store")
		}
	}()

	if err := analyticsStore.EnsureSchema(context.Background()); err != nil {
		logging.Fatal().Err(err).Msg("Failed to verify analytics schema")
	}
	if err := analyticsStore.Ping(context.Background()); err != nil {
		logging.Warn().Err(err).Msg("Analytics store unreachable at startup (will retry)")
	}
	breaker := analytics.NewBreakerStore(analyticsStore)

	// Primary transactional store, fallback path only.
	primaryStore, err := primary.Open(&cfg.Primary)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open primary store")
	}
	defer func() {
		if err := primaryStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing primary store")
		}
	}()
	if err := primaryStore.Ping(context.Background()); err != nil {
		logging.Warn().Err(err).Msg("Primary store unreachable at startup (will retry)")
	}

	// Cache tier.
	cacheStore, err := feedcache.Open(cfg.Cache)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open cache store")
	}
	defer func() {
		if err := cacheStore.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing cache store")
		}
	}()

	engine := ranking.NewEngine(breaker, cacheStore, primaryStore, &cfg.Ranking)

	// In-process pub/sub bus carrying on-demand suggestion refresh triggers
	// from the API layer to the suggestion refresher.
	bus := gochannel.NewGoChannel(gochannel.Config{}, watermill.NewSlogLogger(logging.NewSlogLogger()))
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing message bus")
		}
	}()

	tree, err := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// Data layer: Badger value-log GC.
	tree.AddDataService(services.NewCacheGCService(cacheStore, 5*time.Minute))

	// Refresh layer.
	refreshLogger := logging.Logger()
	tree.AddRefreshService(refresher.NewHotPostService(breaker, cacheStore, &cfg.Ranking, &cfg.Refresh, refreshLogger))
	tree.AddRefreshService(refresher.NewSuggestionService(breaker, cacheStore, bus, &cfg.Refresh, refreshLogger))
	tree.AddRefreshService(refresher.NewWarmerService(engine, breaker, &cfg.Refresh, &cfg.Ranking, refreshLogger))

	// API layer.
	handlers := api.NewHandlers(engine, cacheStore, breaker, breaker, primaryStore, bus, &cfg.Ranking)
	router := api.NewRouter(handlers, &cfg.API)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	tree.AddAPIService(services.NewHTTPServerService(server, server.Addr, cfg.Server.ShutdownTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Drain until the supervisor has fully stopped.
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("Service failed to stop within timeout")
	}

	logging.Info().Msg("Feedrank stopped gracefully")
}
