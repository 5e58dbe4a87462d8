// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

// Package config defines the layered configuration for the feed engine.
// Settings are loaded via Koanf v2 with clear precedence: environment
// variables override the optional YAML config file, which overrides
// built-in defaults. See koanf.go for the loader.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the feed engine.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Analytics AnalyticsConfig `koanf:"analytics"`
	Primary   PrimaryConfig   `koanf:"primary"`
	Cache     CacheConfig     `koanf:"cache"`
	Ranking   RankingConfig   `koanf:"ranking"`
	Refresh   RefreshConfig   `koanf:"refresh"`
	API       APIConfig       `koanf:"api"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// AnalyticsConfig holds connection settings for the columnar analytics
// store (DuckDB over the replicated CDC tables). The store is strictly
// read-only from this engine's perspective; the replication pipeline that
// populates it is an external collaborator with a documented propagation
// lag target of under 10 seconds.
type AnalyticsConfig struct {
	Path         string        `koanf:"path"`
	MaxMemory    string        `koanf:"max_memory"`
	Threads      int           `koanf:"threads"` // 0 = runtime.NumCPU()
	QueryTimeout time.Duration `koanf:"query_timeout"`
	ReadOnly     bool          `koanf:"read_only"`
}

// PrimaryConfig holds connection settings for the primary transactional
// store (PostgreSQL). Only the degraded fallback path reads it.
type PrimaryConfig struct {
	DSN          string        `koanf:"dsn"`
	MaxOpenConns int           `koanf:"max_open_conns"`
	MaxIdleConns int           `koanf:"max_idle_conns"`
	ConnLifetime time.Duration `koanf:"conn_lifetime"`
	QueryTimeout time.Duration `koanf:"query_timeout"`
}

// CacheConfig holds settings for the BadgerDB-backed cache tier.
type CacheConfig struct {
	// Path is the Badger data directory. Ignored when InMemory is true.
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`

	// PageTTL is the base feed-page TTL; each write adds up to PageTTLJitter
	// of random extra lifetime to avoid synchronized expiry stampedes.
	PageTTL       time.Duration `koanf:"page_ttl"`
	PageTTLJitter time.Duration `koanf:"page_ttl_jitter"`

	HotPostsTTL    time.Duration `koanf:"hot_posts_ttl"`
	SuggestionsTTL time.Duration `koanf:"suggestions_ttl"`

	// SeenTTL is the rolling lifetime of per-post seen markers used for
	// cross-page dedup. Entries expire individually.
	SeenTTL time.Duration `koanf:"seen_ttl"`
}

// RankingConfig holds the scoring weights and candidate bounds of the
// merge and ranking engine. The combined score is
// FreshnessWeight*freshness + EngagementWeight*engagement + AffinityWeight*affinity.
type RankingConfig struct {
	FreshnessWeight  float64 `koanf:"freshness_weight"`
	EngagementWeight float64 `koanf:"engagement_weight"`
	AffinityWeight   float64 `koanf:"affinity_weight"`

	// FreshnessLambda is the exponential decay rate per hour of age.
	FreshnessLambda float64 `koanf:"freshness_lambda"`

	FollowWindow time.Duration `koanf:"follow_window"`
	FollowLimit  int           `koanf:"follow_limit"`

	TrendingWindow time.Duration `koanf:"trending_window"`
	TrendingLimit  int           `koanf:"trending_limit"`

	AffinityWindow time.Duration `koanf:"affinity_window"`
	AffinityLimit  int           `koanf:"affinity_limit"`

	// GeneratorTimeout bounds each candidate generator sub-task.
	GeneratorTimeout time.Duration `koanf:"generator_timeout"`

	// SaturationWindow is the sliding window within which an author may
	// appear at most once.
	SaturationWindow int `koanf:"saturation_window"`

	// Version is the ranking version string baked into every cache key so
	// no mixed-version pages are ever served. Bump it whenever the formula
	// or weight set changes.
	Version string `koanf:"version"`

	DefaultLimit int `koanf:"default_limit"`
	MaxLimit     int `koanf:"max_limit"`
}

// RefreshConfig holds the schedules of the three background refreshers.
type RefreshConfig struct {
	HotPostsInterval time.Duration `koanf:"hot_posts_interval"`

	SuggestionsInterval time.Duration `koanf:"suggestions_interval"`
	SuggestionsPerUser  int           `koanf:"suggestions_per_user"`
	SuggestionsBatch    int           `koanf:"suggestions_batch"`

	WarmerInterval time.Duration `koanf:"warmer_interval"`
	WarmerUsers    int           `koanf:"warmer_users"`
	// WarmerRate caps warm passes per second against the analytics store.
	WarmerRate float64 `koanf:"warmer_rate"`

	// ActiveWindow defines who counts as "active" for warming and
	// suggestion sampling.
	ActiveWindow time.Duration `koanf:"active_window"`
}

// APIConfig holds middleware settings for the HTTP layer.
type APIConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values that would misbehave at
// runtime. It is called by the loader after all layers are applied.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Analytics.Path == "" {
		return fmt.Errorf("analytics.path is required")
	}
	if c.Primary.DSN == "" {
		return fmt.Errorf("primary.dsn is required (fallback path needs the transactional store)")
	}
	if !c.Cache.InMemory && c.Cache.Path == "" {
		return fmt.Errorf("cache.path is required unless cache.in_memory is set")
	}

	weightSum := c.Ranking.FreshnessWeight + c.Ranking.EngagementWeight + c.Ranking.AffinityWeight
	if weightSum <= 0 {
		return fmt.Errorf("ranking weights must sum to a positive value, got %g", weightSum)
	}
	if c.Ranking.FreshnessLambda <= 0 {
		return fmt.Errorf("ranking.freshness_lambda must be positive, got %g", c.Ranking.FreshnessLambda)
	}
	if c.Ranking.Version == "" {
		return fmt.Errorf("ranking.version is required")
	}
	if c.Ranking.MaxLimit < 1 || c.Ranking.MaxLimit > 100 {
		return fmt.Errorf("ranking.max_limit must be 1-100, got %d", c.Ranking.MaxLimit)
	}
	if c.Ranking.DefaultLimit < 1 || c.Ranking.DefaultLimit > c.Ranking.MaxLimit {
		return fmt.Errorf("ranking.default_limit must be 1-%d, got %d", c.Ranking.MaxLimit, c.Ranking.DefaultLimit)
	}
	if c.Ranking.SaturationWindow < 1 {
		return fmt.Errorf("ranking.saturation_window must be at least 1, got %d", c.Ranking.SaturationWindow)
	}
	if c.Ranking.GeneratorTimeout <= 0 {
		return fmt.Errorf("ranking.generator_timeout must be positive, got %s", c.Ranking.GeneratorTimeout)
	}

	if c.Cache.PageTTL <= 0 {
		return fmt.Errorf("cache.page_ttl must be positive, got %s", c.Cache.PageTTL)
	}
	if c.Cache.PageTTLJitter < 0 {
		return fmt.Errorf("cache.page_ttl_jitter must not be negative, got %s", c.Cache.PageTTLJitter)
	}
	if c.Cache.SeenTTL <= 0 {
		return fmt.Errorf("cache.seen_ttl must be positive, got %s", c.Cache.SeenTTL)
	}

	if c.Refresh.HotPostsInterval <= 0 {
		return fmt.Errorf("refresh.hot_posts_interval must be positive, got %s", c.Refresh.HotPostsInterval)
	}
	if c.Refresh.WarmerUsers < 0 {
		return fmt.Errorf("refresh.warmer_users must not be negative, got %d", c.Refresh.WarmerUsers)
	}

	return nil
}
