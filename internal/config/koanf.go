// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/feedrank/config.yaml",
	"/etc/feedrank/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all built-in defaults. These are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Analytics: AnalyticsConfig{
			Path:         "/data/analytics.duckdb",
			MaxMemory:    "2GB",
			Threads:      0, // 0 = use runtime.NumCPU()
			QueryTimeout: 5 * time.Second,
			ReadOnly:     true,
		},
		Primary: PrimaryConfig{
			DSN:          "",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			ConnLifetime: 30 * time.Minute,
			QueryTimeout: 2 * time.Second,
		},
		Cache: CacheConfig{
			Path:           "/data/feedcache",
			InMemory:       false,
			PageTTL:        60 * time.Second,
			PageTTLJitter:  60 * time.Second, // effective page TTL: 60-120s
			HotPostsTTL:    120 * time.Second,
			SuggestionsTTL: 600 * time.Second,
			SeenTTL:        24 * time.Hour,
		},
		Ranking: RankingConfig{
			FreshnessWeight:  0.30,
			EngagementWeight: 0.40,
			AffinityWeight:   0.30,
			FreshnessLambda:  0.10,
			FollowWindow:     72 * time.Hour,
			FollowLimit:      500,
			TrendingWindow:   24 * time.Hour,
			TrendingLimit:    200,
			AffinityWindow:   90 * 24 * time.Hour,
			AffinityLimit:    200,
			GeneratorTimeout: 500 * time.Millisecond,
			SaturationWindow: 5,
			Version:          "v1",
			DefaultLimit:     20,
			MaxLimit:         100,
		},
		Refresh: RefreshConfig{
			HotPostsInterval:    60 * time.Second,
			SuggestionsInterval: 10 * time.Minute,
			SuggestionsPerUser:  20,
			SuggestionsBatch:    100,
			WarmerInterval:      2 * time.Minute,
			WarmerUsers:         50,
			WarmerRate:          10, // warm passes per second
			ActiveWindow:        7 * 24 * time.Hour,
		},
		API: APIConfig{
			CORSOrigins:       []string{}, // empty by default - requires explicit configuration
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if one exists)
//  3. Environment variables: override any setting
func Load() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults from struct
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	// Layer 2: optional config file
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables (highest priority)
	// FEED_RANKING_VERSION -> ranking.version, ANALYTICS_PATH -> analytics.path
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	// Post-process slice fields from comma-separated env strings
	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the first file found, or empty string if none exists.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths are parsed as comma-separated
// slices when supplied via env vars.
var sliceConfigPaths = []string{
	"api.cors_origins",
}

// processSliceFields converts comma-separated string values to slices for
// known slice fields. Env vars always arrive as strings.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		// Already a slice (from YAML or defaults)
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names to koanf config paths.
// Only mapped variables are honored, so unrelated process environment
// never leaks into the configuration.
var envMappings = map[string]string{
	"HTTP_HOST":        "server.host",
	"HTTP_PORT":        "server.port",
	"SHUTDOWN_TIMEOUT": "server.shutdown_timeout",

	"ANALYTICS_PATH":          "analytics.path",
	"ANALYTICS_MAX_MEMORY":    "analytics.max_memory",
	"ANALYTICS_THREADS":       "analytics.threads",
	"ANALYTICS_QUERY_TIMEOUT": "analytics.query_timeout",
	"ANALYTICS_READ_ONLY":     "analytics.read_only",

	"PRIMARY_DSN":            "primary.dsn",
	"PRIMARY_MAX_OPEN_CONNS": "primary.max_open_conns",
	"PRIMARY_QUERY_TIMEOUT":  "primary.query_timeout",

	"CACHE_PATH":            "cache.path",
	"CACHE_IN_MEMORY":       "cache.in_memory",
	"CACHE_PAGE_TTL":        "cache.page_ttl",
	"CACHE_PAGE_TTL_JITTER": "cache.page_ttl_jitter",
	"CACHE_HOT_POSTS_TTL":   "cache.hot_posts_ttl",
	"CACHE_SUGGESTIONS_TTL": "cache.suggestions_ttl",
	"CACHE_SEEN_TTL":        "cache.seen_ttl",

	"FEED_RANKING_VERSION":    "ranking.version",
	"FEED_FRESHNESS_WEIGHT":   "ranking.freshness_weight",
	"FEED_ENGAGEMENT_WEIGHT":  "ranking.engagement_weight",
	"FEED_AFFINITY_WEIGHT":    "ranking.affinity_weight",
	"FEED_FRESHNESS_LAMBDA":   "ranking.freshness_lambda",
	"FEED_GENERATOR_TIMEOUT":  "ranking.generator_timeout",
	"FEED_SATURATION_WINDOW":  "ranking.saturation_window",
	"FEED_DEFAULT_PAGE_LIMIT": "ranking.default_limit",
	"FEED_MAX_PAGE_LIMIT":     "ranking.max_limit",

	"REFRESH_HOT_POSTS_INTERVAL":   "refresh.hot_posts_interval",
	"REFRESH_SUGGESTIONS_INTERVAL": "refresh.suggestions_interval",
	"REFRESH_WARMER_INTERVAL":      "refresh.warmer_interval",
	"REFRESH_WARMER_USERS":         "refresh.warmer_users",
	"REFRESH_WARMER_RATE":          "refresh.warmer_rate",

	"API_CORS_ORIGINS":        "api.cors_origins",
	"API_RATE_LIMIT_REQUESTS": "api.rate_limit_requests",
	"API_RATE_LIMIT_WINDOW":   "api.rate_limit_window",
	"API_RATE_LIMIT_DISABLED": "api.rate_limit_disabled",

	"LOG_LEVEL":  "logging.level",
	"LOG_FORMAT": "logging.format",
	"LOG_CALLER": "logging.caller",
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are dropped (empty return).
func envTransformFunc(key string) string {
	if path, ok := envMappings[strings.ToUpper(key)]; ok {
		return path
	}
	return ""
}
