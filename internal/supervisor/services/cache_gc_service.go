// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package services

import (
	"context"
	"time"

	"github.com/nova-social/feedrank/internal/logging"
)

// ValueLogGC is the cache-store surface the GC service needs.
type ValueLogGC interface {
	RunValueLogGC() error
}

// CacheGCService periodically runs Badger value-log garbage collection.
// Badger does not reclaim value-log space on its own; without this the
// cache directory grows unbounded under page-write churn.
type CacheGCService struct {
	store    ValueLogGC
	interval time.Duration
}

// NewCacheGCService creates a GC service. interval defaults to 5 minutes.
func NewCacheGCService(store ValueLogGC, interval time.Duration) *CacheGCService {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &CacheGCService{store: store, interval: interval}
}

// Serve runs GC rounds until the context is canceled.
func (s *CacheGCService) Serve(ctx context.Context) error {
	logger := logging.With().Str("service", "cache-gc").Logger()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.store.RunValueLogGC(); err != nil {
				logger.Warn().Err(err).Msg("value log GC round failed")
			}
		}
	}
}

// String implements fmt.Stringer for suture's service naming.
func (s *CacheGCService) String() string {
	return "cache-gc"
}
