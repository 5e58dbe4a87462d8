// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

// Package feedcache is the cache tier of the feed engine: a BadgerDB-backed
// key-value store holding pre-ranked feed pages, the global trending pool,
// follow suggestions, and the per-user rolling seen-post set.
//
// Every write is a single-key upsert with TTL, so callers never need
// multi-key transactions or explicit locking. All errors are recoverable by
// design: callers treat a failed read exactly like a miss and a failed
// write as a skipped optimization.
package feedcache

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/nova-social/feedrank/internal/config"
	"github.com/nova-social/feedrank/internal/metrics"
	"github.com/nova-social/feedrank/internal/models"
)

// seenMarker is the value stored under seen-post keys. Only key presence
// matters.
var seenMarker = []byte{1}

// Store is the BadgerDB-backed cache tier.
type Store struct {
	db  *badger.DB
	cfg config.CacheConfig
}

// Open opens (or creates) the cache store at the configured path. With
// InMemory set, nothing touches disk - used by tests and ephemeral deploys.
func Open(cfg config.CacheConfig) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}

	return &Store{db: db, cfg: cfg}, nil
}

// Close closes the underlying Badger database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunValueLogGC triggers one round of Badger value-log garbage collection.
// Safe to call periodically from a background service; a no-rewrite result
// is not an error.
func (s *Store) RunValueLogGC() error {
	err := s.db.RunValueLogGC(0.5)
	if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
		return nil
	}
	return err
}

// GetPage retrieves a cached feed page. Returns (nil, nil) on a miss.
func (s *Store) GetPage(_ context.Context, userID uuid.UUID, offset, limit uint32, version string) (*models.CachedFeedPage, error) {
	key := []byte(PageKey(version, userID, offset, limit))

	var page models.CachedFeedPage
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &page)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		metrics.CacheMisses.WithLabelValues("page").Inc()
		return nil, nil
	}
	if err != nil {
		metrics.CacheErrors.WithLabelValues("page", "get").Inc()
		return nil, fmt.Errorf("get page: %w", err)
	}

	metrics.CacheHits.WithLabelValues("page").Inc()
	return &page, nil
}

// PutPage stores a feed page with the configured TTL plus random jitter.
// The jitter spreads expiry across users so a burst of simultaneous misses
// cannot stampede the analytics store when pages age out together.
func (s *Store) PutPage(_ context.Context, userID uuid.UUID, offset, limit uint32, version string, page *models.CachedFeedPage) error {
	page.CachedAt = time.Now().UTC()

	data, err := json.Marshal(page)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("page", "put").Inc()
		return fmt.Errorf("marshal page: %w", err)
	}

	key := []byte(PageKey(version, userID, offset, limit))
	ttl := s.pageTTL()

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, data).WithTTL(ttl))
	})
	if err != nil {
		metrics.CacheErrors.WithLabelValues("page", "put").Inc()
		return fmt.Errorf("put page: %w", err)
	}

	return nil
}

// pageTTL returns the base page TTL plus up to PageTTLJitter of random
// extra lifetime.
func (s *Store) pageTTL() time.Duration {
	ttl := s.cfg.PageTTL
	if s.cfg.PageTTLJitter > 0 {
		ttl += rand.N(s.cfg.PageTTLJitter)
	}
	return ttl
}

// MarkSeen records the given posts as delivered to the user. Each post gets
// its own key with the seen TTL so markers expire individually, giving the
// set its rolling 24-hour window.
func (s *Store) MarkSeen(_ context.Context, userID uuid.UUID, postIDs []uuid.UUID) error {
	if len(postIDs) == 0 {
		return nil
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		for _, postID := range postIDs {
			entry := badger.NewEntry([]byte(SeenKey(userID, postID)), seenMarker).WithTTL(s.cfg.SeenTTL)
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.CacheErrors.WithLabelValues("seen", "put").Inc()
		return fmt.Errorf("mark seen: %w", err)
	}

	return nil
}

// FilterUnseen returns the subset of postIDs the user has not been served
// within the seen TTL window, preserving input order.
func (s *Store) FilterUnseen(_ context.Context, userID uuid.UUID, postIDs []uuid.UUID) ([]uuid.UUID, error) {
	if len(postIDs) == 0 {
		return nil, nil
	}

	unseen := make([]uuid.UUID, 0, len(postIDs))
	err := s.db.View(func(txn *badger.Txn) error {
		for _, postID := range postIDs {
			_, err := txn.Get([]byte(SeenKey(userID, postID)))
			if errors.Is(err, badger.ErrKeyNotFound) {
				unseen = append(unseen, postID)
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		metrics.CacheErrors.WithLabelValues("seen", "get").Inc()
		return nil, fmt.Errorf("filter unseen: %w", err)
	}

	return unseen, nil
}

// HotPosts retrieves the precomputed trending pool for the given window.
// Returns (nil, nil) on a miss.
func (s *Store) HotPosts(_ context.Context, window string) ([]models.HotPost, error) {
	var posts []models.HotPost
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(HotPostsKey(window)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &posts)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		metrics.CacheMisses.WithLabelValues("hot_posts").Inc()
		return nil, nil
	}
	if err != nil {
		metrics.CacheErrors.WithLabelValues("hot_posts", "get").Inc()
		return nil, fmt.Errorf("get hot posts: %w", err)
	}

	metrics.CacheHits.WithLabelValues("hot_posts").Inc()
	return posts, nil
}

// PutHotPosts stores the trending pool under the given window key.
func (s *Store) PutHotPosts(_ context.Context, window string, posts []models.HotPost) error {
	data, err := json.Marshal(posts)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("hot_posts", "put").Inc()
		return fmt.Errorf("marshal hot posts: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(HotPostsKey(window)), data).WithTTL(s.cfg.HotPostsTTL)
		return txn.SetEntry(entry)
	})
	if err != nil {
		metrics.CacheErrors.WithLabelValues("hot_posts", "put").Inc()
		return fmt.Errorf("put hot posts: %w", err)
	}

	return nil
}

// Suggestions retrieves a user's cached follow-suggestion list.
// Returns (nil, nil) on a miss.
func (s *Store) Suggestions(_ context.Context, userID uuid.UUID) ([]models.SuggestedUser, error) {
	var suggestions []models.SuggestedUser
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(SuggestionsKey(userID)))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &suggestions)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		metrics.CacheMisses.WithLabelValues("suggestions").Inc()
		return nil, nil
	}
	if err != nil {
		metrics.CacheErrors.WithLabelValues("suggestions", "get").Inc()
		return nil, fmt.Errorf("get suggestions: %w", err)
	}

	metrics.CacheHits.WithLabelValues("suggestions").Inc()
	return suggestions, nil
}

// PutSuggestions stores a user's follow-suggestion list.
func (s *Store) PutSuggestions(_ context.Context, userID uuid.UUID, suggestions []models.SuggestedUser) error {
	data, err := json.Marshal(suggestions)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("suggestions", "put").Inc()
		return fmt.Errorf("marshal suggestions: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(SuggestionsKey(userID)), data).WithTTL(s.cfg.SuggestionsTTL)
		return txn.SetEntry(entry)
	})
	if err != nil {
		metrics.CacheErrors.WithLabelValues("suggestions", "put").Inc()
		return fmt.Errorf("put suggestions: %w", err)
	}

	return nil
}
