// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package models

import (
	"time"

	"github.com/google/uuid"
)

// Source identifies which candidate generator produced a post.
// Precedence during merge dedup is Follow > Trending > Affinity: a post
// eligible from multiple sources keeps the highest-precedence tag.
type Source string

const (
	SourceFollow   Source = "follow"
	SourceTrending Source = "trending"
	SourceAffinity Source = "affinity"
)

// Precedence returns the merge ordering rank of the source (lower wins).
func (s Source) Precedence() int {
	switch s {
	case SourceFollow:
		return 0
	case SourceTrending:
		return 1
	case SourceAffinity:
		return 2
	default:
		return 3
	}
}

// RankedPost is one candidate post inside a single ranking pass.
//
// The engagement counters are a snapshot taken at query time: they are
// mutable upstream but immutable within the pass. The four score fields are
// derived once per pass and never persisted. Ordering, not absolute score
// value, is the contract - sub-scores are monotonic but unbounded above.
type RankedPost struct {
	PostID      uuid.UUID `json:"post_id"`
	AuthorID    uuid.UUID `json:"author_id"`
	CreatedAt   time.Time `json:"created_at"`
	Likes       uint32    `json:"likes"`
	Comments    uint32    `json:"comments"`
	Shares      uint32    `json:"shares"`
	Impressions uint32    `json:"impressions"`
	Source      Source    `json:"source"`

	FreshnessScore  float64 `json:"freshness_score"`
	EngagementScore float64 `json:"engagement_score"`
	AffinityScore   float64 `json:"affinity_score"`
	CombinedScore   float64 `json:"combined_score"`
}

// CachedFeedPage is the unit stored in the cache tier. It carries ordered
// post IDs only - bodies are hydrated by the content collaborator on read.
//
// Pages are keyed by (user, offset, limit, ranking version) and expire by
// TTL, never by content mutation. Bounded staleness is a deliberate
// consistency trade-off.
type CachedFeedPage struct {
	PostIDs  []uuid.UUID `json:"post_ids"`
	HasMore  bool        `json:"has_more"`
	CachedAt time.Time   `json:"cached_at"`
}

// FeedResponse is the inbound-query result: ordered post IDs plus a
// pagination cursor. Degraded is true when the page was served by the
// unranked fallback path.
type FeedResponse struct {
	PostIDs    []uuid.UUID `json:"post_ids"`
	NextOffset uint32      `json:"next_offset"`
	HasMore    bool        `json:"has_more"`
	Degraded   bool        `json:"degraded,omitempty"`
}

// HotPost is one entry in the precomputed global trending pool.
type HotPost struct {
	PostID      uuid.UUID `json:"post_id"`
	AuthorID    uuid.UUID `json:"author_id"`
	CreatedAt   time.Time `json:"created_at"`
	Likes       uint32    `json:"likes"`
	Comments    uint32    `json:"comments"`
	Shares      uint32    `json:"shares"`
	Impressions uint32    `json:"impressions"`
	Score       float64   `json:"score"`
}

// SuggestedUser is one entry in a cached follow-suggestion list, scored by
// the collaborative-filtering suggestion refresher.
type SuggestedUser struct {
	UserID uuid.UUID `json:"user_id"`
	Score  float64   `json:"score"`
	Reason string    `json:"reason"` // e.g. "3 mutual connections"
}

// UserAuthorAffinity is the read-only 90-day interaction aggregate owned by
// the analytics replication collaborator. This engine never mutates it.
type UserAuthorAffinity struct {
	UserID           uuid.UUID `json:"user_id"`
	AuthorID         uuid.UUID `json:"author_id"`
	InteractionCount uint32    `json:"interaction_count"`
}
