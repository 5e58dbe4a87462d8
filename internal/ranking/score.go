// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

// Package ranking implements the feed ranking pipeline: candidate
// generation fan-out, scoring, merge with source-precedence dedup, seen-set
// filtering, deterministic ordering, author saturation, and the degraded
// fallback path.
package ranking

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/nova-social/feedrank/internal/config"
	"github.com/nova-social/feedrank/internal/models"
)

// FreshnessScore is exponential decay over post age: exp(-lambda * hours).
// A future-dated post (clock skew upstream) clamps to age zero rather than
// scoring above 1.
func FreshnessScore(lambda float64, createdAt, now time.Time) float64 {
	ageHours := now.Sub(createdAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return math.Exp(-lambda * ageHours)
}

// EngagementScore is log1p of the impression-normalized weighted engagement
// rate. Comments weigh double and shares triple a like; the divisor floors
// at 1 so zero-impression posts score on raw counts instead of dividing by
// zero. log1p keeps the score monotonic while compressing viral outliers.
func EngagementScore(likes, comments, shares, impressions uint32) float64 {
	weighted := float64(likes) + 2*float64(comments) + 3*float64(shares)
	rate := weighted / math.Max(1, float64(impressions))
	return math.Log1p(rate)
}

// AffinityScore is log1p of the viewer's 90-day interaction count with the
// post's author. Zero history scores exactly zero.
func AffinityScore(interactionCount uint32) float64 {
	return math.Log1p(float64(interactionCount))
}

// ScorePosts derives the three sub-scores and the weighted combined score
// for every candidate in place. The affinity map covers all of the user's
// interacted-with authors, so Follow and Trending candidates pick up their
// affinity component too, not just Affinity-sourced ones.
//
// now is fixed once per ranking pass: every candidate ages against the
// same instant, which keeps the pass deterministic for a given snapshot.
func ScorePosts(cfg *config.RankingConfig, posts []models.RankedPost, affinity map[uuid.UUID]uint32, now time.Time) {
	for i := range posts {
		p := &posts[i]
		p.FreshnessScore = FreshnessScore(cfg.FreshnessLambda, p.CreatedAt, now)
		p.EngagementScore = EngagementScore(p.Likes, p.Comments, p.Shares, p.Impressions)
		p.AffinityScore = AffinityScore(affinity[p.AuthorID])
		p.CombinedScore = cfg.FreshnessWeight*p.FreshnessScore +
			cfg.EngagementWeight*p.EngagementScore +
			cfg.AffinityWeight*p.AffinityScore
	}
}
