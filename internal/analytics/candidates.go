// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nova-social/feedrank/internal/metrics"
	"github.com/nova-social/feedrank/internal/models"
)

// scoreExpr renders the combined-score ORDER BY expression over the raw
// counters. Weight and decay values come from configuration, never from
// request input, so formatting them into the query text is safe. The
// affinity term is only present on queries that join user_author_90d.
func (s *Store) scoreExpr(affinityExpr string) string {
	expr := fmt.Sprintf(
		`(%g * exp(-%g * date_diff('hour', p.created_at, now())) +
		  %g * ln(1 + (COALESCE(SUM(m.likes), 0) + 2*COALESCE(SUM(m.comments), 0) + 3*COALESCE(SUM(m.shares), 0))
		              / greatest(COALESCE(SUM(m.impressions), 0), 1)))`,
		s.rank.FreshnessWeight, s.rank.FreshnessLambda, s.rank.EngagementWeight,
	)
	if affinityExpr != "" {
		expr += fmt.Sprintf(" + %g * ln(1 + %s)", s.rank.AffinityWeight, affinityExpr)
	}
	return expr
}

// scanCandidates drains a candidate result set whose column order is
// (post_id, author_id, created_at, likes, comments, shares, impressions).
func scanCandidates(rows *sql.Rows, source models.Source) ([]models.RankedPost, error) {
	var posts []models.RankedPost
	for rows.Next() {
		var (
			p              models.RankedPost
			postID, author string
		)
		if err := rows.Scan(&postID, &author, &p.CreatedAt, &p.Likes, &p.Comments, &p.Shares, &p.Impressions); err != nil {
			return nil, fmt.Errorf("scan candidate row: %w", err)
		}
		var err error
		if p.PostID, err = uuid.Parse(postID); err != nil {
			return nil, fmt.Errorf("parse post id %q: %w", postID, err)
		}
		if p.AuthorID, err = uuid.Parse(author); err != nil {
			return nil, fmt.Errorf("parse author id %q: %w", author, err)
		}
		p.Source = source
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate rows: %w", err)
	}
	return posts, nil
}

// FollowCandidates returns recent posts by authors the user follows,
// ordered by combined score and capped at the configured limit. Raw
// engagement counters are returned; canonical scoring happens in the
// ranking engine.
func (s *Store) FollowCandidates(ctx context.Context, userID uuid.UUID) ([]models.RankedPost, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	query := fmt.Sprintf(`
		SELECT CAST(p.id AS VARCHAR), CAST(p.author_id AS VARCHAR), p.created_at,
		       COALESCE(SUM(m.likes), 0), COALESCE(SUM(m.comments), 0),
		       COALESCE(SUM(m.shares), 0), COALESCE(SUM(m.impressions), 0)
		FROM posts_cdc p
		JOIN follows_cdc f ON f.following_id = p.author_id
		LEFT JOIN post_metrics_1h m ON m.post_id = p.id
		WHERE f.follower_id = ?
		  AND p.created_at > now() - INTERVAL %d HOUR
		GROUP BY p.id, p.author_id, p.created_at
		ORDER BY %s DESC
		LIMIT ?`,
		int(s.rank.FollowWindow.Hours()), s.scoreExpr(""))

	rows, err := s.conn.QueryContext(ctx, query, userID.String(), s.rank.FollowLimit)
	metrics.RecordAnalyticsQuery("follow_candidates", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("query follow candidates: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows, models.SourceFollow)
}

// TrendingCandidates returns the globally hottest posts of the trending
// window, ordered by combined score. The result is user-independent and is
// normally served from the hot-posts cache; this is the refresh query.
func (s *Store) TrendingCandidates(ctx context.Context) ([]models.RankedPost, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	query := fmt.Sprintf(`
		SELECT CAST(p.id AS VARCHAR), CAST(p.author_id AS VARCHAR), p.created_at,
		       COALESCE(SUM(m.likes), 0), COALESCE(SUM(m.comments), 0),
		       COALESCE(SUM(m.shares), 0), COALESCE(SUM(m.impressions), 0)
		FROM post_metrics_1h m
		JOIN posts_cdc p ON p.id = m.post_id
		WHERE m.window_start > now() - INTERVAL %d HOUR
		GROUP BY p.id, p.author_id, p.created_at
		ORDER BY %s DESC
		LIMIT ?`,
		int(s.rank.TrendingWindow.Hours()), s.scoreExpr(""))

	rows, err := s.conn.QueryContext(ctx, query, s.rank.TrendingLimit)
	metrics.RecordAnalyticsQuery("trending_candidates", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("query trending candidates: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows, models.SourceTrending)
}

// affinityPostWindow bounds how old a post may be and still enter the
// affinity pool. Affinity measures a standing relationship; without a
// recency bound the pool would fill with stale posts from favorite authors.
const affinityPostWindow = 14 * 24 * time.Hour

// AffinityCandidates returns recent posts by authors the user has a
// 90-day interaction history with but does not currently follow.
func (s *Store) AffinityCandidates(ctx context.Context, userID uuid.UUID) ([]models.RankedPost, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	query := fmt.Sprintf(`
		SELECT CAST(p.id AS VARCHAR), CAST(p.author_id AS VARCHAR), p.created_at,
		       COALESCE(SUM(m.likes), 0), COALESCE(SUM(m.comments), 0),
		       COALESCE(SUM(m.shares), 0), COALESCE(SUM(m.impressions), 0)
		FROM posts_cdc p
		JOIN user_author_90d a ON a.author_id = p.author_id AND a.user_id = ?
		LEFT JOIN post_metrics_1h m ON m.post_id = p.id
		WHERE p.created_at > now() - INTERVAL %d HOUR
		  AND NOT EXISTS (
		      SELECT 1 FROM follows_cdc f
		      WHERE f.follower_id = ? AND f.following_id = p.author_id
		  )
		GROUP BY p.id, p.author_id, p.created_at, a.interaction_count
		ORDER BY %s DESC
		LIMIT ?`,
		int(affinityPostWindow.Hours()), s.scoreExpr("a.interaction_count"))

	rows, err := s.conn.QueryContext(ctx, query, userID.String(), userID.String(), s.rank.AffinityLimit)
	metrics.RecordAnalyticsQuery("affinity_candidates", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("query affinity candidates: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows, models.SourceAffinity)
}

// AffinityCounts returns the user's full author->interaction_count map from
// the 90-day aggregate. The ranking engine uses it to assign an affinity
// sub-score to every candidate regardless of which generator produced it.
func (s *Store) AffinityCounts(ctx context.Context, userID uuid.UUID) (map[uuid.UUID]uint32, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	rows, err := s.conn.QueryContext(ctx, `
		SELECT CAST(author_id AS VARCHAR), interaction_count
		FROM user_author_90d
		WHERE user_id = ?`, userID.String())
	metrics.RecordAnalyticsQuery("affinity_counts", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("query affinity counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[uuid.UUID]uint32)
	for rows.Next() {
		var (
			author string
			count  uint32
		)
		if err := rows.Scan(&author, &count); err != nil {
			return nil, fmt.Errorf("scan affinity count: %w", err)
		}
		authorID, err := uuid.Parse(author)
		if err != nil {
			return nil, fmt.Errorf("parse author id %q: %w", author, err)
		}
		counts[authorID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate affinity counts: %w", err)
	}
	return counts, nil
}

// ActiveUsers returns the users with the most engagement events inside the
// window, most active first. The cache warmer and the suggestion refresher
// sample their populations from this.
func (s *Store) ActiveUsers(ctx context.Context, window time.Duration, limit int) ([]uuid.UUID, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	query := fmt.Sprintf(`
		SELECT CAST(user_id AS VARCHAR)
		FROM engagement_events
		WHERE created_at > now() - INTERVAL %d HOUR
		GROUP BY user_id
		ORDER BY COUNT(*) DESC
		LIMIT ?`, int(window.Hours()))

	rows, err := s.conn.QueryContext(ctx, query, limit)
	metrics.RecordAnalyticsQuery("active_users", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("query active users: %w", err)
	}
	defer rows.Close()

	var users []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan active user: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse user id %q: %w", raw, err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate active users: %w", err)
	}
	return users, nil
}

// SuggestCandidates returns follow suggestions for a user via a
// friends-of-friends walk over the follow graph: accounts followed by the
// accounts the user follows, excluding the user and anyone already
// followed, ranked by mutual-connection count.
func (s *Store) SuggestCandidates(ctx context.Context, userID uuid.UUID, limit int) ([]models.SuggestedUser, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	uid := userID.String()
	rows, err := s.conn.QueryContext(ctx, `
		SELECT CAST(f2.following_id AS VARCHAR), COUNT(*) AS mutuals
		FROM follows_cdc f1
		JOIN follows_cdc f2 ON f2.follower_id = f1.following_id
		WHERE f1.follower_id = ?
		  AND f2.following_id <> ?
		  AND f2.following_id NOT IN (
		      SELECT following_id FROM follows_cdc WHERE follower_id = ?
		  )
		GROUP BY f2.following_id
		ORDER BY mutuals DESC, CAST(f2.following_id AS VARCHAR) ASC
		LIMIT ?`, uid, uid, uid, limit)
	metrics.RecordAnalyticsQuery("suggest_candidates", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("query suggestion candidates: %w", err)
	}
	defer rows.Close()

	var suggestions []models.SuggestedUser
	for rows.Next() {
		var (
			raw     string
			mutuals int
		)
		if err := rows.Scan(&raw, &mutuals); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse suggested user id %q: %w", raw, err)
		}
		reason := fmt.Sprintf("%d mutual connections", mutuals)
		if mutuals == 1 {
			reason = "1 mutual connection"
		}
		suggestions = append(suggestions, models.SuggestedUser{
			UserID: id,
			Score:  float64(mutuals),
			Reason: reason,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate suggestions: %w", err)
	}
	return suggestions, nil
}
