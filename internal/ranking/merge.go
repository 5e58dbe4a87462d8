// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package ranking

import (
	"bytes"
	"slices"

	"github.com/google/uuid"

	"github.com/nova-social/feedrank/internal/models"
)

// MergeDedup combines the candidate pools into one list, dropping
// duplicate post IDs by source precedence: Follow beats Trending beats
// Affinity. A duplicate keeps the slot of its first occurrence but carries
// the entry from the highest-precedence source, so the result does not
// depend on the order the pools are passed in.
func MergeDedup(pools ...[]models.RankedPost) []models.RankedPost {
	var total int
	for _, pool := range pools {
		total += len(pool)
	}
	merged := make([]models.RankedPost, 0, total)
	index := make(map[uuid.UUID]int, total)

	for _, pool := range pools {
		for _, p := range pool {
			if i, dup := index[p.PostID]; dup {
				if p.Source.Precedence() < merged[i].Source.Precedence() {
					merged[i] = p
				}
				continue
			}
			index[p.PostID] = len(merged)
			merged = append(merged, p)
		}
	}
	return merged
}

// SortByScore orders posts by combined score descending with post ID
// ascending as the tie-break. The ordering is total, so identical inputs
// always produce identical output regardless of arrival order.
func SortByScore(posts []models.RankedPost) {
	slices.SortStableFunc(posts, func(a, b models.RankedPost) int {
		switch {
		case a.CombinedScore > b.CombinedScore:
			return -1
		case a.CombinedScore < b.CombinedScore:
			return 1
		default:
			return bytes.Compare(a.PostID[:], b.PostID[:])
		}
	})
}

// ApplySaturation rearranges a ranked list so no author appears twice
// within any sliding window of the given size. A post that would violate
// the constraint is deferred, not dropped: it re-enters at the first later
// position where its author is clear. When only unplaceable posts remain
// (one prolific author dominating the tail) the remainder is appended in
// ranked order, since losing posts is worse than clustering at the very
// end.
func ApplySaturation(posts []models.RankedPost, window int) []models.RankedPost {
	if window <= 1 || len(posts) < 2 {
		return posts
	}

	out := make([]models.RankedPost, 0, len(posts))
	var deferred []models.RankedPost
	pending := posts

	canPlace := func(author uuid.UUID) bool {
		start := len(out) - (window - 1)
		if start < 0 {
			start = 0
		}
		for _, placed := range out[start:] {
			if placed.AuthorID == author {
				return false
			}
		}
		return true
	}

	for len(pending) > 0 || len(deferred) > 0 {
		// Deferred posts rank above everything still pending, so they get
		// first claim on each newly valid slot.
		placedDeferred := false
		for i, p := range deferred {
			if canPlace(p.AuthorID) {
				out = append(out, p)
				deferred = append(deferred[:i], deferred[i+1:]...)
				placedDeferred = true
				break
			}
		}
		if placedDeferred {
			continue
		}

		if len(pending) == 0 {
			// Nothing placeable remains; keep ranked order for the tail.
			out = append(out, deferred...)
			break
		}

		p := pending[0]
		pending = pending[1:]
		if canPlace(p.AuthorID) {
			out = append(out, p)
		} else {
			deferred = append(deferred, p)
		}
	}
	return out
}

// FilterByID returns the posts whose IDs survive the keep set, preserving
// order. Used to apply the seen-set verdict back onto ranked candidates.
func FilterByID(posts []models.RankedPost, keep []uuid.UUID) []models.RankedPost {
	keepSet := make(map[uuid.UUID]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}
	out := posts[:0:0]
	for _, p := range posts {
		if _, ok := keepSet[p.PostID]; ok {
			out = append(out, p)
		}
	}
	return out
}
