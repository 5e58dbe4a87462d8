// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package feedcache

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Cache key schema. The ranking version is baked into every page key so a
// weight or formula change can never serve mixed-version pages: old entries
// simply age out under their TTL while new keys take over.
//
//	feed:{version}:{user}:{offset}:{limit}  ranked feed pages
//	seen:{user}:{post}                      per-post 24h seen markers
//	hot:posts:{window}                      global trending pool
//	suggest:users:{user}                    follow suggestions

// PageKey returns the cache key for a ranked feed page.
func PageKey(version string, userID uuid.UUID, offset, limit uint32) string {
	return fmt.Sprintf("feed:%s:%s:%d:%d", version, userID, offset, limit)
}

// SeenKey returns the key for a single seen-post marker. Markers are stored
// one key per post so each entry expires individually after the seen TTL.
func SeenKey(userID, postID uuid.UUID) string {
	return fmt.Sprintf("seen:%s:%s", userID, postID)
}

// HotPostsKey returns the key for the precomputed trending pool.
// WindowLabel renders a duration as the compact hour label used in hot-post
// keys, e.g. 24h -> "24h". Sub-hour durations round down to "0h".
func WindowLabel(d time.Duration) string {
	return fmt.Sprintf("%dh", int(d.Hours()))
}

func HotPostsKey(window string) string {
	return fmt.Sprintf("hot:posts:%s", window)
}

// SuggestionsKey returns the key for a user's follow-suggestion list.
func SuggestionsKey(userID uuid.UUID) string {
	return fmt.Sprintf("suggest:users:%s", userID)
}
