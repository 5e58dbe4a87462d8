// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package ranking

import "errors"

// ErrFeedUnavailable is the only hard failure of a feed query: both the
// ranked pipeline and the reverse-chronological fallback failed to produce
// a page. Everything softer (a dead generator, a cache wobble, an empty
// candidate pool) degrades without surfacing here.
var ErrFeedUnavailable = errors.New("feed unavailable")
