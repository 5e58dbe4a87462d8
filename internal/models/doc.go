// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

// Package models defines the shared data types of the feed engine: ranking
// candidates, cached artifacts, and the API response envelope.
package models
