// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package models

import (
	"time"
)

// APIResponse is the standardized response wrapper used by all HTTP
// endpoints. It provides a consistent structure for both successful and
// error responses, with metadata for observability and cache inspection.
//
// Status field values:
//   - "success": request completed, see Data
//   - "error": request failed, see Error
//
// Example successful response:
//
//	{
//	  "status": "success",
//	  "data": {"post_ids": [...], "next_offset": 20, "has_more": true},
//	  "metadata": {"timestamp": "2026-08-30T12:00:00Z", "query_time_ms": 12, "cached": true}
//	}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries per-response observability fields. QueryTimeMS is the
// ranking-pass duration in milliseconds (0 when the page came from cache).
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms"`
	Cached      bool      `json:"cached,omitempty"`
	Degraded    bool      `json:"degraded,omitempty"`
}

// APIError describes a failed request. Code is a stable machine-readable
// identifier; Message is human-readable and safe to surface to clients.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error codes returned by the API layer.
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
	ErrCodeFeedUnavailable  = "FEED_UNAVAILABLE"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeInternal         = "INTERNAL_ERROR"
)
