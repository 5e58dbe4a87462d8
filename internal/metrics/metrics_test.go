// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordAPIRequest(t *testing.T) {
	before := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("/api/v1/feed", "GET", "200"))

	RecordAPIRequest("/api/v1/feed", "GET", 200, 25*time.Millisecond)

	after := testutil.ToFloat64(APIRequestsTotal.WithLabelValues("/api/v1/feed", "GET", "200"))
	if after != before+1 {
		t.Errorf("counter = %v, want %v", after, before+1)
	}
}

func TestRecordAnalyticsQueryError(t *testing.T) {
	before := testutil.ToFloat64(AnalyticsQueryErrors.WithLabelValues("follow_candidates"))

	RecordAnalyticsQuery("follow_candidates", 10*time.Millisecond, errors.New("timeout"))
	RecordAnalyticsQuery("follow_candidates", 10*time.Millisecond, nil)

	after := testutil.ToFloat64(AnalyticsQueryErrors.WithLabelValues("follow_candidates"))
	if after != before+1 {
		t.Errorf("error counter = %v, want %v (success must not count)", after, before+1)
	}
}

func TestRecordRefresherRunOutcomes(t *testing.T) {
	okBefore := testutil.ToFloat64(RefresherRuns.WithLabelValues("hot-posts", "ok"))
	errBefore := testutil.ToFloat64(RefresherRuns.WithLabelValues("hot-posts", "error"))

	RecordRefresherRun("hot-posts", time.Second, nil)
	RecordRefresherRun("hot-posts", time.Second, errors.New("store down"))

	if got := testutil.ToFloat64(RefresherRuns.WithLabelValues("hot-posts", "ok")); got != okBefore+1 {
		t.Errorf("ok counter = %v, want %v", got, okBefore+1)
	}
	if got := testutil.ToFloat64(RefresherRuns.WithLabelValues("hot-posts", "error")); got != errBefore+1 {
		t.Errorf("error counter = %v, want %v", got, errBefore+1)
	}
}
