// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

// Package testinfra provides container-backed infrastructure for
// integration tests.
//
// It uses testcontainers-go to run a real PostgreSQL instance so the
// fallback path is tested against an actual primary store instead of
// mocks:
//
//	func TestFallback(t *testing.T) {
//	    testinfra.SkipIfNoDocker(t)
//	    ctx := context.Background()
//	    pg, err := testinfra.NewPostgresContainer(ctx)
//	    if err != nil {
//	        t.Fatal(err)
//	    }
//	    defer testinfra.CleanupContainer(t, ctx, pg.Container)
//
//	    store, err := primary.Open(&config.PrimaryConfig{DSN: pg.DSN})
//	    // ...
//	}
//
// Tests are skipped gracefully when Docker is unavailable; the first run
// needs network access to pull the image.
package testinfra
