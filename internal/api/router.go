// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nova-social/feedrank/internal/config"
	"github.com/nova-social/feedrank/internal/models"
)

// NewRouter builds the Chi router with the full middleware stack and all
// feed engine routes.
func NewRouter(h *Handlers, apiCfg *config.APIConfig) chi.Router {
	mw := NewChiMiddleware(&ChiMiddlewareConfig{
		CORSAllowedOrigins: apiCfg.CORSOrigins,
		CORSAllowedMethods: []string{"GET", "POST", "OPTIONS"},
		CORSAllowedHeaders: []string{"Content-Type", "Authorization"},
		CORSMaxAge:         86400,

		RateLimitRequests: apiCfg.RateLimitRequests,
		RateLimitWindow:   apiCfg.RateLimitWindow,
		RateLimitDisabled: apiCfg.RateLimitDisabled,
	})

	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	r.Use(RequestIDWithLogging())
	r.Use(APISecurityHeaders())
	r.Use(mw.CORS())
	r.Use(RequestMetrics())

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit())
		r.Use(Compression())

		r.Get("/feed", h.GetFeed)
		r.Post("/feed/seen", h.MarkSeen)
		r.Get("/trending", h.GetTrending)
		r.Get("/users/{userID}/suggestions", h.GetSuggestions)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, models.ErrCodeNotFound, "resource not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusMethodNotAllowed, models.ErrCodeMethodNotAllowed, "method not allowed", nil)
	})

	return r
}
