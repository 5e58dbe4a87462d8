// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

// Package services wraps the engine's long-lived components as suture
// services for the supervision tree.
package services

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/nova-social/feedrank/internal/logging"
)

// HTTPServer is the interface an HTTP server must implement to run under
// HTTPServerService. *http.Server satisfies it.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTP server under supervision with graceful
// shutdown on context cancellation.
type HTTPServerService struct {
	server          HTTPServer
	addr            string
	shutdownTimeout time.Duration
}

// NewHTTPServerService wraps an HTTP server as a suture service. addr is
// only used for logging.
func NewHTTPServerService(server HTTPServer, addr string, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{
		server:          server,
		addr:            addr,
		shutdownTimeout: shutdownTimeout,
	}
}

// Serve runs the HTTP server until the context is canceled, then shuts it
// down gracefully.
func (s *HTTPServerService) Serve(ctx context.Context) error {
	logger := logging.With().Str("service", "http-server").Logger()
	logger.Info().Str("addr", s.addr).Msg("HTTP server starting")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.Error().Err(err).Msg("HTTP server failed")
		return err
	case <-ctx.Done():
		// A fresh context: the one we were handed is already canceled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown failed")
			return err
		}
		logger.Info().Msg("HTTP server stopped")
		return ctx.Err()
	}
}

// String implements fmt.Stringer for suture's service naming.
func (s *HTTPServerService) String() string {
	return "http-server"
}
