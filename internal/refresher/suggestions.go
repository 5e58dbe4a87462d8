// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package refresher

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nova-social/feedrank/internal/config"
	"github.com/nova-social/feedrank/internal/metrics"
	"github.com/nova-social/feedrank/internal/models"
)

// SuggestionsTopic carries on-demand refresh triggers: the API layer
// publishes a user ID when it serves a suggestions miss, so the list is
// ready by that user's next visit instead of waiting for the periodic
// sweep.
const SuggestionsTopic = "feed.suggestions.refresh"

// SuggestSource supplies suggestion candidates and the active-user sample.
type SuggestSource interface {
	SuggestCandidates(ctx context.Context, userID uuid.UUID, limit int) ([]models.SuggestedUser, error)
	ActiveUsers(ctx context.Context, window time.Duration, limit int) ([]uuid.UUID, error)
}

// SuggestSink receives refreshed suggestion lists.
type SuggestSink interface {
	PutSuggestions(ctx context.Context, userID uuid.UUID, suggestions []models.SuggestedUser) error
}

// SuggestionService precomputes follow suggestions via a friends-of-friends
// walk and caches them per user. It runs two triggers concurrently: a
// periodic sweep over the most active users, and an on-demand message bus
// fed by the API layer.
type SuggestionService struct {
	source     SuggestSource
	sink       SuggestSink
	subscriber message.Subscriber
	cfg        *config.RefreshConfig
	logger     zerolog.Logger
	name       string
}

// NewSuggestionService creates the suggestion refresher.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func NewSuggestionService(source SuggestSource, sink SuggestSink, subscriber message.Subscriber, cfg *config.RefreshConfig, logger zerolog.Logger) *SuggestionService {
	return &SuggestionService{
		source:     source,
		sink:       sink,
		subscriber: subscriber,
		cfg:        cfg,
		logger:     logger.With().Str("service", "suggestions").Logger(),
		name:       "suggestion-refresher",
	}
}

// Serve implements the suture.Service interface.
func (s *SuggestionService) Serve(ctx context.Context) error {
	s.logger.Info().
		Dur("interval", s.cfg.SuggestionsInterval).
		Int("per_user", s.cfg.SuggestionsPerUser).
		Int("batch", s.cfg.SuggestionsBatch).
		Msg("suggestion refresher starting")

	triggers, err := s.subscriber.Subscribe(ctx, SuggestionsTopic)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(s.cfg.SuggestionsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("suggestion refresher shutting down")
			return ctx.Err()

		case msg, ok := <-triggers:
			if !ok {
				return nil
			}
			s.handleTrigger(ctx, msg)

		case <-ticker.C:
			if err := s.sweep(ctx); err != nil {
				s.logger.Warn().Err(err).Msg("suggestion sweep failed")
			}
		}
	}
}

// handleTrigger refreshes one user's suggestions from an on-demand
// message. Malformed payloads are acked and dropped: redelivery cannot fix
// a bad UUID.
func (s *SuggestionService) handleTrigger(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	userID, err := uuid.ParseBytes(msg.Payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("dropping malformed suggestion trigger")
		return
	}

	if err := s.refreshUser(ctx, userID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID.String()).Msg("triggered suggestion refresh failed")
	}
}

// sweep refreshes suggestions for the most active users.
func (s *SuggestionService) sweep(ctx context.Context) error {
	start := time.Now()
	var err error
	defer func() { metrics.RecordRefresherRun("suggestions", time.Since(start), err) }()

	var users []uuid.UUID
	users, err = s.source.ActiveUsers(ctx, s.cfg.ActiveWindow, s.cfg.SuggestionsBatch)
	if err != nil {
		return err
	}

	refreshed := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			err = ctx.Err()
			return err
		}
		if uerr := s.refreshUser(ctx, userID); uerr != nil {
			s.logger.Warn().Err(uerr).Str("user_id", userID.String()).Msg("suggestion refresh failed for user")
			continue
		}
		refreshed++
	}

	s.logger.Debug().
		Int("users", len(users)).
		Int("refreshed", refreshed).
		Dur("duration", time.Since(start)).
		Msg("suggestion sweep complete")
	return nil
}

func (s *SuggestionService) refreshUser(ctx context.Context, userID uuid.UUID) error {
	suggestions, err := s.source.SuggestCandidates(ctx, userID, s.cfg.SuggestionsPerUser)
	if err != nil {
		return err
	}
	return s.sink.PutSuggestions(ctx, userID, suggestions)
}

// String returns the service name for logging.
func (s *SuggestionService) String() string {
	return s.name
}
