// Feedrank - Personalized Feed Ranking and Caching Engine
// Copyright 2026 Nova Social
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/nova-social/feedrank

package supervisor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nova-social/feedrank/internal/logging"
)

type countingService struct {
	name   string
	starts atomic.Int32
}

func (s *countingService) Serve(ctx context.Context) error {
	s.starts.Add(1)
	<-ctx.Done()
	return ctx.Err()
}

func (s *countingService) String() string { return s.name }

func TestDefaultTreeConfig(t *testing.T) {
	cfg := DefaultTreeConfig()
	assert.Equal(t, 5.0, cfg.FailureThreshold)
	assert.Equal(t, 30.0, cfg.FailureDecay)
	assert.Equal(t, 15*time.Second, cfg.FailureBackoff)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestNewTreeZeroConfigGetsDefaults(t *testing.T) {
	tree, err := NewTree(logging.NewSlogLogger(), TreeConfig{})
	require.NoError(t, err)
	assert.Equal(t, 5.0, tree.config.FailureThreshold)
	assert.Equal(t, 10*time.Second, tree.config.ShutdownTimeout)
	assert.NotNil(t, tree.Root())
}

func TestTreeRunsServicesInAllLayers(t *testing.T) {
	tree, err := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())
	require.NoError(t, err)

	data := &countingService{name: "data-svc"}
	refresh := &countingService{name: "refresh-svc"}
	api := &countingService{name: "api-svc"}

	tree.AddDataService(data)
	tree.AddRefreshService(refresh)
	tree.AddAPIService(api)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	require.Eventually(t, func() bool {
		return data.starts.Load() >= 1 && refresh.starts.Load() >= 1 && api.starts.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop after cancel")
	}
}

func TestTreeRemoveService(t *testing.T) {
	tree, err := NewTree(logging.NewSlogLogger(), DefaultTreeConfig())
	require.NoError(t, err)

	svc := &countingService{name: "removable"}
	token := tree.AddRefreshService(svc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tree.ServeBackground(ctx)

	require.Eventually(t, func() bool {
		return svc.starts.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	// The token belongs to the refresh child supervisor, not the root.
	assert.Error(t, tree.Remove(token))
	assert.NoError(t, tree.RemoveRefreshService(token))
}
