package config

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/semcache/internal/store"
)

func TestGetSeedsDefaults(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(0)
	m := NewManager(st, nil)

	cfg := m.Get(ctx)
	assert.True(t, cfg.Enabled)
	assert.InDelta(t, 0.85, cfg.SimilarityThreshold, 1e-9)
	assert.Equal(t, 3600, cfg.DefaultTTLSeconds)
	assert.Equal(t, 10000, cfg.MaxCacheSize)

	// Defaults were persisted, not just returned.
	persisted, err := st.LoadConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, 3600, persisted.DefaultTTLSeconds)
}

func TestGetMemoizes(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(0)
	m := NewManager(st, nil)

	first := m.Get(ctx)

	// A direct store write is invisible until the cache is invalidated.
	require.NoError(t, st.SaveConfig(ctx, &store.Config{Enabled: false, MaxCacheSize: 42}))
	assert.Equal(t, first.MaxCacheSize, m.Get(ctx).MaxCacheSize)

	m.Invalidate()
	assert.Equal(t, 42, m.Get(ctx).MaxCacheSize)
}

func TestUpdateMergesPartialChange(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(0)
	m := NewManager(st, nil)

	threshold := 0.92
	size := 250
	cfg, err := m.Update(ctx, Update{SimilarityThreshold: &threshold, MaxCacheSize: &size})
	require.NoError(t, err)

	assert.InDelta(t, 0.92, cfg.SimilarityThreshold, 1e-9)
	assert.Equal(t, 250, cfg.MaxCacheSize)
	// Untouched fields keep their previous values.
	assert.True(t, cfg.Enabled)
	assert.Equal(t, 3600, cfg.DefaultTTLSeconds)

	persisted, err := st.LoadConfig(ctx)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, 250, persisted.MaxCacheSize)
}

func TestUpdateDisable(t *testing.T) {
	ctx := context.Background()
	m := NewManager(store.NewMemoryStore(0), nil)

	enabled := false
	cfg, err := m.Update(ctx, Update{Enabled: &enabled})
	require.NoError(t, err)
	assert.False(t, cfg.Enabled)
	assert.False(t, m.Get(ctx).Enabled)
}
