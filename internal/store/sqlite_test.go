package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreContract(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		return newTestSQLiteStore(t)
	})
}

func TestSQLiteStorePreservesTimestampPrecision(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	created := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	require.NoError(t, s.InsertEntry(ctx, &Entry{
		ID:             "ts",
		Prompt:         "precise",
		PromptHash:     "fp-ts",
		Embedding:      []float64{0.5},
		CreatedAt:      created,
		LastAccessedAt: created,
		ExpiresAt:      created.Add(100 * 365 * 24 * time.Hour),
	}))

	e, err := s.FindByFingerprint(ctx, "fp-ts", "")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.True(t, e.CreatedAt.Equal(created))
}

func TestSQLiteStoreNullUserID(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	require.NoError(t, s.InsertEntry(ctx, &Entry{
		ID:         "anon",
		Prompt:     "no user",
		PromptHash: "fp-anon",
		Embedding:  []float64{0.1},
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}))
	require.NoError(t, s.InsertEntry(ctx, &Entry{
		ID:         "owned",
		Prompt:     "with user",
		PromptHash: "fp-owned",
		Embedding:  []float64{0.1},
		UserID:     "user-7",
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}))

	e, err := s.FindByFingerprint(ctx, "fp-anon", "")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Empty(t, e.UserID)

	e, err = s.FindByFingerprint(ctx, "fp-owned", "")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "user-7", e.UserID)
}

func TestSQLiteStoreLeastRecentlyAccessedOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	now := time.Now()
	for i, id := range []string{"lru-b", "lru-a", "lru-c"} {
		require.NoError(t, s.InsertEntry(ctx, &Entry{
			ID:             id,
			Prompt:         "prompt " + id,
			PromptHash:     "fp-" + id,
			Embedding:      []float64{0.1},
			CreatedAt:      now,
			LastAccessedAt: now.Add(time.Duration(i) * time.Minute),
			ExpiresAt:      now.Add(time.Hour),
		}))
	}

	ids, err := s.LeastRecentlyAccessed(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"lru-b", "lru-a"}, ids)
}
