package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreFromClient(client, "semcache")
}

func TestRedisStoreContract(t *testing.T) {
	testStoreContract(t, func(t *testing.T) Store {
		return newTestRedisStore(t)
	})
}

func TestRedisStoreReplacesSameFingerprint(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	now := time.Now()
	require.NoError(t, s.InsertEntry(ctx, &Entry{
		ID: "one", PromptHash: "fp-dup", Prompt: "same", Response: "old answer",
		CreatedAt: now, LastAccessedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, s.InsertEntry(ctx, &Entry{
		ID: "two", PromptHash: "fp-dup", Prompt: "same", Response: "new answer",
		CreatedAt: now, LastAccessedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	count, err := s.CountEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	e, err := s.FindByFingerprint(ctx, "fp-dup", "")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "new answer", e.Response)
}

func TestRedisStoreFingerprintIndexSurvivesUnrelatedDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	now := time.Now()
	require.NoError(t, s.InsertEntry(ctx, &Entry{
		ID: "keep", PromptHash: "fp-keep", Prompt: "kept",
		CreatedAt: now, LastAccessedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, s.InsertEntry(ctx, &Entry{
		ID: "drop", PromptHash: "fp-drop", Prompt: "dropped",
		CreatedAt: now, LastAccessedAt: now, ExpiresAt: now.Add(time.Hour),
	}))

	_, err := s.DeleteByIDs(ctx, []string{"drop"})
	require.NoError(t, err)

	e, err := s.FindByFingerprint(ctx, "fp-keep", "")
	require.NoError(t, err)
	assert.NotNil(t, e)

	e, err = s.FindByFingerprint(ctx, "fp-drop", "")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestRedisStoreLeastRecentlyAccessedOrder(t *testing.T) {
	ctx := context.Background()
	s := newTestRedisStore(t)

	now := time.Now()
	for i, id := range []string{"lru-b", "lru-a", "lru-c"} {
		require.NoError(t, s.InsertEntry(ctx, &Entry{
			ID:             id,
			Prompt:         "prompt " + id,
			PromptHash:     "fp-" + id,
			CreatedAt:      now,
			LastAccessedAt: now.Add(time.Duration(i) * time.Minute),
			ExpiresAt:      now.Add(time.Hour),
		}))
	}

	ids, err := s.LeastRecentlyAccessed(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"lru-b", "lru-a"}, ids)
}
