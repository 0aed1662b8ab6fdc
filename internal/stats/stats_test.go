package stats

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/semcache/internal/store"
)

func insertEntry(t *testing.T, st store.Store, id, response string) *store.Entry {
	t.Helper()
	now := time.Now()
	e := &store.Entry{
		ID:             id,
		Prompt:         "prompt " + id,
		PromptHash:     "fp-" + id,
		Response:       response,
		TokensSaved:    TokensForResponse(response),
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(time.Hour),
	}
	require.NoError(t, st.InsertEntry(context.Background(), e))
	return e
}

func TestTokensForResponse(t *testing.T) {
	assert.Equal(t, int64(0), TokensForResponse(""))
	assert.Equal(t, int64(1), TokensForResponse("abc"))
	assert.Equal(t, int64(1), TokensForResponse("abcd"))
	assert.Equal(t, int64(2), TokensForResponse("abcde"))
	assert.Equal(t, int64(25), TokensForResponse(strings.Repeat("x", 100)))
}

func TestRecordHitUpdatesEntryAndStats(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(0)
	tracker := NewTracker(st, nil)

	e := insertEntry(t, st, "a", strings.Repeat("r", 40)) // 10 tokens

	updated := tracker.RecordHit(ctx, e)
	require.NotNil(t, updated)
	assert.Equal(t, int64(1), updated.HitCount)

	rows, err := st.RecentDailyStats(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0].TotalHits)
	assert.Equal(t, int64(10), rows[0].TokensSaved)
	assert.InDelta(t, 10*CostPerToken, rows[0].CostSaved, 1e-12)
}

func TestRecordMiss(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(0)
	tracker := NewTracker(st, nil)

	tracker.RecordMiss(ctx)
	tracker.RecordMiss(ctx)

	rows, err := st.RecentDailyStats(ctx, 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].TotalMisses)
	assert.Equal(t, int64(0), rows[0].TotalHits)
}

func TestSnapshotAggregatesWindow(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(0)
	tracker := NewTracker(st, nil)

	e := insertEntry(t, st, "a", strings.Repeat("r", 400)) // 100 tokens
	insertEntry(t, st, "b", "tiny")
	_, err := st.InsertTags(ctx, "a", []string{"faq", "billing"})
	require.NoError(t, err)
	_, err = st.InsertTags(ctx, "b", []string{"faq"})
	require.NoError(t, err)

	tracker.RecordHit(ctx, e)
	tracker.RecordHit(ctx, e)
	tracker.RecordMiss(ctx)
	tracker.RecordMiss(ctx)

	a, err := tracker.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), a.TotalEntries)
	assert.Equal(t, int64(2), a.TotalHits)
	assert.Equal(t, int64(2), a.TotalMisses)
	assert.InDelta(t, 0.5, a.HitRate, 1e-9)
	assert.Equal(t, int64(200), a.TokensSaved)
	assert.InDelta(t, 200*CostPerToken, a.CostSaved, 1e-12)
	assert.InDelta(t, 0.92, a.AverageSimilarity, 1e-9)

	require.NotEmpty(t, a.TopTags)
	assert.Equal(t, store.TagCount{Tag: "faq", Count: 2}, a.TopTags[0])

	require.NotNil(t, a.OldestEntry)
	require.NotNil(t, a.NewestEntry)
	require.Len(t, a.DailyStats, 1)
}

func TestSnapshotEmptyCache(t *testing.T) {
	ctx := context.Background()
	tracker := NewTracker(store.NewMemoryStore(0), nil)

	a, err := tracker.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(0), a.TotalEntries)
	assert.Zero(t, a.HitRate)
	assert.Zero(t, a.AverageSimilarity)
	assert.Nil(t, a.OldestEntry)
	assert.Nil(t, a.NewestEntry)
	assert.Empty(t, a.DailyStats)
}

func TestSnapshotNoHitsZeroAverageSimilarity(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore(0)
	tracker := NewTracker(st, nil)

	tracker.RecordMiss(ctx)

	a, err := tracker.Snapshot(ctx)
	require.NoError(t, err)
	assert.Zero(t, a.AverageSimilarity)
	assert.Zero(t, a.HitRate)
}
