package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStoreContract runs the behavior shared by every Store adapter. Each
// subtest gets a fresh store from open.
func testStoreContract(t *testing.T, open func(t *testing.T) Store) {
	t.Helper()
	ctx := context.Background()

	newEntry := func(id, prompt, model string, createdAgo, ttl time.Duration) *Entry {
		now := time.Now()
		return &Entry{
			ID:             id,
			Prompt:         prompt,
			PromptHash:     "fp-" + id,
			Embedding:      []float64{0.1, 0.2, 0.3},
			Response:       "response for " + id,
			Model:          model,
			CreatedAt:      now.Add(-createdAgo),
			LastAccessedAt: now.Add(-createdAgo),
			ExpiresAt:      now.Add(ttl),
		}
	}

	t.Run("find by fingerprint honors model rule", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.InsertEntry(ctx, newEntry("a", "hello world", "gpt-4", 0, time.Hour)))
		require.NoError(t, s.InsertEntry(ctx, newEntry("b", "anything goes", ModelAny, 0, time.Hour)))

		e, err := s.FindByFingerprint(ctx, "fp-a", "gpt-4")
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, "response for a", e.Response)

		e, err = s.FindByFingerprint(ctx, "fp-a", "claude-3")
		require.NoError(t, err)
		assert.Nil(t, e)

		// Empty requested model matches everything.
		e, err = s.FindByFingerprint(ctx, "fp-a", "")
		require.NoError(t, err)
		assert.NotNil(t, e)

		// The sentinel model matches any requested model.
		e, err = s.FindByFingerprint(ctx, "fp-b", "claude-3")
		require.NoError(t, err)
		assert.NotNil(t, e)

		e, err = s.FindByFingerprint(ctx, "fp-missing", "")
		require.NoError(t, err)
		assert.Nil(t, e)
	})

	t.Run("expired entries are invisible", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.InsertEntry(ctx, newEntry("old", "stale prompt", "", 2*time.Hour, -time.Minute)))

		e, err := s.FindByFingerprint(ctx, "fp-old", "")
		require.NoError(t, err)
		assert.Nil(t, e)

		got, err := s.Candidates(ctx, CandidateQuery{Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("candidates newest first with limit", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.InsertEntry(ctx, newEntry("c1", "first", "", 3*time.Hour, time.Hour)))
		require.NoError(t, s.InsertEntry(ctx, newEntry("c2", "second", "", 2*time.Hour, time.Hour)))
		require.NoError(t, s.InsertEntry(ctx, newEntry("c3", "third", "", time.Hour, time.Hour)))

		got, err := s.Candidates(ctx, CandidateQuery{Limit: 2})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "c3", got[0].ID)
		assert.Equal(t, "c2", got[1].ID)
	})

	t.Run("candidates model filter", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.InsertEntry(ctx, newEntry("m1", "one", "gpt-4", 3*time.Hour, time.Hour)))
		require.NoError(t, s.InsertEntry(ctx, newEntry("m2", "two", "claude-3", 2*time.Hour, time.Hour)))
		require.NoError(t, s.InsertEntry(ctx, newEntry("m3", "three", ModelAny, time.Hour, time.Hour)))

		got, err := s.Candidates(ctx, CandidateQuery{Limit: 10, Model: "gpt-4"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "m3", got[0].ID)
		assert.Equal(t, "m1", got[1].ID)
	})

	t.Run("candidates id restriction", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.InsertEntry(ctx, newEntry("r1", "one", "", 2*time.Hour, time.Hour)))
		require.NoError(t, s.InsertEntry(ctx, newEntry("r2", "two", "", time.Hour, time.Hour)))

		got, err := s.Candidates(ctx, CandidateQuery{Limit: 10, EntryIDs: []string{"r1"}})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "r1", got[0].ID)

		// Empty non-nil restriction means no candidates at all.
		got, err = s.Candidates(ctx, CandidateQuery{Limit: 10, EntryIDs: []string{}})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("touch hit increments and refreshes access", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.InsertEntry(ctx, newEntry("h1", "hit me", "", time.Hour, time.Hour)))

		e, err := s.TouchHit(ctx, "h1")
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, int64(1), e.HitCount)
		assert.True(t, e.LastAccessedAt.After(time.Now().Add(-time.Minute)))

		e, err = s.TouchHit(ctx, "h1")
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, int64(2), e.HitCount)

		e, err = s.TouchHit(ctx, "missing")
		require.NoError(t, err)
		assert.Nil(t, e)
	})

	t.Run("tags round trip", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.InsertEntry(ctx, newEntry("t1", "tagged one", "", 2*time.Hour, time.Hour)))
		require.NoError(t, s.InsertEntry(ctx, newEntry("t2", "tagged two", "", time.Hour, time.Hour)))

		tags, err := s.InsertTags(ctx, "t1", []string{"billing", "faq"})
		require.NoError(t, err)
		require.Len(t, tags, 2)
		assert.Equal(t, "billing", tags[0].Name)
		assert.Equal(t, "t1", tags[0].EntryID)

		_, err = s.InsertTags(ctx, "t2", []string{"billing"})
		require.NoError(t, err)

		got, err := s.TagsForEntry(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, got, 2)

		ids, err := s.EntryIDsByTags(ctx, []string{"faq"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"t1"}, ids)

		ids, err = s.EntryIDsByTags(ctx, []string{"billing"})
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"t1", "t2"}, ids)

		top, err := s.TopTags(ctx, 10)
		require.NoError(t, err)
		require.NotEmpty(t, top)
		assert.Equal(t, TagCount{Tag: "billing", Count: 2}, top[0])
	})

	t.Run("tags removed with their entry", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.InsertEntry(ctx, newEntry("d1", "doomed", "", time.Hour, time.Hour)))
		_, err := s.InsertTags(ctx, "d1", []string{"temp"})
		require.NoError(t, err)

		n, err := s.DeleteByIDs(ctx, []string{"d1"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		ids, err := s.EntryIDsByTags(ctx, []string{"temp"})
		require.NoError(t, err)
		assert.Empty(t, ids)
	})

	t.Run("delete by ids ignores absent", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.InsertEntry(ctx, newEntry("x1", "one", "", time.Hour, time.Hour)))

		n, err := s.DeleteByIDs(ctx, []string{"x1", "ghost"})
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		count, err := s.CountEntries(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("delete by pattern matches prompt substring", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.InsertEntry(ctx, newEntry("p1", "what is the refund policy", "", 2*time.Hour, time.Hour)))
		require.NoError(t, s.InsertEntry(ctx, newEntry("p2", "how do refunds work", "", time.Hour, time.Hour)))
		require.NoError(t, s.InsertEntry(ctx, newEntry("p3", "unrelated question", "", time.Hour, time.Hour)))

		n, err := s.DeleteByPattern(ctx, "refund")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		count, err := s.CountEntries(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("delete expired", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.InsertEntry(ctx, newEntry("e1", "gone", "", 2*time.Hour, -time.Minute)))
		require.NoError(t, s.InsertEntry(ctx, newEntry("e2", "alive", "", time.Hour, time.Hour)))

		n, err := s.DeleteExpired(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		count, err := s.CountEntries(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	})

	t.Run("delete all", func(t *testing.T) {
		s := open(t)
		for i := 0; i < 3; i++ {
			id := fmt.Sprintf("a%d", i)
			require.NoError(t, s.InsertEntry(ctx, newEntry(id, "prompt "+id, "", time.Hour, time.Hour)))
		}

		n, err := s.DeleteAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		count, err := s.CountEntries(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(0), count)
	})

	t.Run("entry time bounds", func(t *testing.T) {
		s := open(t)
		bounds, err := s.EntryTimeBounds(ctx)
		require.NoError(t, err)
		assert.Nil(t, bounds)

		require.NoError(t, s.InsertEntry(ctx, newEntry("b1", "old", "", 3*time.Hour, time.Hour)))
		require.NoError(t, s.InsertEntry(ctx, newEntry("b2", "new", "", time.Hour, time.Hour)))

		bounds, err = s.EntryTimeBounds(ctx)
		require.NoError(t, err)
		require.NotNil(t, bounds)
		assert.True(t, bounds.Oldest.Before(bounds.Newest))
	})

	t.Run("config round trip", func(t *testing.T) {
		s := open(t)
		cfg, err := s.LoadConfig(ctx)
		require.NoError(t, err)
		assert.Nil(t, cfg)

		require.NoError(t, s.SaveConfig(ctx, &Config{
			Enabled:             true,
			SimilarityThreshold: 0.9,
			DefaultTTLSeconds:   600,
			MaxCacheSize:        500,
		}))

		cfg, err = s.LoadConfig(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.True(t, cfg.Enabled)
		assert.InDelta(t, 0.9, cfg.SimilarityThreshold, 1e-9)
		assert.Equal(t, 600, cfg.DefaultTTLSeconds)
		assert.Equal(t, 500, cfg.MaxCacheSize)

		// Second save overwrites the singleton.
		require.NoError(t, s.SaveConfig(ctx, &Config{
			Enabled:             false,
			SimilarityThreshold: 0.8,
			DefaultTTLSeconds:   300,
			MaxCacheSize:        100,
		}))
		cfg, err = s.LoadConfig(ctx)
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.False(t, cfg.Enabled)
		assert.Equal(t, 100, cfg.MaxCacheSize)
	})

	t.Run("daily stats accumulate per day", func(t *testing.T) {
		s := open(t)
		today := time.Now()
		yesterday := today.Add(-24 * time.Hour)

		require.NoError(t, s.IncrementDailyStats(ctx, today, StatsDelta{Hits: 1, TokensSaved: 50, CostSaved: 0.0005}))
		require.NoError(t, s.IncrementDailyStats(ctx, today, StatsDelta{Hits: 2, Misses: 1, TokensSaved: 100, CostSaved: 0.001}))
		require.NoError(t, s.IncrementDailyStats(ctx, yesterday, StatsDelta{Misses: 4}))

		rows, err := s.RecentDailyStats(ctx, 30)
		require.NoError(t, err)
		require.Len(t, rows, 2)

		assert.True(t, rows[0].Date.Equal(Day(today)))
		assert.Equal(t, int64(3), rows[0].TotalHits)
		assert.Equal(t, int64(1), rows[0].TotalMisses)
		assert.Equal(t, int64(150), rows[0].TokensSaved)
		assert.InDelta(t, 0.0015, rows[0].CostSaved, 1e-9)

		assert.True(t, rows[1].Date.Equal(Day(yesterday)))
		assert.Equal(t, int64(4), rows[1].TotalMisses)

		rows, err = s.RecentDailyStats(ctx, 1)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, rows[0].Date.Equal(Day(today)))

		require.NoError(t, s.ResetStats(ctx))
		rows, err = s.RecentDailyStats(ctx, 30)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})

	t.Run("ping", func(t *testing.T) {
		s := open(t)
		assert.NoError(t, s.Ping(ctx))
	})
}
