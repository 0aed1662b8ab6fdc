// Package stats records cache hit/miss statistics and assembles the
// analytics snapshot served to operators.
package stats

import (
	"context"
	"log/slog"
	"time"

	"github.com/blueberrycongee/semcache/internal/store"
)

const (
	// CostPerToken is the estimated provider cost per generated token.
	CostPerToken = 0.00001

	// WindowDays is the analytics aggregation window.
	WindowDays = 30

	// TopTagsLimit caps the tag leaderboard in the analytics snapshot.
	TopTagsLimit = 10

	// averageSimilarityEstimate stands in for a true running average of hit
	// similarities, which would need per-hit persistence to compute.
	averageSimilarityEstimate = 0.92
)

// TokensForResponse estimates the tokens saved by serving a cached response,
// at roughly four characters per token, rounded up.
func TokensForResponse(response string) int64 {
	return int64((len(response) + 3) / 4)
}

// Analytics is the aggregate cache statistics snapshot.
type Analytics struct {
	TotalEntries      int64             `json:"totalEntries"`
	TotalHits         int64             `json:"totalHits"`
	TotalMisses       int64             `json:"totalMisses"`
	HitRate           float64           `json:"hitRate"`
	TokensSaved       int64             `json:"tokensSaved"`
	CostSaved         float64           `json:"costSaved"`
	AverageSimilarity float64           `json:"averageSimilarity"`
	TopTags           []store.TagCount  `json:"topTags"`
	OldestEntry       *time.Time        `json:"oldestEntry,omitempty"`
	NewestEntry       *time.Time        `json:"newestEntry,omitempty"`
	DailyStats        []store.DailyStat `json:"dailyStats"`
}

// Tracker persists hit/miss counters. Recording failures are logged and
// swallowed; statistics never break a lookup.
type Tracker struct {
	store  store.Store
	logger *slog.Logger
}

// NewTracker creates a tracker backed by st.
func NewTracker(st store.Store, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: st, logger: logger}
}

// RecordHit bumps the entry's hit counter and credits today's statistics
// with the tokens and cost the hit saved. Returns the refreshed entry when
// available.
func (t *Tracker) RecordHit(ctx context.Context, e *store.Entry) *store.Entry {
	updated, err := t.store.TouchHit(ctx, e.ID)
	if err != nil {
		t.logger.Warn("hit counter update failed", "entry_id", e.ID, "error", err)
	}

	tokens := e.TokensSaved
	if tokens == 0 {
		tokens = TokensForResponse(e.Response)
	}
	err = t.store.IncrementDailyStats(ctx, time.Now(), store.StatsDelta{
		Hits:        1,
		TokensSaved: tokens,
		CostSaved:   float64(tokens) * CostPerToken,
	})
	if err != nil {
		t.logger.Warn("hit statistics update failed", "entry_id", e.ID, "error", err)
	}

	if updated != nil {
		return updated
	}
	return e
}

// RecordMiss credits today's statistics with a miss.
func (t *Tracker) RecordMiss(ctx context.Context) {
	err := t.store.IncrementDailyStats(ctx, time.Now(), store.StatsDelta{Misses: 1})
	if err != nil {
		t.logger.Warn("miss statistics update failed", "error", err)
	}
}

// Snapshot assembles the analytics view over the aggregation window.
func (t *Tracker) Snapshot(ctx context.Context) (*Analytics, error) {
	total, err := t.store.CountEntries(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := t.store.RecentDailyStats(ctx, WindowDays)
	if err != nil {
		return nil, err
	}

	a := &Analytics{
		TotalEntries: total,
		DailyStats:   rows,
	}
	for _, row := range rows {
		a.TotalHits += row.TotalHits
		a.TotalMisses += row.TotalMisses
		a.TokensSaved += row.TokensSaved
		a.CostSaved += row.CostSaved
	}
	if lookups := a.TotalHits + a.TotalMisses; lookups > 0 {
		a.HitRate = float64(a.TotalHits) / float64(lookups)
	}
	if a.TotalHits > 0 {
		a.AverageSimilarity = averageSimilarityEstimate
	}

	top, err := t.store.TopTags(ctx, TopTagsLimit)
	if err != nil {
		return nil, err
	}
	a.TopTags = top

	bounds, err := t.store.EntryTimeBounds(ctx)
	if err != nil {
		return nil, err
	}
	if bounds != nil {
		oldest, newest := bounds.Oldest, bounds.Newest
		a.OldestEntry = &oldest
		a.NewestEntry = &newest
	}
	return a, nil
}
