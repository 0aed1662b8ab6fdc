package store

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Failover layers a persistent store over the in-memory store and makes the
// degrade-on-storage-error transition explicit. The first use probes the
// primary once and caches the verdict; any later primary failure flips the
// wrapper into degraded mode. Both states are sticky until Reset is called,
// so a dead backend is never retried on every call.
type Failover struct {
	primary  Store
	fallback *MemoryStore
	logger   *slog.Logger

	mu       sync.Mutex
	probed   bool
	degraded bool
}

// NewFailover wraps primary with the given in-memory fallback. A nil primary
// starts permanently degraded (pure in-memory operation).
func NewFailover(primary Store, fallback *MemoryStore, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Failover{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
	if primary == nil {
		f.probed = true
		f.degraded = true
	}
	return f
}

// Degraded reports whether the wrapper is operating against the in-memory
// fallback.
func (f *Failover) Degraded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probed && f.degraded
}

// Reset clears the cached reachability verdict so the next call re-probes
// the primary. Call after a known transient outage has ended.
func (f *Failover) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.primary == nil {
		return
	}
	f.probed = false
	f.degraded = false
}

// useFallback resolves the current mode, probing the primary on first use.
func (f *Failover) useFallback(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.probed {
		return f.degraded
	}
	f.probed = true

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := f.primary.Ping(probeCtx); err != nil {
		f.logger.Warn("backing store unreachable, entering degraded mode", "error", err)
		f.degraded = true
	}
	return f.degraded
}

// degrade records a primary failure and flips into degraded mode.
func (f *Failover) degrade(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.degraded {
		f.logger.Error("backing store failed, entering degraded mode", "op", op, "error", err)
		f.degraded = true
	}
}

func (f *Failover) InsertEntry(ctx context.Context, e *Entry) error {
	if f.useFallback(ctx) {
		return f.fallback.InsertEntry(ctx, e)
	}
	if err := f.primary.InsertEntry(ctx, e); err != nil {
		f.degrade("insert_entry", err)
		return f.fallback.InsertEntry(ctx, e)
	}
	return nil
}

func (f *Failover) InsertTags(ctx context.Context, entryID string, names []string) ([]Tag, error) {
	if f.useFallback(ctx) {
		return f.fallback.InsertTags(ctx, entryID, names)
	}
	tags, err := f.primary.InsertTags(ctx, entryID, names)
	if err != nil {
		f.degrade("insert_tags", err)
		return f.fallback.InsertTags(ctx, entryID, names)
	}
	return tags, nil
}

func (f *Failover) TagsForEntry(ctx context.Context, entryID string) ([]Tag, error) {
	if f.useFallback(ctx) {
		return f.fallback.TagsForEntry(ctx, entryID)
	}
	tags, err := f.primary.TagsForEntry(ctx, entryID)
	if err != nil {
		f.degrade("tags_for_entry", err)
		return f.fallback.TagsForEntry(ctx, entryID)
	}
	return tags, nil
}

func (f *Failover) FindByFingerprint(ctx context.Context, fingerprint, model string) (*Entry, error) {
	if f.useFallback(ctx) {
		return f.fallback.FindByFingerprint(ctx, fingerprint, model)
	}
	e, err := f.primary.FindByFingerprint(ctx, fingerprint, model)
	if err != nil {
		f.degrade("find_by_fingerprint", err)
		return f.fallback.FindByFingerprint(ctx, fingerprint, model)
	}
	return e, nil
}

func (f *Failover) Candidates(ctx context.Context, q CandidateQuery) ([]*Entry, error) {
	if f.useFallback(ctx) {
		return f.fallback.Candidates(ctx, q)
	}
	entries, err := f.primary.Candidates(ctx, q)
	if err != nil {
		f.degrade("candidates", err)
		return f.fallback.Candidates(ctx, q)
	}
	return entries, nil
}

func (f *Failover) TouchHit(ctx context.Context, id string) (*Entry, error) {
	if f.useFallback(ctx) {
		return f.fallback.TouchHit(ctx, id)
	}
	e, err := f.primary.TouchHit(ctx, id)
	if err != nil {
		f.degrade("touch_hit", err)
		return f.fallback.TouchHit(ctx, id)
	}
	return e, nil
}

func (f *Failover) CountEntries(ctx context.Context) (int64, error) {
	if f.useFallback(ctx) {
		return f.fallback.CountEntries(ctx)
	}
	n, err := f.primary.CountEntries(ctx)
	if err != nil {
		f.degrade("count_entries", err)
		return f.fallback.CountEntries(ctx)
	}
	return n, nil
}

func (f *Failover) LeastRecentlyAccessed(ctx context.Context, limit int) ([]string, error) {
	if f.useFallback(ctx) {
		return f.fallback.LeastRecentlyAccessed(ctx, limit)
	}
	ids, err := f.primary.LeastRecentlyAccessed(ctx, limit)
	if err != nil {
		f.degrade("least_recently_accessed", err)
		return f.fallback.LeastRecentlyAccessed(ctx, limit)
	}
	return ids, nil
}

func (f *Failover) EntryIDsByTags(ctx context.Context, names []string) ([]string, error) {
	if f.useFallback(ctx) {
		return f.fallback.EntryIDsByTags(ctx, names)
	}
	ids, err := f.primary.EntryIDsByTags(ctx, names)
	if err != nil {
		f.degrade("entry_ids_by_tags", err)
		return f.fallback.EntryIDsByTags(ctx, names)
	}
	return ids, nil
}

func (f *Failover) TopTags(ctx context.Context, limit int) ([]TagCount, error) {
	if f.useFallback(ctx) {
		return f.fallback.TopTags(ctx, limit)
	}
	tags, err := f.primary.TopTags(ctx, limit)
	if err != nil {
		f.degrade("top_tags", err)
		return f.fallback.TopTags(ctx, limit)
	}
	return tags, nil
}

func (f *Failover) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if f.useFallback(ctx) {
		return f.fallback.DeleteByIDs(ctx, ids)
	}
	n, err := f.primary.DeleteByIDs(ctx, ids)
	if err != nil {
		f.degrade("delete_by_ids", err)
		return f.fallback.DeleteByIDs(ctx, ids)
	}
	return n, nil
}

func (f *Failover) DeleteByPattern(ctx context.Context, substring string) (int64, error) {
	if f.useFallback(ctx) {
		return f.fallback.DeleteByPattern(ctx, substring)
	}
	n, err := f.primary.DeleteByPattern(ctx, substring)
	if err != nil {
		f.degrade("delete_by_pattern", err)
		return f.fallback.DeleteByPattern(ctx, substring)
	}
	return n, nil
}

func (f *Failover) DeleteExpired(ctx context.Context) (int64, error) {
	if f.useFallback(ctx) {
		return f.fallback.DeleteExpired(ctx)
	}
	n, err := f.primary.DeleteExpired(ctx)
	if err != nil {
		f.degrade("delete_expired", err)
		return f.fallback.DeleteExpired(ctx)
	}
	return n, nil
}

func (f *Failover) DeleteAll(ctx context.Context) (int64, error) {
	if f.useFallback(ctx) {
		return f.fallback.DeleteAll(ctx)
	}
	n, err := f.primary.DeleteAll(ctx)
	if err != nil {
		f.degrade("delete_all", err)
		return f.fallback.DeleteAll(ctx)
	}
	return n, nil
}

func (f *Failover) EntryTimeBounds(ctx context.Context) (*TimeBounds, error) {
	if f.useFallback(ctx) {
		return f.fallback.EntryTimeBounds(ctx)
	}
	bounds, err := f.primary.EntryTimeBounds(ctx)
	if err != nil {
		f.degrade("entry_time_bounds", err)
		return f.fallback.EntryTimeBounds(ctx)
	}
	return bounds, nil
}

func (f *Failover) LoadConfig(ctx context.Context) (*Config, error) {
	if f.useFallback(ctx) {
		return f.fallback.LoadConfig(ctx)
	}
	cfg, err := f.primary.LoadConfig(ctx)
	if err != nil {
		f.degrade("load_config", err)
		return f.fallback.LoadConfig(ctx)
	}
	return cfg, nil
}

func (f *Failover) SaveConfig(ctx context.Context, cfg *Config) error {
	if f.useFallback(ctx) {
		return f.fallback.SaveConfig(ctx, cfg)
	}
	if err := f.primary.SaveConfig(ctx, cfg); err != nil {
		f.degrade("save_config", err)
		return f.fallback.SaveConfig(ctx, cfg)
	}
	// Keep the fallback bound in sync so a later degrade honors the
	// configured size.
	_ = f.fallback.SaveConfig(ctx, cfg)
	return nil
}

func (f *Failover) IncrementDailyStats(ctx context.Context, day time.Time, delta StatsDelta) error {
	if f.useFallback(ctx) {
		return f.fallback.IncrementDailyStats(ctx, day, delta)
	}
	if err := f.primary.IncrementDailyStats(ctx, day, delta); err != nil {
		f.degrade("increment_daily_stats", err)
		return f.fallback.IncrementDailyStats(ctx, day, delta)
	}
	return nil
}

func (f *Failover) RecentDailyStats(ctx context.Context, days int) ([]DailyStat, error) {
	if f.useFallback(ctx) {
		return f.fallback.RecentDailyStats(ctx, days)
	}
	rows, err := f.primary.RecentDailyStats(ctx, days)
	if err != nil {
		f.degrade("recent_daily_stats", err)
		return f.fallback.RecentDailyStats(ctx, days)
	}
	return rows, nil
}

func (f *Failover) ResetStats(ctx context.Context) error {
	if f.useFallback(ctx) {
		return f.fallback.ResetStats(ctx)
	}
	if err := f.primary.ResetStats(ctx); err != nil {
		f.degrade("reset_stats", err)
		return f.fallback.ResetStats(ctx)
	}
	return nil
}

func (f *Failover) Ping(ctx context.Context) error {
	if f.useFallback(ctx) {
		return f.fallback.Ping(ctx)
	}
	return f.primary.Ping(ctx)
}

func (f *Failover) Close() error {
	if f.primary != nil {
		return f.primary.Close()
	}
	return nil
}
