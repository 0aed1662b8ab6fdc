// Package store defines the persistent store contract for cache entries,
// tags, the config singleton, and daily statistics, together with adapters
// for Postgres, SQLite, Redis, and a pure in-memory implementation reused
// for tests and degraded mode.
package store

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// ModelAny is the sentinel model identifier that matches any requested model.
const ModelAny = "unknown"

// Entry is a cached prompt/response pair with its embedding and bookkeeping.
type Entry struct {
	ID             string    `json:"id"`
	Prompt         string    `json:"prompt"`
	PromptHash     string    `json:"promptHash"`
	Embedding      []float64 `json:"embedding"`
	Response       string    `json:"response"`
	Model          string    `json:"model"`
	HitCount       int64     `json:"hitCount"`
	TokensSaved    int64     `json:"tokensSaved"`
	UserID         string    `json:"userId,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastAccessedAt time.Time `json:"lastAccessedAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	Tags           []Tag     `json:"tags,omitempty"`
}

// Expired reports whether the entry's TTL has elapsed at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// MatchesModel applies the model-matching rule: an empty requested model
// matches everything; otherwise the entry must carry the same model or the
// ModelAny sentinel.
func (e *Entry) MatchesModel(model string) bool {
	return model == "" || e.Model == model || e.Model == ModelAny
}

// Tag associates a name with a cache entry. Tags are created alongside the
// entry and cascade-deleted with it.
type Tag struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	EntryID string `json:"cacheId"`
}

// Config is the singleton cache configuration record.
type Config struct {
	Enabled             bool            `json:"enabled"`
	SimilarityThreshold float64         `json:"similarityThreshold"`
	DefaultTTLSeconds   int             `json:"defaultTTLSeconds"`
	MaxCacheSize        int             `json:"maxCacheSize"`
	InvalidationRules   json.RawMessage `json:"invalidationRules,omitempty"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// DailyStat is one calendar day of hit/miss aggregates.
type DailyStat struct {
	Date        time.Time `json:"date"`
	TotalHits   int64     `json:"totalHits"`
	TotalMisses int64     `json:"totalMisses"`
	TokensSaved int64     `json:"tokensSaved"`
	CostSaved   float64   `json:"costSaved"`
}

// StatsDelta is an atomic increment applied to a daily statistics row.
type StatsDelta struct {
	Hits        int64
	Misses      int64
	TokensSaved int64
	CostSaved   float64
}

// TagCount is a tag name with its usage count, for analytics.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int64  `json:"count"`
}

// TimeBounds holds the creation timestamps of the oldest and newest entries.
type TimeBounds struct {
	Oldest time.Time
	Newest time.Time
}

// CandidateQuery bounds and pre-filters a similarity candidate scan.
type CandidateQuery struct {
	// Limit caps the scan window. Candidates are returned most recently
	// created first.
	Limit int

	// Model restricts candidates per the model-matching rule. Empty means
	// any model.
	Model string

	// EntryIDs, when non-nil, restricts candidates to the given ids
	// (used for tag pre-filtering). An empty non-nil slice yields no
	// candidates.
	EntryIDs []string
}

// Store is the persistent store contract consumed by the cache core.
// Implementations report failures as plain errors; the Failover wrapper maps
// them into degraded-mode transitions so callers never see them.
type Store interface {
	// InsertEntry persists a new entry.
	InsertEntry(ctx context.Context, e *Entry) error

	// InsertTags persists tag rows for an entry and returns them.
	InsertTags(ctx context.Context, entryID string, names []string) ([]Tag, error)

	// TagsForEntry returns the tags owned by an entry.
	TagsForEntry(ctx context.Context, entryID string) ([]Tag, error)

	// FindByFingerprint returns the non-expired entry with the given
	// fingerprint honoring the model-matching rule, or nil if absent.
	FindByFingerprint(ctx context.Context, fingerprint, model string) (*Entry, error)

	// Candidates returns non-expired entries for a similarity scan,
	// newest first, bounded by q.Limit.
	Candidates(ctx context.Context, q CandidateQuery) ([]*Entry, error)

	// TouchHit increments the entry's hit counter, refreshes its
	// last-accessed timestamp, and returns the updated entry (nil if the
	// entry no longer exists).
	TouchHit(ctx context.Context, id string) (*Entry, error)

	// CountEntries returns the current number of entries.
	CountEntries(ctx context.Context) (int64, error)

	// LeastRecentlyAccessed returns up to limit entry ids ordered by
	// last-accessed ascending, for bulk eviction.
	LeastRecentlyAccessed(ctx context.Context, limit int) ([]string, error)

	// EntryIDsByTags returns the ids of entries carrying any of the tags.
	EntryIDsByTags(ctx context.Context, names []string) ([]string, error)

	// TopTags returns the most used tag names with counts.
	TopTags(ctx context.Context, limit int) ([]TagCount, error)

	// DeleteByIDs removes entries (and their tags) by id, returning the
	// number removed. Absent ids are not an error.
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)

	// DeleteByPattern removes entries whose prompt contains the substring.
	DeleteByPattern(ctx context.Context, substring string) (int64, error)

	// DeleteExpired removes entries whose expiry is in the past.
	DeleteExpired(ctx context.Context) (int64, error)

	// DeleteAll removes every entry, returning the number removed.
	DeleteAll(ctx context.Context) (int64, error)

	// EntryTimeBounds returns oldest/newest creation timestamps, or nil
	// when the store is empty.
	EntryTimeBounds(ctx context.Context) (*TimeBounds, error)

	// LoadConfig returns the config singleton, or nil if absent.
	LoadConfig(ctx context.Context) (*Config, error)

	// SaveConfig upserts the config singleton.
	SaveConfig(ctx context.Context, cfg *Config) error

	// IncrementDailyStats upserts the statistics row for day, applying the
	// delta atomically.
	IncrementDailyStats(ctx context.Context, day time.Time, delta StatsDelta) error

	// RecentDailyStats returns up to days most recent statistics rows,
	// newest first.
	RecentDailyStats(ctx context.Context, days int) ([]DailyStat, error)

	// ResetStats removes all statistics rows.
	ResetStats(ctx context.Context) error

	// Ping checks store reachability.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}

// Day truncates t to its calendar day in UTC. Statistics rows are keyed by
// this value.
func Day(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
