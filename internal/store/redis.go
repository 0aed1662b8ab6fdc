package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. Entries are JSON blobs indexed by
// fingerprint, with sorted sets tracking creation, access, and expiry order,
// and sets per tag name. Daily statistics use hash increments so they stay
// atomic under concurrent writers.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisStore connects to Redis and verifies reachability.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if cfg.Prefix == "" {
		cfg.Prefix = "semcache"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, prefix: cfg.Prefix}, nil
}

// NewRedisStoreFromClient wraps an existing client (used by tests).
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "semcache"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(parts ...string) string {
	return s.prefix + ":" + strings.Join(parts, ":")
}

func (s *RedisStore) entryKey(id string) string  { return s.key("entry", id) }
func (s *RedisStore) fpKey(fp string) string     { return s.key("fp", fp) }
func (s *RedisStore) tagKey(name string) string  { return s.key("tag", name) }
func (s *RedisStore) statsKey(day string) string { return s.key("stats", day) }
func (s *RedisStore) createdIndex() string       { return s.key("idx", "created") }
func (s *RedisStore) accessedIndex() string      { return s.key("idx", "accessed") }
func (s *RedisStore) expiresIndex() string       { return s.key("idx", "expires") }
func (s *RedisStore) tagCounts() string          { return s.key("idx", "tags") }
func (s *RedisStore) statsDays() string          { return s.key("idx", "statdays") }

func (s *RedisStore) getEntry(ctx context.Context, id string) (*Entry, error) {
	raw, err := s.client.Get(ctx, s.entryKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &e, nil
}

func (s *RedisStore) putEntry(ctx context.Context, pipe redis.Pipeliner, e *Entry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	pipe.Set(ctx, s.entryKey(e.ID), raw, 0)
	return nil
}

// InsertEntry persists a new entry, replacing any existing entry with the
// same fingerprint.
func (s *RedisStore) InsertEntry(ctx context.Context, e *Entry) error {
	if prevID, err := s.client.Get(ctx, s.fpKey(e.PromptHash)).Result(); err == nil && prevID != "" {
		if _, err := s.DeleteByIDs(ctx, []string{prevID}); err != nil {
			return err
		}
	} else if err != nil && err != redis.Nil {
		return fmt.Errorf("check fingerprint: %w", err)
	}

	pipe := s.client.TxPipeline()
	if err := s.putEntry(ctx, pipe, e); err != nil {
		return err
	}
	pipe.Set(ctx, s.fpKey(e.PromptHash), e.ID, 0)
	pipe.ZAdd(ctx, s.createdIndex(), redis.Z{Score: float64(e.CreatedAt.UnixNano()), Member: e.ID})
	pipe.ZAdd(ctx, s.accessedIndex(), redis.Z{Score: float64(e.LastAccessedAt.UnixNano()), Member: e.ID})
	pipe.ZAdd(ctx, s.expiresIndex(), redis.Z{Score: float64(e.ExpiresAt.UnixNano()), Member: e.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// InsertTags attaches tag rows to an entry and maintains the tag indexes.
func (s *RedisStore) InsertTags(ctx context.Context, entryID string, names []string) ([]Tag, error) {
	e, err := s.getEntry(ctx, entryID)
	if err != nil || e == nil {
		return nil, err
	}

	tags := make([]Tag, 0, len(names))
	pipe := s.client.TxPipeline()
	for _, name := range names {
		seq, err := s.client.Incr(ctx, s.key("tagseq")).Result()
		if err != nil {
			return nil, fmt.Errorf("tag seq: %w", err)
		}
		tags = append(tags, Tag{ID: seq, Name: name, EntryID: entryID})
		pipe.SAdd(ctx, s.tagKey(name), entryID)
		pipe.ZIncrBy(ctx, s.tagCounts(), 1, name)
	}

	e.Tags = append(e.Tags, tags...)
	if err := s.putEntry(ctx, pipe, e); err != nil {
		return nil, err
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("insert tags: %w", err)
	}
	return tags, nil
}

// TagsForEntry returns the tags owned by an entry.
func (s *RedisStore) TagsForEntry(ctx context.Context, entryID string) ([]Tag, error) {
	e, err := s.getEntry(ctx, entryID)
	if err != nil || e == nil {
		return nil, err
	}
	return e.Tags, nil
}

// FindByFingerprint returns the live entry for the fingerprint, honoring the
// model-matching rule.
func (s *RedisStore) FindByFingerprint(ctx context.Context, fingerprint, model string) (*Entry, error) {
	id, err := s.client.Get(ctx, s.fpKey(fingerprint)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup fingerprint: %w", err)
	}

	e, err := s.getEntry(ctx, id)
	if err != nil || e == nil {
		return nil, err
	}
	if e.Expired(time.Now()) || !e.MatchesModel(model) {
		return nil, nil
	}
	return e, nil
}

// Candidates returns non-expired entries newest first, bounded by q.Limit.
func (s *RedisStore) Candidates(ctx context.Context, q CandidateQuery) ([]*Entry, error) {
	if q.EntryIDs != nil && len(q.EntryIDs) == 0 {
		return nil, nil
	}

	// Over-fetch so post-filtering on expiry/model still fills the window.
	fetch := int64(q.Limit) * 2
	if fetch <= 0 {
		fetch = -1 // full range
	}
	ids, err := s.client.ZRevRange(ctx, s.createdIndex(), 0, fetch).Result()
	if err != nil {
		return nil, fmt.Errorf("scan created index: %w", err)
	}

	var allowed map[string]struct{}
	if q.EntryIDs != nil {
		allowed = make(map[string]struct{}, len(q.EntryIDs))
		for _, id := range q.EntryIDs {
			allowed[id] = struct{}{}
		}
	}

	now := time.Now()
	var out []*Entry
	for _, id := range ids {
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
		if allowed != nil {
			if _, ok := allowed[id]; !ok {
				continue
			}
		}
		e, err := s.getEntry(ctx, id)
		if err != nil {
			return nil, err
		}
		if e == nil || e.Expired(now) || !e.MatchesModel(q.Model) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// TouchHit increments the hit counter and refreshes the access timestamp.
func (s *RedisStore) TouchHit(ctx context.Context, id string) (*Entry, error) {
	e, err := s.getEntry(ctx, id)
	if err != nil || e == nil {
		return nil, err
	}

	e.HitCount++
	e.LastAccessedAt = time.Now()

	pipe := s.client.TxPipeline()
	if err := s.putEntry(ctx, pipe, e); err != nil {
		return nil, err
	}
	pipe.ZAdd(ctx, s.accessedIndex(), redis.Z{Score: float64(e.LastAccessedAt.UnixNano()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("touch hit: %w", err)
	}
	return e, nil
}

// CountEntries returns the current entry count.
func (s *RedisStore) CountEntries(ctx context.Context) (int64, error) {
	n, err := s.client.ZCard(ctx, s.createdIndex()).Result()
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// LeastRecentlyAccessed returns up to limit ids, least recently accessed
// first.
func (s *RedisStore) LeastRecentlyAccessed(ctx context.Context, limit int) ([]string, error) {
	ids, err := s.client.ZRange(ctx, s.accessedIndex(), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("scan accessed index: %w", err)
	}
	return ids, nil
}

// EntryIDsByTags returns ids of entries carrying any of the tag names.
func (s *RedisStore) EntryIDsByTags(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = s.tagKey(n)
	}
	ids, err := s.client.SUnion(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("union tag sets: %w", err)
	}
	return ids, nil
}

// TopTags returns the most used tag names with counts.
func (s *RedisStore) TopTags(ctx context.Context, limit int) ([]TagCount, error) {
	zs, err := s.client.ZRevRangeWithScores(ctx, s.tagCounts(), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("scan tag counts: %w", err)
	}
	out := make([]TagCount, 0, len(zs))
	for _, z := range zs {
		name, _ := z.Member.(string)
		if z.Score <= 0 {
			continue
		}
		out = append(out, TagCount{Tag: name, Count: int64(z.Score)})
	}
	return out, nil
}

// DeleteByIDs removes entries and their index/tag references.
func (s *RedisStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	var removed int64
	for _, id := range ids {
		e, err := s.getEntry(ctx, id)
		if err != nil {
			return removed, err
		}
		if e == nil {
			continue
		}

		pipe := s.client.TxPipeline()
		pipe.Del(ctx, s.entryKey(id))
		pipe.ZRem(ctx, s.createdIndex(), id)
		pipe.ZRem(ctx, s.accessedIndex(), id)
		pipe.ZRem(ctx, s.expiresIndex(), id)
		for _, tag := range e.Tags {
			pipe.SRem(ctx, s.tagKey(tag.Name), id)
			pipe.ZIncrBy(ctx, s.tagCounts(), -1, tag.Name)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, fmt.Errorf("delete entry: %w", err)
		}

		// Drop the fingerprint pointer only if it still points at this
		// entry; a newer insert may have claimed it.
		if cur, err := s.client.Get(ctx, s.fpKey(e.PromptHash)).Result(); err == nil && cur == id {
			s.client.Del(ctx, s.fpKey(e.PromptHash))
		}
		removed++
	}
	return removed, nil
}

// DeleteByPattern removes entries whose prompt contains the substring.
func (s *RedisStore) DeleteByPattern(ctx context.Context, substring string) (int64, error) {
	ids, err := s.client.ZRange(ctx, s.createdIndex(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("scan created index: %w", err)
	}

	var matched []string
	for _, id := range ids {
		e, err := s.getEntry(ctx, id)
		if err != nil {
			return 0, err
		}
		if e != nil && strings.Contains(e.Prompt, substring) {
			matched = append(matched, id)
		}
	}
	return s.DeleteByIDs(ctx, matched)
}

// DeleteExpired removes entries past their expiry.
func (s *RedisStore) DeleteExpired(ctx context.Context) (int64, error) {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	ids, err := s.client.ZRangeByScore(ctx, s.expiresIndex(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan expires index: %w", err)
	}
	return s.DeleteByIDs(ctx, ids)
}

// DeleteAll removes every entry.
func (s *RedisStore) DeleteAll(ctx context.Context) (int64, error) {
	ids, err := s.client.ZRange(ctx, s.createdIndex(), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("scan created index: %w", err)
	}
	return s.DeleteByIDs(ctx, ids)
}

// EntryTimeBounds returns oldest/newest creation timestamps, nil when empty.
func (s *RedisStore) EntryTimeBounds(ctx context.Context) (*TimeBounds, error) {
	oldest, err := s.client.ZRangeWithScores(ctx, s.createdIndex(), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("scan created index: %w", err)
	}
	if len(oldest) == 0 {
		return nil, nil
	}
	newest, err := s.client.ZRevRangeWithScores(ctx, s.createdIndex(), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("scan created index: %w", err)
	}
	return &TimeBounds{
		Oldest: time.Unix(0, int64(oldest[0].Score)),
		Newest: time.Unix(0, int64(newest[0].Score)),
	}, nil
}

// LoadConfig returns the config singleton, nil if absent.
func (s *RedisStore) LoadConfig(ctx context.Context) (*Config, error) {
	raw, err := s.client.Get(ctx, s.key("config")).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// SaveConfig upserts the config singleton.
func (s *RedisStore) SaveConfig(ctx context.Context, cfg *Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := s.client.Set(ctx, s.key("config"), raw, 0).Err(); err != nil {
		return fmt.Errorf("set config: %w", err)
	}
	return nil
}

// IncrementDailyStats upserts the statistics hash for day.
func (s *RedisStore) IncrementDailyStats(ctx context.Context, day time.Time, delta StatsDelta) error {
	d := Day(day)
	field := d.Format("2006-01-02")
	key := s.statsKey(field)

	pipe := s.client.TxPipeline()
	if delta.Hits != 0 {
		pipe.HIncrBy(ctx, key, "total_hits", delta.Hits)
	}
	if delta.Misses != 0 {
		pipe.HIncrBy(ctx, key, "total_misses", delta.Misses)
	}
	if delta.TokensSaved != 0 {
		pipe.HIncrBy(ctx, key, "tokens_saved", delta.TokensSaved)
	}
	if delta.CostSaved != 0 {
		pipe.HIncrByFloat(ctx, key, "cost_saved", delta.CostSaved)
	}
	pipe.ZAdd(ctx, s.statsDays(), redis.Z{Score: float64(d.Unix()), Member: field})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("increment daily stats: %w", err)
	}
	return nil
}

// RecentDailyStats returns up to days rows, newest first.
func (s *RedisStore) RecentDailyStats(ctx context.Context, days int) ([]DailyStat, error) {
	fields, err := s.client.ZRevRange(ctx, s.statsDays(), 0, int64(days)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("scan stat days: %w", err)
	}

	var out []DailyStat
	for _, field := range fields {
		vals, err := s.client.HGetAll(ctx, s.statsKey(field)).Result()
		if err != nil {
			return nil, fmt.Errorf("get stats %s: %w", field, err)
		}
		date, err := time.ParseInLocation("2006-01-02", field, time.UTC)
		if err != nil {
			continue
		}
		d := DailyStat{Date: date}
		d.TotalHits, _ = strconv.ParseInt(vals["total_hits"], 10, 64)
		d.TotalMisses, _ = strconv.ParseInt(vals["total_misses"], 10, 64)
		d.TokensSaved, _ = strconv.ParseInt(vals["tokens_saved"], 10, 64)
		d.CostSaved, _ = strconv.ParseFloat(vals["cost_saved"], 64)
		out = append(out, d)
	}
	return out, nil
}

// ResetStats removes all statistics keys.
func (s *RedisStore) ResetStats(ctx context.Context) error {
	fields, err := s.client.ZRange(ctx, s.statsDays(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("scan stat days: %w", err)
	}
	pipe := s.client.TxPipeline()
	for _, field := range fields {
		pipe.Del(ctx, s.statsKey(field))
	}
	pipe.Del(ctx, s.statsDays())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reset stats: %w", err)
	}
	return nil
}

// Ping checks Redis reachability.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
