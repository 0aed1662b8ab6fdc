package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an embedded SQLite database. It uses the
// pure-Go modernc driver, so it also serves as the runnable target for the
// SQL-adapter test suite. Timestamps are stored as Unix nanoseconds.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS semantic_cache (
	id TEXT PRIMARY KEY,
	prompt TEXT NOT NULL,
	prompt_hash TEXT NOT NULL,
	embedding TEXT NOT NULL,
	response TEXT NOT NULL,
	model TEXT NOT NULL,
	hit_count INTEGER NOT NULL DEFAULT 0,
	tokens_saved INTEGER NOT NULL DEFAULT 0,
	user_id TEXT,
	created_at INTEGER NOT NULL,
	last_accessed_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_semantic_cache_prompt_hash ON semantic_cache (prompt_hash);
CREATE INDEX IF NOT EXISTS idx_semantic_cache_expires_at ON semantic_cache (expires_at);
CREATE INDEX IF NOT EXISTS idx_semantic_cache_last_accessed_at ON semantic_cache (last_accessed_at);

CREATE TABLE IF NOT EXISTS cache_tags (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	cache_id TEXT NOT NULL REFERENCES semantic_cache(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_cache_tags_name ON cache_tags (name);
CREATE INDEX IF NOT EXISTS idx_cache_tags_cache_id ON cache_tags (cache_id);

CREATE TABLE IF NOT EXISTS cache_statistics (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	date INTEGER NOT NULL UNIQUE,
	total_hits INTEGER NOT NULL DEFAULT 0,
	total_misses INTEGER NOT NULL DEFAULT 0,
	tokens_saved INTEGER NOT NULL DEFAULT 0,
	cost_saved REAL NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cache_config (
	id INTEGER PRIMARY KEY,
	enabled INTEGER NOT NULL DEFAULT 1,
	similarity_threshold REAL NOT NULL DEFAULT 0.85,
	default_ttl_seconds INTEGER NOT NULL DEFAULT 3600,
	max_cache_size INTEGER NOT NULL DEFAULT 10000,
	invalidation_rules TEXT NOT NULL DEFAULT '[]',
	updated_at INTEGER NOT NULL
);
`

// NewSQLiteStore opens (or creates) the database at path and bootstraps the
// schema. Use ":memory:" for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// modernc sqlite serializes access through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteEntryColumns = `id, prompt, prompt_hash, embedding, response, model,
	hit_count, tokens_saved, user_id, created_at, last_accessed_at, expires_at`

func scanSQLiteEntry(row interface{ Scan(...any) error }) (*Entry, error) {
	var e Entry
	var embeddingJSON string
	var userID sql.NullString
	var createdAt, lastAccessedAt, expiresAt int64

	err := row.Scan(
		&e.ID, &e.Prompt, &e.PromptHash, &embeddingJSON, &e.Response, &e.Model,
		&e.HitCount, &e.TokensSaved, &userID, &createdAt, &lastAccessedAt, &expiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan entry: %w", err)
	}

	if err := json.Unmarshal([]byte(embeddingJSON), &e.Embedding); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	if userID.Valid {
		e.UserID = userID.String
	}
	e.CreatedAt = time.Unix(0, createdAt)
	e.LastAccessedAt = time.Unix(0, lastAccessedAt)
	e.ExpiresAt = time.Unix(0, expiresAt)
	return &e, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// InsertEntry persists a new entry.
func (s *SQLiteStore) InsertEntry(ctx context.Context, e *Entry) error {
	embeddingJSON, err := json.Marshal(e.Embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}

	var userID sql.NullString
	if e.UserID != "" {
		userID = sql.NullString{String: e.UserID, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO semantic_cache (`+sqliteEntryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Prompt, e.PromptHash, string(embeddingJSON), e.Response, e.Model,
		e.HitCount, e.TokensSaved, userID,
		e.CreatedAt.UnixNano(), e.LastAccessedAt.UnixNano(), e.ExpiresAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// InsertTags persists tag rows for an entry.
func (s *SQLiteStore) InsertTags(ctx context.Context, entryID string, names []string) ([]Tag, error) {
	tags := make([]Tag, 0, len(names))
	for _, name := range names {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO cache_tags (name, cache_id) VALUES (?, ?)`, name, entryID)
		if err != nil {
			return tags, fmt.Errorf("insert tag %q: %w", name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return tags, fmt.Errorf("tag id: %w", err)
		}
		tags = append(tags, Tag{ID: id, Name: name, EntryID: entryID})
	}
	return tags, nil
}

// TagsForEntry returns the tags owned by an entry.
func (s *SQLiteStore) TagsForEntry(ctx context.Context, entryID string) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, cache_id FROM cache_tags WHERE cache_id = ? ORDER BY id`, entryID)
	if err != nil {
		return nil, fmt.Errorf("query tags: %w", err)
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.EntryID); err != nil {
			return nil, fmt.Errorf("scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// FindByFingerprint returns the live entry for the fingerprint, honoring the
// model-matching rule.
func (s *SQLiteStore) FindByFingerprint(ctx context.Context, fingerprint, model string) (*Entry, error) {
	query := `SELECT ` + sqliteEntryColumns + `
		FROM semantic_cache WHERE prompt_hash = ? AND expires_at > ?`
	args := []any{fingerprint, time.Now().UnixNano()}
	if model != "" {
		query += ` AND (model = ? OR model = '` + ModelAny + `')`
		args = append(args, model)
	}
	query += ` LIMIT 1`

	e, err := scanSQLiteEntry(s.db.QueryRowContext(ctx, query, args...))
	if err != nil || e == nil {
		return nil, err
	}

	tags, err := s.TagsForEntry(ctx, e.ID)
	if err != nil {
		return nil, err
	}
	e.Tags = tags
	return e, nil
}

// Candidates returns non-expired entries newest first, bounded by q.Limit.
func (s *SQLiteStore) Candidates(ctx context.Context, q CandidateQuery) ([]*Entry, error) {
	if q.EntryIDs != nil && len(q.EntryIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + sqliteEntryColumns + ` FROM semantic_cache WHERE expires_at > ?`
	args := []any{time.Now().UnixNano()}
	if q.Model != "" {
		query += ` AND (model = ? OR model = '` + ModelAny + `')`
		args = append(args, q.Model)
	}
	if q.EntryIDs != nil {
		query += ` AND id IN (` + placeholders(len(q.EntryIDs)) + `)`
		for _, id := range q.EntryIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanSQLiteEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TouchHit increments the hit counter and refreshes last_accessed_at.
func (s *SQLiteStore) TouchHit(ctx context.Context, id string) (*Entry, error) {
	_, err := s.db.ExecContext(ctx, `
		UPDATE semantic_cache
		SET hit_count = hit_count + 1, last_accessed_at = ?
		WHERE id = ?`,
		time.Now().UnixNano(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("touch hit: %w", err)
	}
	return scanSQLiteEntry(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteEntryColumns+` FROM semantic_cache WHERE id = ?`, id))
}

// CountEntries returns the current entry count.
func (s *SQLiteStore) CountEntries(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM semantic_cache`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

// LeastRecentlyAccessed returns up to limit ids, least recently accessed
// first.
func (s *SQLiteStore) LeastRecentlyAccessed(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM semantic_cache ORDER BY last_accessed_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query lru ids: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// EntryIDsByTags returns ids of entries carrying any of the tag names.
func (s *SQLiteStore) EntryIDsByTags(ctx context.Context, names []string) ([]string, error) {
	if len(names) == 0 {
		return nil, nil
	}
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = n
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT cache_id FROM cache_tags WHERE name IN (`+placeholders(len(names))+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("query tag ids: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// TopTags returns the most used tag names with counts.
func (s *SQLiteStore) TopTags(ctx context.Context, limit int) ([]TagCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, count(*) FROM cache_tags GROUP BY name ORDER BY count(*) DESC, name ASC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("query top tags: %w", err)
	}
	defer rows.Close()

	var out []TagCount
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, fmt.Errorf("scan tag count: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

// DeleteByIDs removes entries by id; tags cascade.
func (s *SQLiteStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM semantic_cache WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("delete by ids: %w", err)
	}
	return res.RowsAffected()
}

// DeleteByPattern removes entries whose prompt contains the substring.
func (s *SQLiteStore) DeleteByPattern(ctx context.Context, substring string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM semantic_cache WHERE instr(prompt, ?) > 0`, substring)
	if err != nil {
		return 0, fmt.Errorf("delete by pattern: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpired removes entries past their expiry.
func (s *SQLiteStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM semantic_cache WHERE expires_at <= ?`, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAll removes every entry.
func (s *SQLiteStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM semantic_cache`)
	if err != nil {
		return 0, fmt.Errorf("delete all: %w", err)
	}
	return res.RowsAffected()
}

// EntryTimeBounds returns oldest/newest creation timestamps, nil when empty.
func (s *SQLiteStore) EntryTimeBounds(ctx context.Context) (*TimeBounds, error) {
	var oldest, newest sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT min(created_at), max(created_at) FROM semantic_cache`,
	).Scan(&oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("query time bounds: %w", err)
	}
	if !oldest.Valid || !newest.Valid {
		return nil, nil
	}
	return &TimeBounds{
		Oldest: time.Unix(0, oldest.Int64),
		Newest: time.Unix(0, newest.Int64),
	}, nil
}

// LoadConfig returns the config singleton, nil if absent.
func (s *SQLiteStore) LoadConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	var enabled int
	var rules string
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, `
		SELECT enabled, similarity_threshold, default_ttl_seconds, max_cache_size,
		       invalidation_rules, updated_at
		FROM cache_config WHERE id = 1`,
	).Scan(&enabled, &cfg.SimilarityThreshold, &cfg.DefaultTTLSeconds,
		&cfg.MaxCacheSize, &rules, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query config: %w", err)
	}
	cfg.Enabled = enabled != 0
	cfg.InvalidationRules = []byte(rules)
	cfg.UpdatedAt = time.Unix(0, updatedAt)
	return &cfg, nil
}

// SaveConfig upserts the config singleton.
func (s *SQLiteStore) SaveConfig(ctx context.Context, cfg *Config) error {
	rules := cfg.InvalidationRules
	if len(rules) == 0 {
		rules = []byte("[]")
	}
	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_config (id, enabled, similarity_threshold, default_ttl_seconds,
		                          max_cache_size, invalidation_rules, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			enabled = excluded.enabled,
			similarity_threshold = excluded.similarity_threshold,
			default_ttl_seconds = excluded.default_ttl_seconds,
			max_cache_size = excluded.max_cache_size,
			invalidation_rules = excluded.invalidation_rules,
			updated_at = excluded.updated_at`,
		enabled, cfg.SimilarityThreshold, cfg.DefaultTTLSeconds, cfg.MaxCacheSize,
		string(rules), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// IncrementDailyStats upserts the statistics row for day.
func (s *SQLiteStore) IncrementDailyStats(ctx context.Context, day time.Time, delta StatsDelta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_statistics (date, total_hits, total_misses, tokens_saved, cost_saved)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (date) DO UPDATE SET
			total_hits = total_hits + excluded.total_hits,
			total_misses = total_misses + excluded.total_misses,
			tokens_saved = tokens_saved + excluded.tokens_saved,
			cost_saved = cost_saved + excluded.cost_saved`,
		Day(day).Unix(), delta.Hits, delta.Misses, delta.TokensSaved, delta.CostSaved,
	)
	if err != nil {
		return fmt.Errorf("increment daily stats: %w", err)
	}
	return nil
}

// RecentDailyStats returns up to days rows, newest first.
func (s *SQLiteStore) RecentDailyStats(ctx context.Context, days int) ([]DailyStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, total_hits, total_misses, tokens_saved, cost_saved
		FROM cache_statistics ORDER BY date DESC LIMIT ?`, days)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()

	var out []DailyStat
	for rows.Next() {
		var d DailyStat
		var date int64
		if err := rows.Scan(&date, &d.TotalHits, &d.TotalMisses, &d.TokensSaved, &d.CostSaved); err != nil {
			return nil, fmt.Errorf("scan daily stat: %w", err)
		}
		d.Date = time.Unix(date, 0).UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}

// ResetStats removes all statistics rows.
func (s *SQLiteStore) ResetStats(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_statistics`); err != nil {
		return fmt.Errorf("reset stats: %w", err)
	}
	return nil
}

// Ping checks database reachability.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
