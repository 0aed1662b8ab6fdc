package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}

// DefaultPostgresConfig returns sensible defaults.
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Host:         "localhost",
		Port:         5432,
		Database:     "semcache",
		SSLMode:      "disable",
		MaxOpenConns: 25,
		MaxIdleConns: 5,
		ConnLifetime: 5 * time.Minute,
	}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS semantic_cache (
	id TEXT PRIMARY KEY,
	prompt TEXT NOT NULL,
	prompt_hash TEXT NOT NULL,
	embedding JSONB NOT NULL,
	response TEXT NOT NULL,
	model TEXT NOT NULL,
	hit_count BIGINT NOT NULL DEFAULT 0,
	tokens_saved BIGINT NOT NULL DEFAULT 0,
	user_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_accessed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_semantic_cache_prompt_hash ON semantic_cache (prompt_hash);
CREATE INDEX IF NOT EXISTS idx_semantic_cache_expires_at ON semantic_cache (expires_at);
CREATE INDEX IF NOT EXISTS idx_semantic_cache_last_accessed_at ON semantic_cache (last_accessed_at);
CREATE INDEX IF NOT EXISTS idx_semantic_cache_model ON semantic_cache (model);

CREATE TABLE IF NOT EXISTS cache_tags (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	cache_id TEXT NOT NULL REFERENCES semantic_cache(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_cache_tags_name ON cache_tags (name);
CREATE INDEX IF NOT EXISTS idx_cache_tags_cache_id ON cache_tags (cache_id);

CREATE TABLE IF NOT EXISTS cache_statistics (
	id BIGSERIAL PRIMARY KEY,
	date DATE NOT NULL UNIQUE,
	total_hits BIGINT NOT NULL DEFAULT 0,
	total_misses BIGINT NOT NULL DEFAULT 0,
	tokens_saved BIGINT NOT NULL DEFAULT 0,
	cost_saved DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS cache_config (
	id INTEGER PRIMARY KEY,
	enabled BOOLEAN NOT NULL DEFAULT TRUE,
	similarity_threshold DOUBLE PRECISION NOT NULL DEFAULT 0.85,
	default_ttl_seconds INTEGER NOT NULL DEFAULT 3600,
	max_cache_size INTEGER NOT NULL DEFAULT 10000,
	invalidation_rules JSONB NOT NULL DEFAULT '[]'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// NewPostgresStore opens a connection pool and bootstraps the schema.
func NewPostgresStore(cfg PostgresConfig) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

const pgEntryColumns = `id, prompt, prompt_hash, embedding, response, model,
	hit_count, tokens_saved, user_id, created_at, last_accessed_at, expires_at`

func scanPgEntry(row interface{ Scan(...any) error }) (*Entry, error) {
	var e Entry
	var embeddingJSON []byte
	var userID sql.NullString

	err := row.Scan(
		&e.ID, &e.Prompt, &e.PromptHash, &embeddingJSON, &e.Response, &e.Model,
		&e.HitCount, &e.TokensSaved, &userID, &e.CreatedAt, &e.LastAccessedAt, &e.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan entry: %w", err)
	}

	if err := json.Unmarshal(embeddingJSON, &e.Embedding); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	if userID.Valid {
		e.UserID = userID.String
	}
	return &e, nil
}

// InsertEntry persists a new entry.
func (s *PostgresStore) InsertEntry(ctx context.Context, e *Entry) error {
	embeddingJSON, err := json.Marshal(e.Embedding)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}

	var userID sql.NullString
	if e.UserID != "" {
		userID = sql.NullString{String: e.UserID, Valid: true}
	}

	query := `
		INSERT INTO semantic_cache (` + pgEntryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err = s.db.ExecContext(ctx, query,
		e.ID, e.Prompt, e.PromptHash, embeddingJSON, e.Response, e.Model,
		e.HitCount, e.TokensSaved, userID, e.CreatedAt, e.LastAccessedAt, e.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}
	return nil
}

// InsertTags persists tag rows for an entry.
func (s *PostgresStore) InsertTags(ctx context.Context, entryID string, names []string) ([]Tag, error) {
	tags := make([]Tag, 0, len(names))
	for _, name := range names {
		var id int64
		err := s.db.QueryRowContext(ctx,
			`INSERT INTO cache_tags (name, cache_id) VALUES ($1, $2) RETURNING id`,
			name, entryID,
		).Scan(&id)
		if err != nil {
			return tags, fmt.Errorf("insert tag %q: %w", name, err)
		}
		tags = append(tags, Tag{ID: id, Name: name, EntryID: entryID})
	}
	return tags, nil
}

// TagsForEntry returns the tags owned by an entry.
func (s *PostgresStore) TagsForEntry(ctx context.Context, entryID string) ([]Tag, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, cache_id FROM cache_tags WHERE cache_id = $1 ORDER BY id`,
		entryID,
	)
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
func (s *PostgresStore) FindByFingerprint(ctx context.Context, fingerprint, model string) (*Entry, error) {
	query := `
		SELECT ` + pgEntryColumns + `
		FROM semantic_cache
		WHERE prompt_hash = $1 AND expires_at > now()`
	args := []any{fingerprint}
	if model != "" {
		query += ` AND (model = $2 OR model = '` + ModelAny + `')`
		args = append(args, model)
	}
	query += ` LIMIT 1`

	e, err := scanPgEntry(s.db.QueryRowContext(ctx, query, args...))
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
func (s *PostgresStore) Candidates(ctx context.Context, q CandidateQuery) ([]*Entry, error) {
	if q.EntryIDs != nil && len(q.EntryIDs) == 0 {
		return nil, nil
	}

	query := `SELECT ` + pgEntryColumns + ` FROM semantic_cache WHERE expires_at > now()`
	args := []any{}
	idx := 1
	if q.Model != "" {
		query += fmt.Sprintf(` AND (model = $%d OR model = '%s')`, idx, ModelAny)
		args = append(args, q.Model)
		idx++
	}
	if q.EntryIDs != nil {
		query += fmt.Sprintf(` AND id = ANY($%d)`, idx)
		args = append(args, pq.Array(q.EntryIDs))
		idx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, idx)
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanPgEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// TouchHit increments the hit counter and refreshes last_accessed_at.
func (s *PostgresStore) TouchHit(ctx context.Context, id string) (*Entry, error) {
	query := `
		UPDATE semantic_cache
		SET hit_count = hit_count + 1, last_accessed_at = now()
		WHERE id = $1
		RETURNING ` + pgEntryColumns

	return scanPgEntry(s.db.QueryRowContext(ctx, query, id))
}

// CountEntries returns the current entry count.
func (s *PostgresStore) CountEntries(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM semantic_cache`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return count, nil
}

// LeastRecentlyAccessed returns up to limit ids, least recently accessed
// first.
func (s *PostgresStore) LeastRecentlyAccessed(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM semantic_cache ORDER BY last_accessed_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query lru ids: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

func scanIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// EntryIDsByTags returns ids of entries carrying any of the tag names.
func (s *PostgresStore) EntryIDsByTags(ctx context.Context, names []string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT cache_id FROM cache_tags WHERE name = ANY($1)`, pq.Array(names))
	if err != nil {
		return nil, fmt.Errorf("query tag ids: %w", err)
	}
	defer rows.Close()
	return scanIDs(rows)
}

// TopTags returns the most used tag names with counts.
func (s *PostgresStore) TopTags(ctx context.Context, limit int) ([]TagCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, count(*) FROM cache_tags GROUP BY name ORDER BY count(*) DESC, name ASC LIMIT $1`,
		limit,
	)
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
func (s *PostgresStore) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM semantic_cache WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("delete by ids: %w", err)
	}
	return res.RowsAffected()
}

// DeleteByPattern removes entries whose prompt contains the substring.
func (s *PostgresStore) DeleteByPattern(ctx context.Context, substring string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM semantic_cache WHERE prompt LIKE '%' || $1 || '%'`, substring)
	if err != nil {
		return 0, fmt.Errorf("delete by pattern: %w", err)
	}
	return res.RowsAffected()
}

// DeleteExpired removes entries past their expiry.
func (s *PostgresStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM semantic_cache WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return res.RowsAffected()
}

// DeleteAll removes every entry.
func (s *PostgresStore) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM semantic_cache`)
	if err != nil {
		return 0, fmt.Errorf("delete all: %w", err)
	}
	return res.RowsAffected()
}

// EntryTimeBounds returns oldest/newest creation timestamps, nil when empty.
func (s *PostgresStore) EntryTimeBounds(ctx context.Context) (*TimeBounds, error) {
	var oldest, newest sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT min(created_at), max(created_at) FROM semantic_cache`,
	).Scan(&oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("query time bounds: %w", err)
	}
	if !oldest.Valid || !newest.Valid {
		return nil, nil
	}
	return &TimeBounds{Oldest: oldest.Time, Newest: newest.Time}, nil
}

// LoadConfig returns the config singleton, nil if absent.
func (s *PostgresStore) LoadConfig(ctx context.Context) (*Config, error) {
	var cfg Config
	var rules []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT enabled, similarity_threshold, default_ttl_seconds, max_cache_size,
		       invalidation_rules, updated_at
		FROM cache_config WHERE id = 1`,
	).Scan(&cfg.Enabled, &cfg.SimilarityThreshold, &cfg.DefaultTTLSeconds,
		&cfg.MaxCacheSize, &rules, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query config: %w", err)
	}
	cfg.InvalidationRules = rules
	return &cfg, nil
}

// SaveConfig upserts the config singleton.
func (s *PostgresStore) SaveConfig(ctx context.Context, cfg *Config) error {
	rules := cfg.InvalidationRules
	if len(rules) == 0 {
		rules = []byte("[]")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_config (id, enabled, similarity_threshold, default_ttl_seconds,
		                          max_cache_size, invalidation_rules, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			similarity_threshold = EXCLUDED.similarity_threshold,
			default_ttl_seconds = EXCLUDED.default_ttl_seconds,
			max_cache_size = EXCLUDED.max_cache_size,
			invalidation_rules = EXCLUDED.invalidation_rules,
			updated_at = now()`,
		cfg.Enabled, cfg.SimilarityThreshold, cfg.DefaultTTLSeconds, cfg.MaxCacheSize, []byte(rules),
	)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// IncrementDailyStats upserts the statistics row for day.
func (s *PostgresStore) IncrementDailyStats(ctx context.Context, day time.Time, delta StatsDelta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_statistics (date, total_hits, total_misses, tokens_saved, cost_saved)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (date) DO UPDATE SET
			total_hits = cache_statistics.total_hits + EXCLUDED.total_hits,
			total_misses = cache_statistics.total_misses + EXCLUDED.total_misses,
			tokens_saved = cache_statistics.tokens_saved + EXCLUDED.tokens_saved,
			cost_saved = cache_statistics.cost_saved + EXCLUDED.cost_saved`,
		Day(day), delta.Hits, delta.Misses, delta.TokensSaved, delta.CostSaved,
	)
	if err != nil {
		return fmt.Errorf("increment daily stats: %w", err)
	}
	return nil
}

// RecentDailyStats returns up to days rows, newest first.
func (s *PostgresStore) RecentDailyStats(ctx context.Context, days int) ([]DailyStat, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, total_hits, total_misses, tokens_saved, cost_saved
		FROM cache_statistics ORDER BY date DESC LIMIT $1`, days)
	if err != nil {
		return nil, fmt.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()

	var out []DailyStat
	for rows.Next() {
		var d DailyStat
		if err := rows.Scan(&d.Date, &d.TotalHits, &d.TotalMisses, &d.TokensSaved, &d.CostSaved); err != nil {
			return nil, fmt.Errorf("scan daily stat: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ResetStats removes all statistics rows.
func (s *PostgresStore) ResetStats(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_statistics`); err != nil {
		return fmt.Errorf("reset stats: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
