package semcache

import (
	"log/slog"

	"github.com/blueberrycongee/semcache/internal/embedding"
	"github.com/blueberrycongee/semcache/internal/scheduler"
	"github.com/blueberrycongee/semcache/internal/store"
)

type options struct {
	logger             *slog.Logger
	store              store.Store
	storeFactory       func() (store.Store, error)
	embedder           embedding.Embedder
	embedderFactory    func() (embedding.Embedder, error)
	embeddingDimension int
	maxMemoryEntries   int
	schedulerConfig    scheduler.Config
}

func defaultOptions() options {
	return options{
		embeddingDimension: embedding.DefaultDimension,
		schedulerConfig:    scheduler.ConfigFromEnv(),
	}
}

// Option configures the cache service.
type Option func(*options)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithStore uses a caller-provided backing store.
func WithStore(st store.Store) Option {
	return func(o *options) {
		o.store = st
	}
}

// WithPostgres backs the cache with Postgres. An unreachable database does
// not fail New; the service starts degraded and serves from memory.
func WithPostgres(cfg PostgresConfig) Option {
	return func(o *options) {
		o.storeFactory = func() (store.Store, error) {
			return store.NewPostgresStore(cfg)
		}
	}
}

// WithSQLite backs the cache with an embedded SQLite database at path. Use
// ":memory:" for an ephemeral store.
func WithSQLite(path string) Option {
	return func(o *options) {
		o.storeFactory = func() (store.Store, error) {
			return store.NewSQLiteStore(path)
		}
	}
}

// WithRedis backs the cache with Redis. An unreachable server does not fail
// New; the service starts degraded and serves from memory.
func WithRedis(cfg RedisConfig) Option {
	return func(o *options) {
		o.storeFactory = func() (store.Store, error) {
			return store.NewRedisStore(cfg)
		}
	}
}

// WithEmbedder sets the embedding provider. Without one, embeddings are
// derived deterministically from the prompt fingerprint, which disables
// semantic matching between different prompts but keeps exact caching
// working.
func WithEmbedder(e Embedder) Option {
	return func(o *options) {
		o.embedder = e
		if e != nil && e.Dimension() > 0 {
			o.embeddingDimension = e.Dimension()
		}
	}
}

// WithOpenAIEmbedding uses the OpenAI embeddings API as the embedding
// provider. A missing API key fails New.
func WithOpenAIEmbedding(cfg OpenAIEmbeddingConfig) Option {
	return func(o *options) {
		o.embedderFactory = func() (embedding.Embedder, error) {
			return embedding.NewOpenAIEmbedder(cfg)
		}
	}
}

// WithMaxMemoryEntries bounds the in-memory fallback store. Defaults to the
// configured cache size bound.
func WithMaxMemoryEntries(n int) Option {
	return func(o *options) {
		o.maxMemoryEntries = n
	}
}

// WithSchedulerConfig sets the cleanup sweep cadence, overriding the
// environment-derived defaults.
func WithSchedulerConfig(cfg SchedulerConfig) Option {
	return func(o *options) {
		o.schedulerConfig = cfg
	}
}
