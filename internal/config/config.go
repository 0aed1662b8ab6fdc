// Package config manages the cache configuration singleton: defaults,
// persistence through the store, and an in-process memoized copy so hot-path
// reads never touch the backend.
package config

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/semcache/internal/store"
)

// Defaults applied when no configuration row has ever been persisted.
const (
	DefaultEnabled             = true
	DefaultSimilarityThreshold = 0.85
	DefaultTTLSeconds          = 3600
	DefaultMaxCacheSize        = 10000
)

// Default returns a fresh configuration populated with the defaults.
func Default() store.Config {
	return store.Config{
		Enabled:             DefaultEnabled,
		SimilarityThreshold: DefaultSimilarityThreshold,
		DefaultTTLSeconds:   DefaultTTLSeconds,
		MaxCacheSize:        DefaultMaxCacheSize,
		InvalidationRules:   json.RawMessage("[]"),
		UpdatedAt:           time.Now(),
	}
}

// Update carries a partial configuration change. Nil fields are left
// untouched.
type Update struct {
	Enabled             *bool
	SimilarityThreshold *float64
	DefaultTTLSeconds   *int
	MaxCacheSize        *int
	InvalidationRules   json.RawMessage
}

// Manager owns the configuration singleton. The first Get seeds defaults if
// the store holds no row; later Gets serve the memoized copy.
type Manager struct {
	store  store.Store
	logger *slog.Logger

	mu     sync.Mutex
	cached *store.Config
}

// NewManager creates a configuration manager backed by st.
func NewManager(st store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: st, logger: logger}
}

// Get returns the current configuration, loading it from the store on first
// use and seeding defaults when nothing is persisted yet. The returned value
// is a copy.
func (m *Manager) Get(ctx context.Context) store.Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getLocked(ctx)
}

func (m *Manager) getLocked(ctx context.Context) store.Config {
	if m.cached != nil {
		return *m.cached
	}

	cfg, err := m.store.LoadConfig(ctx)
	if err != nil {
		m.logger.Warn("config load failed, using defaults", "error", err)
		return Default()
	}
	if cfg == nil {
		def := Default()
		if err := m.store.SaveConfig(ctx, &def); err != nil {
			m.logger.Warn("seeding default config failed", "error", err)
		}
		cfg = &def
	}
	m.cached = cfg
	return *cfg
}

// Update merges the partial change into the current configuration and
// persists the result. A persistence failure keeps the merged value in
// memory so behavior changes immediately even when the backend is down.
func (m *Manager) Update(ctx context.Context, u Update) (store.Config, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.getLocked(ctx)
	if u.Enabled != nil {
		cur.Enabled = *u.Enabled
	}
	if u.SimilarityThreshold != nil {
		cur.SimilarityThreshold = *u.SimilarityThreshold
	}
	if u.DefaultTTLSeconds != nil {
		cur.DefaultTTLSeconds = *u.DefaultTTLSeconds
	}
	if u.MaxCacheSize != nil {
		cur.MaxCacheSize = *u.MaxCacheSize
	}
	if u.InvalidationRules != nil {
		cur.InvalidationRules = u.InvalidationRules
	}
	cur.UpdatedAt = time.Now()

	m.cached = &cur
	if err := m.store.SaveConfig(ctx, &cur); err != nil {
		m.logger.Error("config save failed, change held in memory only", "error", err)
		return cur, err
	}
	return cur, nil
}

// Invalidate drops the memoized copy so the next Get reloads from the store.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}
