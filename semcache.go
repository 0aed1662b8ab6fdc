// Package semcache provides a semantic response cache for LLM applications.
// Responses are cached under a normalized prompt fingerprint for exact
// lookups, and under an embedding vector so semantically similar prompts can
// reuse a cached response without an exact match.
//
// The cache prefers a persistent backend (Postgres, SQLite, or Redis) and
// degrades to a bounded in-memory store when the backend is unreachable, so
// a storage outage never breaks lookups.
//
// Basic usage:
//
//	cache, err := semcache.New(
//	    semcache.WithSQLite("cache.db"),
//	    semcache.WithOpenAIEmbedding(semcache.OpenAIEmbeddingConfig{
//	        APIKey: os.Getenv("OPENAI_API_KEY"),
//	    }),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer cache.Close()
//
//	res := cache.Lookup(ctx, semcache.LookupRequest{Prompt: "What is Go?"})
//	if res.Hit {
//	    fmt.Println(res.Response)
//	}
package semcache

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/blueberrycongee/semcache/internal/config"
	"github.com/blueberrycongee/semcache/internal/embedding"
	"github.com/blueberrycongee/semcache/internal/hash"
	"github.com/blueberrycongee/semcache/internal/metrics"
	"github.com/blueberrycongee/semcache/internal/observability"
	"github.com/blueberrycongee/semcache/internal/scheduler"
	"github.com/blueberrycongee/semcache/internal/similarity"
	"github.com/blueberrycongee/semcache/internal/stats"
	"github.com/blueberrycongee/semcache/internal/store"
	"github.com/blueberrycongee/semcache/pkg/errors"
)

// Version is the current version of semcache.
const Version = "1.0.0"

// candidateScanLimit caps how many recent entries a similarity scan reads.
const candidateScanLimit = 500

// logFieldLimit caps prompt/response lengths in log output.
const logFieldLimit = 64

// Re-export the types callers interact with.
type (
	// Entry is a cached prompt/response pair.
	Entry = store.Entry

	// Config is the cache configuration singleton.
	Config = store.Config

	// ConfigUpdate is a partial configuration change.
	ConfigUpdate = config.Update

	// Analytics is the aggregate statistics snapshot.
	Analytics = stats.Analytics

	// CleanupResult reports the outcome of a manual cleanup sweep.
	CleanupResult = scheduler.Result

	// SchedulerStatus is the cleanup scheduler state snapshot.
	SchedulerStatus = scheduler.Status

	// SchedulerConfig controls the cleanup sweep cadence.
	SchedulerConfig = scheduler.Config

	// Embedder computes embedding vectors for prompts.
	Embedder = embedding.Embedder

	// OpenAIEmbeddingConfig configures the OpenAI embedding provider.
	OpenAIEmbeddingConfig = embedding.OpenAIConfig

	// PostgresConfig configures the Postgres backend.
	PostgresConfig = store.PostgresConfig

	// RedisConfig configures the Redis backend.
	RedisConfig = store.RedisConfig
)

// MatchKind says how a lookup hit was found.
type MatchKind string

const (
	// MatchExact means the normalized prompt fingerprint matched.
	MatchExact MatchKind = "exact"
	// MatchSemantic means an embedding cleared the similarity threshold.
	MatchSemantic MatchKind = "semantic"
)

// LookupRequest asks the cache for a response to a prompt.
type LookupRequest struct {
	// Prompt is the text to look up.
	Prompt string

	// Model restricts the lookup to entries cached for this model (entries
	// cached without a model match any). Empty matches everything.
	Model string

	// Threshold overrides the configured similarity threshold for this
	// lookup. Zero means use the configured value.
	Threshold float64

	// Tags, when set, restrict the similarity scan to entries carrying at
	// least one of these tags.
	Tags []string
}

// LookupResult is the outcome of a lookup. Lookups never fail: internal
// errors degrade to a miss.
type LookupResult struct {
	// Hit reports whether a cached response was found.
	Hit bool

	// Response is the cached response text when Hit is true.
	Response string

	// Similarity is 1.0 for exact hits, otherwise the cosine similarity of
	// the matched entry.
	Similarity float64

	// Kind says whether the hit was exact or semantic.
	Kind MatchKind

	// Cached mirrors Hit for callers that forward the result as a response
	// payload.
	Cached bool

	// Entry is the matched cache entry when Hit is true.
	Entry *Entry
}

// StoreRequest caches a prompt/response pair.
type StoreRequest struct {
	Prompt   string
	Response string

	// Model the response was generated with. Empty is recorded as the
	// wildcard sentinel that matches any requested model.
	Model string

	// UserID optionally attributes the entry to a user.
	UserID string

	// TTLSeconds overrides the configured TTL. Zero means use the
	// configured value.
	TTLSeconds int

	// Tags to attach to the entry, for targeted invalidation.
	Tags []string
}

// InvalidateRequest selects entries to remove. Exactly one selector is
// honored, checked in order: All, EntryIDs, Tags, Pattern.
type InvalidateRequest struct {
	// All removes every entry and resets statistics.
	All bool

	// EntryIDs removes specific entries by id.
	EntryIDs []string

	// Tags removes entries carrying any of these tags.
	Tags []string

	// Pattern removes entries whose prompt contains this substring.
	Pattern string
}

// InvalidateResult reports how many entries an invalidation removed.
type InvalidateResult struct {
	DeletedCount int64 `json:"deletedCount"`
	Success      bool  `json:"success"`
}

// Service is the semantic cache. Create one with New and release it with
// Close.
type Service struct {
	failover *store.Failover
	embedder embedding.Embedder
	fallback *embedding.FallbackEmbedder
	cfg      *config.Manager
	tracker  *stats.Tracker
	sched    *scheduler.Scheduler
	logger   *slog.Logger
}

// New creates a cache service. Without options it runs purely in memory with
// fingerprint-derived embeddings. A configured backend that cannot be
// reached does not fail construction; the service starts degraded and serves
// from memory.
func New(opts ...Option) (*Service, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	if o.embedderFactory != nil {
		e, err := o.embedderFactory()
		if err != nil {
			return nil, err
		}
		o.embedder = e
		if d := e.Dimension(); d > 0 {
			o.embeddingDimension = d
		}
	}

	var primary store.Store
	if o.store != nil {
		primary = o.store
	} else if o.storeFactory != nil {
		st, err := o.storeFactory()
		if err != nil {
			logger.Warn("backing store unavailable, starting in degraded mode", "error", err)
		} else {
			primary = st
		}
	}

	mem := store.NewMemoryStore(o.maxMemoryEntries)
	failover := store.NewFailover(primary, mem, logger)

	s := &Service{
		failover: failover,
		embedder: o.embedder,
		fallback: embedding.NewFallbackEmbedder(o.embeddingDimension),
		cfg:      config.NewManager(failover, logger),
		tracker:  stats.NewTracker(failover, logger),
		logger:   logger,
	}
	s.sched = scheduler.New(o.schedulerConfig, s.Cleanup, logger)
	return s, nil
}

// Close stops the cleanup scheduler and releases the backing store.
func (s *Service) Close() error {
	s.sched.Stop()
	return s.failover.Close()
}

// Lookup returns a cached response for the prompt, trying an exact
// fingerprint match first and falling back to a similarity scan. It never
// returns an error: internal failures are logged and reported as a miss.
func (s *Service) Lookup(ctx context.Context, req LookupRequest) LookupResult {
	defer s.syncDegradedGauge()

	cfg := s.cfg.Get(ctx)
	if !cfg.Enabled || req.Prompt == "" {
		return LookupResult{}
	}

	fingerprint := hash.Fingerprint(req.Prompt)
	if e, err := s.failover.FindByFingerprint(ctx, fingerprint, req.Model); err == nil && e != nil {
		updated := s.tracker.RecordHit(ctx, e)
		metrics.LookupHits.WithLabelValues(string(MatchExact)).Inc()
		s.logger.Debug("cache hit",
			"kind", MatchExact,
			"entry_id", updated.ID,
			"prompt", observability.Truncate(req.Prompt, logFieldLimit))
		return LookupResult{
			Hit:        true,
			Cached:     true,
			Response:   updated.Response,
			Similarity: 1.0,
			Kind:       MatchExact,
			Entry:      updated,
		}
	}

	threshold := req.Threshold
	if threshold <= 0 {
		threshold = cfg.SimilarityThreshold
	}

	query := store.CandidateQuery{Limit: candidateScanLimit, Model: req.Model}
	if len(req.Tags) > 0 {
		ids, err := s.failover.EntryIDsByTags(ctx, req.Tags)
		if err != nil {
			s.logger.Warn("tag prefilter failed", "error", err)
		}
		if ids == nil {
			ids = []string{}
		}
		query.EntryIDs = ids
	}

	candidates, err := s.failover.Candidates(ctx, query)
	if err != nil {
		s.logger.Warn("candidate scan failed", "error", err)
	}
	if len(candidates) > 0 {
		vec := s.embedText(ctx, req.Prompt)
		byID := make(map[string]*store.Entry, len(candidates))
		scan := make([]similarity.Candidate, 0, len(candidates))
		for _, c := range candidates {
			byID[c.ID] = c
			scan = append(scan, similarity.Candidate{ID: c.ID, Embedding: c.Embedding})
		}

		if m := similarity.BestMatch(vec, scan, threshold); m != nil {
			updated := s.tracker.RecordHit(ctx, byID[m.ID])
			metrics.LookupHits.WithLabelValues(string(MatchSemantic)).Inc()
			s.logger.Debug("cache hit",
				"kind", MatchSemantic,
				"entry_id", updated.ID,
				"similarity", m.Similarity,
				"prompt", observability.Truncate(req.Prompt, logFieldLimit))
			return LookupResult{
				Hit:        true,
				Cached:     true,
				Response:   updated.Response,
				Similarity: m.Similarity,
				Kind:       MatchSemantic,
				Entry:      updated,
			}
		}
	}

	s.tracker.RecordMiss(ctx)
	metrics.LookupMisses.Inc()
	s.logger.Debug("cache miss",
		"prompt", observability.Truncate(req.Prompt, logFieldLimit))
	return LookupResult{}
}

// Store caches a prompt/response pair. When the cache is at its configured
// size bound, the least recently accessed tenth of entries is evicted first.
// Returns the stored entry, or (nil, nil) when the cache is disabled and
// nothing was stored.
func (s *Service) Store(ctx context.Context, req StoreRequest) (*Entry, error) {
	defer s.syncDegradedGauge()

	if req.Prompt == "" {
		return nil, errors.NewValidation("store", "prompt must not be empty")
	}
	if req.Response == "" {
		return nil, errors.NewValidation("store", "response must not be empty")
	}

	cfg := s.cfg.Get(ctx)
	if !cfg.Enabled {
		s.logger.Debug("cache disabled, not storing")
		return nil, nil
	}

	if err := s.evictIfFull(ctx, cfg.MaxCacheSize); err != nil {
		s.logger.Warn("eviction failed", "error", err)
	}

	ttl := req.TTLSeconds
	if ttl <= 0 {
		ttl = cfg.DefaultTTLSeconds
	}
	model := req.Model
	if model == "" {
		model = store.ModelAny
	}

	now := time.Now()
	e := &store.Entry{
		ID:             uuid.NewString(),
		Prompt:         req.Prompt,
		PromptHash:     hash.Fingerprint(req.Prompt),
		Embedding:      s.embedText(ctx, req.Prompt),
		Response:       req.Response,
		Model:          model,
		TokensSaved:    stats.TokensForResponse(req.Response),
		UserID:         req.UserID,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(time.Duration(ttl) * time.Second),
	}
	if err := s.failover.InsertEntry(ctx, e); err != nil {
		return nil, errors.NewStorage("store", "inserting cache entry", err)
	}

	if len(req.Tags) > 0 {
		tags, err := s.failover.InsertTags(ctx, e.ID, req.Tags)
		if err != nil {
			// The entry is already cached; losing its tags only weakens
			// targeted invalidation.
			s.logger.Warn("tag insert failed", "entry_id", e.ID, "error", err)
		} else {
			e.Tags = tags
		}
	}

	s.logger.Debug("cached response",
		"entry_id", e.ID,
		"model", model,
		"ttl_seconds", ttl,
		"prompt", observability.Truncate(req.Prompt, logFieldLimit),
		"response", observability.Truncate(req.Response, logFieldLimit))
	return e, nil
}

// evictIfFull removes the least recently accessed tenth of entries once the
// count reaches the bound.
func (s *Service) evictIfFull(ctx context.Context, maxSize int) error {
	if maxSize <= 0 {
		return nil
	}
	count, err := s.failover.CountEntries(ctx)
	if err != nil {
		return err
	}
	if count < int64(maxSize) {
		return nil
	}

	batch := maxSize / 10
	if batch < 1 {
		batch = 1
	}
	ids, err := s.failover.LeastRecentlyAccessed(ctx, batch)
	if err != nil {
		return err
	}
	evicted, err := s.failover.DeleteByIDs(ctx, ids)
	if err != nil {
		return err
	}
	metrics.Evictions.Add(float64(evicted))
	s.logger.Info("evicted entries at size bound", "evicted", evicted, "max_size", maxSize)
	return nil
}

// embedText returns an embedding for text. Provider failures fall back to a
// deterministic fingerprint-derived vector so caching keeps working without
// the provider; exact lookups are unaffected and similar prompts simply stop
// matching semantically.
func (s *Service) embedText(ctx context.Context, text string) []float64 {
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, text)
		if err == nil {
			metrics.EmbeddingCalls.WithLabelValues("provider").Inc()
			return vec
		}

		kind := string(errors.KindOf(err))
		metrics.EmbeddingFailures.WithLabelValues(kind).Inc()
		if errors.IsUnauthorized(err) {
			s.logger.Error("embedding provider rejected credentials, using fallback embedding", "error", err)
		} else {
			s.logger.Warn("embedding provider failed, using fallback embedding", "error", err)
		}
	}

	vec, _ := s.fallback.Embed(ctx, text)
	metrics.EmbeddingCalls.WithLabelValues("fallback").Inc()
	return vec
}

// Invalidate removes entries by id, tag, prompt substring, or wholesale.
// Clearing everything also resets statistics.
func (s *Service) Invalidate(ctx context.Context, req InvalidateRequest) (InvalidateResult, error) {
	defer s.syncDegradedGauge()

	var (
		deleted int64
		err     error
	)
	switch {
	case req.All:
		deleted, err = s.failover.DeleteAll(ctx)
		if err == nil {
			if rerr := s.failover.ResetStats(ctx); rerr != nil {
				s.logger.Warn("statistics reset failed", "error", rerr)
			}
		}
	case len(req.EntryIDs) > 0:
		deleted, err = s.failover.DeleteByIDs(ctx, req.EntryIDs)
	case len(req.Tags) > 0:
		var ids []string
		ids, err = s.failover.EntryIDsByTags(ctx, req.Tags)
		if err == nil {
			deleted, err = s.failover.DeleteByIDs(ctx, ids)
		}
	case req.Pattern != "":
		deleted, err = s.failover.DeleteByPattern(ctx, req.Pattern)
	default:
		return InvalidateResult{}, errors.NewValidation("invalidate", "no selector given")
	}

	if err != nil {
		return InvalidateResult{DeletedCount: deleted}, errors.NewStorage("invalidate", "removing cache entries", err)
	}
	s.logger.Info("invalidated entries", "deleted", deleted)
	return InvalidateResult{DeletedCount: deleted, Success: true}, nil
}

// Cleanup removes expired entries and returns how many were deleted. The
// scheduler calls this on its interval; it is safe to call directly.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	defer s.syncDegradedGauge()

	deleted, err := s.failover.DeleteExpired(ctx)
	if err != nil {
		return 0, errors.NewStorage("cleanup", "removing expired entries", err)
	}

	if deleted > 0 {
		if a, aerr := s.tracker.Snapshot(ctx); aerr == nil {
			s.logger.Info("cleanup removed expired entries",
				"deleted", deleted,
				"remaining", a.TotalEntries,
				"hit_rate", a.HitRate)
		} else {
			s.logger.Info("cleanup removed expired entries", "deleted", deleted)
		}
	}
	return deleted, nil
}

// GetAnalytics returns the aggregate statistics snapshot.
func (s *Service) GetAnalytics(ctx context.Context) (*Analytics, error) {
	a, err := s.tracker.Snapshot(ctx)
	if err != nil {
		return nil, errors.NewStorage("analytics", "reading statistics", err)
	}
	return a, nil
}

// GetConfig returns the current cache configuration.
func (s *Service) GetConfig(ctx context.Context) Config {
	return s.cfg.Get(ctx)
}

// UpdateConfig merges a partial configuration change and persists it.
func (s *Service) UpdateConfig(ctx context.Context, u ConfigUpdate) (Config, error) {
	cfg, err := s.cfg.Update(ctx, u)
	if err != nil {
		return cfg, errors.NewStorage("update_config", "persisting configuration", err)
	}
	return cfg, nil
}

// Degraded reports whether the cache is serving from the in-memory fallback.
func (s *Service) Degraded() bool {
	return s.failover.Degraded()
}

// ResetStoreProbe clears the degraded verdict so the next operation retries
// the persistent backend. Call after a known outage has ended.
func (s *Service) ResetStoreProbe() {
	s.failover.Reset()
	s.syncDegradedGauge()
}

// StartScheduler launches the periodic cleanup loop.
func (s *Service) StartScheduler() {
	s.sched.Start()
}

// StopScheduler halts the periodic cleanup loop.
func (s *Service) StopScheduler() {
	s.sched.Stop()
}

// TriggerManualCleanup runs one cleanup sweep immediately.
func (s *Service) TriggerManualCleanup(ctx context.Context) CleanupResult {
	return s.sched.TriggerManualCleanup(ctx)
}

// SchedulerStatus returns the cleanup scheduler state.
func (s *Service) SchedulerStatus() SchedulerStatus {
	return s.sched.GetStatus()
}

// UpdateSchedulerConfig applies a new cleanup cadence, restarting a running
// loop so it takes effect immediately.
func (s *Service) UpdateSchedulerConfig(cfg SchedulerConfig) {
	s.sched.UpdateConfig(cfg)
}

func (s *Service) syncDegradedGauge() {
	if s.failover.Degraded() {
		metrics.StoreDegraded.Set(1)
	} else {
		metrics.StoreDegraded.Set(0)
	}
}
