// Package scheduler runs periodic cleanup sweeps over the cache: expired
// entries are removed on a fixed interval, with a manual trigger for
// operators.
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/blueberrycongee/semcache/internal/metrics"
)

// Environment keys controlling the scheduler.
const (
	EnvCleanupIntervalMinutes = "CACHE_CLEANUP_INTERVAL_MINUTES"
	EnvCleanupEnabled         = "CACHE_CLEANUP_ENABLED"

	DefaultIntervalMinutes = 60
)

// SweepFunc removes expired entries and returns how many were deleted.
type SweepFunc func(ctx context.Context) (int64, error)

// Config controls the sweep cadence.
type Config struct {
	Interval time.Duration
	Enabled  bool
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		Interval: DefaultIntervalMinutes * time.Minute,
		Enabled:  true,
	}
}

// ConfigFromEnv reads the scheduler configuration from the environment,
// falling back to defaults for unset or malformed values.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if raw := os.Getenv(EnvCleanupIntervalMinutes); raw != "" {
		if minutes, err := strconv.Atoi(raw); err == nil && minutes > 0 {
			cfg.Interval = time.Duration(minutes) * time.Minute
		}
	}
	if raw := os.Getenv(EnvCleanupEnabled); raw != "" {
		if enabled, err := strconv.ParseBool(raw); err == nil {
			cfg.Enabled = enabled
		}
	}
	return cfg
}

// Result reports the outcome of one sweep.
type Result struct {
	DeletedCount int64 `json:"deletedCount"`
	DurationMs   int64 `json:"durationMs"`
	Success      bool  `json:"success"`
}

// Status is the scheduler state snapshot.
type Status struct {
	Enabled         bool       `json:"enabled"`
	Scheduled       bool       `json:"scheduled"`
	SweepInProgress bool       `json:"sweepInProgress"`
	IntervalMinutes int        `json:"intervalMinutes"`
	LastSweepAt     *time.Time `json:"lastSweepAt,omitempty"`
	NextSweepAt     *time.Time `json:"nextSweepAt,omitempty"`
}

// Scheduler owns the periodic sweep goroutine. Sweeps never overlap: a tick
// that fires while a sweep is still running is skipped.
type Scheduler struct {
	sweep  SweepFunc
	logger *slog.Logger

	mu        sync.Mutex
	cfg       Config
	stop      chan struct{}
	done      chan struct{}
	sweeping  bool
	lastSweep *time.Time
	nextSweep *time.Time
}

// New creates a scheduler that invokes sweep on the configured interval.
func New(cfg Config, sweep SweepFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultIntervalMinutes * time.Minute
	}
	return &Scheduler{cfg: cfg, sweep: sweep, logger: logger}
}

// Start launches the sweep loop. The first sweep runs immediately. Starting
// a running or disabled scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		s.logger.Info("cleanup scheduler disabled")
		return
	}
	if s.stop != nil {
		return
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	next := time.Now().Add(s.cfg.Interval)
	s.nextSweep = &next
	s.logger.Info("cleanup scheduler started", "interval", s.cfg.Interval)

	go s.run(s.stop, s.done, s.cfg.Interval)
}

// Stop halts the sweep loop and waits for it to exit. A sweep already in
// flight finishes on its own.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop = nil
	s.done = nil
	s.nextSweep = nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	s.logger.Info("cleanup scheduler stopped")
}

// UpdateConfig applies a new cadence. A running scheduler is restarted so
// the new interval takes effect immediately.
func (s *Scheduler) UpdateConfig(cfg Config) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultIntervalMinutes * time.Minute
	}

	s.mu.Lock()
	wasRunning := s.stop != nil
	s.cfg = cfg
	s.mu.Unlock()

	if wasRunning {
		s.Stop()
	}
	if cfg.Enabled && wasRunning {
		s.Start()
	}
}

// TriggerManualCleanup runs one sweep immediately, regardless of whether the
// loop is scheduled. It still honors the no-overlap rule.
func (s *Scheduler) TriggerManualCleanup(ctx context.Context) Result {
	return s.runSweep(ctx)
}

// GetStatus returns the current scheduler state.
func (s *Scheduler) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Enabled:         s.cfg.Enabled,
		Scheduled:       s.stop != nil,
		SweepInProgress: s.sweeping,
		IntervalMinutes: int(s.cfg.Interval / time.Minute),
	}
	if s.lastSweep != nil {
		last := *s.lastSweep
		st.LastSweepAt = &last
	}
	if s.nextSweep != nil {
		next := *s.nextSweep
		st.NextSweepAt = &next
	}
	return st
}

func (s *Scheduler) run(stop, done chan struct{}, interval time.Duration) {
	defer close(done)

	s.runSweep(context.Background())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			next := time.Now().Add(interval)
			s.nextSweep = &next
			s.mu.Unlock()
			s.runSweep(context.Background())
		}
	}
}

func (s *Scheduler) runSweep(ctx context.Context) Result {
	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		s.logger.Debug("sweep already in progress, skipping")
		return Result{}
	}
	s.sweeping = true
	s.mu.Unlock()

	start := time.Now()
	deleted, err := s.sweep(ctx)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.sweeping = false
	now := time.Now()
	s.lastSweep = &now
	s.mu.Unlock()

	metrics.SweepDuration.Observe(elapsed.Seconds())
	res := Result{
		DeletedCount: deleted,
		DurationMs:   elapsed.Milliseconds(),
		Success:      err == nil,
	}
	if err != nil {
		s.logger.Error("cleanup sweep failed", "error", err, "duration", elapsed)
		return res
	}

	metrics.CleanupDeleted.Add(float64(deleted))
	s.logger.Info("cleanup sweep finished", "deleted", deleted, "duration", elapsed)
	return res
}
