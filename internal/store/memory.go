package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore implements Store with an in-process map keyed by fingerprint.
// It serves both as the test double and as the degraded-mode fallback when
// the persistent backend is unreachable. When the entry count reaches the
// size bound, the oldest-inserted entry is evicted.
type MemoryStore struct {
	mu sync.RWMutex

	byFingerprint map[string]*Entry
	byID          map[string]*Entry
	insertOrder   []string // entry ids, oldest first

	config *Config
	stats  map[time.Time]*DailyStat
	tagSeq int64

	maxSize int
}

// NewMemoryStore creates an in-memory store bounded to maxSize entries.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryStore{
		byFingerprint: make(map[string]*Entry),
		byID:          make(map[string]*Entry),
		stats:         make(map[time.Time]*DailyStat),
		maxSize:       maxSize,
	}
}

// SetMaxSize updates the entry bound for subsequent inserts.
func (s *MemoryStore) SetMaxSize(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	s.maxSize = n
	s.mu.Unlock()
}

// Len returns the current entry count.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func copyEntry(e *Entry) *Entry {
	dup := *e
	dup.Embedding = append([]float64(nil), e.Embedding...)
	dup.Tags = append([]Tag(nil), e.Tags...)
	return &dup
}

func (s *MemoryStore) removeLocked(id string) bool {
	e, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	if cur, ok := s.byFingerprint[e.PromptHash]; ok && cur.ID == id {
		delete(s.byFingerprint, e.PromptHash)
	}
	for i, oid := range s.insertOrder {
		if oid == id {
			s.insertOrder = append(s.insertOrder[:i], s.insertOrder[i+1:]...)
			break
		}
	}
	return true
}

// InsertEntry stores e, evicting the oldest-inserted entry when at capacity.
// An existing entry with the same fingerprint is replaced.
func (s *MemoryStore) InsertEntry(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.byFingerprint[e.PromptHash]; ok {
		s.removeLocked(prev.ID)
	}
	if len(s.byID) >= s.maxSize && len(s.insertOrder) > 0 {
		s.removeLocked(s.insertOrder[0])
	}

	dup := copyEntry(e)
	s.byFingerprint[dup.PromptHash] = dup
	s.byID[dup.ID] = dup
	s.insertOrder = append(s.insertOrder, dup.ID)
	return nil
}

// InsertTags attaches tag rows to an entry.
func (s *MemoryStore) InsertTags(_ context.Context, entryID string, names []string) ([]Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[entryID]
	if !ok {
		return nil, nil
	}
	tags := make([]Tag, 0, len(names))
	for _, name := range names {
		s.tagSeq++
		tags = append(tags, Tag{ID: s.tagSeq, Name: name, EntryID: entryID})
	}
	e.Tags = append(e.Tags, tags...)
	return append([]Tag(nil), tags...), nil
}

// TagsForEntry returns the tags owned by an entry.
func (s *MemoryStore) TagsForEntry(_ context.Context, entryID string) ([]Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byID[entryID]
	if !ok {
		return nil, nil
	}
	return append([]Tag(nil), e.Tags...), nil
}

// FindByFingerprint returns the live entry for the fingerprint, applying the
// model-matching rule. Expired entries are removed lazily.
func (s *MemoryStore) FindByFingerprint(_ context.Context, fingerprint, model string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byFingerprint[fingerprint]
	if !ok {
		return nil, nil
	}
	if e.Expired(time.Now()) {
		s.removeLocked(e.ID)
		return nil, nil
	}
	if !e.MatchesModel(model) {
		return nil, nil
	}
	return copyEntry(e), nil
}

// Candidates returns non-expired entries newest-first, bounded by q.Limit.
func (s *MemoryStore) Candidates(_ context.Context, q CandidateQuery) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var allowed map[string]struct{}
	if q.EntryIDs != nil {
		allowed = make(map[string]struct{}, len(q.EntryIDs))
		for _, id := range q.EntryIDs {
			allowed[id] = struct{}{}
		}
	}

	now := time.Now()
	var out []*Entry
	for _, e := range s.byID {
		if e.Expired(now) || !e.MatchesModel(q.Model) {
			continue
		}
		if allowed != nil {
			if _, ok := allowed[e.ID]; !ok {
				continue
			}
		}
		out = append(out, copyEntry(e))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// TouchHit increments the hit counter and refreshes the access timestamp.
func (s *MemoryStore) TouchHit(_ context.Context, id string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byID[id]
	if !ok {
		return nil, nil
	}
	e.HitCount++
	e.LastAccessedAt = time.Now()
	return copyEntry(e), nil
}

// CountEntries returns the number of stored entries.
func (s *MemoryStore) CountEntries(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.byID)), nil
}

// LeastRecentlyAccessed returns up to limit entry ids, least recently
// accessed first.
func (s *MemoryStore) LeastRecentlyAccessed(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]*Entry, 0, len(s.byID))
	for _, e := range s.byID {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].LastAccessedAt.Before(entries[j].LastAccessedAt)
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids, nil
}

// EntryIDsByTags returns ids of entries carrying any of the tag names.
func (s *MemoryStore) EntryIDsByTags(_ context.Context, names []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[n] = struct{}{}
	}

	var ids []string
	for _, e := range s.byID {
		for _, tag := range e.Tags {
			if _, ok := want[tag.Name]; ok {
				ids = append(ids, e.ID)
				break
			}
		}
	}
	return ids, nil
}

// TopTags returns the most used tag names with counts.
func (s *MemoryStore) TopTags(_ context.Context, limit int) ([]TagCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, e := range s.byID {
		for _, tag := range e.Tags {
			counts[tag.Name]++
		}
	}

	out := make([]TagCount, 0, len(counts))
	for name, count := range counts {
		out = append(out, TagCount{Tag: name, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteByIDs removes entries by id. Absent ids are ignored.
func (s *MemoryStore) DeleteByIDs(_ context.Context, ids []string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for _, id := range ids {
		if s.removeLocked(id) {
			removed++
		}
	}
	return removed, nil
}

// DeleteByPattern removes entries whose prompt contains the substring.
func (s *MemoryStore) DeleteByPattern(_ context.Context, substring string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, e := range s.byID {
		if strings.Contains(e.Prompt, substring) {
			if s.removeLocked(id) {
				removed++
			}
		}
	}
	return removed, nil
}

// DeleteExpired removes entries whose expiry is in the past.
func (s *MemoryStore) DeleteExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var removed int64
	for id, e := range s.byID {
		if e.Expired(now) {
			if s.removeLocked(id) {
				removed++
			}
		}
	}
	return removed, nil
}

// DeleteAll removes every entry.
func (s *MemoryStore) DeleteAll(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := int64(len(s.byID))
	s.byFingerprint = make(map[string]*Entry)
	s.byID = make(map[string]*Entry)
	s.insertOrder = nil
	return removed, nil
}

// EntryTimeBounds returns oldest/newest creation timestamps, nil when empty.
func (s *MemoryStore) EntryTimeBounds(_ context.Context) (*TimeBounds, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.byID) == 0 {
		return nil, nil
	}
	var bounds TimeBounds
	first := true
	for _, e := range s.byID {
		if first {
			bounds.Oldest, bounds.Newest = e.CreatedAt, e.CreatedAt
			first = false
			continue
		}
		if e.CreatedAt.Before(bounds.Oldest) {
			bounds.Oldest = e.CreatedAt
		}
		if e.CreatedAt.After(bounds.Newest) {
			bounds.Newest = e.CreatedAt
		}
	}
	return &bounds, nil
}

// LoadConfig returns the config singleton, nil if never saved.
func (s *MemoryStore) LoadConfig(_ context.Context) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config == nil {
		return nil, nil
	}
	dup := *s.config
	return &dup, nil
}

// SaveConfig upserts the config singleton.
func (s *MemoryStore) SaveConfig(_ context.Context, cfg *Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dup := *cfg
	s.config = &dup
	if dup.MaxCacheSize > 0 {
		s.maxSize = dup.MaxCacheSize
	}
	return nil
}

// IncrementDailyStats applies the delta to the row for day, creating it if
// absent.
func (s *MemoryStore) IncrementDailyStats(_ context.Context, day time.Time, delta StatsDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := Day(day)
	row, ok := s.stats[key]
	if !ok {
		row = &DailyStat{Date: key}
		s.stats[key] = row
	}
	row.TotalHits += delta.Hits
	row.TotalMisses += delta.Misses
	row.TokensSaved += delta.TokensSaved
	row.CostSaved += delta.CostSaved
	return nil
}

// RecentDailyStats returns up to days rows, newest first.
func (s *MemoryStore) RecentDailyStats(_ context.Context, days int) ([]DailyStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DailyStat, 0, len(s.stats))
	for _, row := range s.stats {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	if days > 0 && len(out) > days {
		out = out[:days]
	}
	return out, nil
}

// ResetStats removes all statistics rows.
func (s *MemoryStore) ResetStats(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = make(map[time.Time]*DailyStat)
	return nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
