package index

import (
	"sync"
	"sync/atomic"
	"time"
)

// Statistics tracks the cardinality of an index and how often queries
// used it. Cardinality comes from Analyze and goes stale on every write.
type Statistics struct {
	mu         sync.RWMutex
	entries    int
	distinct   int
	analyzedAt time.Time

	writes atomic.Int64 // since the last Analyze
	uses   atomic.Int64
}

func newStatistics() *Statistics {
	s := &Statistics{}
	// Nothing analyzed yet
	s.writes.Store(1)
	return s
}

func (s *Statistics) recordWrite() { s.writes.Add(1) }

func (s *Statistics) set(entries, distinct int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	s.distinct = distinct
	s.analyzedAt = time.Now()
	s.writes.Store(0)
}

// Stale reports whether the index changed since it was last analyzed
func (s *Statistics) Stale() bool {
	return s.writes.Load() > 0
}

// Snapshot is a point-in-time copy of Statistics
type Snapshot struct {
	Entries    int
	Distinct   int
	AnalyzedAt time.Time
	Stale      bool
	Uses       int64
}

// Snapshot copies the current statistics
func (s *Statistics) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Entries:    s.entries,
		Distinct:   s.distinct,
		AnalyzedAt: s.analyzedAt,
		Stale:      s.Stale(),
		Uses:       s.uses.Load(),
	}
}

// Selectivity is distinct keys per entry, between 0 and 1. An empty index
// counts as fully selective.
func (s Snapshot) Selectivity() float64 {
	if s.Entries == 0 {
		return 1.0
	}
	return float64(s.Distinct) / float64(s.Entries)
}

func (s Snapshot) toMap() map[string]interface{} {
	m := map[string]interface{}{
		"total_entries": s.Entries,
		"unique_keys":   s.Distinct,
		"selectivity":   s.Selectivity(),
		"uses":          s.Uses,
		"is_stale":      s.Stale,
	}
	if !s.AnalyzedAt.IsZero() {
		m["analyzed_at"] = s.AnalyzedAt.UTC().Format(time.RFC3339)
	}
	return m
}
