package cluster

import (
	"sync"
	"time"
)

// DedupSet is a bounded record of recently seen event ids.
//
// Entries expire after a retention horizon sized to the maximum expected
// partition duration, and the set evicts oldest-first when it reaches
// its entry cap, so memory stays bounded even under relay storms.
type DedupSet struct {
	mu         sync.Mutex
	retention  time.Duration
	maxEntries int
	seen       map[string]time.Time
	order      []dedupEntry
	nowFn      func() time.Time
}

type dedupEntry struct {
	id string
	at time.Time
}

// NewDedupSet creates a dedup set.
func NewDedupSet(retention time.Duration, maxEntries int) *DedupSet {
	return &DedupSet{
		retention:  retention,
		maxEntries: maxEntries,
		seen:       make(map[string]time.Time),
		nowFn:      time.Now,
	}
}

// SetNowFunc overrides the set's clock. Used in tests.
func (s *DedupSet) SetNowFunc(fn func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nowFn = fn
}

// Seen records an event id and reports whether it was already present
// within the retention horizon.
func (s *DedupSet) Seen(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	s.sweepLocked(now)

	if at, ok := s.seen[id]; ok && now.Sub(at) <= s.retention {
		return true
	}

	s.seen[id] = now
	s.order = append(s.order, dedupEntry{id: id, at: now})

	// Evict oldest when over capacity.
	for len(s.seen) > s.maxEntries && len(s.order) > 0 {
		oldest := s.order[0]
		s.order = s.order[1:]
		if at, ok := s.seen[oldest.id]; ok && at.Equal(oldest.at) {
			delete(s.seen, oldest.id)
		}
	}
	return false
}

// sweepLocked drops entries past the retention horizon.
// Caller must hold s.mu.
func (s *DedupSet) sweepLocked(now time.Time) {
	cutoff := now.Add(-s.retention)
	for len(s.order) > 0 && s.order[0].at.Before(cutoff) {
		oldest := s.order[0]
		s.order = s.order[1:]
		if at, ok := s.seen[oldest.id]; ok && at.Equal(oldest.at) {
			delete(s.seen, oldest.id)
		}
	}
}

// Len returns the number of retained ids.
func (s *DedupSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
