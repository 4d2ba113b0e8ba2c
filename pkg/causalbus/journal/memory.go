package journal

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory journal for testing and ephemeral nodes.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[string]Record
	closed bool
}

// NewMemoryStore creates a new in-memory journal.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[string]Record),
	}
}

// Append implements Store.
func (m *MemoryStore) Append(rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	// Copy payload to avoid retaining caller's slice.
	payload := make([]byte, len(rec.Payload))
	copy(payload, rec.Payload)
	rec.Payload = payload

	m.byID[rec.EventID] = rec
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(eventID string) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Record{}, ErrStoreClosed
	}

	rec, ok := m.byID[eventID]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Recent implements Store.
func (m *MemoryStore) Recent(channel string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	records := make([]Record, 0)
	for _, rec := range m.byID {
		if rec.Channel == channel {
			records = append(records, rec)
		}
	}

	// Newest first by causal timestamp, origin breaks ties.
	sort.Slice(records, func(i, j int) bool {
		if c := records[i].Timestamp.Compare(records[j].Timestamp); c != 0 {
			return c > 0
		}
		return records[i].Origin > records[j].Origin
	})

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// PruneBefore implements Store.
func (m *MemoryStore) PruneBefore(cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	removed := 0
	for id, rec := range m.byID {
		if rec.DeliveredAt.Before(cutoff) {
			delete(m.byID, id)
			removed++
		}
	}
	return removed, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.byID = nil
	return nil
}

// Len returns the total number of records.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}
