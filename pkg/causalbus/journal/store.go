// Package journal provides persistent delivery history for audit and
// replay.
package journal

import (
	"errors"
	"time"

	"github.com/randalmurphal/causalbus/pkg/causalbus/event"
	"github.com/randalmurphal/causalbus/pkg/causalbus/hlc"
)

// Store records delivered events.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append records one delivery. Appending the same event id twice
	// overwrites the earlier record.
	Append(rec Record) error

	// Get retrieves one record by event id.
	// Returns ErrNotFound if no such record exists.
	Get(eventID string) (Record, error)

	// Recent returns up to limit records for a channel, newest first by
	// causal timestamp. Returns empty slice (not error) when the
	// channel has no history.
	Recent(channel string, limit int) ([]Record, error)

	// PruneBefore removes records delivered before the cutoff and
	// returns how many were removed.
	PruneBefore(cutoff time.Time) (int, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Record is one delivered event as persisted.
type Record struct {
	EventID     string
	Channel     string
	Payload     []byte
	Timestamp   hlc.Timestamp
	Origin      string
	Meta        event.DeliveryMetadata
	DeliveredAt time.Time
}

// Sentinel errors for journal operations.
var (
	// ErrNotFound indicates a record doesn't exist.
	ErrNotFound = errors.New("journal record not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("journal store closed")
)
