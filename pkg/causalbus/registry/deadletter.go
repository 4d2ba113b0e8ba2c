package registry

import (
	"sync"
	"time"

	"github.com/randalmurphal/causalbus/pkg/causalbus/event"
)

// Failure reasons recorded on dead letters.
const (
	ReasonQueueFull    = "queue_full"
	ReasonHandlerError = "handler_error"
)

// DeadLetter is one delivery that failed to reach or be processed by a
// subscriber.
type DeadLetter struct {
	Delivery       event.Delivery
	SubscriptionID string
	Reason         string
	Err            error
	At             time.Time
	Attempts       int
}

// DeadLetterStats summarizes a buffer's lifetime counters.
type DeadLetterStats struct {
	Size     int
	Captured uint64
	Evicted  uint64
	Redriven uint64
}

// DeadLetterBuffer is a bounded in-memory record of failed deliveries.
// When full, the oldest letter is evicted to make room, so the buffer
// keeps the most recent failures under sustained pressure.
type DeadLetterBuffer struct {
	mu      sync.Mutex
	maxSize int
	letters []DeadLetter

	captured uint64
	evicted  uint64
	redriven uint64
}

// DefaultDeadLetterSize bounds a buffer created with size <= 0.
const DefaultDeadLetterSize = 1024

// NewDeadLetterBuffer creates a buffer holding at most maxSize letters.
func NewDeadLetterBuffer(maxSize int) *DeadLetterBuffer {
	if maxSize <= 0 {
		maxSize = DefaultDeadLetterSize
	}
	return &DeadLetterBuffer{maxSize: maxSize}
}

// Add captures a failed delivery.
func (b *DeadLetterBuffer) Add(letter DeadLetter) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if letter.At.IsZero() {
		letter.At = time.Now()
	}
	if len(b.letters) >= b.maxSize {
		drop := len(b.letters) - b.maxSize + 1
		b.letters = b.letters[drop:]
		b.evicted += uint64(drop)
	}
	b.letters = append(b.letters, letter)
	b.captured++
}

// List returns up to limit letters, oldest first, without removing
// them. A non-positive limit returns everything.
func (b *DeadLetterBuffer) List(limit int) []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.letters)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]DeadLetter, n)
	copy(out, b.letters[:n])
	return out
}

// Take removes and returns up to limit letters, oldest first, for
// redriving. A non-positive limit takes everything.
func (b *DeadLetterBuffer) Take(limit int) []DeadLetter {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := len(b.letters)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]DeadLetter, n)
	copy(out, b.letters[:n])
	b.letters = b.letters[n:]
	b.redriven += uint64(n)
	return out
}

// Len returns the number of buffered letters.
func (b *DeadLetterBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.letters)
}

// Stats returns a snapshot of the buffer's counters.
func (b *DeadLetterBuffer) Stats() DeadLetterStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return DeadLetterStats{
		Size:     len(b.letters),
		Captured: b.captured,
		Evicted:  b.evicted,
		Redriven: b.redriven,
	}
}
