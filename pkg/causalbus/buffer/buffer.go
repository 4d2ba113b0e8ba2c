// Package buffer implements the per-channel ordered-delivery buffer.
//
// Events are held for an adaptive delay window and released in ascending
// hybrid-logical-clock order once the window expires. The window grows
// when out-of-order arrivals are frequent and shrinks when the channel is
// healthy, trading latency for correctness only when correctness is
// threatened.
package buffer

import (
	"sort"
	"sync"
	"time"

	"github.com/randalmurphal/causalbus/pkg/causalbus/event"
)

// WindowConfig configures buffer windowing for a channel.
type WindowConfig struct {
	// Min bounds window shrinkage. Default: 10ms
	Min time.Duration

	// Max bounds window growth. Default: 500ms
	Max time.Duration

	// Initial is the starting window. Default: 50ms
	Initial time.Duration

	// HighWaterRatio is the reorder ratio above which the window doubles.
	// Default: 0.10
	HighWaterRatio float64

	// LowWaterRatio is the reorder ratio below which the window may halve.
	// Default: 0.02
	LowWaterRatio float64

	// SampleSize is how many arrivals are observed before a resize
	// decision. Default: 32
	SampleSize int

	// ShrinkMinThroughput is the minimum sampled arrivals required for
	// shrinking; a quiet channel keeps its window. Default: 64
	ShrinkMinThroughput int

	// OccupancyCeiling force-flushes oldest entries beyond this count.
	// Default: 8192
	OccupancyCeiling int
}

// DefaultWindowConfig provides reasonable defaults.
var DefaultWindowConfig = WindowConfig{
	Min:                 10 * time.Millisecond,
	Max:                 500 * time.Millisecond,
	Initial:             50 * time.Millisecond,
	HighWaterRatio:      0.10,
	LowWaterRatio:       0.02,
	SampleSize:          32,
	ShrinkMinThroughput: 64,
	OccupancyCeiling:    8192,
}

func (c WindowConfig) withDefaults() WindowConfig {
	d := DefaultWindowConfig
	if c.Min <= 0 {
		c.Min = d.Min
	}
	if c.Max <= 0 {
		c.Max = d.Max
	}
	if c.Initial <= 0 {
		c.Initial = d.Initial
	}
	if c.HighWaterRatio <= 0 {
		c.HighWaterRatio = d.HighWaterRatio
	}
	if c.LowWaterRatio <= 0 {
		c.LowWaterRatio = d.LowWaterRatio
	}
	if c.SampleSize <= 0 {
		c.SampleSize = d.SampleSize
	}
	if c.ShrinkMinThroughput <= 0 {
		c.ShrinkMinThroughput = d.ShrinkMinThroughput
	}
	if c.OccupancyCeiling <= 0 {
		c.OccupancyCeiling = d.OccupancyCeiling
	}
	if c.Initial < c.Min {
		c.Initial = c.Min
	}
	if c.Initial > c.Max {
		c.Initial = c.Max
	}
	return c
}

// NextWindow computes the window after observing a sample of arrivals.
// It is a pure function of the sampled counters so resize behavior can be
// tested without timers.
func NextWindow(current time.Duration, received, reordered int, cfg WindowConfig) time.Duration {
	cfg = cfg.withDefaults()
	if received == 0 {
		return current
	}

	ratio := float64(reordered) / float64(received)
	switch {
	case ratio > cfg.HighWaterRatio:
		current *= 2
	case ratio < cfg.LowWaterRatio && received >= cfg.ShrinkMinThroughput:
		current /= 2
	}

	if current > cfg.Max {
		current = cfg.Max
	}
	if current < cfg.Min {
		current = cfg.Min
	}
	return current
}

type entry struct {
	delivery event.Delivery
	arrived  time.Time
}

// Stats is a snapshot of a channel buffer's counters.
type Stats struct {
	Occupancy     int
	Window        time.Duration
	Received      uint64
	Reordered     uint64
	ForcedFlushes uint64
}

// ChannelBuffer holds one channel's pending events sorted by HLC order.
// State is owned by the buffer; callers interact only through its
// methods, and the critical sections never block on I/O.
type ChannelBuffer struct {
	mu  sync.Mutex
	cfg WindowConfig

	window  time.Duration
	entries []entry

	maxSeen  event.Event
	haveMax  bool
	released event.Event
	haveRel  bool

	// Counters since the last resize decision.
	sampleReceived  int
	sampleReordered int

	// Lifetime counters.
	totalReceived uint64
	totalReorders uint64
	totalForced   uint64

	nowFn func() time.Time
}

// NewChannelBuffer creates a buffer with the given window configuration.
func NewChannelBuffer(cfg WindowConfig) *ChannelBuffer {
	cfg = cfg.withDefaults()
	return &ChannelBuffer{
		cfg:    cfg,
		window: cfg.Initial,
		nowFn:  time.Now,
	}
}

// SetNowFunc overrides the buffer's clock. Used in tests.
func (b *ChannelBuffer) SetNowFunc(fn func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nowFn = fn
}

// Insert adds an event to the buffer.
//
// The returned slice is non-empty only when the occupancy ceiling was
// exceeded: the oldest entries are force-released out of strict order,
// tagged ForcedFlush, and must be delivered immediately by the caller.
func (b *ChannelBuffer) Insert(evt event.Event, meta event.DeliveryMetadata) []event.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sampleReceived++
	b.totalReceived++

	if b.haveMax && event.Less(evt, b.maxSeen) {
		lag := b.maxSeen.Timestamp.WallMillis - evt.Timestamp.WallMillis
		if lag > b.window.Milliseconds() {
			meta.Reordered = true
			b.sampleReordered++
			b.totalReorders++
		}
	}

	// An arrival older than something already released cannot be put back
	// in order; it is flagged and will flow out with the next flush.
	if b.haveRel && event.Less(evt, b.released) {
		if !meta.Reordered {
			meta.Reordered = true
			b.sampleReordered++
			b.totalReorders++
		}
	}

	if !b.haveMax || event.Less(b.maxSeen, evt) {
		b.maxSeen = evt
		b.haveMax = true
	}

	e := entry{
		delivery: event.Delivery{Event: evt, Meta: meta},
		arrived:  b.nowFn(),
	}
	idx := sort.Search(len(b.entries), func(i int) bool {
		return event.Less(evt, b.entries[i].delivery.Event)
	})
	b.entries = append(b.entries, entry{})
	copy(b.entries[idx+1:], b.entries[idx:])
	b.entries[idx] = e

	if len(b.entries) > b.cfg.OccupancyCeiling {
		return b.forceFlushLocked(len(b.entries) - b.cfg.OccupancyCeiling)
	}
	return nil
}

// forceFlushLocked releases the n oldest entries tagged ForcedFlush.
// Caller must hold b.mu.
func (b *ChannelBuffer) forceFlushLocked(n int) []event.Delivery {
	if n > len(b.entries) {
		n = len(b.entries)
	}
	out := make([]event.Delivery, 0, n)
	for _, e := range b.entries[:n] {
		d := e.delivery
		d.Meta.ForcedFlush = true
		out = append(out, d)
		b.totalForced++
	}
	b.entries = b.entries[n:]
	if len(out) > 0 {
		b.markReleasedLocked(out[len(out)-1].Event)
	}
	return out
}

// Flush releases, in ascending order, the longest prefix of entries that
// have all been held for at least the current window. A single young
// entry at the head holds everything behind it, preserving order.
//
// Flush also applies the periodic window resize once a full sample of
// arrivals has been observed.
func (b *ChannelBuffer) Flush() []event.Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.nowFn().Add(-b.window)
	n := 0
	for n < len(b.entries) && !b.entries[n].arrived.After(cutoff) {
		n++
	}

	var out []event.Delivery
	if n > 0 {
		out = make([]event.Delivery, 0, n)
		for _, e := range b.entries[:n] {
			out = append(out, e.delivery)
		}
		b.entries = b.entries[n:]
		b.markReleasedLocked(out[len(out)-1].Event)
	}

	if b.sampleReceived >= b.cfg.SampleSize {
		b.window = NextWindow(b.window, b.sampleReceived, b.sampleReordered, b.cfg)
		b.sampleReceived = 0
		b.sampleReordered = 0
	}

	return out
}

func (b *ChannelBuffer) markReleasedLocked(evt event.Event) {
	if !b.haveRel || event.Less(b.released, evt) {
		b.released = evt
		b.haveRel = true
	}
}

// Widen raises the window to at least d, capped at the configured
// maximum. Adaptation continues from the widened value.
func (b *ChannelBuffer) Widen(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d > b.cfg.Max {
		d = b.cfg.Max
	}
	if d > b.window {
		b.window = d
	}
}

// Window returns the current adaptive window.
func (b *ChannelBuffer) Window() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.window
}

// FlushInterval returns how often the owner should call Flush.
func (b *ChannelBuffer) FlushInterval() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	interval := b.window / 2
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	return interval
}

// Len returns current occupancy.
func (b *ChannelBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// Stats returns a snapshot of the buffer's counters.
func (b *ChannelBuffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Occupancy:     len(b.entries),
		Window:        b.window,
		Received:      b.totalReceived,
		Reordered:     b.totalReorders,
		ForcedFlushes: b.totalForced,
	}
}
