// Package hlc implements a hybrid logical clock for causally-ordered
// event timestamps.
//
// A hybrid logical clock combines wall-clock time with a logical counter
// so that timestamps are totally ordered and consistent with causality:
// two stamps taken in sequence on one node are always strictly increasing,
// even within the same physical millisecond.
//
// Design Influences:
//   - Kulkarni et al., "Logical Physical Clocks" (the HLC paper)
//   - CockroachDB's hlc package (bounded clock drift handling)
package hlc

import (
	"fmt"
	"sync"
	"time"
)

// Timestamp is a hybrid logical clock value.
// The zero value sorts before every stamp a Clock can produce.
type Timestamp struct {
	// WallMillis is the physical component in Unix milliseconds.
	WallMillis int64 `json:"wall_millis"`

	// Logical is the counter that breaks ties within one millisecond.
	Logical uint32 `json:"logical"`
}

// Compare returns -1, 0, or 1 ordering t against other.
// Physical time is compared first, then the logical counter.
func (t Timestamp) Compare(other Timestamp) int {
	switch {
	case t.WallMillis < other.WallMillis:
		return -1
	case t.WallMillis > other.WallMillis:
		return 1
	case t.Logical < other.Logical:
		return -1
	case t.Logical > other.Logical:
		return 1
	}
	return 0
}

// Before returns true if t orders strictly before other.
func (t Timestamp) Before(other Timestamp) bool {
	return t.Compare(other) < 0
}

// IsZero returns true for the zero timestamp.
func (t Timestamp) IsZero() bool {
	return t.WallMillis == 0 && t.Logical == 0
}

// Time returns the physical component as a time.Time.
// The logical counter is not representable and is discarded.
func (t Timestamp) Time() time.Time {
	return time.UnixMilli(t.WallMillis)
}

// String formats the timestamp as "wall.logical".
func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d", t.WallMillis, t.Logical)
}

// ClockConfig configures clock behavior.
type ClockConfig struct {
	// MaxDrift bounds how far ahead of local wall time a remote hint may
	// be before it is treated as suspect and ignored for clock advance.
	// Default: 60s
	MaxDrift time.Duration

	// NowFunc overrides the wall clock source. Used in tests.
	// Default: time.Now
	NowFunc func() time.Time
}

// DefaultClockConfig provides reasonable defaults.
var DefaultClockConfig = ClockConfig{
	MaxDrift: 60 * time.Second,
}

// Clock issues monotonically increasing hybrid logical timestamps.
// It is safe for concurrent use.
type Clock struct {
	mu       sync.Mutex
	last     Timestamp
	maxDrift time.Duration
	nowFn    func() time.Time
}

// NewClock creates a clock with the given configuration.
func NewClock(config ClockConfig) *Clock {
	if config.MaxDrift <= 0 {
		config.MaxDrift = DefaultClockConfig.MaxDrift
	}
	if config.NowFunc == nil {
		config.NowFunc = time.Now
	}
	return &Clock{
		maxDrift: config.MaxDrift,
		nowFn:    config.NowFunc,
	}
}

// Now returns the next local timestamp.
// If wall time has not advanced past the previous stamp, the logical
// counter is incremented instead, so successive calls strictly increase.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.nowFn().UnixMilli()
	if wall > c.last.WallMillis {
		c.last = Timestamp{WallMillis: wall}
	} else {
		c.last.Logical++
	}
	return c.last
}

// Observe merges a remote timestamp into the clock and returns the next
// local stamp along with a suspect flag.
//
// A remote stamp whose physical time exceeds local wall time by more than
// MaxDrift is not adopted: the clock advances as if the hint were absent
// and suspect is true. The caller is expected to flag the associated
// event rather than reject it.
func (c *Clock) Observe(remote Timestamp) (stamp Timestamp, suspect bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := c.nowFn().UnixMilli()
	suspect = remote.WallMillis > wall+c.maxDrift.Milliseconds()

	physical := wall
	if c.last.WallMillis > physical {
		physical = c.last.WallMillis
	}
	if !suspect && remote.WallMillis > physical {
		physical = remote.WallMillis
	}

	var logical uint32
	switch {
	case physical == c.last.WallMillis && !suspect && physical == remote.WallMillis:
		logical = maxUint32(c.last.Logical, remote.Logical) + 1
	case physical == c.last.WallMillis:
		logical = c.last.Logical + 1
	case !suspect && physical == remote.WallMillis:
		logical = remote.Logical + 1
	}

	c.last = Timestamp{WallMillis: physical, Logical: logical}
	return c.last, suspect
}

// Last returns the most recently issued timestamp without advancing.
func (c *Clock) Last() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func maxUint32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}
