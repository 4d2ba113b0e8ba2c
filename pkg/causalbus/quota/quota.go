// Package quota implements per-channel token-bucket admission control.
//
// Each channel holds a bucket with a burst capacity and a refill rate;
// admitting one event costs one token. Refill is computed as a pure
// function of elapsed time sampled at the moment of the admission
// decision, so quota behavior is testable without timing flakiness.
package quota

import (
	"sync"
	"time"
)

// Limit describes a channel's admission quota.
type Limit struct {
	// Capacity is the burst size: the maximum tokens the bucket holds.
	Capacity float64

	// RefillRate is tokens added per second.
	RefillRate float64
}

// DefaultLimit is applied to channels without an explicit quota.
var DefaultLimit = Limit{
	Capacity:   256,
	RefillRate: 128,
}

type bucket struct {
	tokens float64
	last   time.Time
}

// advance refills the bucket for the elapsed time since its last update.
func (b *bucket) advance(now time.Time, limit Limit) {
	if now.After(b.last) {
		b.tokens += now.Sub(b.last).Seconds() * limit.RefillRate
		if b.tokens > limit.Capacity {
			b.tokens = limit.Capacity
		}
		b.last = now
	}
}

// ControllerConfig configures a quota controller.
type ControllerConfig struct {
	// Default is the limit for channels without an explicit one.
	Default Limit

	// NowFunc overrides the clock. Used in tests.
	NowFunc func() time.Time
}

// Controller tracks one token bucket per channel.
// It is safe for concurrent use; the critical section is short and never
// blocks on anything but the mutex.
type Controller struct {
	mu        sync.Mutex
	def       Limit
	limits    map[string]Limit
	unlimited map[string]struct{}
	buckets   map[string]*bucket
	nowFn     func() time.Time
}

// NewController creates a quota controller.
func NewController(config ControllerConfig) *Controller {
	if config.Default == (Limit{}) {
		config.Default = DefaultLimit
	}
	if config.NowFunc == nil {
		config.NowFunc = time.Now
	}
	return &Controller{
		def:       config.Default,
		limits:    make(map[string]Limit),
		unlimited: make(map[string]struct{}),
		buckets:   make(map[string]*bucket),
		nowFn:     config.NowFunc,
	}
}

// SetLimit overrides the quota for a channel.
// An existing bucket is reset to the new capacity.
func (c *Controller) SetLimit(channel string, limit Limit) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.limits[channel] = limit
	delete(c.unlimited, channel)
	c.buckets[channel] = &bucket{tokens: limit.Capacity, last: c.nowFn()}
}

// SetUnlimited exempts a channel from quota enforcement.
// Reserved for the bypass path and internal signal channels; ordinary
// channels always carry a quota.
func (c *Controller) SetUnlimited(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.unlimited[channel] = struct{}{}
	delete(c.buckets, channel)
}

// Take attempts to admit one event on the channel.
// It returns false when the bucket has no tokens.
func (c *Controller) Take(channel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.unlimited[channel]; ok {
		return true
	}

	limit, ok := c.limits[channel]
	if !ok {
		limit = c.def
	}

	b, ok := c.buckets[channel]
	if !ok {
		b = &bucket{tokens: limit.Capacity, last: c.nowFn()}
		c.buckets[channel] = b
	}

	b.advance(c.nowFn(), limit)
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Tokens reports the current token count for a channel after refill.
// Unknown channels report their full capacity.
func (c *Controller) Tokens(channel string) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	limit, ok := c.limits[channel]
	if !ok {
		limit = c.def
	}
	b, ok := c.buckets[channel]
	if !ok {
		return limit.Capacity
	}
	b.advance(c.nowFn(), limit)
	return b.tokens
}
