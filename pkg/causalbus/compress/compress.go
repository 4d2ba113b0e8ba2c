// Package compress merges near-duplicate events inside a short
// aggregation window.
//
// Compression runs on batches the ordered-delivery buffer is about to
// release, never on the bypass path. Groups sharing a caller-supplied
// similarity key collapse to a single representative carrying the most
// recent payload and an aggregate count, so the existence and frequency
// of the underlying signal survive while delivered volume shrinks.
package compress

import (
	"sort"
	"time"

	"github.com/randalmurphal/causalbus/pkg/causalbus/event"
)

// DefaultWindow is the default aggregation window.
const DefaultWindow = 100 * time.Millisecond

// KeyFunc computes the similarity key for an event. Events with equal
// keys inside one aggregation window are merge candidates.
type KeyFunc func(evt event.Event) string

// ChannelKey groups events by channel alone: every event on the channel
// inside one window is a merge candidate.
func ChannelKey(evt event.Event) string {
	return evt.Channel
}

// PrefixKey groups events by channel plus the first n bytes of payload,
// so structured payloads sharing a header merge while unrelated ones
// stay apart.
func PrefixKey(n int) KeyFunc {
	return func(evt event.Event) string {
		p := evt.Payload
		if len(p) > n {
			p = p[:n]
		}
		return evt.Channel + "\x00" + string(p)
	}
}

// Compressor merges release batches for one channel.
type Compressor struct {
	key    KeyFunc
	window time.Duration
}

// New creates a compressor with the given similarity key and window.
// A zero window uses DefaultWindow; a nil key falls back to ChannelKey.
func New(key KeyFunc, window time.Duration) *Compressor {
	if key == nil {
		key = ChannelKey
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Compressor{key: key, window: window}
}

// Window returns the aggregation window.
func (c *Compressor) Window() time.Duration {
	return c.window
}

type group struct {
	firstWall int64
	count     int
	latest    event.Delivery
	meta      event.DeliveryMetadata
}

// Compress merges a release batch. The input must be in ascending event
// order; the output is too. Singleton groups pass through untouched.
func (c *Compressor) Compress(batch []event.Delivery) []event.Delivery {
	if len(batch) < 2 {
		return batch
	}

	open := make(map[string]*group)
	var closed []event.Delivery

	emit := func(g *group) {
		d := g.latest
		d.Meta = g.meta
		if g.count > 1 {
			d.Meta.CompressedCount = g.count
		}
		closed = append(closed, d)
	}

	for _, d := range batch {
		k := c.key(d.Event)
		g, ok := open[k]
		if ok && d.Event.Timestamp.WallMillis-g.firstWall > c.window.Milliseconds() {
			// Window elapsed for this key; close the group and start over.
			emit(g)
			ok = false
		}
		if !ok {
			open[k] = &group{
				firstWall: d.Event.Timestamp.WallMillis,
				count:     1,
				latest:    d,
				meta:      d.Meta,
			}
			continue
		}
		// The batch is ascending, so d carries the most recent payload.
		g.count++
		g.latest = d
		g.meta = mergeMeta(g.meta, d.Meta)
	}

	for _, g := range open {
		emit(g)
	}

	sort.Slice(closed, func(i, j int) bool {
		return event.Less(closed[i].Event, closed[j].Event)
	})
	return closed
}

// mergeMeta keeps degradation flags visible on the representative.
func mergeMeta(a, b event.DeliveryMetadata) event.DeliveryMetadata {
	return event.DeliveryMetadata{
		Reordered:        a.Reordered || b.Reordered,
		ForcedFlush:      a.ForcedFlush || b.ForcedFlush,
		SuspectCausality: a.SuspectCausality || b.SuspectCausality,
	}
}
