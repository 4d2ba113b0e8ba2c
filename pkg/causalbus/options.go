package causalbus

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/causalbus/pkg/causalbus/buffer"
	"github.com/randalmurphal/causalbus/pkg/causalbus/cluster"
	"github.com/randalmurphal/causalbus/pkg/causalbus/compress"
	"github.com/randalmurphal/causalbus/pkg/causalbus/config"
	"github.com/randalmurphal/causalbus/pkg/causalbus/event"
	"github.com/randalmurphal/causalbus/pkg/causalbus/journal"
	"github.com/randalmurphal/causalbus/pkg/causalbus/observability"
	"github.com/randalmurphal/causalbus/pkg/causalbus/quota"
)

// Config configures a bus node.
type Config struct {
	// NodeID identifies this node in event origins and on the wire.
	// Empty means auto-generate.
	NodeID string

	// MaxDrift bounds how far ahead a remote clock hint may run before
	// the event is flagged SuspectCausality. Default: 60s
	MaxDrift time.Duration

	// Quota is the default per-channel admission limit.
	Quota quota.Limit

	// Window shapes every channel's ordered-delivery buffer.
	Window buffer.WindowConfig

	// QueueSize bounds each subscription's delivery queue.
	// Default: 256
	QueueSize int

	// Channels carries per-channel overrides keyed by channel name.
	Channels map[string]ChannelConfig

	// Transport connects this node to its peers. Nil disables
	// clustering.
	Transport cluster.Transport

	// Peers lists peer addresses to relay to.
	Peers []string

	// Cluster tunes relay behavior; NodeID and Peers are filled in from
	// this Config.
	Cluster cluster.Config

	// Journal records delivered events. Nil disables journaling. The
	// bus takes ownership and closes the store on Close.
	Journal journal.Store

	// DeadLetterSize bounds the buffer of failed deliveries (dropped on
	// a full subscriber queue or returned from a handler with an
	// error). Zero disables capture.
	DeadLetterSize int

	// Logger receives bus logs. Nil disables logging.
	Logger *slog.Logger

	// Metrics records bus metrics. Nil disables metrics.
	Metrics observability.MetricsRecorder

	// Spans traces publishes and delivery batches. Nil disables tracing.
	Spans observability.SpanManager

	// OnOverflow fires when a publish is rejected by quota.
	OnOverflow func(channel string)

	// OnForcedFlush fires when buffer pressure releases events out of
	// strict order.
	OnForcedFlush func(channel string, released int)

	// OnDrop fires when a subscriber's queue is full and a delivery is
	// discarded for that subscriber.
	OnDrop func(subscriptionID, channel string, evt event.Event)

	// OnHandlerError fires when a subscriber's handler returns an error.
	OnHandlerError func(subscriptionID string, evt event.Event, err error)

	// OnPartitionSuspected fires when a peer goes silent too long.
	OnPartitionSuspected func(peer string)

	// OnPartitionResolved fires when a suspected peer is heard again.
	OnPartitionResolved func(peer string)
}

// ChannelConfig overrides bus defaults for one channel.
type ChannelConfig struct {
	// Quota overrides the default admission limit. Zero keeps the
	// default.
	Quota quota.Limit

	// Unlimited exempts the channel from quota enforcement.
	Unlimited bool

	// Compression enables semantic compression on release batches.
	Compression bool

	// CompressionKey groups merge candidates. Nil uses
	// compress.ChannelKey.
	CompressionKey compress.KeyFunc

	// CompressionWindow is the aggregation span. Zero uses
	// compress.DefaultWindow.
	CompressionWindow time.Duration
}

// FromSettings maps file-loaded settings onto a Config. Callbacks,
// transport, and journal are wired by the caller afterward.
func FromSettings(s config.Settings) Config {
	cfg := Config{
		NodeID:   s.NodeID,
		MaxDrift: s.MaxDrift,
		Quota:    s.Quota,
		Window:   s.Window,
		Peers:    s.Cluster.Peers,
		Cluster: cluster.Config{
			QueueSize:         s.Cluster.QueueSize,
			HeartbeatInterval: s.Cluster.HeartbeatInterval,
			PartitionTimeout:  s.Cluster.PartitionTimeout,
			DedupRetention:    s.Cluster.DedupRetention,
		},
	}

	if len(s.Channels) > 0 {
		cfg.Channels = make(map[string]ChannelConfig, len(s.Channels))
		for name, ch := range s.Channels {
			cfg.Channels[name] = ChannelConfig{
				Quota:             ch.Quota,
				Unlimited:         ch.Unlimited,
				Compression:       ch.Compression,
				CompressionKey:    keyFuncFor(ch.CompressionKey),
				CompressionWindow: ch.CompressionWin,
			}
		}
	}
	return cfg
}

// payloadPrefixBytes is how much of the payload the "payload-prefix"
// similarity key inspects.
const payloadPrefixBytes = 16

func keyFuncFor(name string) compress.KeyFunc {
	switch name {
	case "payload-prefix":
		return compress.PrefixKey(payloadPrefixBytes)
	default:
		return compress.ChannelKey
	}
}

// PublishOption configures one publish.
type PublishOption func(*publishConfig)

type publishConfig struct {
	bypass bool
}

// WithBypass routes the event around quota, buffering, and compression
// straight to subscribers. Reserved for emergency signals where latency
// beats ordering.
func WithBypass() PublishOption {
	return func(c *publishConfig) {
		c.bypass = true
	}
}

// SubscribeOption configures one subscription.
type SubscribeOption func(*subscribeConfig)

type subscribeConfig struct {
	window time.Duration
}

// WithDeliveryWindow states how long this subscriber is willing to wait
// for out-of-order arrivals. The channel buffer starts from the largest
// window among its subscribers, and a subscriber attaching after the
// channel's first publish widens the window in place (capped at the
// configured maximum; adaptation continues from there).
func WithDeliveryWindow(d time.Duration) SubscribeOption {
	return func(c *subscribeConfig) {
		if d > 0 {
			c.window = d
		}
	}
}
