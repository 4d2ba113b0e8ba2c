package config

import (
	"time"

	"github.com/randalmurphal/causalbus/pkg/causalbus/buffer"
	"github.com/randalmurphal/causalbus/pkg/causalbus/quota"
)

// Settings is the parsed file configuration for one bus node. Zero
// values mean "use the package default"; the bus applies defaults when
// it consumes a Settings.
type Settings struct {
	// NodeID identifies this node; empty means auto-generate.
	NodeID string

	// MaxDrift bounds how far ahead a remote clock hint may run before
	// it is flagged instead of adopted.
	MaxDrift time.Duration

	// Window shapes the ordered-delivery buffer.
	Window buffer.WindowConfig

	// Quota is the default per-channel rate limit.
	Quota quota.Limit

	// Channels carries per-channel overrides keyed by channel name.
	Channels map[string]ChannelSettings

	// Cluster shapes peer relay.
	Cluster ClusterSettings

	// JournalPath points at the delivery journal database; empty
	// disables journaling.
	JournalPath string
}

// ChannelSettings overrides bus defaults for one channel.
type ChannelSettings struct {
	Quota          quota.Limit
	Unlimited      bool
	Compression    bool
	CompressionKey string // "channel" or "payload-prefix"
	CompressionWin time.Duration
}

// ClusterSettings shapes the cluster bridge.
type ClusterSettings struct {
	Peers             []string
	QueueSize         int
	HeartbeatInterval time.Duration
	PartitionTimeout  time.Duration
	DedupRetention    time.Duration
}

// Parse extracts bus settings from a loaded Config.
//
// Expected shape (YAML):
//
//	node_id: node-a
//	max_drift: 60s
//	window:
//	  min: 10ms
//	  max: 500ms
//	  initial: 50ms
//	quota:
//	  capacity: 256
//	  refill_rate: 128
//	channels:
//	  telemetry:
//	    quota: {capacity: 32, refill_rate: 16}
//	    compression: true
//	cluster:
//	  peers: [host-b:9400, host-c:9400]
//	  heartbeat_interval: 1s
//	  partition_timeout: 5s
//	journal: /var/lib/causalbus/journal.db
func Parse(cfg Config) Settings {
	s := Settings{
		NodeID:      cfg.String("node_id", ""),
		MaxDrift:    cfg.Duration("max_drift", 0),
		JournalPath: cfg.String("journal", ""),
	}

	win := cfg.Section("window")
	s.Window = buffer.WindowConfig{
		Min:     win.Duration("min", 0),
		Max:     win.Duration("max", 0),
		Initial: win.Duration("initial", 0),
	}

	s.Quota = parseLimit(cfg.Section("quota"))

	channels := cfg.Section("channels")
	if keys := channels.Keys(); len(keys) > 0 {
		s.Channels = make(map[string]ChannelSettings, len(keys))
		for _, name := range keys {
			ch := channels.Section(name)
			s.Channels[name] = ChannelSettings{
				Quota:          parseLimit(ch.Section("quota")),
				Unlimited:      ch.Bool("unlimited", false),
				Compression:    ch.Bool("compression", false),
				CompressionKey: ch.String("compression_key", ""),
				CompressionWin: ch.Duration("compression_window", 0),
			}
		}
	}

	cl := cfg.Section("cluster")
	s.Cluster = ClusterSettings{
		Peers:             cl.StringSlice("peers", nil),
		QueueSize:         cl.Int("queue_size", 0),
		HeartbeatInterval: cl.Duration("heartbeat_interval", 0),
		PartitionTimeout:  cl.Duration("partition_timeout", 0),
		DedupRetention:    cl.Duration("dedup_retention", 0),
	}

	return s
}

func parseLimit(c Config) quota.Limit {
	return quota.Limit{
		Capacity:   c.Float("capacity", 0),
		RefillRate: c.Float("refill_rate", 0),
	}
}
