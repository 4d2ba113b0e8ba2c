package cluster

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/causalbus/pkg/causalbus/errors"
	"github.com/randalmurphal/causalbus/pkg/causalbus/event"
	"github.com/randalmurphal/causalbus/pkg/causalbus/hlc"
)

// Config configures the cluster bridge.
type Config struct {
	// NodeID identifies this node on the wire.
	NodeID string

	// Peers lists the addresses of every peer to relay to.
	Peers []string

	// QueueSize bounds each peer's outbound relay queue.
	// Default: 1024
	QueueSize int

	// HeartbeatInterval is how often heartbeats are sent.
	// Default: 1s
	HeartbeatInterval time.Duration

	// PartitionTimeout is the silence threshold after which a peer is
	// suspected partitioned. Default: 5s
	PartitionTimeout time.Duration

	// DedupRetention is how long seen event ids are remembered; size it
	// to the maximum expected partition duration. Default: 2m
	DedupRetention time.Duration

	// DedupMaxEntries caps each dedup set. Default: 65536
	DedupMaxEntries int

	// Retry shapes dial backoff.
	Retry errors.RetryConfig

	// Logger receives bridge logs. Nil disables logging.
	Logger *slog.Logger

	// OnPartitionSuspected fires when a peer goes silent too long.
	OnPartitionSuspected func(peer string)

	// OnPartitionResolved fires when a suspected peer is heard again.
	OnPartitionResolved func(peer string)
}

// DefaultConfig provides reasonable defaults.
var DefaultConfig = Config{
	QueueSize:         1024,
	HeartbeatInterval: time.Second,
	PartitionTimeout:  5 * time.Second,
	DedupRetention:    2 * time.Minute,
	DedupMaxEntries:   65536,
	Retry:             errors.DefaultRetry,
}

func (c Config) withDefaults() Config {
	d := DefaultConfig
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.PartitionTimeout <= 0 {
		c.PartitionTimeout = d.PartitionTimeout
	}
	if c.DedupRetention <= 0 {
		c.DedupRetention = d.DedupRetention
	}
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = d.DedupMaxEntries
	}
	if c.Retry.MaxAttempts == 0 && c.Retry.InitialBackoff == 0 {
		c.Retry = d.Retry
	}
	return c
}

// Bridge relays events to peers and ingests theirs.
type Bridge struct {
	config    Config
	transport Transport
	ingest    func(event.Event)
	stamp     func() hlc.Timestamp

	mu    sync.RWMutex
	peers map[string]*Peer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	ingested   atomic.Uint64
	duplicates atomic.Uint64
}

// NewBridge creates a bridge and starts its peer and accept loops.
//
// ingest receives deduplicated peer events; it must not block (hand off
// to the local pipeline). stamp supplies the local HLC value carried on
// heartbeats.
func NewBridge(transport Transport, ingest func(event.Event), stamp func() hlc.Timestamp, config Config) *Bridge {
	config = config.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		config:    config,
		transport: transport,
		ingest:    ingest,
		stamp:     stamp,
		peers:     make(map[string]*Peer),
		ctx:       ctx,
		cancel:    cancel,
	}

	for _, addr := range config.Peers {
		p := newPeer(addr, b)
		b.peers[addr] = p
		b.wg.Add(1)
		go p.run(ctx)
	}

	b.wg.Add(1)
	go b.acceptLoop(ctx)

	return b
}

// Relay queues an event for every peer. Never blocks: a full peer queue
// drops the relay for that peer only, and dedup on the far side absorbs
// any later re-send.
func (b *Bridge) Relay(evt event.Event) {
	if b.closed.Load() {
		return
	}
	msg := event.EventMessage(b.config.NodeID, evt)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, p := range b.peers {
		p.enqueue(msg)
	}
}

// Peers returns a snapshot of peer states keyed by address.
func (b *Bridge) Peers() map[string]PeerState {
	b.mu.RLock()
	defer b.mu.RUnlock()

	states := make(map[string]PeerState, len(b.peers))
	for addr, p := range b.peers {
		states[addr] = p.State()
	}
	return states
}

// Ingested returns how many peer events were handed to the local
// pipeline; Duplicates returns how many were absorbed by dedup.
func (b *Bridge) Ingested() uint64   { return b.ingested.Load() }
func (b *Bridge) Duplicates() uint64 { return b.duplicates.Load() }

// Close stops all peer loops and releases the transport.
func (b *Bridge) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	b.cancel()
	err := b.transport.Close()
	b.wg.Wait()
	return err
}

// acceptLoop serves inbound connections. Each gets its own dedup set and
// a heartbeat responder so the dialing side can detect partitions.
func (b *Bridge) acceptLoop(ctx context.Context) {
	defer b.wg.Done()

	for {
		conn, err := b.transport.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger().Debug("accept failed", slog.String("error", err.Error()))
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		b.wg.Add(1)
		go b.serveInbound(ctx, conn)
	}
}

// serveInbound ingests events from one inbound connection and answers
// with heartbeats.
func (b *Bridge) serveInbound(ctx context.Context, conn Conn) {
	defer b.wg.Done()
	defer conn.Close()

	dedup := NewDedupSet(b.config.DedupRetention, b.config.DedupMaxEntries)

	recvDone := make(chan struct{})
	go func() {
		defer close(recvDone)
		for {
			msg, err := conn.Recv(ctx)
			if err != nil {
				return
			}
			if msg.Kind == event.KindEvent {
				b.ingestDeduped(dedup, *msg.Event)
			}
		}
	}()

	ticker := time.NewTicker(b.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-recvDone:
			return
		case <-ticker.C:
			hb := event.HeartbeatMessage(b.config.NodeID, b.stamp())
			if err := conn.Send(ctx, hb); err != nil {
				return
			}
		}
	}
}

// ingestDeduped hands an event to the local pipeline unless the dedup
// set has seen its id. Duplicates are dropped silently.
func (b *Bridge) ingestDeduped(dedup *DedupSet, evt event.Event) {
	if dedup.Seen(evt.ID) {
		b.duplicates.Add(1)
		return
	}
	b.ingested.Add(1)
	b.ingest(evt)
}

func (b *Bridge) logger() *slog.Logger {
	if b.config.Logger != nil {
		return b.config.Logger
	}
	return discardLogger
}

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
