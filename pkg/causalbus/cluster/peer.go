package cluster

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/randalmurphal/causalbus/pkg/causalbus/errors"
	"github.com/randalmurphal/causalbus/pkg/causalbus/event"
)

// PeerState describes a peer connection's health.
type PeerState int32

// Peer states.
const (
	StateConnecting PeerState = iota
	StateHealthy
	StateSuspect
)

// String returns the state name.
func (s PeerState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHealthy:
		return "healthy"
	case StateSuspect:
		return "suspect"
	default:
		return "unknown"
	}
}

// Peer owns all state for one configured peer: the outbound queue, the
// connection, the dedup set, and the last-contact timestamp. Only the
// peer's own goroutines touch that state.
type Peer struct {
	addr   string
	bridge *Bridge

	queue chan *event.WireMessage
	dedup *DedupSet

	lastContact atomic.Int64 // unix nanos
	state       atomic.Int32
	dropped     atomic.Uint64
}

func newPeer(addr string, b *Bridge) *Peer {
	p := &Peer{
		addr:   addr,
		bridge: b,
		queue:  make(chan *event.WireMessage, b.config.QueueSize),
		dedup:  NewDedupSet(b.config.DedupRetention, b.config.DedupMaxEntries),
	}
	p.lastContact.Store(time.Now().UnixNano())
	return p
}

// Addr returns the peer's address.
func (p *Peer) Addr() string { return p.addr }

// State returns the peer's current health state.
func (p *Peer) State() PeerState { return PeerState(p.state.Load()) }

// Dropped returns how many relay messages were discarded because the
// peer's queue was full.
func (p *Peer) Dropped() uint64 { return p.dropped.Load() }

// enqueue offers a message without blocking. A full queue drops the
// message for this peer only.
func (p *Peer) enqueue(msg *event.WireMessage) {
	select {
	case p.queue <- msg:
	default:
		p.dropped.Add(1)
		p.bridge.logger().Debug("peer relay queue full, dropping",
			slog.String("peer", p.addr),
			slog.String("kind", string(msg.Kind)),
		)
	}
}

func (p *Peer) markContact() {
	p.lastContact.Store(time.Now().UnixNano())
	if p.state.CompareAndSwap(int32(StateSuspect), int32(StateHealthy)) {
		p.bridge.logger().Info("peer partition resolved", slog.String("peer", p.addr))
		if p.bridge.config.OnPartitionResolved != nil {
			p.bridge.config.OnPartitionResolved(p.addr)
		}
	} else {
		p.state.CompareAndSwap(int32(StateConnecting), int32(StateHealthy))
	}
}

func (p *Peer) suspect() {
	prev := p.state.Swap(int32(StateSuspect))
	if PeerState(prev) == StateSuspect {
		return
	}
	p.bridge.logger().Warn("peer partition suspected", slog.String("peer", p.addr))
	if p.bridge.config.OnPartitionSuspected != nil {
		p.bridge.config.OnPartitionSuspected(p.addr)
	}
}

func (p *Peer) sinceContact() time.Duration {
	return time.Duration(time.Now().UnixNano() - p.lastContact.Load())
}

// run dials, relays, and reconnects until ctx is cancelled.
func (p *Peer) run(ctx context.Context) {
	defer p.bridge.wg.Done()

	for {
		conn := p.dial(ctx)
		if conn == nil {
			return // ctx cancelled
		}
		p.markContact()

		recvDone := make(chan struct{})
		go p.recvLoop(ctx, conn, recvDone)

		p.sendLoop(ctx, conn, recvDone)
		_ = conn.Close()
		<-recvDone

		if ctx.Err() != nil {
			return
		}
	}
}

// dial connects with jittered exponential backoff, marking the peer
// suspect once silence exceeds the partition timeout. Each round of
// attempts runs through the retry machinery; rounds repeat until the
// peer answers. Returns nil only when ctx is cancelled.
func (p *Peer) dial(ctx context.Context) Conn {
	for {
		res := errors.WithRetryContext(ctx, p.bridge.config.Retry,
			func(ctx context.Context) (Conn, error) {
				return p.bridge.transport.Dial(ctx, p.addr)
			})
		if res.Err == nil {
			return res.Value
		}
		if ctx.Err() != nil {
			return nil
		}

		p.bridge.logger().Debug("peer dial failed",
			slog.String("peer", p.addr),
			slog.Int("attempts", res.Attempts),
			slog.String("error", res.Err.Error()),
		)
		if p.sinceContact() > p.bridge.config.PartitionTimeout {
			p.suspect()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.bridge.config.Retry.MaxBackoff):
		}
	}
}

// sendLoop drains the relay queue and emits heartbeats. Returns when the
// connection fails, the receiver stops, or ctx is cancelled.
func (p *Peer) sendLoop(ctx context.Context, conn Conn, recvDone <-chan struct{}) {
	ticker := time.NewTicker(p.bridge.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-recvDone:
			return
		case msg := <-p.queue:
			if err := conn.Send(ctx, msg); err != nil {
				p.bridge.logger().Debug("peer send failed",
					slog.String("peer", p.addr),
					slog.String("error", err.Error()),
				)
				return
			}
		case <-ticker.C:
			hb := event.HeartbeatMessage(p.bridge.config.NodeID, p.bridge.stamp())
			if err := conn.Send(ctx, hb); err != nil {
				return
			}
			if p.sinceContact() > p.bridge.config.PartitionTimeout {
				p.suspect()
			}
		}
	}
}

// recvLoop ingests messages from the peer until the connection fails.
func (p *Peer) recvLoop(ctx context.Context, conn Conn, done chan<- struct{}) {
	defer close(done)

	for {
		msg, err := conn.Recv(ctx)
		if err != nil {
			return
		}
		p.markContact()
		if msg.Kind == event.KindEvent {
			p.bridge.ingestDeduped(p.dedup, *msg.Event)
		}
	}
}
