// Package cluster propagates events between peer nodes.
//
// The bridge relays locally published events to every configured peer,
// ingests peer-originated events into the local pipeline, absorbs
// re-delivered events through per-peer dedup sets, and detects network
// partitions from heartbeat silence. A node never blocks local delivery
// waiting on an unreachable peer: relay queues are bounded and send
// failures degrade to single-node operation.
//
// Design Influences:
//   - NATS clustering (full-mesh relay, per-connection state)
//   - SWIM-style failure detection (heartbeats, suspicion)
package cluster

import (
	"context"

	"github.com/randalmurphal/causalbus/pkg/causalbus/event"
)

// Conn is a full-duplex message stream to one peer.
type Conn interface {
	// Send writes one message, blocking until accepted or ctx is done.
	Send(ctx context.Context, msg *event.WireMessage) error

	// Recv reads the next message, blocking until one arrives, the
	// connection closes, or ctx is done.
	Recv(ctx context.Context) (*event.WireMessage, error)

	// Close tears down the connection. Safe to call more than once.
	Close() error
}

// Transport connects nodes. Implementations decide the medium; the
// bridge only dials configured peer addresses and accepts inbound
// connections. An in-memory implementation ships in this package for
// tests and single-process clusters.
type Transport interface {
	// Dial opens a connection to the peer at addr.
	Dial(ctx context.Context, addr string) (Conn, error)

	// Accept blocks until an inbound connection arrives.
	Accept(ctx context.Context) (Conn, error)

	// Close releases the transport. Pending Accept calls fail.
	Close() error
}
