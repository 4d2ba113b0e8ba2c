package cluster

import (
	"context"
	"fmt"
	"sync"

	"github.com/randalmurphal/causalbus/pkg/causalbus/errors"
	"github.com/randalmurphal/causalbus/pkg/causalbus/event"
)

// Network is an in-process mesh of memory transports, one per address.
// It exists for tests, examples, and single-process clusters; real
// deployments plug in their own Transport.
type Network struct {
	mu       sync.Mutex
	nodes    map[string]*MemoryTransport
	isolated map[string]bool
}

// NewNetwork creates an empty mesh.
func NewNetwork() *Network {
	return &Network{
		nodes:    make(map[string]*MemoryTransport),
		isolated: make(map[string]bool),
	}
}

// Transport registers and returns the transport for addr.
func (n *Network) Transport(addr string) *MemoryTransport {
	n.mu.Lock()
	defer n.mu.Unlock()

	if t, ok := n.nodes[addr]; ok {
		return t
	}
	t := &MemoryTransport{
		network: n,
		addr:    addr,
		inbound: make(chan Conn, 16),
		closeCh: make(chan struct{}),
	}
	n.nodes[addr] = t
	return t
}

// Isolate simulates a partition: no traffic flows to or from addr until
// Heal is called. Existing connections stall rather than close, the way
// a silent network drop behaves.
func (n *Network) Isolate(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.isolated[addr] = true
}

// Heal reconnects an isolated address.
func (n *Network) Heal(addr string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.isolated, addr)
}

func (n *Network) reachable(a, b string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return !n.isolated[a] && !n.isolated[b]
}

func (n *Network) lookup(addr string) (*MemoryTransport, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	t, ok := n.nodes[addr]
	return t, ok
}

// MemoryTransport is the channel-backed transport for one address.
type MemoryTransport struct {
	network *Network
	addr    string
	inbound chan Conn

	closeOnce sync.Once
	closeCh   chan struct{}
}

// Dial implements Transport.
func (t *MemoryTransport) Dial(ctx context.Context, addr string) (Conn, error) {
	remote, ok := t.network.lookup(addr)
	if !ok {
		return nil, errors.Transient(fmt.Errorf("no transport at %s", addr), "dial")
	}
	if !t.network.reachable(t.addr, addr) {
		return nil, errors.Transient(fmt.Errorf("%s unreachable", addr), "dial")
	}

	local, far := newConnPair(t.network, t.addr, addr)
	select {
	case remote.inbound <- far:
		return local, nil
	case <-remote.closeCh:
		return nil, errors.Transient(fmt.Errorf("%s closed", addr), "dial")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Accept implements Transport.
func (t *MemoryTransport) Accept(ctx context.Context) (Conn, error) {
	select {
	case conn := <-t.inbound:
		return conn, nil
	case <-t.closeCh:
		return nil, event.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements Transport.
func (t *MemoryTransport) Close() error {
	t.closeOnce.Do(func() { close(t.closeCh) })
	return nil
}

// memConn is one side of an in-memory connection.
type memConn struct {
	network    *Network
	localAddr  string
	remoteAddr string

	in   chan *event.WireMessage
	peer *memConn

	closeOnce sync.Once
	closeCh   chan struct{}
}

func newConnPair(n *Network, dialerAddr, acceptorAddr string) (*memConn, *memConn) {
	a := &memConn{
		network:    n,
		localAddr:  dialerAddr,
		remoteAddr: acceptorAddr,
		in:         make(chan *event.WireMessage, 64),
		closeCh:    make(chan struct{}),
	}
	b := &memConn{
		network:    n,
		localAddr:  acceptorAddr,
		remoteAddr: dialerAddr,
		in:         make(chan *event.WireMessage, 64),
		closeCh:    make(chan struct{}),
	}
	a.peer = b
	b.peer = a
	return a, b
}

// Send implements Conn. Messages to an isolated address vanish, the way
// packets into a partition do; the sender learns of the partition from
// heartbeat silence, not send errors.
func (c *memConn) Send(ctx context.Context, msg *event.WireMessage) error {
	if !c.network.reachable(c.localAddr, c.remoteAddr) {
		return nil // silently dropped on the floor
	}
	select {
	case c.peer.in <- msg:
		return nil
	case <-c.closeCh:
		return errors.Transient(fmt.Errorf("connection to %s closed", c.remoteAddr), "send")
	case <-c.peer.closeCh:
		return errors.Transient(fmt.Errorf("connection to %s closed", c.remoteAddr), "send")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Recv implements Conn.
func (c *memConn) Recv(ctx context.Context) (*event.WireMessage, error) {
	select {
	case msg := <-c.in:
		// Drop messages that crossed an isolation boundary in flight.
		if !c.network.reachable(c.localAddr, c.remoteAddr) {
			return c.Recv(ctx)
		}
		return msg, nil
	case <-c.closeCh:
		return nil, errors.Transient(fmt.Errorf("connection to %s closed", c.remoteAddr), "recv")
	case <-c.peer.closeCh:
		return nil, errors.Transient(fmt.Errorf("connection to %s closed", c.remoteAddr), "recv")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements Conn.
func (c *memConn) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	return nil
}
