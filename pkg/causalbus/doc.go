/*
Package causalbus provides a distributed event bus with causal ordering.

# Overview

causalbus is a Go library for publishing and subscribing to events
across a cluster of nodes while preserving causal order. Every event is
stamped with a hybrid logical clock value, held briefly in an adaptive
ordered-delivery buffer, and released to subscribers in ascending causal
order. Per-channel token-bucket quotas keep noisy publishers from
starving the rest of the bus, and an emergency bypass path exists for
signals where latency beats ordering.

The library favors degradation over refusal:
  - Out-of-order arrivals deliver flagged Reordered, never silently
  - Buffer pressure force-flushes with a ForcedFlush tag instead of
    dropping
  - Remote clocks running too far ahead flag SuspectCausality instead
    of rejecting the event
  - A slow subscriber drops its own deliveries without blocking others

# Basic Usage

Create a bus, subscribe, and publish:

	bus, err := causalbus.New(causalbus.Config{NodeID: "node-a"})
	if err != nil {
	    log.Fatal(err)
	}
	defer bus.Close()

	bus.Subscribe("orders", causalbus.HandlerFunc(
	    func(ctx context.Context, evt event.Event, meta event.DeliveryMetadata) error {
	        fmt.Printf("%s: %s\n", evt.Timestamp, evt.Payload)
	        return nil
	    }))

	id, err := bus.Publish(context.Background(), "orders", []byte("created"))

Events on one channel arrive in ascending hybrid-logical-clock order,
with origin node id breaking exact ties.

# Quotas

Each channel carries a token bucket; one publish costs one token.
Exhausted channels reject with ErrQuotaExceeded and an OverflowSignal
goes out on causalbus.overflow:

	bus, _ := causalbus.New(causalbus.Config{
	    Quota: quota.Limit{Capacity: 5, RefillRate: 1},
	})

	bus.Subscribe(causalbus.OverflowChannel, overflowHandler)

# Emergency Bypass

Bypass publishes skip quota, buffering, and compression:

	id, err := bus.Publish(ctx, "alerts", payload, causalbus.WithBypass())

The event reaches local subscribers immediately, still causally stamped
and still relayed to peers.

# Clustering

Give the bus a transport and peer addresses and every local publish is
relayed to the cluster:

	bus, _ := causalbus.New(causalbus.Config{
	    NodeID:    "node-a",
	    Transport: transport,
	    Peers:     []string{"node-b:9400"},
	})

Peer events merge into the local clock, deduplicate by event id, and
flow through the same ordered-delivery buffer as local ones. Silent
peers are reported on causalbus.partition after a timeout and again
when they recover.

# Journaling

Configure a journal store to keep delivery history:

	store, _ := journal.NewSQLiteStore("./journal.db")
	bus, _ := causalbus.New(causalbus.Config{Journal: store})

	records, _ := bus.History("orders", 100)

# Thread Safety

  - Bus IS safe for concurrent use
  - Publish and Subscribe may be called from any goroutine
  - Handlers run on their subscription's own goroutine; a handler only
    ever sees one delivery at a time

# Subpackages

  - hlc: Hybrid logical clock
  - event: Event records, wire format, sentinel errors
  - quota: Token-bucket admission control
  - buffer: Adaptive ordered-delivery buffer
  - compress: Semantic compression of release batches
  - registry: Subscription fan-out
  - cluster: Peer relay, dedup, partition detection
  - journal: Delivery history (memory, SQLite)
  - config: File configuration loading
  - observability: Logging, metrics, and tracing helpers
*/
package causalbus
