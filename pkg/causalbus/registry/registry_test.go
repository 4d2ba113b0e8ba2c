package registry_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/causalbus/pkg/causalbus/event"
	"github.com/randalmurphal/causalbus/pkg/causalbus/hlc"
	"github.com/randalmurphal/causalbus/pkg/causalbus/registry"
)

func mkDelivery(channel string, wall int64) event.Delivery {
	return event.Delivery{
		Event: event.New(channel, []byte("p"), hlc.Timestamp{WallMillis: wall}, "n1"),
	}
}

func countingHandler(n *atomic.Int32) registry.Handler {
	return registry.HandlerFunc(func(ctx context.Context, evt event.Event, meta event.DeliveryMetadata) error {
		n.Add(1)
		return nil
	})
}

func TestFanOutToAllSubscribers(t *testing.T) {
	reg := registry.New(registry.Config{QueueSize: 10})
	defer reg.Close()

	var a, b, c atomic.Int32
	for _, n := range []*atomic.Int32{&a, &b, &c} {
		sub, err := reg.Subscribe("ops", 0, countingHandler(n))
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		defer sub.Unsubscribe()
	}

	reg.Deliver(mkDelivery("ops", 100))
	time.Sleep(50 * time.Millisecond)

	if a.Load() != 1 || b.Load() != 1 || c.Load() != 1 {
		t.Errorf("expected all subscribers to receive the event, got %d, %d, %d",
			a.Load(), b.Load(), c.Load())
	}
}

func TestDeliverOnlyMatchingChannel(t *testing.T) {
	reg := registry.New(registry.Config{QueueSize: 10})
	defer reg.Close()

	var received atomic.Int32
	sub, err := reg.Subscribe("ops", 0, countingHandler(&received))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	reg.Deliver(mkDelivery("other", 100))
	time.Sleep(50 * time.Millisecond)

	if received.Load() != 0 {
		t.Errorf("expected no deliveries on foreign channel, got %d", received.Load())
	}
}

func TestSlowSubscriberDropsAlone(t *testing.T) {
	var dropped atomic.Int32
	reg := registry.New(registry.Config{
		QueueSize: 1,
		OnDrop: func(subscriptionID string, d event.Delivery) {
			dropped.Add(1)
		},
	})
	defer reg.Close()

	var fastCount atomic.Int32
	block := make(chan struct{})

	slow, err := reg.Subscribe("ops", 0, registry.HandlerFunc(func(ctx context.Context, evt event.Event, meta event.DeliveryMetadata) error {
		<-block
		return nil
	}))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer slow.Unsubscribe()

	fast, err := reg.Subscribe("ops", 0, countingHandler(&fastCount))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer fast.Unsubscribe()

	for i := int64(0); i < 10; i++ {
		reg.Deliver(mkDelivery("ops", 100+i))
	}
	time.Sleep(50 * time.Millisecond)
	close(block)

	if fastCount.Load() != 10 {
		t.Errorf("fast subscriber should receive everything, got %d", fastCount.Load())
	}
	if dropped.Load() == 0 {
		t.Error("expected drops for the blocked subscriber")
	}
}

func TestDropPreservesDeliveryMetadata(t *testing.T) {
	var dropped []event.Delivery
	var mu sync.Mutex
	reg := registry.New(registry.Config{
		QueueSize: 1,
		OnDrop: func(subscriptionID string, d event.Delivery) {
			mu.Lock()
			dropped = append(dropped, d)
			mu.Unlock()
		},
	})
	defer reg.Close()

	block := make(chan struct{})
	sub, err := reg.Subscribe("ops", 0, registry.HandlerFunc(func(ctx context.Context, evt event.Event, meta event.DeliveryMetadata) error {
		<-block
		return nil
	}))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	d := mkDelivery("ops", 100)
	d.Meta = event.DeliveryMetadata{ForcedFlush: true, CompressedCount: 3}
	reg.Deliver(mkDelivery("ops", 99)) // fills the queue of 1
	reg.Deliver(d)
	time.Sleep(50 * time.Millisecond)
	close(block)

	mu.Lock()
	defer mu.Unlock()
	if len(dropped) == 0 {
		t.Fatal("expected a drop")
	}
	got := dropped[0].Meta
	if !got.ForcedFlush || got.CompressedCount != 3 {
		t.Errorf("drop lost metadata: %+v", got)
	}
}

func TestDeliverToTargetsSingleSubscription(t *testing.T) {
	reg := registry.New(registry.Config{QueueSize: 10})
	defer reg.Close()

	var a, b atomic.Int32
	subA, err := reg.Subscribe("ops", 0, countingHandler(&a))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer subA.Unsubscribe()
	subB, err := reg.Subscribe("ops", 0, countingHandler(&b))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if !reg.DeliverTo(subA.ID(), mkDelivery("ops", 100)) {
		t.Fatal("DeliverTo must find a live subscription")
	}
	time.Sleep(50 * time.Millisecond)

	if a.Load() != 1 {
		t.Errorf("targeted subscription got %d deliveries, want 1", a.Load())
	}
	if b.Load() != 0 {
		t.Errorf("other subscription must not receive a targeted delivery, got %d", b.Load())
	}

	subB.Unsubscribe()
	if reg.DeliverTo(subB.ID(), mkDelivery("ops", 101)) {
		t.Error("DeliverTo must report a gone subscription")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	reg := registry.New(registry.Config{QueueSize: 10})
	defer reg.Close()

	var received atomic.Int32
	sub, err := reg.Subscribe("ops", 0, countingHandler(&received))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	reg.Deliver(mkDelivery("ops", 100))
	time.Sleep(50 * time.Millisecond)

	sub.Unsubscribe()
	reg.Deliver(mkDelivery("ops", 101))
	time.Sleep(50 * time.Millisecond)

	if received.Load() != 1 {
		t.Errorf("expected 1 delivery before unsubscribe, got %d", received.Load())
	}
	if reg.Subscribers("ops") != 0 {
		t.Errorf("expected 0 subscribers after unsubscribe, got %d", reg.Subscribers("ops"))
	}
}

func TestHandlerErrorReported(t *testing.T) {
	var reported atomic.Int32
	reg := registry.New(registry.Config{
		QueueSize: 10,
		OnError: func(subscriptionID string, evt event.Event, err error) {
			reported.Add(1)
		},
	})
	defer reg.Close()

	sub, err := reg.Subscribe("ops", 0, registry.HandlerFunc(func(ctx context.Context, evt event.Event, meta event.DeliveryMetadata) error {
		return context.DeadlineExceeded
	}))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	reg.Deliver(mkDelivery("ops", 100))
	time.Sleep(50 * time.Millisecond)

	if reported.Load() != 1 {
		t.Errorf("expected 1 error report, got %d", reported.Load())
	}
}

func TestMaxDeliveryWindow(t *testing.T) {
	reg := registry.New(registry.Config{QueueSize: 10})
	defer reg.Close()

	var n atomic.Int32
	s1, _ := reg.Subscribe("ops", 30*time.Millisecond, countingHandler(&n))
	defer s1.Unsubscribe()
	s2, _ := reg.Subscribe("ops", 120*time.Millisecond, countingHandler(&n))

	if got := reg.MaxDeliveryWindow("ops"); got != 120*time.Millisecond {
		t.Errorf("expected 120ms, got %v", got)
	}

	s2.Unsubscribe()
	if got := reg.MaxDeliveryWindow("ops"); got != 30*time.Millisecond {
		t.Errorf("expected 30ms after unsubscribe, got %v", got)
	}
	if got := reg.MaxDeliveryWindow("empty"); got != 0 {
		t.Errorf("expected 0 for channel without subscribers, got %v", got)
	}
}

func TestSubscribeAfterCloseFails(t *testing.T) {
	reg := registry.New(registry.Config{})
	reg.Close()

	var n atomic.Int32
	if _, err := reg.Subscribe("ops", 0, countingHandler(&n)); err == nil {
		t.Error("expected error subscribing to a closed registry")
	}
}
