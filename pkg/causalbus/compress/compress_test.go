package compress_test

import (
	"testing"
	"time"

	"github.com/randalmurphal/causalbus/pkg/causalbus/compress"
	"github.com/randalmurphal/causalbus/pkg/causalbus/event"
	"github.com/randalmurphal/causalbus/pkg/causalbus/hlc"
)

func mkDelivery(wall int64, payload string) event.Delivery {
	return event.Delivery{
		Event: event.New("ops", []byte(payload), hlc.Timestamp{WallMillis: wall}, "n1"),
	}
}

func TestCompressMergesWithinWindow(t *testing.T) {
	c := compress.New(compress.ChannelKey, 100*time.Millisecond)

	batch := []event.Delivery{
		mkDelivery(1000, "first"),
		mkDelivery(1020, "second"),
		mkDelivery(1050, "third"),
	}

	out := c.Compress(batch)

	if len(out) != 1 {
		t.Fatalf("expected 1 representative, got %d", len(out))
	}
	if got := string(out[0].Event.Payload); got != "third" {
		t.Errorf("representative should carry most recent payload, got %q", got)
	}
	if out[0].Meta.CompressedCount != 3 {
		t.Errorf("expected compressed count 3, got %d", out[0].Meta.CompressedCount)
	}
}

func TestCompressSplitsAcrossWindows(t *testing.T) {
	c := compress.New(compress.ChannelKey, 100*time.Millisecond)

	batch := []event.Delivery{
		mkDelivery(1000, "a"),
		mkDelivery(1050, "b"),
		mkDelivery(1500, "c"), // new window
	}

	out := c.Compress(batch)

	if len(out) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(out))
	}
	if out[0].Meta.CompressedCount != 2 {
		t.Errorf("first group count = %d, want 2", out[0].Meta.CompressedCount)
	}
	if out[1].Meta.CompressedCount != 0 {
		t.Errorf("singleton should have zero count, got %d", out[1].Meta.CompressedCount)
	}
	if string(out[1].Event.Payload) != "c" {
		t.Errorf("second group payload = %q, want c", out[1].Event.Payload)
	}
}

func TestCompressGroupsBySimilarityKey(t *testing.T) {
	keyFn := func(evt event.Event) string { return string(evt.Payload[:1]) }
	c := compress.New(keyFn, 100*time.Millisecond)

	batch := []event.Delivery{
		mkDelivery(1000, "a1"),
		mkDelivery(1010, "b1"),
		mkDelivery(1020, "a2"),
		mkDelivery(1030, "b2"),
	}

	out := c.Compress(batch)

	if len(out) != 2 {
		t.Fatalf("expected 2 representatives, got %d", len(out))
	}
	// Output stays in ascending event order.
	if !event.Less(out[0].Event, out[1].Event) {
		t.Error("compressed output must remain ordered")
	}
	for _, d := range out {
		if d.Meta.CompressedCount != 2 {
			t.Errorf("group %q count = %d, want 2", d.Event.Payload, d.Meta.CompressedCount)
		}
	}
}

func TestCompressPreservesDegradationFlags(t *testing.T) {
	c := compress.New(compress.ChannelKey, 100*time.Millisecond)

	a := mkDelivery(1000, "a")
	a.Meta.Reordered = true
	b := mkDelivery(1010, "b")

	out := c.Compress([]event.Delivery{a, b})

	if len(out) != 1 {
		t.Fatalf("expected 1 representative, got %d", len(out))
	}
	if !out[0].Meta.Reordered {
		t.Error("reordered flag must survive compression")
	}
}

func TestPrefixKeyGroupsByPayloadHead(t *testing.T) {
	c := compress.New(compress.PrefixKey(4), 100*time.Millisecond)

	batch := []event.Delivery{
		mkDelivery(1000, "cpu:92"),
		mkDelivery(1010, "cpu:95"),
		mkDelivery(1020, "mem:71"),
	}

	out := c.Compress(batch)

	if len(out) != 2 {
		t.Fatalf("expected 2 representatives, got %d", len(out))
	}
	if out[0].Meta.CompressedCount != 2 {
		t.Errorf("cpu group count = %d, want 2", out[0].Meta.CompressedCount)
	}
	if string(out[1].Event.Payload) != "mem:71" {
		t.Errorf("mem reading must stay separate, got %q", out[1].Event.Payload)
	}
}

func TestCompressPassesSingletonsThrough(t *testing.T) {
	c := compress.New(compress.ChannelKey, 100*time.Millisecond)

	batch := []event.Delivery{mkDelivery(1000, "only")}
	out := c.Compress(batch)

	if len(out) != 1 || out[0].Meta.CompressedCount != 0 {
		t.Errorf("single-entry batch must pass through untouched: %+v", out)
	}
}
