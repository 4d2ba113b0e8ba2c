package event_test

import (
	"sort"
	"testing"

	"github.com/randalmurphal/causalbus/pkg/causalbus/event"
	"github.com/randalmurphal/causalbus/pkg/causalbus/hlc"
)

func TestDigestIDDependsOnContentAndTime(t *testing.T) {
	ts := hlc.Timestamp{WallMillis: 100}

	base := event.DigestID("ops", []byte("a"), ts)

	if got := event.DigestID("ops", []byte("a"), ts); got != base {
		t.Error("identical inputs must produce identical ids")
	}
	if got := event.DigestID("ops", []byte("b"), ts); got == base {
		t.Error("different payload must change the id")
	}
	if got := event.DigestID("other", []byte("a"), ts); got == base {
		t.Error("different channel must change the id")
	}
	if got := event.DigestID("ops", []byte("a"), hlc.Timestamp{WallMillis: 100, Logical: 1}); got == base {
		t.Error("different timestamp must change the id")
	}
}

func TestCompareTieBreaksOnOrigin(t *testing.T) {
	// Three events on one channel: (100,0,"n1"), (100,0,"n2"), (101,0,"n1")
	// must order n1@100 < n2@100 < n1@101.
	a := event.New("ops", []byte("x"), hlc.Timestamp{WallMillis: 100}, "n1")
	b := event.New("ops", []byte("y"), hlc.Timestamp{WallMillis: 100}, "n2")
	c := event.New("ops", []byte("z"), hlc.Timestamp{WallMillis: 101}, "n1")

	events := []event.Event{c, b, a}
	sort.Slice(events, func(i, j int) bool { return event.Less(events[i], events[j]) })

	want := []string{"n1", "n2", "n1"}
	for i, evt := range events {
		if evt.Origin != want[i] {
			t.Fatalf("position %d: got origin %s, want %s", i, evt.Origin, want[i])
		}
	}
	if events[2].Timestamp.WallMillis != 101 {
		t.Error("highest timestamp must sort last")
	}
}

func TestWireMessageRoundTrip(t *testing.T) {
	evt := event.New("ops", []byte("payload"), hlc.Timestamp{WallMillis: 42, Logical: 3}, "n1")

	data, err := event.EventMessage("n1", evt).Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	msg, err := event.DecodeMessage(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Kind != event.KindEvent {
		t.Fatalf("expected event kind, got %s", msg.Kind)
	}
	if msg.Event.ID != evt.ID || msg.Event.Channel != "ops" {
		t.Errorf("event did not survive round trip: %+v", msg.Event)
	}
}

func TestDecodeMessageRejectsMalformed(t *testing.T) {
	if _, err := event.DecodeMessage([]byte(`{"kind":"event"}`)); err == nil {
		t.Error("event message without event body should fail")
	}
	if _, err := event.DecodeMessage([]byte(`{"kind":"mystery"}`)); err == nil {
		t.Error("unknown kind should fail")
	}
	if _, err := event.DecodeMessage([]byte(`not json`)); err == nil {
		t.Error("malformed json should fail")
	}
}
