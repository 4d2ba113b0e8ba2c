// Package event defines the records that flow through the bus.
//
// An Event is immutable once created: its identity is a content-derived
// digest over (channel, payload, timestamp), so republishing identical
// content at a different logical moment yields a different id, while an
// exact re-delivery of the same record is detectable for deduplication.
//
// Design Influences:
//   - Apache Kafka (opaque payloads, per-topic ordering)
//   - AWS EventBridge (delivery metadata alongside the record)
package event

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"

	"github.com/randalmurphal/causalbus/pkg/causalbus/hlc"
)

// Event is a single immutable record published to a channel.
// The payload is opaque to the bus.
type Event struct {
	// ID is the content-derived digest identifying this event globally.
	ID string `json:"id"`

	// Channel is the logical topic the event was published to.
	Channel string `json:"channel"`

	// Payload is the opaque application data.
	Payload []byte `json:"payload"`

	// Timestamp is the hybrid logical clock value stamped at publish time.
	Timestamp hlc.Timestamp `json:"timestamp"`

	// Origin identifies the node that published the event.
	Origin string `json:"origin"`
}

// New creates an event, computing its digest id.
func New(channel string, payload []byte, ts hlc.Timestamp, origin string) Event {
	return Event{
		ID:        DigestID(channel, payload, ts),
		Channel:   channel,
		Payload:   payload,
		Timestamp: ts,
		Origin:    origin,
	}
}

// DigestID computes the content-derived event id: a SHA-256 digest over
// the channel, payload, and timestamp, hex-encoded.
func DigestID(channel string, payload []byte, ts hlc.Timestamp) string {
	h := sha256.New()
	h.Write([]byte(channel))
	h.Write([]byte{0})
	h.Write(payload)

	var stamp [12]byte
	binary.BigEndian.PutUint64(stamp[:8], uint64(ts.WallMillis))
	binary.BigEndian.PutUint32(stamp[8:], ts.Logical)
	h.Write(stamp[:])

	return hex.EncodeToString(h.Sum(nil))
}

// Compare orders two events: by HLC timestamp first, with a final
// tie-break on origin node id (lexicographic).
func Compare(a, b Event) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	switch {
	case a.Origin < b.Origin:
		return -1
	case a.Origin > b.Origin:
		return 1
	}
	return 0
}

// Less reports whether a orders before b.
func Less(a, b Event) bool {
	return Compare(a, b) < 0
}

// DeliveryMetadata describes how an event reached a subscriber.
// Degradations are reported here rather than as errors.
type DeliveryMetadata struct {
	// Reordered is set when the event arrived out of order relative to
	// the channel's recent history.
	Reordered bool `json:"reordered"`

	// ForcedFlush is set when buffer pressure released the event before
	// strict ordering could be guaranteed.
	ForcedFlush bool `json:"forced_flush"`

	// SuspectCausality is set when the event's remote timestamp exceeded
	// the configured clock drift bound.
	SuspectCausality bool `json:"suspect_causality"`

	// CompressedCount is the number of near-duplicate events this record
	// represents. Zero or one means no compression occurred.
	CompressedCount int `json:"compressed_count"`
}

// Delivery pairs an event with its delivery metadata.
type Delivery struct {
	Event Event            `json:"event"`
	Meta  DeliveryMetadata `json:"meta"`
}
