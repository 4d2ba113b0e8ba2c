package causalbus

import (
	"encoding/json"
	"strings"

	"github.com/randalmurphal/causalbus/pkg/causalbus/event"
)

// reservedPrefix marks channels owned by the bus itself. Applications
// subscribe to them but cannot publish on them.
const reservedPrefix = "causalbus."

// Signal channels. Notifications about bus degradation are ordinary
// events on these channels, delivered to whoever subscribes.
const (
	// OverflowChannel carries OverflowSignal payloads whenever a publish
	// is rejected by quota.
	OverflowChannel = "causalbus.overflow"

	// ForcedFlushChannel carries ForcedFlushSignal payloads whenever
	// buffer pressure releases events out of strict order.
	ForcedFlushChannel = "causalbus.forcedflush"

	// PartitionChannel carries PartitionSignal payloads when a peer's
	// partition state changes.
	PartitionChannel = "causalbus.partition"
)

// OverflowSignal is the payload published on OverflowChannel.
type OverflowSignal struct {
	Channel         string  `json:"channel"`
	TokensRemaining float64 `json:"tokens_remaining"`
}

// ForcedFlushSignal is the payload published on ForcedFlushChannel.
type ForcedFlushSignal struct {
	Channel  string `json:"channel"`
	Released int    `json:"released"`
}

// PartitionSignal is the payload published on PartitionChannel.
type PartitionSignal struct {
	Peer     string `json:"peer"`
	Resolved bool   `json:"resolved"`
}

func isReserved(channel string) bool {
	return strings.HasPrefix(channel, reservedPrefix)
}

// emitSignal delivers a bus notification directly to subscribers of a
// signal channel. Signals skip quota and buffering: a bus under
// pressure must still be able to say so.
func (b *Bus) emitSignal(channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	evt := event.New(channel, data, b.clock.Now(), b.config.NodeID)
	b.registry.Deliver(event.Delivery{Event: evt})
}
