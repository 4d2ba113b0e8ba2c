package event

import (
	"encoding/json"
	"fmt"

	"github.com/randalmurphal/causalbus/pkg/causalbus/hlc"
)

// MessageKind discriminates cluster wire messages.
type MessageKind string

// Wire message kinds.
const (
	KindEvent     MessageKind = "event"
	KindHeartbeat MessageKind = "heartbeat"
)

// WireMessage is the unit exchanged between cluster peers: either an
// event relay or a heartbeat used for partition detection.
type WireMessage struct {
	Kind MessageKind `json:"kind"`

	// NodeID identifies the sending node.
	NodeID string `json:"node_id"`

	// Timestamp is the sender's clock at send time. For event messages
	// it duplicates the event stamp so heartbeats and relays advance
	// receiver clocks uniformly.
	Timestamp hlc.Timestamp `json:"timestamp"`

	// Event is present for KindEvent messages.
	Event *Event `json:"event,omitempty"`
}

// EventMessage builds a relay message for an event.
func EventMessage(nodeID string, evt Event) *WireMessage {
	return &WireMessage{
		Kind:      KindEvent,
		NodeID:    nodeID,
		Timestamp: evt.Timestamp,
		Event:     &evt,
	}
}

// HeartbeatMessage builds a peer heartbeat.
func HeartbeatMessage(nodeID string, ts hlc.Timestamp) *WireMessage {
	return &WireMessage{
		Kind:      KindHeartbeat,
		NodeID:    nodeID,
		Timestamp: ts,
	}
}

// Encode serializes the message for transport.
func (m *WireMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode wire message: %w", err)
	}
	return data, nil
}

// DecodeMessage parses a wire message.
func DecodeMessage(data []byte) (*WireMessage, error) {
	var m WireMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode wire message: %w", err)
	}
	switch m.Kind {
	case KindEvent:
		if m.Event == nil {
			return nil, fmt.Errorf("decode wire message: event message without event")
		}
	case KindHeartbeat:
	default:
		return nil, fmt.Errorf("decode wire message: unknown kind %q", m.Kind)
	}
	return &m, nil
}
