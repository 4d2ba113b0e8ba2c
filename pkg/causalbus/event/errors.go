package event

import (
	"errors"
	"fmt"
)

// Sentinel errors returned synchronously to publishers.
// Admission failures are never retried automatically by the bus.
var (
	// ErrQuotaExceeded is returned when a channel's token bucket is empty.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrInvalidChannel is returned for empty or reserved channel names.
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrClosed is returned for operations on a closed bus.
	ErrClosed = errors.New("bus is closed")
)

// BusError wraps a bus failure with the channel and event it concerns.
type BusError struct {
	Channel string // Channel involved
	EventID string // Event id, if one was created
	Message string // Error message
	Err     error  // Underlying error
}

// Error implements the error interface.
func (e *BusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("channel %s: %s: %v", e.Channel, e.Message, e.Err)
	}
	return fmt.Sprintf("channel %s: %s", e.Channel, e.Message)
}

// Unwrap returns the underlying error.
func (e *BusError) Unwrap() error {
	return e.Err
}
