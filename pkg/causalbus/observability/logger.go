// Package observability provides production-grade observability features
// for causalbus: structured logging, metrics, and distributed tracing.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds bus context to a logger.
// Returns a new logger with node_id and channel fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "node-a", "telemetry")
//	enriched.Info("delivering") // includes node_id, channel
func EnrichLogger(logger *slog.Logger, nodeID, channel string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("node_id", nodeID),
		slog.String("channel", channel),
	)
}

// LogPublish logs event admission into the pipeline.
func LogPublish(logger *slog.Logger, channel, eventID string, bypass bool) {
	if logger == nil {
		return
	}
	logger.Debug("event published",
		slog.String("channel", channel),
		slog.String("event_id", eventID),
		slog.Bool("bypass", bypass),
	)
}

// LogQuotaRejected logs a publish turned away by the variety quota.
func LogQuotaRejected(logger *slog.Logger, channel string, tokens float64) {
	if logger == nil {
		return
	}
	logger.Warn("publish rejected by quota",
		slog.String("channel", channel),
		slog.Float64("tokens_remaining", tokens),
	)
}

// LogForcedFlush logs an occupancy-ceiling flush of the delivery buffer.
func LogForcedFlush(logger *slog.Logger, channel string, released int) {
	if logger == nil {
		return
	}
	logger.Warn("buffer ceiling reached, forcing flush",
		slog.String("channel", channel),
		slog.Int("events_released", released),
	)
}

// LogWindowResize logs an adaptive delivery-window change.
func LogWindowResize(logger *slog.Logger, channel string, from, to time.Duration) {
	if logger == nil {
		return
	}
	logger.Debug("delivery window resized",
		slog.String("channel", channel),
		slog.Duration("from", from),
		slog.Duration("to", to),
	)
}

// LogSuspectCausality logs a remote clock hint rejected for drift.
func LogSuspectCausality(logger *slog.Logger, origin, eventID string) {
	if logger == nil {
		return
	}
	logger.Warn("remote timestamp exceeds drift bound",
		slog.String("origin", origin),
		slog.String("event_id", eventID),
	)
}

// LogSubscriberDrop logs a delivery dropped on a full subscriber queue.
func LogSubscriberDrop(logger *slog.Logger, subscriptionID, channel, eventID string) {
	if logger == nil {
		return
	}
	logger.Warn("subscriber queue full, dropping delivery",
		slog.String("subscription_id", subscriptionID),
		slog.String("channel", channel),
		slog.String("event_id", eventID),
	)
}

// LogPartitionSuspected logs a peer gone silent past the partition
// timeout.
func LogPartitionSuspected(logger *slog.Logger, peer string, silence time.Duration) {
	if logger == nil {
		return
	}
	logger.Warn("peer partition suspected",
		slog.String("peer", peer),
		slog.Duration("silence", silence),
	)
}

// LogPartitionResolved logs a suspected peer heard from again.
func LogPartitionResolved(logger *slog.Logger, peer string) {
	if logger == nil {
		return
	}
	logger.Info("peer partition resolved",
		slog.String("peer", peer),
	)
}

// LogJournalError logs a journal write failure (non-fatal).
func LogJournalError(logger *slog.Logger, eventID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("journal write failed",
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
