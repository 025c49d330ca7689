package querylog

import (
	"context"
	"time"
)

// Metrics is an interface for monitoring the query log sinks.
type Metrics interface {
	// ObserveWrite records the duration of one completed sink write.
	ObserveWrite(ctx context.Context, dur time.Duration)

	// OnDropped records a log entry dropped because the queue was full.
	OnDropped(ctx context.Context)
}

// EmptyMetrics is a [Metrics] implementation that does nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// ObserveWrite implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) ObserveWrite(_ context.Context, _ time.Duration) {}

// OnDropped implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) OnDropped(_ context.Context) {}
