package remotekv

import (
	"context"
	"time"
)

// Op is the type alias for strings that contain a remote key-value storage
// operation name.
type Op = string

// Remote key-value storage operation names for [Op].
const (
	OpGet Op = "get"
	OpSet Op = "set"
)

// Metrics is an interface that is used for the collection of the remote
// key-value storage statistics.
type Metrics interface {
	// ObserveOperation updates the duration statistics of a single storage
	// operation.  op must be one of the [Op] values.
	ObserveOperation(ctx context.Context, op Op, dur time.Duration)

	// IncrementLookups increments the number of lookups.  hit is true if the
	// lookup returned a value.
	IncrementLookups(ctx context.Context, hit bool)
}

// EmptyMetrics is the implementation of the [Metrics] interface that does
// nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// ObserveOperation implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) ObserveOperation(_ context.Context, _ Op, _ time.Duration) {}

// IncrementLookups implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) IncrementLookups(_ context.Context, _ bool) {}
