package dnscache

import "context"

// Metrics is an interface that is used for the collection of the answer-cache
// statistics.
type Metrics interface {
	// OnLookup reports the result of a cache lookup.
	OnLookup(ctx context.Context, state HitState)

	// OnAdd reports an entry added to the cache together with the new number
	// of entries.
	OnAdd(ctx context.Context, negative bool, count int)
}

// EmptyMetrics is a [Metrics] implementation that does nothing.
type EmptyMetrics struct{}

// type check
var _ Metrics = EmptyMetrics{}

// OnLookup implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) OnLookup(_ context.Context, _ HitState) {}

// OnAdd implements the [Metrics] interface for EmptyMetrics.
func (EmptyMetrics) OnAdd(_ context.Context, _ bool, _ int) {}
