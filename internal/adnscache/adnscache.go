// Package adnscache contains cache interfaces, helpers, and implementations
// used across AmberDNS.
package adnscache

import (
	"time"
)

// Interface is the cache interface.  Implementations must be safe for
// concurrent use.
type Interface[K, T any] interface {
	// Set sets key and val as a cache pair.
	Set(key K, val T)

	// SetWithExpire sets key and val as a cache pair with an expiration time.
	SetWithExpire(key K, val T, expiration time.Duration)

	// Get gets val from the cache using key.
	Get(key K) (val T, ok bool)

	// Delete removes the pair with key, if any.  ok is true if the pair was
	// present.
	Delete(key K) (ok bool)

	// Clearer completely clears the cache.
	Clearer

	// Len returns the number of items in the cache.
	Len() (n int)
}

// Clearer is a partial cache interface.
type Clearer interface {
	// Clear completely clears the cache.
	Clear()
}

// Empty is an [Interface] implementation that does nothing.
type Empty[K, T any] struct{}

// type check
var _ Interface[any, any] = Empty[any, any]{}

// Set implements the [Interface] interface for Empty.
func (c Empty[K, T]) Set(key K, val T) {}

// SetWithExpire implements the [Interface] interface for Empty.
func (c Empty[K, T]) SetWithExpire(key K, val T, expiration time.Duration) {}

// Get implements the [Interface] interface for Empty.
func (c Empty[K, T]) Get(key K) (val T, ok bool) {
	return val, false
}

// Delete implements the [Interface] interface for Empty.  ok is always false.
func (c Empty[K, T]) Delete(key K) (ok bool) { return false }

// type check
var _ Clearer = Empty[any, any]{}

// Clear implements the [Interface] interface for Empty.
func (c Empty[K, T]) Clear() {}

// Len implements the [Interface] interface for Empty.
func (c Empty[K, T]) Len() (n int) {
	return 0
}
