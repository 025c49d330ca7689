package adnscache

import (
	"fmt"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/timeutil"
	"github.com/viktordanov/golang-lru/simplelru"
)

// ExpiringConfig is the configuration structure of an expiring cache.
type ExpiringConfig struct {
	// Clock is used to get the current time for expiration.  It must not be
	// nil.
	Clock timeutil.Clock

	// Size is the maximum number of elements.  It must be positive.
	Size int
}

// expEntry is an entry of the cache with expiration.
type expEntry[T any] struct {
	// val is the value of the entry.
	val T

	// expiration is the expiration unix time in nanoseconds.  Zero means no
	// expiration.
	expiration int64
}

// Expiring is a thread-safe, fixed-size LRU cache whose entries may carry an
// expiration time checked lazily on Get.
type Expiring[K comparable, T any] struct {
	// mu protects cache.
	mu *sync.RWMutex

	cache *simplelru.LRU[K, expEntry[T]]
	clock timeutil.Clock
}

// NewExpiring returns a new initialized *Expiring cache and error, if any.
// conf must not be nil.
func NewExpiring[K comparable, T any](conf *ExpiringConfig) (c *Expiring[K, T], err error) {
	lru, err := simplelru.NewLRU[K, expEntry[T]](conf.Size, nil)
	if err != nil {
		return nil, fmt.Errorf("adnscache: creating lru: %w", err)
	}

	return &Expiring[K, T]{
		mu:    &sync.RWMutex{},
		cache: lru,
		clock: conf.Clock,
	}, nil
}

// type check
var _ Interface[int, any] = (*Expiring[int, any])(nil)

// Set implements the [Interface] interface for *Expiring.
func (c *Expiring[K, T]) Set(key K, val T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Add(key, expEntry[T]{
		val: val,
	})
}

// SetWithExpire implements the [Interface] interface for *Expiring.
func (c *Expiring[K, T]) SetWithExpire(key K, val T, expiration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Add(key, expEntry[T]{
		val:        val,
		expiration: c.clock.Now().Add(expiration).UnixNano(),
	})
}

// Get implements the [Interface] interface for *Expiring.  It removes the key
// from the cache if the entry has expired.
func (c *Expiring[K, T]) Get(key K) (val T, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.cache.Get(key)
	if !ok {
		return val, false
	}

	if e.expiration > 0 && c.clock.Now().UnixNano() > e.expiration {
		c.cache.Remove(key)

		return val, false
	}

	return e.val, true
}

// Delete implements the [Interface] interface for *Expiring.
func (c *Expiring[K, T]) Delete(key K) (ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cache.Remove(key)
}

// type check
var _ Clearer = (*Expiring[int, any])(nil)

// Clear implements the [Interface] interface for *Expiring.
func (c *Expiring[K, T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cache.Purge()
}

// Len implements the [Interface] interface for *Expiring.  n may include
// entries that have expired but have not been looked up since.
func (c *Expiring[K, T]) Len() (n int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.cache.Len()
}
