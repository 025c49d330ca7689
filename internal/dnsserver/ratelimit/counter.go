package ratelimit

import (
	"sync"
	"time"
)

// Sliding Window Counter

// windowCounter is a sliding-window query counter that only keeps the current
// and the previous fixed time buckets, so the state per client is constant.
// The number of queries within the sliding window is estimated as the count
// in the current bucket plus the part of the previous one still covered by
// the window.
type windowCounter struct {
	// mu protects all fields.
	mu *sync.Mutex

	// curStart is the start of the current bucket.
	curStart time.Time

	// window is the bucket length.
	window time.Duration

	// prev and cur are the query counts in the previous and the current
	// buckets.
	prev uint
	cur  uint
}

// newWindowCounter returns a new sliding-window counter with the first bucket
// starting at now.  window must be positive.
func newWindowCounter(now time.Time, window time.Duration) (c *windowCounter) {
	return &windowCounter{
		mu:       &sync.Mutex{},
		curStart: now,
		window:   window,
	}
}

// add records a query at now and returns the estimated number of queries
// within the sliding window ending at now, including this one.  windowEnd is
// the end of the current bucket.  It is safe for concurrent use.
func (c *windowCounter) add(now time.Time) (estimate uint, windowEnd time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rotate(now)
	c.cur++

	// The fraction of the previous bucket that the sliding window still
	// covers.
	rem := float64(c.window-now.Sub(c.curStart)) / float64(c.window)

	return c.cur + uint(float64(c.prev)*rem), c.curStart.Add(c.window)
}

// rotate advances the buckets so that now falls into the current one.
func (c *windowCounter) rotate(now time.Time) {
	elapsed := now.Sub(c.curStart)
	switch {
	case elapsed < c.window:
		// The current bucket is still running.
	case elapsed < 2*c.window:
		c.prev, c.cur = c.cur, 0
		c.curStart = c.curStart.Add(c.window)
	default:
		// The client hasn't queried for at least a full window, so the
		// history does not matter anymore.
		c.prev, c.cur = 0, 0
		c.curStart = now
	}
}
