package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWindowCounter(t *testing.T) {
	window := 1 * time.Minute
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	c := newWindowCounter(start, window)

	// Fill the first bucket.
	var est uint
	var end time.Time
	for range 5 {
		est, end = c.add(start)
	}
	assert.Equal(t, uint(5), est)
	assert.Equal(t, start.Add(window), end)

	// Half a window later the queries of the same bucket still count in full.
	est, _ = c.add(start.Add(30 * time.Second))
	assert.Equal(t, uint(6), est)

	// Right after the bucket rotation the whole previous bucket is still
	// within the sliding window.
	est, end = c.add(start.Add(window))
	assert.Equal(t, uint(7), est)
	assert.Equal(t, start.Add(2*window), end)

	// In the middle of the second bucket only half of the previous one is
	// covered.
	est, _ = c.add(start.Add(window + 30*time.Second))
	assert.Equal(t, uint(5), est)

	// After a quiet full window the history is gone.
	est, _ = c.add(start.Add(4 * window))
	assert.Equal(t, uint(1), est)
}
