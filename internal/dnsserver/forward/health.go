package forward

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/AdguardTeam/golibs/timeutil"
)

const (
	// failureThreshold is the number of consecutive failures after which an
	// upstream is placed into cooldown.
	failureThreshold = 3

	// maxCooldown is the upper bound of the cooldown duration.
	maxCooldown = 300 * time.Second

	// ewmaWeight is the weight of a new latency sample in the moving average.
	ewmaWeight = 0.3
)

// upstreamHealth tracks the health of a single upstream.  All its fields are
// updated atomically, so it can be shared between the query path and the
// healthcheck probes without locking.
type upstreamHealth struct {
	clock timeutil.Clock

	// failures is the number of consecutive failed exchanges.  It is reset to
	// zero by any successful exchange.
	failures atomic.Int64

	// cooldownUntil is the Unix nanosecond timestamp until which the upstream
	// should not be selected, or zero if it's not in cooldown.
	cooldownUntil atomic.Int64

	// ewmaLatency contains the moving average of the upstream's latency in
	// seconds as the bits of a float64.  Zero means no samples yet.
	ewmaLatency atomic.Uint64

	// up is 1 if the last exchange with the upstream succeeded.  It is only
	// used for reporting status changes.
	up atomic.Bool
}

// newUpstreamHealth returns a new *upstreamHealth considered initially up.
// clock must not be nil.
func newUpstreamHealth(clock timeutil.Clock) (h *upstreamHealth) {
	h = &upstreamHealth{
		clock: clock,
	}
	h.up.Store(true)

	return h
}

// markSuccess records a successful exchange with the given latency.  It
// clears the failure counter and cooldown and folds the latency into the
// moving average.  changed is true if the upstream was previously down.
func (h *upstreamHealth) markSuccess(latency time.Duration) (changed bool) {
	h.failures.Store(0)
	h.cooldownUntil.Store(0)

	sample := latency.Seconds()
	prev := math.Float64frombits(h.ewmaLatency.Load())
	if prev == 0 {
		prev = sample
	}

	avg := prev*(1-ewmaWeight) + sample*ewmaWeight
	h.ewmaLatency.Store(math.Float64bits(avg))

	return h.up.CompareAndSwap(false, true)
}

// markFailure records a failed exchange.  Once the number of consecutive
// failures reaches [failureThreshold], the upstream is placed into a cooldown
// that doubles with each subsequent failure up to [maxCooldown].  changed is
// true if the upstream was previously up.
func (h *upstreamHealth) markFailure() (changed bool) {
	n := h.failures.Add(1)
	if n >= failureThreshold {
		until := h.clock.Now().Add(cooldownDuration(n))
		h.cooldownUntil.Store(until.UnixNano())
	}

	return h.up.CompareAndSwap(true, false)
}

// inCooldown returns true if the upstream is currently in cooldown.
func (h *upstreamHealth) inCooldown() (ok bool) {
	until := h.cooldownUntil.Load()

	return until != 0 && h.clock.Now().UnixNano() < until
}

// weight returns the sorting weight of the upstream.  Upstreams in cooldown
// weigh infinitely much, and the others are weighed by their average latency,
// so that sorting by weight produces the selection order.
func (h *upstreamHealth) weight() (w float64) {
	if h.inCooldown() {
		return math.Inf(1)
	}

	return math.Float64frombits(h.ewmaLatency.Load())
}

// cooldownDuration returns the cooldown duration after n consecutive
// failures.
func cooldownDuration(n int64) (d time.Duration) {
	// 2^9 seconds already exceeds maxCooldown, so avoid shifting too far.
	if n >= 9 {
		return maxCooldown
	}

	return min(time.Duration(1<<n)*time.Second, maxCooldown)
}
