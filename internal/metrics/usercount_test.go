package metrics_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/amberdns/amberdns/internal/metrics"
	"github.com/stretchr/testify/assert"
)

func TestUserCounter(t *testing.T) {
	c := metrics.NewUserCounter()

	now := time.Unix(3_600_000, 0)
	for i := range 100 {
		c.Record(now, netip.AddrFrom4([4]byte{192, 0, 2, byte(i)}))
	}

	est := c.Estimate()
	assert.InDelta(t, 100, est, 10)

	// Recording the same addresses within the next hour keeps the estimate
	// stable, since both sketches hold the same set.
	later := now.Add(1 * time.Hour)
	for i := range 100 {
		c.Record(later, netip.AddrFrom4([4]byte{192, 0, 2, byte(i)}))
	}

	est = c.Estimate()
	assert.InDelta(t, 100, est, 10)

	// Two hours later the old sketch has been rotated out, and only the new
	// clients remain.
	evenLater := later.Add(2 * time.Hour)
	c.Record(evenLater, netip.MustParseAddr("198.51.100.1"))
	c.Record(evenLater.Add(1*time.Hour), netip.MustParseAddr("198.51.100.2"))

	est = c.Estimate()
	assert.InDelta(t, 2, est, 1)
}
