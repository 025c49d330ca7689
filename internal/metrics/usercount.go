package metrics

import (
	"net/netip"
	"sync"
	"time"

	"github.com/axiomhq/hyperloglog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UserCounter approximates the number of distinct client addresses seen
// recently.  Addresses go into a hyperloglog sketch for the current hour;
// the estimate merges the current and the previous hour, so it covers between
// one and two hours of traffic.  All methods are safe for concurrent use.
type UserCounter struct {
	// mu protects the fields below.
	mu *sync.Mutex

	// cur and prev are the sketches of the current and the previous hour.
	cur  *hyperloglog.Sketch
	prev *hyperloglog.Sketch

	// curHour is the hour number cur collects, in hours since the UNIX
	// epoch.
	curHour int64
}

// NewUserCounter registers the user-count gauge and returns a properly
// initialized *UserCounter.
func NewUserCounter() (c *UserCounter) {
	c = &UserCounter{
		mu:   &sync.Mutex{},
		cur:  hyperloglog.New(),
		prev: hyperloglog.New(),
	}

	promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name:      "users_last_hour_count",
		Namespace: namespace,
		Subsystem: subsystemDNSSvc,
		Help:      "The approximate number of distinct clients seen within the last hour.",
	}, func() (n float64) { return float64(c.Estimate()) })

	return c
}

// Record adds the client address to the current sketch, rotating the sketches
// when the hour has changed.
func (c *UserCounter) Record(now time.Time, ip netip.Addr) {
	hour := now.Unix() / int64(time.Hour/time.Second)
	data := ip.As16()

	c.mu.Lock()
	defer c.mu.Unlock()

	if hour != c.curHour {
		c.prev = c.cur
		c.cur = hyperloglog.New()
		c.curHour = hour
	}

	c.cur.Insert(data[:])
}

// Estimate merges the current and the previous sketches and returns the
// estimated number of distinct clients.
func (c *UserCounter) Estimate() (n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := c.prev.Clone()
	if err := merged.Merge(c.cur); err != nil {
		// The sketches always share a precision, so a merge cannot fail.
		panic(err)
	}

	return merged.Estimate()
}
