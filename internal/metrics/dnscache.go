package metrics

import (
	"context"

	"github.com/amberdns/amberdns/internal/dnscache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DNSCache is the prometheus implementation of the [dnscache.Metrics]
// interface.
type DNSCache struct {
	lookups *prometheus.CounterVec
	size    prometheus.Gauge
	added   *prometheus.CounterVec
}

// NewDNSCache registers the answer-cache metrics and returns a properly
// initialized *DNSCache.
func NewDNSCache() (m *DNSCache) {
	return &DNSCache{
		lookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:      "lookups_total",
			Namespace: namespace,
			Subsystem: subsystemDNSCache,
			Help:      "The number of answer-cache lookups by result.",
		}, []string{"result"}),
		size: promauto.NewGauge(prometheus.GaugeOpts{
			Name:      "size",
			Namespace: namespace,
			Subsystem: subsystemDNSCache,
			Help:      "The current number of entries in the answer cache.",
		}),
		added: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:      "added_total",
			Namespace: namespace,
			Subsystem: subsystemDNSCache,
			Help:      "The number of responses added to the answer cache.",
		}, []string{"negative"}),
	}
}

// type check
var _ dnscache.Metrics = (*DNSCache)(nil)

// OnLookup implements the [dnscache.Metrics] interface for *DNSCache.
func (m *DNSCache) OnLookup(_ context.Context, state dnscache.HitState) {
	m.lookups.WithLabelValues(state.String()).Inc()
}

// OnAdd implements the [dnscache.Metrics] interface for *DNSCache.
func (m *DNSCache) OnAdd(_ context.Context, negative bool, count int) {
	m.added.WithLabelValues(BoolString(negative)).Inc()
	m.size.Set(float64(count))
}
