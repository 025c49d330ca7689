package metrics

import (
	"context"
	"time"

	"github.com/amberdns/amberdns/internal/remotekv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RemoteKV is the prometheus implementation of the [remotekv.Metrics]
// interface.
type RemoteKV struct {
	opDuration *prometheus.HistogramVec
	lookups    *prometheus.CounterVec
}

// NewRemoteKV registers the key-value storage metrics and returns a properly
// initialized *RemoteKV.  storage is the label of the storage kind, such as
// "file" or "redis".
func NewRemoteKV(storage string) (m *RemoteKV) {
	constLabels := prometheus.Labels{"storage": storage}

	return &RemoteKV{
		opDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "operation_duration_seconds",
			Namespace:   namespace,
			Subsystem:   subsystemRemoteKV,
			Help:        "The duration of a key-value storage operation.",
			ConstLabels: constLabels,
			Buckets:     []float64{0.001, 0.01, 0.1, 1},
		}, []string{"operation"}),
		lookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "lookups_total",
			Namespace:   namespace,
			Subsystem:   subsystemRemoteKV,
			Help:        "The number of lookups in the key-value storage.",
			ConstLabels: constLabels,
		}, []string{"hit"}),
	}
}

// type check
var _ remotekv.Metrics = (*RemoteKV)(nil)

// ObserveOperation implements the [remotekv.Metrics] interface for *RemoteKV.
func (m *RemoteKV) ObserveOperation(_ context.Context, op remotekv.Op, dur time.Duration) {
	m.opDuration.WithLabelValues(op).Observe(dur.Seconds())
}

// IncrementLookups implements the [remotekv.Metrics] interface for *RemoteKV.
func (m *RemoteKV) IncrementLookups(_ context.Context, hit bool) {
	m.lookups.WithLabelValues(BoolString(hit)).Inc()
}
