package metrics

import (
	"context"
	"time"

	"github.com/amberdns/amberdns/internal/querylog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// QueryLog is the prometheus implementation of the [querylog.Metrics]
// interface.
type QueryLog struct {
	writeDuration prometheus.Histogram
	dropped       prometheus.Counter
}

// NewQueryLog registers the query log metrics and returns a properly
// initialized *QueryLog.
func NewQueryLog() (m *QueryLog) {
	return &QueryLog{
		writeDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:      "write_duration_seconds",
			Namespace: namespace,
			Subsystem: subsystemQueryLog,
			Help:      "The time spent writing one entry into the sinks.",
			Buckets:   []float64{0.001, 0.01, 0.1, 1},
		}),
		dropped: promauto.NewCounter(prometheus.CounterOpts{
			Name:      "dropped_total",
			Namespace: namespace,
			Subsystem: subsystemQueryLog,
			Help:      "The number of entries dropped because the queue was full.",
		}),
	}
}

// type check
var _ querylog.Metrics = (*QueryLog)(nil)

// ObserveWrite implements the [querylog.Metrics] interface for *QueryLog.
func (m *QueryLog) ObserveWrite(_ context.Context, dur time.Duration) {
	m.writeDuration.Observe(dur.Seconds())
}

// OnDropped implements the [querylog.Metrics] interface for *QueryLog.
func (m *QueryLog) OnDropped(_ context.Context) {
	m.dropped.Inc()
}
