package metrics

import (
	"context"
	"time"

	"github.com/amberdns/amberdns/internal/filter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Filter is the prometheus implementation of the [filter.Metrics] interface.
type Filter struct {
	ruleCount  *prometheus.GaugeVec
	updateTime *prometheus.GaugeVec
	status     *prometheus.GaugeVec
}

// NewFilter registers the filter metrics and returns a properly initialized
// *Filter.
func NewFilter() (m *Filter) {
	return &Filter{
		ruleCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name:      "rules_total",
			Namespace: namespace,
			Subsystem: subsystemFilter,
			Help:      "The number of rules loaded by filters.",
		}, []string{"filter"}),
		updateTime: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name:      "updated_at_seconds",
			Namespace: namespace,
			Subsystem: subsystemFilter,
			Help:      "The time of the last successful update, as a UNIX timestamp.",
		}, []string{"filter"}),
		status: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name:      "update_status",
			Namespace: namespace,
			Subsystem: subsystemFilter,
			Help:      "The status of the last update: 1 means success.",
		}, []string{"filter"}),
	}
}

// type check
var _ filter.Metrics = (*Filter)(nil)

// SetFilterStatus implements the [filter.Metrics] interface for *Filter.
func (m *Filter) SetFilterStatus(
	_ context.Context,
	id string,
	updTime time.Time,
	ruleCount int,
	err error,
) {
	if err != nil {
		m.status.WithLabelValues(id).Set(0)

		return
	}

	m.status.WithLabelValues(id).Set(1)
	m.ruleCount.WithLabelValues(id).Set(float64(ruleCount))
	m.updateTime.WithLabelValues(id).Set(float64(updTime.UnixNano()) / float64(time.Second))
}
