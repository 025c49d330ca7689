package remotekv

import (
	"cmp"
	"context"

	"github.com/AdguardTeam/golibs/timeutil"
)

// MeasuredConfig is the configuration for the instrumented [Interface]
// wrapper.
type MeasuredConfig struct {
	// Clock is used to measure operation durations.  If nil, the system clock
	// is used.
	Clock timeutil.Clock

	// Metrics collects the storage statistics.  If nil, [EmptyMetrics] is
	// used.
	Metrics Metrics

	// KV is the key-value storage to be wrapped.  It must not be nil.
	KV Interface
}

// Measured is a wrapper around [Interface] that reports operation durations
// and lookup results to [Metrics].
type Measured struct {
	clock   timeutil.Clock
	metrics Metrics
	kv      Interface
}

// NewMeasured returns a properly initialized *Measured.  conf must not be nil.
func NewMeasured(conf *MeasuredConfig) (kv *Measured) {
	clock := conf.Clock
	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	return &Measured{
		clock:   clock,
		metrics: cmp.Or[Metrics](conf.Metrics, EmptyMetrics{}),
		kv:      conf.KV,
	}
}

// type check
var _ Interface = (*Measured)(nil)

// Get implements the [Interface] interface for *Measured.
func (m *Measured) Get(ctx context.Context, key string) (val []byte, ok bool, err error) {
	start := m.clock.Now()
	val, ok, err = m.kv.Get(ctx, key)

	m.metrics.ObserveOperation(ctx, OpGet, m.clock.Now().Sub(start))
	m.metrics.IncrementLookups(ctx, ok)

	return val, ok, err
}

// Set implements the [Interface] interface for *Measured.
func (m *Measured) Set(ctx context.Context, key string, val []byte) (err error) {
	start := m.clock.Now()
	err = m.kv.Set(ctx, key, val)

	m.metrics.ObserveOperation(ctx, OpSet, m.clock.Now().Sub(start))

	return err
}
