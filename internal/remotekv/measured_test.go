package remotekv_test

import (
	"context"
	"testing"
	"time"

	"github.com/AdguardTeam/golibs/testutil"
	"github.com/AdguardTeam/golibs/testutil/faketime"
	"github.com/amberdns/amberdns/internal/adnstest"
	"github.com/amberdns/amberdns/internal/remotekv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testMetrics is a [remotekv.Metrics] implementation for tests that records
// the reported values.
type testMetrics struct {
	ops  []remotekv.Op
	durs []time.Duration
	hits []bool
}

// type check
var _ remotekv.Metrics = (*testMetrics)(nil)

// ObserveOperation implements the [remotekv.Metrics] interface for
// *testMetrics.
func (m *testMetrics) ObserveOperation(_ context.Context, op remotekv.Op, dur time.Duration) {
	m.ops = append(m.ops, op)
	m.durs = append(m.durs, dur)
}

// IncrementLookups implements the [remotekv.Metrics] interface for
// *testMetrics.
func (m *testMetrics) IncrementLookups(_ context.Context, hit bool) {
	m.hits = append(m.hits, hit)
}

func TestMeasured(t *testing.T) {
	const testKey = "key"

	testVal := []byte("value")

	// Advance the clock by a second on each call so that every operation
	// appears to have taken exactly that long.
	now := time.Unix(0, 0)
	clock := &faketime.Clock{
		OnNow: func() (n time.Time) {
			now = now.Add(1 * time.Second)

			return now
		},
	}

	mtrc := &testMetrics{}
	kv := remotekv.NewMeasured(&remotekv.MeasuredConfig{
		Clock:   clock,
		Metrics: mtrc,
		KV: &adnstest.RemoteKV{
			OnGet: func(_ context.Context, key string) (val []byte, ok bool, err error) {
				return testVal, true, nil
			},
			OnSet: func(_ context.Context, _ string, _ []byte) (err error) {
				return nil
			},
		},
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)

	err := kv.Set(ctx, testKey, testVal)
	require.NoError(t, err)

	val, ok, err := kv.Get(ctx, testKey)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, testVal, val)
	assert.Equal(t, []remotekv.Op{remotekv.OpSet, remotekv.OpGet}, mtrc.ops)
	assert.Equal(t, []time.Duration{1 * time.Second, 1 * time.Second}, mtrc.durs)
	assert.Equal(t, []bool{true}, mtrc.hits)
}
