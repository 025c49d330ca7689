package querylog_test

import (
	"context"
	"sync"
	"testing"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/AdguardTeam/golibs/testutil"
	"github.com/amberdns/amberdns/internal/adnstest"
	"github.com/amberdns/amberdns/internal/querylog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncLog is a query log that records every written entry.
type syncLog struct {
	mu      sync.Mutex
	entries []*querylog.Entry
}

// type check
var _ querylog.Interface = (*syncLog)(nil)

// Write implements the [querylog.Interface] interface for *syncLog.
func (l *syncLog) Write(_ context.Context, e *querylog.Entry) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, e)

	return nil
}

// len returns the number of written entries.
func (l *syncLog) len() (n int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}

func TestQueue(t *testing.T) {
	sink := &syncLog{}
	q := querylog.NewQueue(&querylog.QueueConfig{
		Logger:  slogutil.NewDiscardLogger(),
		ErrColl: &adnstest.ErrorCollector{},
		Log:     sink,
		Size:    4,
	})

	ctx := testutil.ContextWithTimeout(t, testTimeout)
	require.NoError(t, q.Start(ctx))

	const n = 16
	for range n {
		require.NoError(t, q.Write(ctx, testEntry()))
	}

	require.NoError(t, q.Shutdown(ctx))

	// The queue drops under pressure rather than blocking, so all that is
	// guaranteed after a graceful shutdown is that something was drained and
	// nothing was written twice.
	got := sink.len()
	assert.Positive(t, got)
	assert.LessOrEqual(t, got, n)

	assert.Error(t, q.Write(ctx, testEntry()))
}
