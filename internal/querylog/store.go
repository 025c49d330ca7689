package querylog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/AdguardTeam/golibs/service"
	"github.com/AdguardTeam/golibs/timeutil"
)

// Store is the part of the configuration store the query log writes into and
// the prefetcher reads popular names from.
type Store interface {
	// InsertQuery appends one completed query record.  e must not be nil.
	InsertQuery(ctx context.Context, e *Entry) (err error)

	// TopNames returns the names queried at least minCount times since the
	// given time, most popular first.
	TopNames(ctx context.Context, since time.Time, minCount int) (names []string, err error)

	// DeleteQueriesBefore removes query records older than t and returns the
	// number of removed rows.
	DeleteQueriesBefore(ctx context.Context, t time.Time) (n int64, err error)
}

// StoreLogConfig is the configuration of the store-backed query log.
type StoreLogConfig struct {
	// Metrics is a listener for the sink events.  If nil, [EmptyMetrics] is
	// used.
	Metrics Metrics

	// Store is the backing store.  It must not be nil.
	Store Store
}

// NewStoreLog returns a query log writing into the configuration store.  c
// must not be nil.
func NewStoreLog(c *StoreLogConfig) (l *StoreLog) {
	mtrc := c.Metrics
	if mtrc == nil {
		mtrc = EmptyMetrics{}
	}

	return &StoreLog{
		metrics: mtrc,
		store:   c.Store,
	}
}

// StoreLog is a query log that persists entries through [Store].  It also
// exposes the store's popular-name query for the cache prefetcher.
type StoreLog struct {
	metrics Metrics
	store   Store
}

// type check
var _ Interface = (*StoreLog)(nil)

// Write implements the [Interface] interface for *StoreLog.
func (l *StoreLog) Write(ctx context.Context, e *Entry) (err error) {
	startTime := time.Now()
	defer func() { l.metrics.ObserveWrite(ctx, time.Since(startTime)) }()

	err = l.store.InsertQuery(ctx, e)
	if err != nil {
		return fmt.Errorf("inserting query record: %w", err)
	}

	return nil
}

// TopNames returns the names queried at least minCount times since the given
// time.  It is the [dnscache.NameSource] for the prefetcher.
func (l *StoreLog) TopNames(
	ctx context.Context,
	since time.Time,
	minCount int,
) (names []string, err error) {
	return l.store.TopNames(ctx, since, minCount)
}

// CleanerConfig is the configuration of the query log retention cleaner.
type CleanerConfig struct {
	// Logger is used for logging the operation of the cleaner.  It must not
	// be nil.
	Logger *slog.Logger

	// Clock is used to compute the retention cutoff.  If nil,
	// [timeutil.SystemClock] is used.
	Clock timeutil.Clock

	// Store is the store to purge.  It must not be nil.
	Store Store

	// Retention is how long query records are kept.  It must be positive.
	Retention time.Duration
}

// NewCleaner returns a new retention cleaner.  c must not be nil.
func NewCleaner(c *CleanerConfig) (cl *Cleaner) {
	clock := c.Clock
	if clock == nil {
		clock = timeutil.SystemClock{}
	}

	return &Cleaner{
		logger:    c.Logger,
		clock:     clock,
		store:     c.Store,
		retention: c.Retention,
	}
}

// Cleaner periodically removes query records past the retention period.
type Cleaner struct {
	logger    *slog.Logger
	clock     timeutil.Clock
	store     Store
	retention time.Duration
}

// type check
var _ service.Refresher = (*Cleaner)(nil)

// Refresh implements the [service.Refresher] interface for *Cleaner.
func (cl *Cleaner) Refresh(ctx context.Context) (err error) {
	cutoff := cl.clock.Now().Add(-cl.retention)

	n, err := cl.store.DeleteQueriesBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("querylog cleaner: %w", err)
	}

	if n > 0 {
		cl.logger.InfoContext(ctx, "removed old query records", "count", n)
	}

	return nil
}
