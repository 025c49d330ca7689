package querylog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AdguardTeam/golibs/errors"
	"github.com/AdguardTeam/golibs/service"
	"github.com/amberdns/amberdns/internal/errcoll"
)

// errShutDown is returned by [Queue.Write] after the queue has been shut
// down.
const errShutDown errors.Error = "queue is shut down"

// QueueConfig is the configuration of the asynchronous query log queue.
type QueueConfig struct {
	// Logger is used for logging the operation of the queue.  It must not be
	// nil.
	Logger *slog.Logger

	// ErrColl collects sink write errors.  It must not be nil.
	ErrColl errcoll.Interface

	// Metrics is a listener for the queue events.  If nil, [EmptyMetrics] is
	// used.
	Metrics Metrics

	// Log is the underlying query log the queue drains into.  It must not be
	// nil.
	Log Interface

	// Size is the number of entries the queue buffers.  It must be positive.
	Size int
}

// NewQueue returns a new asynchronous queue in front of a query log.  c must
// not be nil.
func NewQueue(c *QueueConfig) (q *Queue) {
	mtrc := c.Metrics
	if mtrc == nil {
		mtrc = EmptyMetrics{}
	}

	return &Queue{
		logger:  c.Logger,
		errColl: c.ErrColl,
		metrics: mtrc,
		log:     c.Log,
		entries: make(chan *Entry, c.Size),
		done:    make(chan struct{}),
	}
}

// Queue is a bounded asynchronous buffer in front of a query log.  Writes
// never block resolution: when the buffer is full the oldest pending entry is
// dropped in favor of the new one.
type Queue struct {
	logger  *slog.Logger
	errColl errcoll.Interface
	metrics Metrics
	log     Interface

	// mu protects entries against writes racing with the close on shutdown.
	mu      sync.Mutex
	entries chan *Entry
	done    chan struct{}

	closed bool
}

// type check
var _ Interface = (*Queue)(nil)

// Write implements the [Interface] interface for *Queue.  It never blocks.
func (q *Queue) Write(ctx context.Context, e *Entry) (err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errShutDown
	}

	for {
		select {
		case q.entries <- e:
			return nil
		default:
			// Full.  Drop the oldest pending entry and retry; live
			// resolution wins over log completeness.
			select {
			case <-q.entries:
				q.metrics.OnDropped(ctx)
			default:
			}
		}
	}
}

// type check
var _ service.Interface = (*Queue)(nil)

// Start implements the [service.Interface] interface for *Queue.
func (q *Queue) Start(_ context.Context) (err error) {
	go q.run()

	return nil
}

// run drains the queue into the underlying log until the queue is closed.
func (q *Queue) run() {
	defer close(q.done)

	ctx := context.Background()
	for e := range q.entries {
		err := q.log.Write(ctx, e)
		if err != nil {
			errcoll.Collect(ctx, q.errColl, q.logger, "writing query log", err)
		}
	}
}

// Shutdown implements the [service.Interface] interface for *Queue.  It
// drains the remaining entries before returning.
func (q *Queue) Shutdown(ctx context.Context) (err error) {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.entries)
	}
	q.mu.Unlock()

	select {
	case <-q.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("querylog queue shutdown: %w", ctx.Err())
	}
}
