package querylog

import (
	"context"
	"sync"
)

// DefaultSubscriberBuffer is the default per-subscriber buffer of the
// broadcaster.
const DefaultSubscriberBuffer = 256

// Broadcaster fans query log entries out to in-process subscribers, such as a
// live log viewer.  Slow subscribers lose their oldest pending entries
// instead of slowing the pipeline down.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[int64]chan *Entry
	nextID  int64
	bufSize int
}

// NewBroadcaster returns a new broadcaster.  bufSize is the per-subscriber
// buffer; zero means [DefaultSubscriberBuffer].
func NewBroadcaster(bufSize int) (b *Broadcaster) {
	if bufSize == 0 {
		bufSize = DefaultSubscriberBuffer
	}

	return &Broadcaster{
		subs:    map[int64]chan *Entry{},
		bufSize: bufSize,
	}
}

// Subscribe registers a new subscriber and returns its entry channel together
// with a cancel function.  The channel is closed by cancel.
func (b *Broadcaster) Subscribe() (entries <-chan *Entry, cancel func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++

	ch := make(chan *Entry, b.bufSize)
	b.subs[id] = ch

	return ch, func() { b.unsubscribe(id) }
}

// unsubscribe removes the subscriber and closes its channel.
func (b *Broadcaster) unsubscribe(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.subs[id]
	if !ok {
		return
	}

	delete(b.subs, id)
	close(ch)
}

// type check
var _ Interface = (*Broadcaster)(nil)

// Write implements the [Interface] interface for *Broadcaster.  It never
// blocks and never returns an error.
func (b *Broadcaster) Write(_ context.Context, e *Entry) (err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		for {
			select {
			case ch <- e:
			default:
				// Full.  Drop the subscriber's oldest pending entry and
				// retry.
				select {
				case <-ch:
					continue
				default:
				}
			}

			break
		}
	}

	return nil
}
