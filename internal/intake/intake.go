// Package intake accepts push notifications and queues them for
// presentation. Events without a server id get a local one. The queue
// only grows; the presenter takes events off in arrival order.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/nhle/petropulse/internal/clock"
	"github.com/nhle/petropulse/internal/model"
)

// IDStrategy selects how missing ids are generated.
type IDStrategy string

const (
	// IDTime uses the current Unix time in milliseconds. Two events in
	// the same millisecond get the same id.
	IDTime IDStrategy = "time"

	// IDUUID uses a random 128-bit id.
	IDUUID IDStrategy = "uuid"
)

// ParseIDStrategy accepts "", "time" and "uuid".
func ParseIDStrategy(s string) (IDStrategy, error) {
	switch IDStrategy(s) {
	case "", IDTime:
		return IDTime, nil
	case IDUUID:
		return IDUUID, nil
	default:
		return "", fmt.Errorf("unknown id strategy %q", s)
	}
}

// ErrClosed is returned by Wait once the queue is closed and drained.
var ErrClosed = errors.New("intake: queue closed")

// Queue is the presentation queue.
type Queue struct {
	clock    clock.Clock
	strategy IDStrategy

	mu      sync.Mutex
	pending []model.Event
	closed  bool
	ready   chan struct{}
	done    chan struct{}
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the clock used for time-based ids.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithIDStrategy sets the id fallback.
func WithIDStrategy(s IDStrategy) Option {
	return func(q *Queue) { q.strategy = s }
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		clock:    clock.Real(),
		strategy: IDTime,
		ready:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push assigns an id when the server sent none and appends the event. It
// never blocks and performs no deduplication. The stored event is
// returned.
func (q *Queue) Push(e model.Event) model.Event {
	if e.ID == "" {
		e.ID = q.newID()
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return e
	}
	q.pending = append(q.pending, e)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return e
}

// Drain removes and returns every queued event.
func (q *Queue) Drain() []model.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Wait blocks until at least one event is queued and drains the queue.
func (q *Queue) Wait(ctx context.Context) ([]model.Event, error) {
	for {
		if events := q.Drain(); len(events) > 0 {
			return events, nil
		}
		select {
		case <-q.ready:
		case <-q.done:
			if events := q.Drain(); len(events) > 0 {
				return events, nil
			}
			return nil, ErrClosed
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close wakes waiters. Later pushes are dropped.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

func (q *Queue) newID() string {
	if q.strategy == IDUUID {
		return uuid.NewString()
	}
	return strconv.FormatInt(q.clock.Now().UnixMilli(), 10)
}
