// Package debounce provides a delay queue that coalesces equal work items.
//
// An item becomes ready once no equal item has been submitted for the quiet
// period, or once the optional maximum delay since its first submission has
// passed, whichever comes first. Ready items are handed out earliest deadline
// first to a single consumer.
package debounce

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/juju/clock"
)

var ErrClosed = errors.New("debounce: queue closed")

// Keyed is implemented by items whose equality is defined by Key.
type Keyed interface {
	Key() string
}

type Queue[T Keyed] struct {
	clock    clock.Clock
	quiet    time.Duration
	maxDelay time.Duration

	mu      sync.Mutex
	entries entries[T]
	byKey   map[string]*entry[T]
	closed  bool

	wake chan struct{}
	done chan struct{}
}

// New builds a queue. A maxDelay of zero coalesces indefinitely until the
// producers go quiet.
func New[T Keyed](clk clock.Clock, quiet, maxDelay time.Duration) *Queue[T] {
	if clk == nil {
		clk = clock.WallClock
	}
	if quiet < 0 {
		quiet = 0
	}
	if maxDelay < 0 {
		maxDelay = 0
	}
	return &Queue[T]{
		clock:    clk,
		quiet:    quiet,
		maxDelay: maxDelay,
		byKey:    make(map[string]*entry[T]),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Submit enqueues v. If an equal item is pending, v replaces it and its quiet
// deadline restarts; its hard deadline is kept. coalesced reports whether a
// pending item was replaced.
func (q *Queue[T]) Submit(v T) (coalesced bool, err error) {
	key := v.Key()
	now := q.clock.Now()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, ErrClosed
	}
	if e, ok := q.byKey[key]; ok {
		e.value = v
		e.notBefore = now.Add(q.quiet)
		heap.Fix(&q.entries, e.i)
		coalesced = true
	} else {
		e := &entry[T]{key: key, value: v, notBefore: now.Add(q.quiet)}
		if q.maxDelay > 0 {
			e.deadline = now.Add(q.maxDelay)
		}
		q.byKey[key] = e
		heap.Push(&q.entries, e)
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return coalesced, nil
}

// Take blocks until an item is ready and removes it from the queue. It
// returns ctx.Err() on cancellation and ErrClosed once the queue is closed.
func (q *Queue[T]) Take(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		var timer clock.Timer
		if len(q.entries) > 0 {
			head := q.entries[0]
			now := q.clock.Now()
			due := head.due()
			if !due.After(now) {
				heap.Pop(&q.entries)
				delete(q.byKey, head.key)
				q.mu.Unlock()
				return head.value, nil
			}
			timer = q.clock.NewTimer(due.Sub(now))
		}
		q.mu.Unlock()

		var fired <-chan time.Time
		if timer != nil {
			fired = timer.Chan()
		}
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return zero, ctx.Err()
		case <-q.done:
			stopTimer(timer)
			return zero, ErrClosed
		case <-q.wake:
			stopTimer(timer)
		case <-fired:
		}
	}
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Close drops pending items and releases a blocked Take.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.entries = nil
	q.byKey = map[string]*entry[T]{}
	close(q.done)
}

func stopTimer(t clock.Timer) {
	if t != nil {
		t.Stop()
	}
}

type entry[T Keyed] struct {
	i         int
	key       string
	value     T
	notBefore time.Time
	// deadline is zero when the queue has no maximum delay.
	deadline time.Time
}

func (e *entry[T]) due() time.Time {
	if !e.deadline.IsZero() && e.deadline.Before(e.notBefore) {
		return e.deadline
	}
	return e.notBefore
}

type entries[T Keyed] []*entry[T]

func (s entries[T]) Len() int {
	return len(s)
}

func (s entries[T]) Less(i, j int) bool {
	return s[i].due().Before(s[j].due())
}

func (s entries[T]) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
	s[i].i = i
	s[j].i = j
}

func (s *entries[T]) Push(x any) {
	e := x.(*entry[T])
	e.i = len(*s)
	*s = append(*s, e)
}

func (s *entries[T]) Pop() any {
	n := len(*s) - 1
	x := (*s)[n]
	(*s)[n] = nil
	*s = (*s)[:n]
	return x
}
