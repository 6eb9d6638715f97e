// Package bus provides a typed, bounded in-process event bus. Delivery is
// in publish order through a single dispatch goroutine, so subscribers see
// events for one publisher in arrival order. Publishing never blocks; when
// the buffer is full the event is dropped and counted.
package bus

import (
	"context"
	"sync"
	"sync/atomic"
)

// Bus fans events of type T out to subscribers.
type Bus[T any] struct {
	ch      chan T
	stopCh  chan struct{}
	mu      sync.Mutex
	subs    map[int]func(T)
	nextID  int
	started bool
	dropped atomic.Int64
}

// New creates a bus with the given buffer size.
func New[T any](buffer int) *Bus[T] {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus[T]{
		ch:     make(chan T, buffer),
		stopCh: make(chan struct{}),
		subs:   make(map[int]func(T)),
	}
}

// Subscribe registers a handler and returns an unsubscribe func.
// Handlers run on the dispatch goroutine; a slow handler delays delivery
// to everyone, which keeps per-event ordering explicit.
func (b *Bus[T]) Subscribe(fn func(T)) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish enqueues an event without blocking. Returns false if the buffer
// was full and the event was dropped.
func (b *Bus[T]) Publish(ev T) bool {
	select {
	case b.ch <- ev:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

// Start launches the dispatch goroutine. No-op if already started.
func (b *Bus[T]) Start(ctx context.Context) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.stopCh:
				return
			case ev := <-b.ch:
				b.dispatch(ev)
			}
		}
	}()
}

func (b *Bus[T]) dispatch(ev T) {
	b.mu.Lock()
	handlers := make([]func(T), 0, len(b.subs))
	for _, fn := range b.subs {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()
	for _, fn := range handlers {
		fn(ev)
	}
}

// Stop halts dispatch. Pending buffered events are discarded.
func (b *Bus[T]) Stop() {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return
	}
	b.started = false
	b.mu.Unlock()
	close(b.stopCh)
}

// Dropped returns the number of events lost to a full buffer.
func (b *Bus[T]) Dropped() int64 {
	return b.dropped.Load()
}
