package transport

import (
	"sync"
)

// Subscription is a lazily registered, unbounded stream of values of one
// realtime event kind. It cannot be restarted: once finished its channel is
// closed and Err reports why (nil for a normal disconnect or Close).
type Subscription[T any] struct {
	ch   chan T
	done chan struct{}

	mu         sync.RWMutex
	err        error
	once       sync.Once
	removeOnce sync.Once
	remove     func()
}

// NewSubscription returns an open subscription with the given channel
// buffer. remove, when non-nil, is called once when the consumer closes it.
func NewSubscription[T any](buffer int, remove func()) *Subscription[T] {
	return &Subscription[T]{
		ch:     make(chan T, buffer),
		done:   make(chan struct{}),
		remove: remove,
	}
}

// C returns the value channel. It is closed when the subscription finishes.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Done is closed as soon as the subscription starts finishing.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Err returns the terminal error, if any.
func (s *Subscription[T]) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Publish delivers v, blocking while the buffer is full. It reports false
// when the subscription has finished.
func (s *Subscription[T]) Publish(v T) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// ch is only closed under the write lock, after done.
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case <-s.done:
		return false
	case s.ch <- v:
		return true
	}
}

// Finish ends the stream with err and closes the channel. Later calls are
// no-ops.
func (s *Subscription[T]) Finish(err error) {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.err = err
		close(s.ch)
		s.mu.Unlock()
	})
}

// Close unsubscribes and finishes the stream without an error.
func (s *Subscription[T]) Close() {
	if s.remove != nil {
		s.removeOnce.Do(s.remove)
	}
	s.Finish(nil)
}
