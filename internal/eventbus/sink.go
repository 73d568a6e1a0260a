// Package eventbus implements the non-blocking, bounded subscriber sink
// behind each clienthub client connection, through which the frames of
// device sessions, the sequence engine, and the trigger engine reach that
// client without letting a slow subscriber stall a producer. When
// a subscriber's buffer is full, the sink drops the OLDEST buffered event
// rather than the newest one, so a momentarily slow subscriber catches up
// to current state instead of getting stuck replaying stale history.
package eventbus

import "sync"

// Sink is a bounded, non-blocking per-subscriber message queue. Producers
// call Send; a drained buffer is read by the subscriber's own pump
// goroutine (e.g. the websocket write pump).
type Sink struct {
	mu       sync.Mutex
	buf      []interface{}
	capacity int
	dropped  int
	notify   chan struct{}
}

// NewSink creates a Sink with the given bounded capacity.
func NewSink(capacity int) *Sink {
	if capacity < 1 {
		capacity = 1
	}
	return &Sink{
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// Send enqueues msg, never blocking. If the buffer is full, the oldest
// buffered message is dropped to make room and Dropped() is incremented.
func (s *Sink) Send(msg interface{}) {
	s.mu.Lock()
	if len(s.buf) >= s.capacity {
		s.buf = s.buf[1:]
		s.dropped++
	}
	s.buf = append(s.buf, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Drain removes and returns all currently buffered messages, in order.
func (s *Sink) Drain() []interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return nil
	}
	out := s.buf
	s.buf = nil
	return out
}

// Notify returns the channel that receives a signal whenever a message is
// enqueued. A consumer's pump goroutine selects on this and then calls
// Drain.
func (s *Sink) Notify() <-chan struct{} {
	return s.notify
}

// Dropped returns the number of messages dropped so far due to a full
// buffer.
func (s *Sink) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Func adapts a plain callback into the minimal interface device sessions
// use to deliver events, for subscribers (like the trigger engine) that
// want synchronous delivery without a bounded buffer. Delivery errors are
// the caller's responsibility to avoid; a panic inside fn is never allowed
// to propagate into the session (see Subscribers.Broadcast).
type Func func(msg interface{})
