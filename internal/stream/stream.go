package stream

import (
	"errors"
	"sync"
)

// ErrClosed is returned by Emit once a terminal event has been emitted.
var ErrClosed = errors.New("stream: closed")

// Emitter accepts events in emission order.
type Emitter interface {
	Emit(Event) error
}

// Stream is the producer side of one request's event sequence. The producer
// emits; a transport drains Events. The channel closes right after the
// terminal event.
type Stream struct {
	ch        chan Event
	abandoned chan struct{}
	abandon   sync.Once

	mu        sync.Mutex
	closed    bool
	observers []func(Event)
}

// New returns a stream whose channel holds up to buffer undrained events.
func New(buffer int) *Stream {
	if buffer < 0 {
		buffer = 0
	}
	return &Stream{
		ch:        make(chan Event, buffer),
		abandoned: make(chan struct{}),
	}
}

// Events is drained by the transport.
func (s *Stream) Events() <-chan Event { return s.ch }

// Observe registers fn to see every accepted event, including those emitted
// after the transport went away.
func (s *Stream) Observe(fn func(Event)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Emit appends ev. After a terminal event every further call fails with
// ErrClosed. When the transport has abandoned the stream, events are still
// observed but no longer queued, so the producer never blocks on a dead
// connection.
func (s *Stream) Emit(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, fn := range s.observers {
		fn(ev)
	}
	select {
	case s.ch <- ev:
	case <-s.abandoned:
	}
	if ev.Terminal() {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// Abandon is called by the transport when its connection is gone.
func (s *Stream) Abandon() {
	s.abandon.Do(func() { close(s.abandoned) })
}

// Terminated reports whether a terminal event has been emitted.
func (s *Stream) Terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
