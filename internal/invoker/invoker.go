// Package invoker abstracts the agent runtimes that execute a single
// conversation turn.
package invoker

import (
	"context"
	"errors"
)

// ErrSessionNotFound reports a resume attempt against a session handle
// the runtime no longer knows. Callers treat it as an expected
// condition and retry the turn without the handle.
var ErrSessionNotFound = errors.New("invoker: session not found")

// AuthenticationError represents an authentication failure with the
// agent runtime. Retrying cannot help until the operator
// re-authenticates.
type AuthenticationError struct {
	Message string
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	return e.Message
}

// EventType discriminates stream events.
type EventType string

const (
	// EventText carries one chunk of assistant response text.
	EventText EventType = "text"

	// EventResult ends a successful turn and carries the session
	// handle minted by the runtime, if any.
	EventResult EventType = "result"
)

// Event is one element of an invocation's output stream.
type Event struct {
	Type      EventType
	Text      string
	SessionID string
}

// Invoker executes one conversation turn against an agent runtime.
type Invoker interface {
	// Invoke starts a turn. A non-empty resumeID asks the runtime to
	// continue that prior session. The immediate error return covers
	// startup failures only; everything after startup, including
	// ErrSessionNotFound for a rejected resume, is reported by the
	// stream's Err. The returned stream must be drained.
	Invoke(ctx context.Context, prompt, resumeID string) (*Stream, error)

	// Name identifies the runtime for logs and metrics.
	Name() string
}

// Stream delivers the events of one invocation in emission order. The
// channel returned by Events is closed when the turn completes; Err
// reports the terminal error once the channel is closed. A stream
// that ends without an EventResult means the turn produced no new
// session handle, which is not an error.
type Stream struct {
	events chan Event
	done   chan struct{}
	err    error
}

// NewStream creates an empty stream for an Invoker implementation to
// produce into.
func NewStream() *Stream {
	return &Stream{
		events: make(chan Event, 16),
		done:   make(chan struct{}),
	}
}

// Events returns the ordered event channel. It is closed when the
// invocation completes.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Err blocks until the stream completes and returns its terminal
// error, if any.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// Emit delivers one event unless ctx is cancelled first.
func (s *Stream) Emit(ctx context.Context, event Event) bool {
	select {
	case s.events <- event:
		return true
	case <-ctx.Done():
		return false
	}
}

// Finish records the terminal error and closes the stream. The
// producer must call it exactly once, after its last Emit.
func (s *Stream) Finish(err error) {
	s.err = err
	close(s.events)
	close(s.done)
}
