// Package channel carries server-to-client push events for playback viewers.
// A Handle is one open viewer connection; the Registry tracks which handles
// are watching which recording.
package channel

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Event names understood by the player.
const (
	EventConnected = "connected"
	EventCommand   = "command"
	EventError     = "error"
)

var (
	ErrClosed       = errors.New("channel: connection closed")
	ErrBackpressure = errors.New("channel: send buffer full")
)

// Event is one push to a viewer. Data is encoded as JSON.
type Event struct {
	Name string
	Data any
}

// Connected is the first event a viewer receives after registration.
func Connected(recordingID string) Event {
	return Event{Name: EventConnected, Data: map[string]string{"recordingId": recordingID}}
}

// Failure tells a viewer its registration was refused.
func Failure(message string) Event {
	return Event{Name: EventError, Data: map[string]string{"error": message}}
}

// Handle is an open push connection. Send is best effort and must not block.
type Handle interface {
	ID() string
	Send(ev Event) error
	Close() error
}

// DefaultBuffer is the number of events a Conn queues before Send fails.
const DefaultBuffer = 32

// Conn is a queue-backed Handle. The transport drains it with Pump.
type Conn struct {
	id    string
	queue chan Event
	done  chan struct{}
	once  sync.Once
}

// NewConn creates a connection queueing up to buffer events.
func NewConn(buffer int) *Conn {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Conn{
		id:    uuid.NewString(),
		queue: make(chan Event, buffer),
		done:  make(chan struct{}),
	}
}

func (c *Conn) ID() string {
	return c.id
}

// Send queues ev. A closed connection or a full queue is an error so the
// caller can drop the viewer.
func (c *Conn) Send(ev Event) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	select {
	case c.queue <- ev:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrBackpressure
	}
}

// Close marks the connection closed. It is safe to call more than once.
func (c *Conn) Close() error {
	c.once.Do(func() {
		close(c.done)
	})
	return nil
}

// Done is closed when the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}
