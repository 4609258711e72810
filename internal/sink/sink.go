// Package sink delivers named events with string payloads to external listeners.
package sink

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kanatalink/kanatalink/internal/bus"
	"github.com/kanatalink/kanatalink/internal/connectors"
)

var (
	// ErrClosed means the sink no longer accepts events.
	ErrClosed = errors.New("notification sink is closed")
	// ErrEmptyEventName is returned for events without a name.
	ErrEmptyEventName = errors.New("event name is empty")
)

// Event is a named payload handed to the sink.
type Event struct {
	Name    string
	Payload string
	At      time.Time
}

// Sink accepts events and fans them out to listeners. Implementations must be
// safe for concurrent use.
type Sink interface {
	Emit(name, payload string) error
}

// Func adapts a plain function to Sink.
type Func func(name, payload string) error

func (f Func) Emit(name, payload string) error {
	return f(name, payload)
}

// DeliveryError wraps a failed emission.
type DeliveryError struct {
	Event string
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver event %q: %v", e.Event, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// BusSink publishes events to the message bus, once on the per-name topic and
// once on connectors.TopicEventAll.
type BusSink struct {
	bus bus.MessageBus
	now func() time.Time
}

func NewBusSink(b bus.MessageBus) *BusSink {
	return &BusSink{bus: b, now: time.Now}
}

func (s *BusSink) Emit(name, payload string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &DeliveryError{Event: name, Err: ErrEmptyEventName}
	}
	if s == nil || s.bus == nil {
		return &DeliveryError{Event: name, Err: ErrClosed}
	}

	ev := Event{Name: name, Payload: payload, At: s.now()}
	if err := s.bus.Publish(connectors.TopicForEvent(name), ev); err != nil {
		return &DeliveryError{Event: name, Err: translateBusErr(err)}
	}
	if err := s.bus.Publish(connectors.TopicEventAll, ev); err != nil {
		return &DeliveryError{Event: name, Err: translateBusErr(err)}
	}

	return nil
}

func translateBusErr(err error) error {
	if errors.Is(err, bus.ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}

	return err
}
