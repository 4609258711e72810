package bus

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"sync"

	"github.com/cskr/pubsub"
)

// ErrClosed is returned by Publish once the bus has been shut down.
var ErrClosed = errors.New("message bus is closed")

const defaultCapacity = 128

type Subscription chan any

type MessageBus interface {
	Publish(topic string, msg any) error
	Subscribe(topics ...string) Subscription
	Unsubscribe(ch Subscription, topics ...string)
	Close()
}

// PubSubBus delivers every message to each subscriber of its topic in publish order.
type PubSubBus struct {
	ps     *pubsub.PubSub
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func New(logger *slog.Logger) *PubSubBus {
	return NewWithCapacity(logger, defaultCapacity)
}

// NewWithCapacity sets the per-subscriber buffer size.
func NewWithCapacity(logger *slog.Logger, capacity int) *PubSubBus {
	if logger == nil {
		logger = slog.Default().With("component", "bus")
	}
	if capacity <= 0 {
		capacity = defaultCapacity
	}

	return &PubSubBus{
		ps:     pubsub.New(capacity),
		logger: logger,
	}
}

// Publish blocks until every subscriber of topic has buffer room for msg. A
// subscriber that stops reading without unsubscribing therefore stalls every
// publisher on its topics; long-lived subscribers should use Listen.
func (b *PubSubBus) Publish(topic string, msg any) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.logger.Debug("publish dropped: bus closed", "topic", topic)

		return ErrClosed
	}

	b.logger.Debug("publish", "topic", topic, "payload_type", payloadType(msg))
	b.ps.Pub(msg, topic)

	return nil
}

// Subscribe returns a channel that is already closed when the bus is closed.
func (b *PubSubBus) Subscribe(topics ...string) Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		ch := make(Subscription)
		close(ch)

		return ch
	}

	ch := b.ps.Sub(topics...)
	b.logger.Debug("subscribe", "topics", topics)

	return ch
}

func (b *PubSubBus) Unsubscribe(ch Subscription, topics ...string) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	if len(topics) == 0 {
		b.ps.Unsub(ch)
		b.logger.Debug("unsubscribe", "mode", "all")

		return
	}
	b.ps.Unsub(ch, topics...)
	b.logger.Debug("unsubscribe", "topics", topics)
}

// Close shuts the bus down and closes all subscription channels.
func (b *PubSubBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.ps.Shutdown()
}

// Listen calls fn for every message on sub until sub is closed, either by
// Close or by cancelling ctx, which unsubscribes it. Messages published
// before the cancellation are still handed to fn. The returned channel is
// closed after fn has seen the last message.
func Listen(ctx context.Context, b MessageBus, sub Subscription, fn func(msg any)) <-chan struct{} {
	done := make(chan struct{})
	// Unsubscribing has to happen off the reading goroutine, which keeps
	// draining so a publisher blocked on this channel can finish.
	stop := context.AfterFunc(ctx, func() {
		b.Unsubscribe(sub)
	})

	go func() {
		defer close(done)
		defer stop()
		for msg := range sub {
			fn(msg)
		}
	}()

	return done
}

func payloadType(v any) string {
	if v == nil {
		return "<nil>"
	}

	return reflect.TypeOf(v).String()
}
