// Package commands is the surface a host application invokes: a ping that
// proves the event path works and the listener activation.
package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kanatalink/kanatalink/internal/listener"
	"github.com/kanatalink/kanatalink/internal/sink"
)

const (
	EventPingPong = "ping-pong"
	PingPayload   = "pong"
)

// Activator starts and stops the background listener.
type Activator interface {
	Activate(ctx context.Context) *listener.Handle
	Stop()
}

type Commands struct {
	sink     sink.Sink
	listener Activator
	logger   *slog.Logger
}

func New(s sink.Sink, l Activator, logger *slog.Logger) *Commands {
	if logger == nil {
		logger = slog.Default().With("component", "commands")
	}

	return &Commands{sink: s, listener: l, logger: logger}
}

// Ping emits one ping-pong event synchronously.
func (c *Commands) Ping() error {
	if err := c.sink.Emit(EventPingPong, PingPayload); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	c.logger.Debug("ping emitted")

	return nil
}

// StartListener activates the background listener and returns immediately.
// Calling it again while the listener runs is a no-op.
func (c *Commands) StartListener(ctx context.Context) error {
	if c.listener == nil {
		return fmt.Errorf("start listener: listener is not configured")
	}
	c.listener.Activate(ctx)
	c.logger.Info("listener activation requested")

	return nil
}

// StopListener stops the background listener and waits for it to exit.
func (c *Commands) StopListener() {
	if c.listener == nil {
		return
	}
	c.listener.Stop()
}
