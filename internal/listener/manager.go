// Package listener keeps a line stream connection alive and forwards every
// line it reads to a notification sink.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kanatalink/kanatalink/internal/bus"
	"github.com/kanatalink/kanatalink/internal/connectors"
	"github.com/kanatalink/kanatalink/internal/sink"
	"github.com/kanatalink/kanatalink/internal/transport"
)

// PayloadMode selects what happens to a line before it is forwarded.
type PayloadMode string

const (
	// PayloadRaw forwards every line verbatim.
	PayloadRaw PayloadMode = "raw"
	// PayloadJSON forwards only lines that are valid JSON and drops the rest.
	PayloadJSON PayloadMode = "json"
)

// Lifecycle payloads emitted on Options.LifecycleEvent.
const (
	LifecycleStarting     = "starting"
	LifecycleConnected    = "connected"
	LifecycleDisconnected = "disconnected"
	LifecycleStopped      = "stopped"
)

const (
	DefaultMessageEvent   = "kanata-message"
	DefaultLifecycleEvent = "kanata-listener"
	DefaultRetryDelay     = 5 * time.Second
)

type Options struct {
	MessageEvent   string
	LifecycleEvent string
	// RetryDelay is the fixed pause after a failed connect attempt.
	RetryDelay time.Duration
	// ReconnectDelay is the pause after an open connection ends. Zero
	// reconnects immediately.
	ReconnectDelay time.Duration
	// ReadTimeout bounds a single line read. Zero waits forever.
	ReadTimeout time.Duration
	Payloads    PayloadMode
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.MessageEvent) == "" {
		o.MessageEvent = DefaultMessageEvent
	}
	if strings.TrimSpace(o.LifecycleEvent) == "" {
		o.LifecycleEvent = DefaultLifecycleEvent
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.ReconnectDelay < 0 {
		o.ReconnectDelay = 0
	}
	if o.ReadTimeout < 0 {
		o.ReadTimeout = 0
	}
	if o.Payloads != PayloadJSON {
		o.Payloads = PayloadRaw
	}

	return o
}

// Manager owns at most one running connect/read loop.
type Manager struct {
	logger    *slog.Logger
	sink      sink.Sink
	transport transport.LineTransport
	bus       bus.MessageBus
	opts      Options

	mu     sync.Mutex
	active *Handle

	stats counters
}

// NewManager builds a Manager. The bus is optional and only receives
// connection status snapshots.
func NewManager(logger *slog.Logger, s sink.Sink, tr transport.LineTransport, b bus.MessageBus, opts Options) *Manager {
	if logger == nil {
		logger = slog.Default().With("component", "listener")
	}

	return &Manager{
		logger:    logger,
		sink:      s,
		transport: tr,
		bus:       b,
		opts:      opts.withDefaults(),
	}
}

// Handle controls a running loop.
type Handle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Stop cancels the loop and waits for it to exit.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed once the loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) running() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Activate starts the loop in the background and returns at once. While a
// loop is running, further calls return its Handle instead of starting a
// second one.
func (m *Manager) Activate(ctx context.Context) *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && m.active.running() {
		m.logger.Debug("activate skipped: listener already running")

		return m.active
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	m.active = h
	go m.run(runCtx, h)

	return h
}

// Stop stops the running loop, if any.
func (m *Manager) Stop() {
	m.mu.Lock()
	h := m.active
	m.mu.Unlock()
	if h != nil {
		h.Stop()
	}
}

// Running reports whether a loop is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.active != nil && m.active.running()
}

func (m *Manager) Stats() Stats {
	return m.stats.snapshot()
}

func (m *Manager) run(ctx context.Context, h *Handle) {
	defer close(h.done)
	defer h.cancel()

	// A blocked read only returns once the connection is closed.
	stopClose := context.AfterFunc(ctx, func() {
		_ = m.transport.Close()
	})
	defer stopClose()
	defer func() {
		_ = m.transport.Close()
	}()

	m.logger.Info("listener starting", "target", m.target(), "retry_delay", m.opts.RetryDelay)
	m.emitLifecycle(LifecycleStarting)

	for {
		if ctx.Err() != nil {
			break
		}

		attempt := m.stats.connectAttempts.Add(1)
		m.publishConnStatus(connectors.ConnectionStateConnecting, attempt, nil)
		if err := m.transport.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			m.stats.connectFailures.Add(1)
			connectErr := &ConnectError{Target: m.target(), Attempt: attempt, Err: err}
			m.logger.Warn("connect failed", "attempt", attempt, "retry_in", m.opts.RetryDelay, "error", connectErr)
			m.publishConnStatus(connectors.ConnectionStateReconnecting, attempt, connectErr)
			if !sleepWithContext(ctx, m.opts.RetryDelay) {
				break
			}
			continue
		}

		m.stats.connections.Add(1)
		connID := m.connID()
		m.logger.Info("listener connected", "target", m.target(), "conn_id", connID, "attempt", attempt)
		m.publishConnStatus(connectors.ConnectionStateConnected, attempt, nil)
		m.emitLifecycle(LifecycleConnected)

		err := m.readLoop(ctx)
		_ = m.transport.Close()
		if ctx.Err() != nil {
			break
		}

		if errors.Is(err, io.EOF) {
			m.logger.Info("stream ended", "conn_id", connID)
			err = nil
		} else {
			err = &ReadError{ConnID: connID, Err: err}
			m.logger.Warn("read failed", "conn_id", connID, "error", err)
		}
		m.publishConnStatus(connectors.ConnectionStateReconnecting, attempt, err)
		m.emitLifecycle(LifecycleDisconnected)

		if m.opts.ReconnectDelay > 0 && !sleepWithContext(ctx, m.opts.ReconnectDelay) {
			break
		}
	}

	m.logger.Info("listener stopped", "stats", m.stats.snapshot())
	m.publishConnStatus(connectors.ConnectionStateDisconnected, 0, nil)
	m.emitLifecycle(LifecycleStopped)
}

func (m *Manager) readLoop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		readCtx, cancel := ctx, context.CancelFunc(func() {})
		if m.opts.ReadTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, m.opts.ReadTimeout)
		}
		line, err := m.transport.ReadLine(readCtx)
		cancel()
		if err != nil {
			return err
		}

		m.forward(line)
	}
}

func (m *Manager) forward(line string) {
	if m.opts.Payloads == PayloadJSON && !json.Valid([]byte(line)) {
		m.stats.messagesDropped.Add(1)
		m.logger.Warn("dropping non-json line", "len", len(line))

		return
	}

	if err := m.sink.Emit(m.opts.MessageEvent, line); err != nil {
		m.stats.deliveryFailures.Add(1)
		m.logger.Error("deliver message failed", "event", m.opts.MessageEvent, "error", err)

		return
	}
	m.stats.messagesForwarded.Add(1)
}

func (m *Manager) emitLifecycle(payload string) {
	if err := m.sink.Emit(m.opts.LifecycleEvent, payload); err != nil {
		m.stats.deliveryFailures.Add(1)
		m.logger.Warn("deliver lifecycle event failed", "event", m.opts.LifecycleEvent, "payload", payload, "error", err)
	}
}

func (m *Manager) publishConnStatus(state connectors.ConnectionState, attempt uint64, err error) {
	if m.bus == nil {
		return
	}

	status := connectors.ConnectionStatus{
		State:         state,
		TransportName: m.transport.Name(),
		Target:        m.target(),
		ConnID:        m.connID(),
		Attempt:       attempt,
		Timestamp:     time.Now(),
	}
	if err != nil {
		status.Err = err.Error()
	}
	if pubErr := m.bus.Publish(connectors.TopicConnStatus, status); pubErr != nil {
		m.logger.Debug("publish connection status failed", "state", state, "error", pubErr)
	}
}

func (m *Manager) target() string {
	if resolver, ok := m.transport.(transport.StatusTargetResolver); ok {
		return resolver.StatusTarget()
	}

	return m.transport.Name()
}

func (m *Manager) connID() string {
	if resolver, ok := m.transport.(transport.ConnIDResolver); ok {
		return resolver.ConnID()
	}

	return ""
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
