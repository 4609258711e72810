package listener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/kanatalink/kanatalink/internal/sink"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type collectingSink struct {
	mu     sync.Mutex
	events []sink.Event
	fail   func(name, payload string) error
	notify chan struct{}
}

func newCollectingSink() *collectingSink {
	return &collectingSink{notify: make(chan struct{}, 1)}
}

func (s *collectingSink) Emit(name, payload string) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail != nil {
		if err := fail(name, payload); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.events = append(s.events, sink.Event{Name: name, Payload: payload, At: time.Now()})
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}

	return nil
}

func (s *collectingSink) named(name string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []string
	for _, ev := range s.events {
		if ev.Name == name {
			out = append(out, ev.Payload)
		}
	}

	return out
}

func (s *collectingSink) waitForNamed(t *testing.T, name string, count int) []string {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if got := s.named(name); len(got) >= count {
			return got
		}
		select {
		case <-s.notify:
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("timed out waiting for %d %q events, got %v", count, name, s.named(name))
		}
	}
}

// lineServer is an in-process line source. Each accepted connection is handed
// to the next script in order; connections beyond the scripts are held open.
type lineServer struct {
	ln      net.Listener
	host    string
	port    int
	mu      sync.Mutex
	scripts []func(net.Conn)
	accepts int
	open    []net.Conn
}

func newLineServer(t *testing.T, scripts ...func(net.Conn)) *lineServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	s := &lineServer{ln: ln, host: addr.IP.String(), port: addr.Port, scripts: scripts}
	t.Cleanup(s.close)
	go s.serve()

	return s
}

func (s *lineServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		idx := s.accepts
		s.accepts++
		var script func(net.Conn)
		if idx < len(s.scripts) {
			script = s.scripts[idx]
		} else {
			s.open = append(s.open, conn)
		}
		s.mu.Unlock()
		if script != nil {
			go script(conn)
		}
	}
}

func (s *lineServer) acceptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.accepts
}

func (s *lineServer) close() {
	_ = s.ln.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.open {
		_ = conn.Close()
	}
}

func writeAndClose(payload string) func(net.Conn) {
	return func(conn net.Conn) {
		_, _ = conn.Write([]byte(payload))
		_ = conn.Close()
	}
}

// scriptedTransport is a LineTransport driven entirely by the test.
type scriptedTransport struct {
	mu          sync.Mutex
	connectErr  error
	connectedAt []time.Time
	lines       chan string
	readErr     error
	connected   bool
	concurrent  int
	maxParallel int
	closed      chan struct{}
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{lines: make(chan string, 16), closed: make(chan struct{})}
}

func (t *scriptedTransport) Name() string { return "scripted" }

func (t *scriptedTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connectedAt = append(t.connectedAt, time.Now())
	if t.connectErr != nil {
		return t.connectErr
	}
	if !t.connected {
		t.concurrent++
		if t.concurrent > t.maxParallel {
			t.maxParallel = t.concurrent
		}
	}
	t.connected = true
	t.closed = make(chan struct{})

	return nil
}

func (t *scriptedTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connected {
		t.connected = false
		t.concurrent--
		close(t.closed)
	}

	return nil
}

func (t *scriptedTransport) ReadLine(ctx context.Context) (string, error) {
	t.mu.Lock()
	readErr := t.readErr
	closed := t.closed
	connected := t.connected
	t.mu.Unlock()
	if !connected {
		return "", errors.New("scripted transport not connected")
	}
	if readErr != nil {
		return "", readErr
	}

	select {
	case line := <-t.lines:
		return line, nil
	case <-closed:
		return "", net.ErrClosed
	}
}

func (t *scriptedTransport) attempts() []time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]time.Time(nil), t.connectedAt...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}
