package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultDialTimeout = 6 * time.Second

// TCPTransport reads newline-delimited text from a TCP endpoint.
type TCPTransport struct {
	host         string
	port         int
	dialTimeout  time.Duration
	maxLineBytes int

	mu     sync.Mutex
	conn   net.Conn
	reader *bufio.Reader
	connID string
}

// TCPOption tweaks a TCPTransport.
type TCPOption func(*TCPTransport)

func WithDialTimeout(d time.Duration) TCPOption {
	return func(t *TCPTransport) {
		if d > 0 {
			t.dialTimeout = d
		}
	}
}

func WithMaxLineBytes(n int) TCPOption {
	return func(t *TCPTransport) {
		if n > 0 {
			t.maxLineBytes = n
		}
	}
}

func NewTCPTransport(host string, port int, opts ...TCPOption) *TCPTransport {
	t := &TCPTransport{
		host:         host,
		port:         port,
		dialTimeout:  defaultDialTimeout,
		maxLineBytes: DefaultMaxLineBytes,
	}
	for _, opt := range opts {
		opt(t)
	}

	return t
}

func (t *TCPTransport) Name() string {
	return "tcp"
}

func (t *TCPTransport) StatusTarget() string {
	if t.host == "" {
		return ""
	}

	return net.JoinHostPort(t.host, strconv.Itoa(t.port))
}

func (t *TCPTransport) ConnID() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.connID
}

func (t *TCPTransport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.conn != nil
}

func (t *TCPTransport) Connect(ctx context.Context) error {
	target := t.StatusTarget()
	logger := transportLogger("tcp", "target", target)

	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		logger.Debug("connect skipped: already connected")

		return nil
	}
	t.mu.Unlock()

	if t.host == "" {
		logger.Warn("connect failed: host is empty")

		return errors.New("tcp host is empty")
	}

	dialer := net.Dialer{Timeout: t.dialTimeout}
	logger.Debug("connecting")
	conn, err := dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return fmt.Errorf("dial tcp %s: %w", target, err)
	}

	connID := uuid.NewString()
	t.mu.Lock()
	if t.conn != nil {
		t.mu.Unlock()
		_ = conn.Close()
		logger.Debug("connect raced with another caller, keeping existing connection")

		return nil
	}
	t.conn = conn
	t.reader = bufio.NewReader(conn)
	t.connID = connID
	t.mu.Unlock()
	logger.Info("connected", "remote", conn.RemoteAddr().String(), "conn_id", connID)

	return nil
}

// Close drops the current connection. It is safe to call when not connected
// and from a goroutine other than the reader.
func (t *TCPTransport) Close() error {
	t.mu.Lock()
	conn := t.conn
	connID := t.connID
	t.conn = nil
	t.reader = nil
	t.connID = ""
	t.mu.Unlock()

	logger := transportLogger("tcp", "target", t.StatusTarget())
	if conn == nil {
		logger.Debug("close skipped: not connected")

		return nil
	}
	if err := conn.Close(); err != nil {
		logger.Warn("close failed", "conn_id", connID, "error", err)

		return err
	}
	logger.Info("closed", "conn_id", connID)

	return nil
}

func (t *TCPTransport) ReadLine(ctx context.Context) (string, error) {
	t.mu.Lock()
	conn, reader := t.conn, t.reader
	t.mu.Unlock()
	if conn == nil || reader == nil {
		return "", ErrNotConnected
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	} else {
		_ = conn.SetReadDeadline(time.Time{})
	}

	line, err := readLine(reader, t.maxLineBytes)
	if err != nil {
		return "", err
	}
	transportLogger("tcp").Debug("read line", "len", len(line))

	return line, nil
}
