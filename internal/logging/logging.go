package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kanatalink/kanatalink/internal/config"
)

// Manager hands out component loggers and owns the optional log file.
// Console output goes to stderr by default; stdout belongs to forwarded events.
//
// All handlers share one level variable, so a later Configure changes the
// level of loggers that were handed out before it.
type Manager struct {
	mu      sync.Mutex
	level   slog.LevelVar
	console io.Writer
	file    *os.File
	root    *slog.Logger
}

func NewManager() *Manager {
	return NewManagerWithConsole(os.Stderr)
}

func NewManagerWithConsole(console io.Writer) *Manager {
	if console == nil {
		console = io.Discard
	}
	m := &Manager{console: console}
	m.root = slog.New(newHandler(console, config.DefaultLogFormat, &m.level))

	return m
}

// Configure applies level, format and file settings and installs the result
// as the process default logger.
func (m *Manager) Configure(cfg config.LoggingConfig, filePath string) error {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	format, err := ParseFormat(cfg.Format)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeFileLocked()
	out := m.console
	if cfg.LogToFile {
		f, err := openLogFile(filePath)
		if err != nil {
			return err
		}
		m.file = f
		out = teeWriter{primary: m.console, secondary: f}
	}

	m.level.Set(level)
	m.root = slog.New(newHandler(out, format, &m.level))
	slog.SetDefault(m.root)

	return nil
}

// Logger returns a logger tagged with the component name.
func (m *Manager) Logger(component string) *slog.Logger {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.root.With("component", component)
}

// Level reports the level currently in force.
func (m *Manager) Level() slog.Level {
	return m.level.Level()
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.file == nil {
		return nil
	}
	err := m.file.Close()
	m.file = nil

	return err
}

func (m *Manager) closeFileLocked() {
	if m.file != nil {
		_ = m.file.Close()
		m.file = nil
	}
}

func openLogFile(path string) (*os.File, error) {
	// #nosec G304 -- path is resolved by the runtime under the user config dir.
	f, err := os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	return f, nil
}

func newHandler(out io.Writer, format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(out, opts)
	}

	return slog.NewTextHandler(out, opts)
}

// ParseLevel maps a config level name to a slog level.
func ParseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}

	return slog.LevelInfo, fmt.Errorf("unsupported log level: %q", raw)
}

// ParseFormat normalizes a config format name. Empty means text.
func ParseFormat(raw string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(raw)); f {
	case "":
		return config.DefaultLogFormat, nil
	case "text", "json":
		return f, nil
	}

	return "", fmt.Errorf("unsupported log format: %q", raw)
}

// teeWriter copies each record to both destinations. A broken console must
// not cost the file its records and the other way round, so the write only
// fails when neither side took the whole record.
type teeWriter struct {
	primary   io.Writer
	secondary io.Writer
}

func (w teeWriter) Write(p []byte) (int, error) {
	errPrimary := writeAll(w.primary, p)
	errSecondary := writeAll(w.secondary, p)
	if errPrimary != nil && errSecondary != nil {
		return 0, errPrimary
	}

	return len(p), nil
}

func writeAll(w io.Writer, p []byte) error {
	n, err := w.Write(p)
	if err != nil {
		return err
	}
	if n != len(p) {
		return io.ErrShortWrite
	}

	return nil
}
