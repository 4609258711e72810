package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// PayloadMode controls what the listener does with a line before forwarding it.
type PayloadMode string

const (
	PayloadModeRaw  PayloadMode = "raw"
	PayloadModeJSON PayloadMode = "json"

	DefaultHost           = "localhost"
	DefaultPort           = 42041
	DefaultRetryDelay     = 5 * time.Second
	DefaultMaxLineBytes   = 1 << 20
	DefaultMessageEvent   = "kanata-message"
	DefaultLifecycleEvent = "kanata-listener"
	DefaultJournalMaxRows = 5000
	DefaultLogFormat      = "text"
)

// Duration is a time.Duration that reads and writes Go duration strings in JSON.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		parsed, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)

		return nil
	}

	var ms int64
	if err := json.Unmarshal(raw, &ms); err != nil {
		return fmt.Errorf("duration must be a string or milliseconds: %s", string(raw))
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)

	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// LoggingConfig defines runtime logging behavior.
type LoggingConfig struct {
	Level string `json:"level"`
	// Format is "text" or "json".
	Format    string `json:"format"`
	LogToFile bool   `json:"log_to_file"`
}

// ConnectionConfig identifies the line source endpoint and the reconnect timing.
type ConnectionConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	RetryDelay     Duration `json:"retry_delay"`
	ReconnectDelay Duration `json:"reconnect_delay"`
	ReadTimeout    Duration `json:"read_timeout"`
	MaxLineBytes   int      `json:"max_line_bytes"`
}

// Endpoint returns the dial address.
func (c ConnectionConfig) Endpoint() string {
	return net.JoinHostPort(strings.TrimSpace(c.Host), strconv.Itoa(c.Port))
}

// EventsConfig names the events handed to the notification sink.
type EventsConfig struct {
	Message   string      `json:"message"`
	Lifecycle string      `json:"lifecycle"`
	Payloads  PayloadMode `json:"payloads"`
}

// NotificationConfig stores desktop notification preferences.
type NotificationConfig struct {
	Desktop          bool `json:"desktop"`
	ConnectionStatus bool `json:"connection_status"`
}

// JournalConfig controls the local sqlite message journal.
type JournalConfig struct {
	Enabled bool `json:"enabled"`
	MaxRows int  `json:"max_rows"`
}

// AppConfig is the root persisted application configuration.
type AppConfig struct {
	Connection    ConnectionConfig   `json:"connection"`
	Events        EventsConfig       `json:"events"`
	Logging       LoggingConfig      `json:"logging"`
	Notifications NotificationConfig `json:"notifications"`
	Journal       JournalConfig      `json:"journal"`
}

func Default() AppConfig {
	return AppConfig{
		Connection: ConnectionConfig{
			Host:           DefaultHost,
			Port:           DefaultPort,
			RetryDelay:     Duration(DefaultRetryDelay),
			ReconnectDelay: 0,
			ReadTimeout:    0,
			MaxLineBytes:   DefaultMaxLineBytes,
		},
		Events: EventsConfig{
			Message:   DefaultMessageEvent,
			Lifecycle: DefaultLifecycleEvent,
			Payloads:  PayloadModeRaw,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Format:    DefaultLogFormat,
			LogToFile: false,
		},
		Notifications: NotificationConfig{
			Desktop:          false,
			ConnectionStatus: true,
		},
		Journal: JournalConfig{
			Enabled: true,
			MaxRows: DefaultJournalMaxRows,
		},
	}
}

func Load(path string) (AppConfig, error) {
	cfg := Default()
	cleanPath := filepath.Clean(path)
	// #nosec G304 -- path is resolved by app runtime and points to user config dir.
	raw, err := os.ReadFile(cleanPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}

		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	if err := json.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("decode config json: %w", err)
	}

	cfg.FillMissingDefaults()

	return cfg, nil
}

func (c *AppConfig) FillMissingDefaults() {
	if strings.TrimSpace(c.Connection.Host) == "" {
		c.Connection.Host = DefaultHost
	}
	if c.Connection.Port == 0 {
		c.Connection.Port = DefaultPort
	}
	if c.Connection.RetryDelay <= 0 {
		c.Connection.RetryDelay = Duration(DefaultRetryDelay)
	}
	if c.Connection.ReconnectDelay < 0 {
		c.Connection.ReconnectDelay = 0
	}
	if c.Connection.ReadTimeout < 0 {
		c.Connection.ReadTimeout = 0
	}
	if c.Connection.MaxLineBytes <= 0 {
		c.Connection.MaxLineBytes = DefaultMaxLineBytes
	}
	if strings.TrimSpace(c.Events.Message) == "" {
		c.Events.Message = DefaultMessageEvent
	}
	if strings.TrimSpace(c.Events.Lifecycle) == "" {
		c.Events.Lifecycle = DefaultLifecycleEvent
	}
	c.Events.Payloads = normalizePayloadMode(c.Events.Payloads)
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if c.Journal.MaxRows <= 0 {
		c.Journal.MaxRows = DefaultJournalMaxRows
	}
}

func normalizePayloadMode(mode PayloadMode) PayloadMode {
	switch PayloadMode(strings.ToLower(strings.TrimSpace(string(mode)))) {
	case PayloadModeJSON:
		return PayloadModeJSON
	default:
		return PayloadModeRaw
	}
}

func (c AppConfig) Validate() error {
	if strings.TrimSpace(c.Connection.Host) == "" {
		return errors.New("connection host is required")
	}
	if c.Connection.Port <= 0 || c.Connection.Port > 65535 {
		return fmt.Errorf("connection port out of range: %d", c.Connection.Port)
	}
	if c.Connection.RetryDelay <= 0 {
		return errors.New("retry delay must be positive")
	}
	if strings.TrimSpace(c.Events.Message) == "" {
		return errors.New("message event name is required")
	}
	if c.Events.Message == c.Events.Lifecycle {
		return fmt.Errorf("message and lifecycle events must differ: %q", c.Events.Message)
	}
	switch c.Events.Payloads {
	case PayloadModeRaw, PayloadModeJSON:
	default:
		return fmt.Errorf("unknown payload mode: %s", c.Events.Payloads)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format: %q", c.Logging.Format)
	}

	return nil
}

func Save(path string, cfg AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o600); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp config: %w", err)
	}

	return nil
}
