package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/kanatalink/kanatalink/internal/bus"
	"github.com/kanatalink/kanatalink/internal/commands"
	"github.com/kanatalink/kanatalink/internal/config"
	"github.com/kanatalink/kanatalink/internal/connectors"
	"github.com/kanatalink/kanatalink/internal/listener"
	"github.com/kanatalink/kanatalink/internal/logging"
	"github.com/kanatalink/kanatalink/internal/notifications"
	"github.com/kanatalink/kanatalink/internal/persistence"
	"github.com/kanatalink/kanatalink/internal/platform"
	"github.com/kanatalink/kanatalink/internal/sink"
	"github.com/kanatalink/kanatalink/internal/transport"
)

const shutdownFlushTimeout = 2 * time.Second

// Overrides replace values from the config file for one process run.
// Zero values keep the configured value.
type Overrides struct {
	// RootDir replaces the user config directory and also holds the instance lock.
	RootDir    string
	Host       string
	Port       int
	RetryDelay time.Duration
	LogLevel   string
	// LogOutput receives console logs. Nil means stderr.
	LogOutput io.Writer
}

func (o Overrides) apply(cfg *config.AppConfig) {
	if host := strings.TrimSpace(o.Host); host != "" {
		cfg.Connection.Host = host
	}
	if o.Port != 0 {
		cfg.Connection.Port = o.Port
	}
	if o.RetryDelay > 0 {
		cfg.Connection.RetryDelay = config.Duration(o.RetryDelay)
	}
	if level := strings.TrimSpace(o.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
}

type Runtime struct {
	mu sync.RWMutex

	Ctx    context.Context
	cancel context.CancelFunc

	Paths  Paths
	Config config.AppConfig

	LogManager   *logging.Manager
	InstanceLock platform.InstanceLock
	Bus          *bus.PubSubBus
	DB           *sql.DB

	MessageRepo *persistence.MessageRepo
	WriterQueue *persistence.WriterQueue
	stopWriter  context.CancelFunc
	journalDone <-chan struct{}

	Sink          *sink.BusSink
	Transport     *transport.TCPTransport
	Listener      *listener.Manager
	Commands      *commands.Commands
	Notifications *NotificationService

	closeOnce sync.Once

	connStatusMu    sync.RWMutex
	connStatus      connectors.ConnectionStatus
	connStatusKnown bool
}

// Initialize builds the whole host runtime. The listener is not started;
// that is left to Commands.StartListener.
func Initialize(parent context.Context, overrides Overrides) (*Runtime, error) {
	paths, err := resolveRuntimePaths(overrides.RootDir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(paths.ConfigFile)
	if err != nil {
		return nil, err
	}
	overrides.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)
	rt := &Runtime{
		Ctx:    ctx,
		cancel: cancel,
		Paths:  paths,
		Config: cfg,
	}

	logMgr := logging.NewManager()
	if overrides.LogOutput != nil {
		logMgr = logging.NewManagerWithConsole(overrides.LogOutput)
	}
	if err := logMgr.Configure(cfg.Logging, paths.LogFile); err != nil {
		_ = logMgr.Close()
		cancel()

		return nil, fmt.Errorf("configure logging: %w", err)
	}
	rt.LogManager = logMgr
	slog.Info("starting kanatalink runtime", "version", BuildVersion(), "build_date", BuildDateYMD(), "release", IsReleaseBuild(), "target", cfg.Connection.Endpoint(), "log_level", logMgr.Level().String())

	lock, err := acquireRuntimeLock(overrides.RootDir)
	if err != nil {
		_ = rt.Close()

		return nil, err
	}
	rt.InstanceLock = lock

	b := bus.New(logMgr.Logger("bus"))
	rt.Bus = b
	bus.Listen(ctx, b, b.Subscribe(connectors.TopicConnStatus), rt.captureConnStatus)

	if cfg.Journal.Enabled {
		if err := rt.openJournal(ctx, cfg.Journal); err != nil {
			_ = rt.Close()

			return nil, err
		}
	}

	rt.Sink = sink.NewBusSink(b)
	rt.Transport = transport.NewTCPTransport(
		cfg.Connection.Host,
		cfg.Connection.Port,
		transport.WithMaxLineBytes(cfg.Connection.MaxLineBytes),
	)
	rt.Listener = listener.NewManager(logMgr.Logger("listener"), rt.Sink, rt.Transport, b, ListenerOptionsFromConfig(cfg))
	rt.Commands = commands.New(rt.Sink, rt.Listener, logMgr.Logger("commands"))

	var sender notifications.Sender = notifications.NoopSender{}
	if cfg.Notifications.Desktop {
		sender = notifications.NewDesktopSender(Name, "")
	}
	rt.Notifications = NewNotificationService(b, rt.CurrentConfig, sender, logMgr.Logger("notifications"))
	rt.Notifications.Start(ctx)

	return rt, nil
}

func resolveRuntimePaths(rootDir string) (Paths, error) {
	if strings.TrimSpace(rootDir) != "" {
		return PathsIn(rootDir)
	}

	return ResolvePaths()
}

func acquireRuntimeLock(rootDir string) (platform.InstanceLock, error) {
	if strings.TrimSpace(rootDir) != "" {
		return platform.AcquireInstanceLockAt(filepath.Join(rootDir, "instance.lock"))
	}

	return platform.AcquireInstanceLock(Name)
}

func (r *Runtime) openJournal(ctx context.Context, cfg config.JournalConfig) error {
	db, err := persistence.Open(ctx, r.Paths.JournalFile)
	if err != nil {
		return err
	}
	r.DB = db
	r.MessageRepo = persistence.NewMessageRepo(db)

	// The queue outlives the runtime context so Close can flush the tail.
	writerCtx, stopWriter := context.WithCancel(context.WithoutCancel(ctx))
	r.stopWriter = stopWriter
	writerQueue := persistence.NewWriterQueue(r.LogManager.Logger("persistence"), JournalQueueSize)
	writerQueue.Start(writerCtx)
	r.WriterQueue = writerQueue
	r.journalDone = StartJournalProjection(ctx, r.Bus, writerQueue, r.MessageRepo, cfg.MaxRows, r.LogManager.Logger("journal"))

	return nil
}

// ListenerOptionsFromConfig maps the persisted config onto listener options.
func ListenerOptionsFromConfig(cfg config.AppConfig) listener.Options {
	payloads := listener.PayloadRaw
	if cfg.Events.Payloads == config.PayloadModeJSON {
		payloads = listener.PayloadJSON
	}

	return listener.Options{
		MessageEvent:   cfg.Events.Message,
		LifecycleEvent: cfg.Events.Lifecycle,
		RetryDelay:     cfg.Connection.RetryDelay.Std(),
		ReconnectDelay: cfg.Connection.ReconnectDelay.Std(),
		ReadTimeout:    cfg.Connection.ReadTimeout.Std(),
		Payloads:       payloads,
	}
}

func (r *Runtime) CurrentConfig() config.AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.Config
}

func (r *Runtime) captureConnStatus(raw any) {
	if status, ok := raw.(connectors.ConnectionStatus); ok {
		r.setConnStatus(status)
	}
}

func (r *Runtime) setConnStatus(status connectors.ConnectionStatus) {
	r.connStatusMu.Lock()
	r.connStatus = status
	r.connStatusKnown = true
	r.connStatusMu.Unlock()
}

// CurrentConnStatus returns the last published status, or one derived from
// the config before the listener has reported anything.
func (r *Runtime) CurrentConnStatus() (connectors.ConnectionStatus, bool) {
	r.connStatusMu.RLock()
	status := r.connStatus
	known := r.connStatusKnown
	r.connStatusMu.RUnlock()
	if !known {
		return ConnectionStatusFromConfig(r.CurrentConfig().Connection), false
	}

	return status, true
}

// Close stops the listener and releases everything Initialize acquired, in
// reverse order.
func (r *Runtime) Close() error {
	r.closeOnce.Do(func() {
		if r.Commands != nil {
			r.Commands.StopListener()
		}
		// Cancelling unsubscribes the journal projection, which then finishes
		// queueing whatever the listener published on its way out.
		if r.cancel != nil {
			r.cancel()
		}
		if r.journalDone != nil {
			select {
			case <-r.journalDone:
			case <-time.After(shutdownFlushTimeout):
				slog.Warn("journal projection did not finish before shutdown")
			}
		}
		if r.WriterQueue != nil {
			flushCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
			if err := r.WriterQueue.Flush(flushCtx); err != nil {
				slog.Warn("flush journal on shutdown", "error", err)
			}
			cancel()
		}
		if r.stopWriter != nil {
			r.stopWriter()
		}
		if r.Bus != nil {
			r.Bus.Close()
		}
		if r.Transport != nil {
			_ = r.Transport.Close()
		}
		if r.DB != nil {
			_ = r.DB.Close()
		}
		if r.InstanceLock != nil {
			if err := r.InstanceLock.Release(); err != nil {
				slog.Warn("release instance lock", "error", err)
			}
		}
		if r.LogManager != nil {
			_ = r.LogManager.Close()
		}
	})

	return nil
}
