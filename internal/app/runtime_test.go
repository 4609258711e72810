package app

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/kanatalink/kanatalink/internal/bus"
	"github.com/kanatalink/kanatalink/internal/commands"
	"github.com/kanatalink/kanatalink/internal/config"
	"github.com/kanatalink/kanatalink/internal/connectors"
	"github.com/kanatalink/kanatalink/internal/listener"
	"github.com/kanatalink/kanatalink/internal/persistence"
	"github.com/kanatalink/kanatalink/internal/platform"
	"github.com/kanatalink/kanatalink/internal/sink"
)

func initTestRuntime(t *testing.T, root string, overrides Overrides) *Runtime {
	t.Helper()
	overrides.RootDir = root
	overrides.LogOutput = io.Discard
	rt, err := Initialize(context.Background(), overrides)
	if err != nil {
		t.Fatalf("initialize runtime: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })

	return rt
}

func nextEvent(t *testing.T, sub bus.Subscription) sink.Event {
	t.Helper()
	select {
	case raw, ok := <-sub:
		if !ok {
			t.Fatalf("event subscription closed")
		}
		ev, ok := raw.(sink.Event)
		if !ok {
			t.Fatalf("unexpected bus payload %T", raw)
		}

		return ev
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for event")
	}

	return sink.Event{}
}

func TestRuntimePingEmitsOneEventPerCall(t *testing.T) {
	rt := initTestRuntime(t, t.TempDir(), Overrides{})
	sub := rt.Bus.Subscribe(connectors.TopicForEvent(commands.EventPingPong))

	const pings = 5
	for i := 0; i < pings; i++ {
		if err := rt.Commands.Ping(); err != nil {
			t.Fatalf("ping %d: %v", i, err)
		}
	}
	for i := 0; i < pings; i++ {
		ev := nextEvent(t, sub)
		if ev.Name != commands.EventPingPong || ev.Payload != commands.PingPayload {
			t.Fatalf("unexpected ping event %+v", ev)
		}
	}
	select {
	case raw := <-sub:
		t.Fatalf("unexpected extra event %+v", raw)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRuntimeForwardsLinesAndJournalsThem(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte("{\"LayerChange\":{\"new\":\"nav\"}}\nplain\n"))
		// Hold the connection open so the listener does not reconnect.
		buf := make([]byte, 1)
		_, _ = conn.Read(buf)
		_ = conn.Close()
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	rt := initTestRuntime(t, t.TempDir(), Overrides{Host: "127.0.0.1", Port: port, RetryDelay: 50 * time.Millisecond})
	sub := rt.Bus.Subscribe(connectors.TopicForEvent(config.DefaultMessageEvent))

	if err := rt.Commands.StartListener(rt.Ctx); err != nil {
		t.Fatalf("start listener: %v", err)
	}
	first := nextEvent(t, sub)
	second := nextEvent(t, sub)
	if first.Payload != `{"LayerChange":{"new":"nav"}}` || second.Payload != "plain" {
		t.Fatalf("unexpected forwarded payloads %q, %q", first.Payload, second.Payload)
	}

	statusDeadline := time.Now().Add(2 * time.Second)
	for {
		status, known := rt.CurrentConnStatus()
		if known && status.State == connectors.ConnectionStateConnected {
			break
		}
		if time.Now().After(statusDeadline) {
			t.Fatalf("expected connected status, got %+v (known=%v)", status, known)
		}
		time.Sleep(10 * time.Millisecond)
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	deadline := time.Now().Add(2 * time.Second)
	for {
		if err := rt.WriterQueue.Flush(flushCtx); err != nil {
			t.Fatalf("flush journal: %v", err)
		}
		entries, err := rt.MessageRepo.ListRecent(flushCtx, config.DefaultMessageEvent, 10)
		if err != nil {
			t.Fatalf("list journal: %v", err)
		}
		if len(entries) == 2 {
			if entries[0].Payload != first.Payload || entries[1].Payload != "plain" {
				t.Fatalf("unexpected journal order %+v", entries)
			}
			if entries[0].ConnID == "" || entries[0].ConnID != rt.Transport.ConnID() {
				t.Fatalf("expected journal conn id %q, got %q", rt.Transport.ConnID(), entries[0].ConnID)
			}

			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected 2 journal entries, got %d", len(entries))
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := rt.Close(); err != nil {
		t.Fatalf("close runtime: %v", err)
	}
	if rt.Listener.Running() {
		t.Fatalf("expected listener to be stopped after Close")
	}

	// The stopped event is published during Close and must still reach the journal.
	db, err := persistence.Open(context.Background(), rt.Paths.JournalFile)
	if err != nil {
		t.Fatalf("reopen journal: %v", err)
	}
	defer func() { _ = db.Close() }()
	lifecycle, err := persistence.NewMessageRepo(db).ListRecent(context.Background(), config.DefaultLifecycleEvent, 10)
	if err != nil {
		t.Fatalf("list lifecycle journal: %v", err)
	}
	if len(lifecycle) == 0 || lifecycle[len(lifecycle)-1].Payload != listener.LifecycleStopped {
		t.Fatalf("expected the journal to end with the stopped lifecycle event, got %+v", lifecycle)
	}
}

func TestRuntimeRejectsSecondInstance(t *testing.T) {
	root := t.TempDir()
	_ = initTestRuntime(t, root, Overrides{})

	_, err := Initialize(context.Background(), Overrides{RootDir: root, LogOutput: io.Discard})
	if !errors.Is(err, platform.ErrInstanceAlreadyRunning) {
		t.Fatalf("expected ErrInstanceAlreadyRunning, got %v", err)
	}
}

func TestRuntimeRejectsInvalidOverride(t *testing.T) {
	_, err := Initialize(context.Background(), Overrides{RootDir: t.TempDir(), Port: 70000, LogOutput: io.Discard})
	if err == nil {
		t.Fatalf("expected invalid port override to fail")
	}
}

func TestListenerOptionsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Events.Payloads = config.PayloadModeJSON
	cfg.Connection.ReconnectDelay = config.Duration(time.Second)

	opts := ListenerOptionsFromConfig(cfg)
	if opts.Payloads != listener.PayloadJSON {
		t.Fatalf("expected json payload mode, got %q", opts.Payloads)
	}
	if opts.RetryDelay != config.DefaultRetryDelay || opts.ReconnectDelay != time.Second {
		t.Fatalf("unexpected delays: retry=%s reconnect=%s", opts.RetryDelay, opts.ReconnectDelay)
	}
	if opts.MessageEvent != config.DefaultMessageEvent || opts.LifecycleEvent != config.DefaultLifecycleEvent {
		t.Fatalf("unexpected event names %+v", opts)
	}
}

func TestRuntimeStatusPublishesKeepFlowingAfterCancel(t *testing.T) {
	rt := initTestRuntime(t, t.TempDir(), Overrides{})
	rt.cancel()

	published := make(chan struct{})
	go func() {
		defer close(published)
		for i := 0; i < 300; i++ {
			_ = rt.Bus.Publish(connectors.TopicConnStatus, connectors.ConnectionStatus{
				State:   connectors.ConnectionStateReconnecting,
				Attempt: uint64(i),
			})
		}
	}()

	select {
	case <-published:
	case <-time.After(5 * time.Second):
		t.Fatalf("status publishes blocked after the runtime context was cancelled")
	}
}
