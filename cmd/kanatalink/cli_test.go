package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func runCLI(t *testing.T, dir string, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--dir", dir, "--log-level", "error"}, args...))
	err := cmd.Execute()

	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, output, substr string) {
	t.Helper()
	if !strings.Contains(output, substr) {
		t.Fatalf("expected %q to contain %q", output, substr)
	}
}

func decodeEventLines(t *testing.T, output string) []eventLine {
	t.Helper()
	var out []eventLine
	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev eventLine
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("decode event line %q: %v", line, err)
		}
		out = append(out, ev)
	}

	return out
}

// serveOnce accepts one connection, writes lines and keeps it open until the
// client goes away.
func serveOnce(t *testing.T, lines ...string) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for _, line := range lines {
			if _, err := conn.Write([]byte(line + "\n")); err != nil {
				return
			}
		}
		buf := make([]byte, 1)
		_, _ = conn.Read(buf)
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

func TestVersionCommand(t *testing.T) {
	out, _, err := runCLI(t, t.TempDir(), "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	requireContains(t, out, "kanatalink ")
}

func TestConfigInitPathAndShow(t *testing.T) {
	dir := t.TempDir()

	out, _, err := runCLI(t, dir, "config", "path")
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	requireContains(t, out, filepath.Join(dir, "config.json"))

	out, _, err = runCLI(t, dir, "config", "init")
	if err != nil {
		t.Fatalf("config init: %v", err)
	}
	requireContains(t, out, "Wrote default configuration")
	if _, err := os.Stat(filepath.Join(dir, "config.json")); err != nil {
		t.Fatalf("expected config file: %v", err)
	}

	if _, _, err := runCLI(t, dir, "config", "init"); err == nil {
		t.Fatalf("expected second init without --overwrite to fail")
	}

	out, _, err = runCLI(t, dir, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	requireContains(t, out, `"port": 42041`)
	requireContains(t, out, `"retry_delay": "5s"`)
}

func TestPingCommandEmitsRequestedCount(t *testing.T) {
	out, _, err := runCLI(t, t.TempDir(), "ping", "--count", "3", "--format", "json")
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	events := decodeEventLines(t, out)
	if len(events) != 3 {
		t.Fatalf("expected 3 ping events, got %d: %q", len(events), out)
	}
	for _, ev := range events {
		if ev.Event != "ping-pong" || ev.Payload != "pong" {
			t.Fatalf("unexpected ping event %+v", ev)
		}
	}
}

func TestPingCommandHandlesMoreThanOneBufferOfPings(t *testing.T) {
	const count = 300
	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	dir := t.TempDir()
	go func() {
		out, _, err := runCLI(t, dir, "ping", "--count", strconv.Itoa(count), "--format", "json")
		done <- result{out: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("ping: %v", res.err)
		}
		if events := decodeEventLines(t, res.out); len(events) != count {
			t.Fatalf("expected %d ping events, got %d", count, len(events))
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("ping --count %d did not return", count)
	}
}

func TestPingCommandRejectsZeroCount(t *testing.T) {
	if _, _, err := runCLI(t, t.TempDir(), "ping", "--count", "0"); err == nil {
		t.Fatalf("expected error for zero count")
	}
}

func TestRunForwardsLinesThenHistoryShowsThem(t *testing.T) {
	dir := t.TempDir()
	port := serveOnce(t, `{"LayerChange":{"new":"base"}}`, "hello")

	out, _, err := runCLI(t, dir, "run",
		"--host", "127.0.0.1",
		"--port", strconv.Itoa(port),
		"--retry-delay", "50ms",
		"--format", "json",
		"--for", "1s",
	)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	events := decodeEventLines(t, out)
	if len(events) == 0 || events[0].Event != "ping-pong" {
		t.Fatalf("expected ping-pong first, got %+v", events)
	}
	var messages []string
	for _, ev := range events {
		if ev.Event == "kanata-message" {
			messages = append(messages, ev.Payload)
		}
	}
	if len(messages) != 2 || messages[0] != `{"LayerChange":{"new":"base"}}` || messages[1] != "hello" {
		t.Fatalf("unexpected forwarded messages %q", messages)
	}
	if last := events[len(events)-1]; last.Event != "kanata-listener" || last.Payload != "stopped" {
		t.Fatalf("expected listener stopped last, got %+v", last)
	}

	out, _, err = runCLI(t, dir, "history", "--event", "kanata-message")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	requireContains(t, out, "hello")
	requireContains(t, out, "Payload")

	out, _, err = runCLI(t, dir, "history", "--json", "--limit", "1", "--event", "kanata-message")
	if err != nil {
		t.Fatalf("history json: %v", err)
	}
	var entries []historyEntry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("decode history json: %v", err)
	}
	if len(entries) != 1 || entries[0].Payload != "hello" || entries[0].ConnID == "" {
		t.Fatalf("unexpected history entries %+v", entries)
	}

	out, _, err = runCLI(t, dir, "history", "--clear")
	if err != nil {
		t.Fatalf("history clear: %v", err)
	}
	requireContains(t, out, "Journal cleared")
	out, _, err = runCLI(t, dir, "history")
	if err != nil {
		t.Fatalf("history after clear: %v", err)
	}
	requireContains(t, out, "Journal is empty")
}

func TestResolveFormat(t *testing.T) {
	var buf bytes.Buffer
	if got, err := resolveFormat("auto", &buf); err != nil || got != formatJSON {
		t.Fatalf("expected auto to pick json for non-terminals, got %q, %v", got, err)
	}
	if got, err := resolveFormat("TEXT", &buf); err != nil || got != formatText {
		t.Fatalf("expected text, got %q, %v", got, err)
	}
	if _, err := resolveFormat("yaml", &buf); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
