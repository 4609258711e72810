package app

import (
	"testing"

	"github.com/kanatalink/kanatalink/internal/config"
	"github.com/kanatalink/kanatalink/internal/connectors"
)

func TestConnectionStatusFromConfig(t *testing.T) {
	status := ConnectionStatusFromConfig(config.Default().Connection)
	if status.State != connectors.ConnectionStateDisconnected {
		t.Fatalf("expected disconnected state, got %q", status.State)
	}
	if status.Target != "localhost:42041" {
		t.Fatalf("expected default target, got %q", status.Target)
	}

	empty := ConnectionStatusFromConfig(config.ConnectionConfig{})
	if empty.Target != "" {
		t.Fatalf("expected empty target for empty config, got %q", empty.Target)
	}
}

func TestDescribeConnectionStatus(t *testing.T) {
	got := DescribeConnectionStatus(connectors.ConnectionStatus{
		State:  connectors.ConnectionStateReconnecting,
		Target: "localhost:42041",
		Err:    "connection refused",
	})
	if got != "localhost:42041 reconnecting (error: connection refused)" {
		t.Fatalf("unexpected description %q", got)
	}
	if got := DescribeConnectionStatus(connectors.ConnectionStatus{State: connectors.ConnectionStateConnected}); got != "unknown endpoint connected" {
		t.Fatalf("unexpected description %q", got)
	}
}
