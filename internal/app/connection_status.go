package app

import (
	"fmt"
	"strings"

	"github.com/kanatalink/kanatalink/internal/config"
	"github.com/kanatalink/kanatalink/internal/connectors"
)

const transportNameTCP = "tcp"

// ConnectionStatusFromConfig is the status reported before the listener has
// published anything.
func ConnectionStatusFromConfig(cfg config.ConnectionConfig) connectors.ConnectionStatus {
	status := connectors.ConnectionStatus{
		State:         connectors.ConnectionStateDisconnected,
		TransportName: transportNameTCP,
	}
	if strings.TrimSpace(cfg.Host) != "" && cfg.Port > 0 {
		status.Target = cfg.Endpoint()
	}

	return status
}

// DescribeConnectionStatus renders a one-line human summary.
func DescribeConnectionStatus(status connectors.ConnectionStatus) string {
	target := strings.TrimSpace(status.Target)
	if target == "" {
		target = "unknown endpoint"
	}
	line := fmt.Sprintf("%s %s", target, status.State)
	if errText := strings.TrimSpace(status.Err); errText != "" {
		line = fmt.Sprintf("%s (error: %s)", line, errText)
	}

	return line
}
