package app

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/kanatalink/kanatalink/internal/bus"
	"github.com/kanatalink/kanatalink/internal/config"
	"github.com/kanatalink/kanatalink/internal/connectors"
	"github.com/kanatalink/kanatalink/internal/notifications"
)

const (
	notificationTitleConnected = "Listener connected"
	notificationTitleLost      = "Listener connection lost"
)

// NotificationService turns connection status changes into desktop notifications.
// It reports a connect once and a loss once, not every retry in between.
type NotificationService struct {
	bus           bus.MessageBus
	currentConfig func() config.AppConfig
	sender        notifications.Sender
	logger        *slog.Logger

	mu        sync.Mutex
	connected bool
}

func NewNotificationService(
	messageBus bus.MessageBus,
	currentConfig func() config.AppConfig,
	sender notifications.Sender,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default().With("component", "app.notifications")
	}

	return &NotificationService{
		bus:           messageBus,
		currentConfig: currentConfig,
		sender:        sender,
		logger:        logger,
	}
}

func (s *NotificationService) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	connSub := s.bus.Subscribe(connectors.TopicConnStatus)
	bus.Listen(ctx, s.bus, connSub, func(raw any) {
		if status, ok := raw.(connectors.ConnectionStatus); ok {
			s.handleConnectionStatus(status)
		}
	})
}

func (s *NotificationService) handleConnectionStatus(status connectors.ConnectionStatus) {
	var payload notifications.Payload

	s.mu.Lock()
	switch status.State {
	case connectors.ConnectionStateConnected:
		if s.connected {
			s.mu.Unlock()

			return
		}
		s.connected = true
		payload = notifications.Payload{Title: notificationTitleConnected, Content: DescribeConnectionStatus(status)}
	case connectors.ConnectionStateReconnecting, connectors.ConnectionStateDisconnected:
		if !s.connected {
			s.mu.Unlock()

			return
		}
		s.connected = false
		payload = notifications.Payload{Title: notificationTitleLost, Content: DescribeConnectionStatus(status)}
	default:
		s.mu.Unlock()

		return
	}
	s.mu.Unlock()

	if !s.enabled() {
		return
	}
	s.send(payload)
}

func (s *NotificationService) enabled() bool {
	cfg := config.Default()
	if s.currentConfig != nil {
		cfg = s.currentConfig()
	}

	return cfg.Notifications.Desktop && cfg.Notifications.ConnectionStatus
}

func (s *NotificationService) send(notification notifications.Payload) {
	title := strings.TrimSpace(notification.Title)
	content := strings.TrimSpace(notification.Content)
	if title == "" && content == "" {
		return
	}
	s.logger.Debug("sending notification", "title", title)
	if err := s.sender.Send(notifications.Payload{Title: title, Content: content}); err != nil {
		s.logger.Warn("send notification failed", "title", title, "error", err)
	}
}
