package notifications

import (
	"fmt"
	"strings"

	"github.com/gen2brain/beeep"
)

// DesktopSender shows native desktop notifications through beeep.
type DesktopSender struct {
	appName string
	icon    string
	notify  func(title, message string, icon any) error
}

func NewDesktopSender(appName, icon string) *DesktopSender {
	if strings.TrimSpace(appName) != "" {
		beeep.AppName = appName
	}

	return &DesktopSender{
		appName: appName,
		icon:    icon,
		notify:  beeep.Notify,
	}
}

func (s *DesktopSender) Send(payload Payload) error {
	title := strings.TrimSpace(payload.Title)
	content := strings.TrimSpace(payload.Content)
	if title == "" && content == "" {
		return nil
	}
	if title == "" {
		title = s.appName
	}

	if err := s.notify(title, content, s.icon); err != nil {
		return fmt.Errorf("desktop notification: %w", err)
	}

	return nil
}
