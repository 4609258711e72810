package notifications

// Payload is a generic user-facing notification payload.
type Payload struct {
	Title   string
	Content string
}

// Sender sends notifications using a platform-specific backend.
type Sender interface {
	Send(payload Payload) error
}

// NoopSender drops every notification.
type NoopSender struct{}

func (NoopSender) Send(Payload) error {
	return nil
}
