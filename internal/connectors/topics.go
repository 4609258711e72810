package connectors

const (
	TopicConnStatus = "conn.status"

	// TopicEventPrefix + event name carries every sink event with that name.
	TopicEventPrefix = "event."
	// TopicEventAll carries every sink event regardless of name.
	TopicEventAll = "events"
)

func TopicForEvent(name string) string {
	return TopicEventPrefix + name
}
