package listener

import "sync/atomic"

// Stats is a point-in-time copy of the listener counters.
type Stats struct {
	ConnectAttempts   uint64
	ConnectFailures   uint64
	Connections       uint64
	MessagesForwarded uint64
	MessagesDropped   uint64
	DeliveryFailures  uint64
}

type counters struct {
	connectAttempts   atomic.Uint64
	connectFailures   atomic.Uint64
	connections       atomic.Uint64
	messagesForwarded atomic.Uint64
	messagesDropped   atomic.Uint64
	deliveryFailures  atomic.Uint64
}

func (c *counters) snapshot() Stats {
	return Stats{
		ConnectAttempts:   c.connectAttempts.Load(),
		ConnectFailures:   c.connectFailures.Load(),
		Connections:       c.connections.Load(),
		MessagesForwarded: c.messagesForwarded.Load(),
		MessagesDropped:   c.messagesDropped.Load(),
		DeliveryFailures:  c.deliveryFailures.Load(),
	}
}
