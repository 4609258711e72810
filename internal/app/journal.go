package app

import (
	"context"
	"log/slog"

	"github.com/kanatalink/kanatalink/internal/bus"
	"github.com/kanatalink/kanatalink/internal/connectors"
	"github.com/kanatalink/kanatalink/internal/persistence"
	"github.com/kanatalink/kanatalink/internal/sink"
)

// JournalRepository is the write side of the message journal.
type JournalRepository interface {
	Insert(ctx context.Context, e persistence.JournalEntry) (int64, error)
	Prune(ctx context.Context, maxRows int) (int64, error)
}

// JournalQueue runs journal writes off the event path.
type JournalQueue interface {
	Enqueue(name string, fn func(context.Context) error)
}

// StartJournalProjection records every sink event in the journal, tagged with
// the id of the connection that was open when it was published. The returned
// channel is closed once every event published before ctx was cancelled has
// been queued for writing.
func StartJournalProjection(ctx context.Context, b bus.MessageBus, queue JournalQueue, repo JournalRepository, maxRows int, logger *slog.Logger) <-chan struct{} {
	if logger == nil {
		logger = slog.Default().With("component", "app.journal")
	}
	// One channel for both topics keeps status and events in publish order.
	sub := b.Subscribe(connectors.TopicConnStatus, connectors.TopicEventAll)

	var (
		connID  string
		written int
	)

	return bus.Listen(ctx, b, sub, func(raw any) {
		if status, ok := raw.(connectors.ConnectionStatus); ok {
			connID = status.ConnID

			return
		}
		ev, ok := raw.(sink.Event)
		if !ok {
			return
		}
		entry := persistence.JournalEntry{
			ConnID:     connID,
			Event:      ev.Name,
			Payload:    ev.Payload,
			ReceivedAt: ev.At,
		}
		queue.Enqueue("journal.insert", func(ctx context.Context) error {
			_, err := repo.Insert(ctx, entry)
			return err
		})
		written++
		if maxRows > 0 && written%JournalPruneEvery == 0 {
			queue.Enqueue("journal.prune", func(ctx context.Context) error {
				n, err := repo.Prune(ctx, maxRows)
				if err == nil && n > 0 {
					logger.Debug("journal pruned", "deleted", n)
				}
				return err
			})
		}
	})
}
