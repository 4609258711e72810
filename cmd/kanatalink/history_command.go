package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/kanatalink/kanatalink/internal/persistence"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var (
		event   string
		limit   int
		asJSON  bool
		clearDB bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recently forwarded events from the local journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := ctx.paths()
			if err != nil {
				return err
			}
			db, err := persistence.Open(cmd.Context(), paths.JournalFile)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()
			repo := persistence.NewMessageRepo(db)

			out := cmd.OutOrStdout()
			if clearDB {
				if err := repo.Clear(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(out, "Journal cleared")

				return nil
			}

			entries, err := repo.ListRecent(cmd.Context(), event, limit)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, historyJSON(entries))
			}
			if len(entries) == 0 {
				fmt.Fprintln(out, "Journal is empty")

				return nil
			}
			fmt.Fprintln(out, renderHistoryTable(entries))

			return nil
		},
	}

	cmd.Flags().StringVarP(&event, "event", "e", "", "Only show events with this name")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&clearDB, "clear", false, "Delete every journal entry")

	return cmd
}

type historyEntry struct {
	ID         int64     `json:"id"`
	ConnID     string    `json:"conn_id,omitempty"`
	Event      string    `json:"event"`
	Payload    string    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

func historyJSON(entries []persistence.JournalEntry) []historyEntry {
	out := make([]historyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntry{
			ID:         e.LocalID,
			ConnID:     e.ConnID,
			Event:      e.Event,
			Payload:    e.Payload,
			ReceivedAt: e.ReceivedAt,
		})
	}

	return out
}

func renderHistoryTable(entries []persistence.JournalEntry) string {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			strconv.FormatInt(e.LocalID, 10),
			e.ReceivedAt.Local().Format(time.DateTime),
			e.Event,
			shortConnID(e.ConnID),
			e.Payload,
		})
	}

	return renderTable(
		[]string{"ID", "Received", "Event", "Conn", "Payload"},
		rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
	)
}

func shortConnID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}
