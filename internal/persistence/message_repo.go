package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// JournalEntry is one forwarded event as recorded in the journal.
type JournalEntry struct {
	LocalID    int64
	ConnID     string
	Event      string
	Payload    string
	ReceivedAt time.Time
}

type MessageRepo struct {
	db *sql.DB
}

func NewMessageRepo(db *sql.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

func (r *MessageRepo) Insert(ctx context.Context, e JournalEntry) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO messages(conn_id, event, payload, received_at)
		VALUES(?, ?, ?, ?)
	`, e.ConnID, e.Event, e.Payload, toUnixMillis(e.ReceivedAt))
	if err != nil {
		return 0, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get message local id: %w", err)
	}

	return id, nil
}

// ListRecent returns up to limit entries, oldest first. An empty event
// matches every event name.
func (r *MessageRepo) ListRecent(ctx context.Context, event string, limit int) ([]JournalEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT local_id, conn_id, event, payload, received_at
		FROM messages
		WHERE ? = '' OR event = ?
		ORDER BY local_id DESC
		LIMIT ?
	`, event, event, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []JournalEntry
	for rows.Next() {
		var (
			e          JournalEntry
			receivedAt int64
		)
		if err := rows.Scan(&e.LocalID, &e.ConnID, &e.Event, &e.Payload, &receivedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		e.ReceivedAt = fromUnixMillis(receivedAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return out, nil
}

func (r *MessageRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}

	return n, nil
}

// Prune keeps the newest maxRows entries and reports how many were deleted.
func (r *MessageRepo) Prune(ctx context.Context, maxRows int) (int64, error) {
	if maxRows <= 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE local_id <= (
			SELECT local_id FROM messages ORDER BY local_id DESC LIMIT 1 OFFSET ?
		)
	`, maxRows)
	if err != nil {
		return 0, fmt.Errorf("prune messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune messages rows affected: %w", err)
	}

	return n, nil
}

//goland:noinspection SqlWithoutWhere
func (r *MessageRepo) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM messages;`); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}

	return nil
}
