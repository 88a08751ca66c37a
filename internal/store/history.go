package store

import (
	"context"
	"fmt"
	"time"
)

// HistoryEntry is one row of the global chat history log, kept in arrival
// order independent of per-agent delivery order.
type HistoryEntry struct {
	Seq       int64     `json:"seq"`
	MessageID string    `json:"message_id"`
	Sender    string    `json:"sender"`
	Receivers []string  `json:"receivers"`
	Content   string    `json:"content"`
	PostedAt  time.Time `json:"posted_at"`
}

// AppendHistory records a message in arrival order. The sequence number is
// assigned by the database.
func (s *Store) AppendHistory(ctx context.Context, e *HistoryEntry) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO chat_history (message_id, sender, receivers, content, posted_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq`,
		e.MessageID, e.Sender, e.Receivers, e.Content, e.PostedAt,
	).Scan(&e.Seq)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// History returns the most recent entries in arrival order.
func (s *Store) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT seq, message_id, sender, receivers, content, posted_at
		FROM (
			SELECT * FROM chat_history ORDER BY seq DESC LIMIT $1
		) recent ORDER BY seq ASC`, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		if err := rows.Scan(&e.Seq, &e.MessageID, &e.Sender, &e.Receivers, &e.Content, &e.PostedAt); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
