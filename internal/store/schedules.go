package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ScheduledRow persists a deadline-triggered scheduled message so it survives
// a restart. Condition-triggered messages hold an in-process predicate and
// are not recoverable; they are re-created by their owners at boot.
type ScheduledRow struct {
	ID        string
	Sender    string
	Receiver  string
	Content   string
	FireAt    time.Time
	CreatedAt time.Time
}

// SaveScheduled stores a pending deadline message.
func (s *Store) SaveScheduled(ctx context.Context, r *ScheduledRow) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO scheduled_messages (id, sender, receiver, content, fire_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		r.ID, r.Sender, r.Receiver, r.Content, r.FireAt,
	)
	if err != nil {
		return fmt.Errorf("save scheduled message %s: %w", r.ID, err)
	}
	return nil
}

// DeleteScheduled removes a scheduled message after it fires or is canceled.
func (s *Store) DeleteScheduled(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM scheduled_messages WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete scheduled message %s: %w", id, err)
	}
	return nil
}

// ListScheduled returns all pending deadline messages.
func (s *Store) ListScheduled(ctx context.Context) ([]ScheduledRow, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, sender, receiver, content, fire_at, created_at
		FROM scheduled_messages ORDER BY fire_at`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled messages: %w", err)
	}
	defer rows.Close()

	var out []ScheduledRow
	for rows.Next() {
		var r ScheduledRow
		if err := rows.Scan(&r.ID, &r.Sender, &r.Receiver, &r.Content, &r.FireAt, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scheduled message: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Watermark returns the named progress marker, zero time when unset.
// The reflection scheduler uses this for its at-least-once cursor.
func (s *Store) Watermark(ctx context.Context, name string) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRow(ctx,
		`SELECT mark FROM watermarks WHERE name = $1`, name).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("load watermark %s: %w", name, err)
	}
	return t, nil
}

// SetWatermark advances the named progress marker.
func (s *Store) SetWatermark(ctx context.Context, name string, mark time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO watermarks (name, mark) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET mark = EXCLUDED.mark`,
		name, mark)
	if err != nil {
		return fmt.Errorf("set watermark %s: %w", name, err)
	}
	return nil
}
