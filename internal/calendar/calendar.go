// Package calendar is the read-only boundary to the external calendar sync.
// The sync itself runs elsewhere; this side only consumes the documents it
// leaves behind.
package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/apperr"
)

const (
	settingsFile = "sync_settings.json"
	linksFile    = "event_links.json"
)

// SyncSettings mirrors the sync-settings document written by the calendar
// collaborator.
type SyncSettings struct {
	Calendars      []string `json:"calendars"`
	SyncWindowDays int      `json:"sync_window_days"`
	PollMinutes    int      `json:"poll_minutes"`
}

// EventLink ties a calendar event to vault notes, with an optional reminder.
type EventLink struct {
	EventID  string    `json:"event_id"`
	Title    string    `json:"title,omitempty"`
	NoteIDs  []string  `json:"note_ids"`
	StartsAt time.Time `json:"starts_at"`
	RemindAt time.Time `json:"remind_at,omitempty"`
}

// Bridge reads the calendar documents from dir.
type Bridge struct {
	dir    string
	logger *zap.Logger
}

// NewBridge creates a Bridge over the sync directory.
func NewBridge(dir string, logger *zap.Logger) *Bridge {
	return &Bridge{dir: dir, logger: logger}
}

// Settings loads the sync-settings document. A missing document returns
// NotFound.
func (b *Bridge) Settings() (SyncSettings, error) {
	var s SyncSettings
	if err := b.readDoc(settingsFile, &s); err != nil {
		return SyncSettings{}, err
	}
	return s, nil
}

// LinkedNotes returns the note ids linked to a calendar event.
func (b *Bridge) LinkedNotes(eventID string) ([]string, error) {
	links, err := b.links()
	if err != nil {
		return nil, err
	}
	for _, l := range links {
		if l.EventID == eventID {
			return l.NoteIDs, nil
		}
	}
	return nil, fmt.Errorf("calendar event %s: %w", eventID, apperr.ErrNotFound)
}

// PendingReminders returns events whose reminder time has passed but whose
// start is still ahead at now.
func (b *Bridge) PendingReminders(now time.Time) ([]EventLink, error) {
	links, err := b.links()
	if err != nil {
		return nil, err
	}
	var pending []EventLink
	for _, l := range links {
		if l.RemindAt.IsZero() {
			continue
		}
		if !now.Before(l.RemindAt) && now.Before(l.StartsAt) {
			pending = append(pending, l)
		}
	}
	return pending, nil
}

// RunReminders polls for due reminders and hands each one to fire, at most
// once per event id per process. Missing documents are quiet; the sync job
// may not have run yet.
func (b *Bridge) RunReminders(ctx context.Context, interval time.Duration, fire func(EventLink)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	fired := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			pending, err := b.PendingReminders(now)
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			if err != nil {
				b.logger.Warn("reminder poll failed", zap.Error(err))
				continue
			}
			for _, l := range pending {
				if fired[l.EventID] {
					continue
				}
				fired[l.EventID] = true
				fire(l)
			}
		}
	}
}

func (b *Bridge) links() ([]EventLink, error) {
	var links []EventLink
	if err := b.readDoc(linksFile, &links); err != nil {
		return nil, err
	}
	return links, nil
}

func (b *Bridge) readDoc(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(b.dir, name))
	if os.IsNotExist(err) {
		return fmt.Errorf("calendar document %s: %w", name, apperr.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("read calendar document %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: calendar document %s: %v", apperr.ErrValidation, name, err)
	}
	return nil
}
