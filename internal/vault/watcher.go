package vault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/note"
)

// Watch runs an fsnotify watcher over the vault root and feeds external file
// edits into the store's change-notification stream, so the indexer sees
// edits made outside the API (e.g. through a note editor) the same way it
// sees Put/Delete calls. Blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer w.Close()

	for _, sub := range typeDirs {
		if err := w.Add(filepath.Join(s.root, sub)); err != nil {
			return fmt.Errorf("watch %s: %w", sub, err)
		}
	}
	s.logger.Info("vault watcher started", zap.String("root", s.root))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("vault watcher stopped")
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if !strings.HasSuffix(name, ".md") || strings.HasPrefix(name, ".") {
				continue
			}
			rel, relErr := filepath.Rel(s.root, ev.Name)
			if relErr != nil {
				continue
			}
			id := strings.TrimSuffix(filepath.ToSlash(rel), ".md")

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				n, readErr := s.Get(ctx, id)
				if readErr != nil {
					continue
				}
				s.emit(Event{Op: OpPut, NoteID: id, Type: n.Type})

			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				if _, statErr := os.Stat(ev.Name); statErr == nil {
					continue
				}
				s.emit(Event{Op: OpDelete, NoteID: id, Type: typeFromID(id)})
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("vault watcher error", zap.Error(err))
		}
	}
}

// typeFromID maps the id's directory prefix back to a note type.
func typeFromID(id string) note.Type {
	dir, _, _ := strings.Cut(id, "/")
	for typ, d := range typeDirs {
		if d == dir {
			return typ
		}
	}
	return ""
}
