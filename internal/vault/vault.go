// Package vault implements the file-backed note store, the system of record
// for all user-facing state. Notes live under one directory per note type
// with a YAML frontmatter header per file.
package vault

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/apperr"
	"github.com/kekehq/keke/internal/note"
)

// MetaDir holds derived index documents; it is never scanned as note content.
const MetaDir = "_meta"

// typeDirs maps note types to their vault subdirectories.
var typeDirs = map[note.Type]string{
	note.TypeMemory:    "Memory",
	note.TypeTask:      "Task",
	note.TypeKnowledge: "Knowledge",
	note.TypePerson:    "Person",
	note.TypeQuickNote: "QuickNote",
}

// Op labels a change event.
type Op string

const (
	OpPut    Op = "put"
	OpDelete Op = "delete"
)

// Event notifies observers that a note changed. The indexer consumes these
// instead of being called directly by the store.
type Event struct {
	Op     Op
	NoteID string
	Type   note.Type
}

// Store is the vault. Concurrent writes to the same note id are serialized;
// writes to different ids proceed independently.
type Store struct {
	root   string
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	events chan Event
}

// Open roots a Store at dir, creating the per-type directories if needed.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve vault root: %w", err)
	}
	for _, sub := range typeDirs {
		if err := os.MkdirAll(filepath.Join(abs, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create vault dir %s: %w", sub, err)
		}
	}
	if err := os.MkdirAll(filepath.Join(abs, MetaDir), 0o755); err != nil {
		return nil, fmt.Errorf("create meta dir: %w", err)
	}
	return &Store{
		root:   abs,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
		events: make(chan Event, 256),
	}, nil
}

// Root returns the absolute vault root directory.
func (s *Store) Root() string { return s.root }

// Events returns the change-notification stream.
func (s *Store) Events() <-chan Event { return s.events }

// NoteID derives a stable note id from a type and title.
func NoteID(typ note.Type, title string) string {
	var b strings.Builder
	for _, c := range title {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteRune(c)
		case c == ' ', c == '-', c == '_':
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), "_")
	if name == "" {
		name = "untitled"
	}
	return typeDirs[typ] + "/" + name
}

// Put validates the note, assigns a monotonic Modified timestamp, and writes
// it atomically. A partially written note is never visible: the content is
// written to a temp file and renamed into place.
func (s *Store) Put(ctx context.Context, n *note.Note) error {
	if n.Created.IsZero() {
		n.Created = time.Now()
	}
	if err := n.Validate(); err != nil {
		return err
	}

	unlock := s.lockID(n.ID)
	defer unlock()

	path, err := s.notePath(n.ID)
	if err != nil {
		return err
	}

	// Type is immutable after creation.
	if prev, err := s.readNote(n.ID, path); err == nil {
		if prev.Type != n.Type {
			return fmt.Errorf("%w: note %s type is %s, cannot change to %s",
				apperr.ErrConflict, n.ID, prev.Type, n.Type)
		}
		if prev.Type == note.TypeTask && !note.ValidTransition(prev.Status, n.Status) {
			return fmt.Errorf("%w: task %s cannot move %s -> %s",
				apperr.ErrConflict, n.ID, prev.Status, n.Status)
		}
	}

	now := time.Now()
	if !now.After(n.Modified) {
		now = n.Modified.Add(time.Second)
	}
	n.Modified = now

	data, err := n.Render()
	if err != nil {
		return fmt.Errorf("render note %s: %w", n.ID, err)
	}
	if err := atomicWrite(path, data); err != nil {
		return fmt.Errorf("write note %s: %w", n.ID, err)
	}

	s.emit(Event{Op: OpPut, NoteID: n.ID, Type: n.Type})
	return nil
}

// Get returns the note with the given id.
func (s *Store) Get(ctx context.Context, id string) (*note.Note, error) {
	path, err := s.notePath(id)
	if err != nil {
		return nil, err
	}
	return s.readNote(id, path)
}

// Delete removes the note and emits a change event so the indexer can
// invalidate its chunks.
func (s *Store) Delete(ctx context.Context, id string) error {
	unlock := s.lockID(id)
	defer unlock()

	path, err := s.notePath(id)
	if err != nil {
		return err
	}
	n, err := s.readNote(id, path)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete note %s: %w", id, err)
	}
	s.emit(Event{Op: OpDelete, NoteID: id, Type: n.Type})
	return nil
}

// Walk visits every note of the given type matching the filter, in path
// order. The callback returns false to stop early. Calling Walk again
// restarts the scan, so the sequence is lazy and restartable.
func (s *Store) Walk(ctx context.Context, typ note.Type, f Filter, fn func(*note.Note) bool) error {
	dirs := []string{typeDirs[typ]}
	if typ == "" {
		dirs = dirs[:0]
		for _, d := range typeDirs {
			dirs = append(dirs, d)
		}
	}
	for _, d := range dirs {
		base := filepath.Join(s.root, d)
		stop := false
		err := filepath.WalkDir(base, func(p string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil || stop {
				return walkErr
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				return nil
			}
			rel, _ := filepath.Rel(s.root, p)
			id := strings.TrimSuffix(filepath.ToSlash(rel), ".md")
			n, err := s.readNote(id, p)
			if err != nil {
				s.logger.Warn("skipping unreadable note",
					zap.String("id", id), zap.Error(err))
				return nil
			}
			if !f.Matches(n) {
				return nil
			}
			if !fn(n) {
				stop = true
				return fs.SkipAll
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("walk vault: %w", err)
		}
		if stop {
			return nil
		}
	}
	return nil
}

// List collects matching notes into a slice. Convenience over Walk.
func (s *Store) List(ctx context.Context, typ note.Type, f Filter) ([]*note.Note, error) {
	var out []*note.Note
	err := s.Walk(ctx, typ, f, func(n *note.Note) bool {
		out = append(out, n)
		return true
	})
	return out, err
}

func (s *Store) readNote(id, path string) (*note.Note, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("note %s: %w", id, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("read note %s: %w", id, err)
	}
	n, err := note.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("note %s: %w", id, err)
	}
	n.ID = id
	return n, nil
}

// notePath resolves a note id to an absolute path, rejecting traversal.
func (s *Store) notePath(id string) (string, error) {
	if id == "" || filepath.IsAbs(id) {
		return "", fmt.Errorf("%w: bad note id %q", apperr.ErrValidation, id)
	}
	cleaned := filepath.Clean(filepath.FromSlash(id))
	joined := filepath.Join(s.root, cleaned+".md")
	if !strings.HasPrefix(joined, s.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: note id escapes vault root: %q", apperr.ErrValidation, id)
	}
	return joined, nil
}

func (s *Store) lockID(id string) func() {
	s.mu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	s.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (s *Store) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Warn("vault event dropped, slow consumer",
			zap.String("note", ev.NoteID), zap.String("op", string(ev.Op)))
	}
}

// atomicWrite writes data to a temp file in the target directory and renames
// it over the destination.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".keke-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
