package command

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kekehq/keke/internal/agent"
	"github.com/kekehq/keke/internal/note"
	"github.com/kekehq/keke/internal/orchestrator"
	"github.com/kekehq/keke/internal/retrieve"
)

// ---------------------------------------------------------------------------
// Interfaces — kept here so builtin commands avoid importing concrete types.
// ---------------------------------------------------------------------------

// DirectoryLister lists agent descriptors.
type DirectoryLister interface {
	List() []*agent.Descriptor
}

// Searcher answers semantic queries over the vault.
type Searcher interface {
	Query(ctx context.Context, text string, k int, f retrieve.Filters) ([]retrieve.Result, error)
}

// NoteReader reads a single note by id.
type NoteReader interface {
	Get(ctx context.Context, id string) (*note.Note, error)
}

// RoomControl is the slice of the room the commands drive.
type RoomControl interface {
	Handles() []string
	Schedule(ctx context.Context, sender, receiver, content string, trig orchestrator.Trigger) (string, error)
	CancelScheduled(ctx context.Context, id string) error
	ScheduledIDs() []string
}

const searchTopK = 5

// RegisterBuiltins registers the built-in slash commands. A nil searcher
// skips /search; everything else is always available.
func RegisterBuiltins(reg *Registry, directory DirectoryLister, room RoomControl, notes NoteReader, searcher Searcher, humanHandle string) {
	reg.Register(helpCommand(reg))
	reg.Register(agentsCommand(directory))
	reg.Register(whoCommand(room))
	reg.Register(noteCommand(notes))
	reg.Register(scheduleCommand(room, humanHandle))
	reg.Register(schedulesCommand(room))
	reg.Register(cancelCommand(room))
	if searcher != nil {
		reg.Register(searchCommand(searcher))
	}
}

// ---------------------------------------------------------------------------
// /help
// ---------------------------------------------------------------------------

func helpCommand(reg *Registry) *Command {
	return &Command{
		Name:        "help",
		Description: "List all available commands",
		Usage:       "/help",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			cmds := reg.List()
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, c := range cmds {
				fmt.Fprintf(&b, "  /%s - %s\n", c.Name, c.Description)
				if c.Usage != "" {
					fmt.Fprintf(&b, "    Usage: %s\n", c.Usage)
				}
			}
			return &CommandResult{Content: b.String()}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /agents
// ---------------------------------------------------------------------------

func agentsCommand(directory DirectoryLister) *Command {
	return &Command{
		Name:        "agents",
		Description: "List agents in the directory",
		Usage:       "/agents",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			agents := directory.List()
			if len(agents) == 0 {
				return &CommandResult{Content: "No agents in the directory."}, nil
			}
			var b strings.Builder
			b.WriteString("Agents:\n")
			for _, a := range agents {
				state := string(a.Lifecycle)
				if a.Busy {
					state += ", busy"
				}
				fmt.Fprintf(&b, "  [%s] %s (%s)\n", a.ID, a.Kind, state)
			}
			return &CommandResult{Content: b.String(), Data: agents}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /who
// ---------------------------------------------------------------------------

func whoCommand(room RoomControl) *Command {
	return &Command{
		Name:        "who",
		Description: "List handles seated in the chat",
		Usage:       "/who",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			handles := room.Handles()
			if len(handles) == 0 {
				return &CommandResult{Content: "The room is empty."}, nil
			}
			return &CommandResult{
				Content: "In the room: @" + strings.Join(handles, ", @"),
				Data:    handles,
			}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /note
// ---------------------------------------------------------------------------

func noteCommand(notes NoteReader) *Command {
	return &Command{
		Name:        "note",
		Description: "Show a vault note",
		Usage:       "/note <id>",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			if args == "" {
				return &CommandResult{Content: "Usage: /note <id>"}, nil
			}
			n, err := notes.Get(ctx, args)
			if err != nil {
				return nil, err
			}
			return &CommandResult{
				Content: fmt.Sprintf("%s (%s)\n%s", n.ID, n.Type, n.Body),
				Data:    n,
			}, nil
		},
	}
}

// ---------------------------------------------------------------------------
// /search
// ---------------------------------------------------------------------------

func searchCommand(searcher Searcher) *Command {
	return &Command{
		Name:        "search",
		Description: "Semantic search over the vault",
		Usage:       "/search <query>",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			if args == "" {
				return &CommandResult{Content: "Usage: /search <query>"}, nil
			}
			hits, err := searcher.Query(ctx, args, searchTopK, retrieve.Filters{})
			if err != nil {
				return nil, err
			}
			if len(hits) == 0 {
				return &CommandResult{Content: "No results."}, nil
			}
			var b strings.Builder
			for _, h := range hits {
				fmt.Fprintf(&b, "[%.2f] %s: %s\n", h.Score, h.NoteID, firstLine(h.Content))
			}
			return &CommandResult{Content: b.String(), Data: hits}, nil
		},
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// ---------------------------------------------------------------------------
// /schedule, /schedules, /cancel
// ---------------------------------------------------------------------------

func scheduleCommand(room RoomControl, humanHandle string) *Command {
	return &Command{
		Name:        "schedule",
		Description: "Deliver a message to an agent after a delay",
		Usage:       "/schedule <handle> <delay, e.g. 90m or 2h> <message>",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			parts := strings.SplitN(args, " ", 3)
			if len(parts) < 3 {
				return &CommandResult{Content: "Usage: /schedule <handle> <delay> <message>"}, nil
			}
			delay, err := time.ParseDuration(parts[1])
			if err != nil {
				return &CommandResult{Content: "Bad delay " + parts[1] + ": use forms like 30s, 90m, 2h."}, nil
			}
			receiver := strings.TrimPrefix(parts[0], "@")
			id, err := room.Schedule(ctx, humanHandle, receiver, parts[2], orchestrator.Trigger{After: delay})
			if err != nil {
				return nil, err
			}
			return &CommandResult{
				Content: fmt.Sprintf("Scheduled %s for @%s in %s.", id, receiver, delay),
				Data:    map[string]string{"id": id},
			}, nil
		},
	}
}

func schedulesCommand(room RoomControl) *Command {
	return &Command{
		Name:        "schedules",
		Description: "List pending scheduled messages",
		Usage:       "/schedules",
		Handler: func(_ context.Context, _ string, _ *CommandContext) (*CommandResult, error) {
			ids := room.ScheduledIDs()
			if len(ids) == 0 {
				return &CommandResult{Content: "Nothing scheduled."}, nil
			}
			return &CommandResult{
				Content: "Pending: " + strings.Join(ids, ", "),
				Data:    ids,
			}, nil
		},
	}
}

func cancelCommand(room RoomControl) *Command {
	return &Command{
		Name:        "cancel",
		Description: "Cancel a scheduled message",
		Usage:       "/cancel <id>",
		Handler: func(ctx context.Context, args string, _ *CommandContext) (*CommandResult, error) {
			if args == "" {
				return &CommandResult{Content: "Usage: /cancel <id>"}, nil
			}
			if err := room.CancelScheduled(ctx, args); err != nil {
				return nil, err
			}
			return &CommandResult{Content: "Cancelled " + args + "."}, nil
		},
	}
}
