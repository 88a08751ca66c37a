// Package orchestrator runs the group chat: a cooperative message-passing
// scheduler over the human principal and a set of named agents.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/agent"
	"github.com/kekehq/keke/internal/apperr"
	"github.com/kekehq/keke/internal/store"
)

// Message is one chat message, addressed by participant handle.
type Message struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Receivers []string  `json:"receivers"`
	Content   string    `json:"content"`
	ReplyTo   string    `json:"reply_to,omitempty"`
	PostedAt  time.Time `json:"posted_at"`
}

// EventType classifies room events surfaced to outside consumers.
type EventType string

const (
	// EventMessage is a message delivered to a human participant.
	EventMessage EventType = "message"
	// EventReply is an agent's completion result.
	EventReply EventType = "reply"
	// EventUndeliverable is a message that could not reach its addressee,
	// surfaced to the sender instead of silently dropped.
	EventUndeliverable EventType = "undeliverable"
)

// Event is what the room emits toward gateways and the human principal.
type Event struct {
	Type    EventType `json:"type"`
	Message *Message  `json:"message"`
	Err     error     `json:"-"`
}

// Runner processes one delivered message for an agent and returns its reply.
// The room guarantees at most one in-flight Run per agent.
type Runner interface {
	Run(ctx context.Context, agentID string, msg *Message) (string, error)
}

// HistorySink records every posted message in global arrival order.
type HistorySink interface {
	AppendHistory(ctx context.Context, e *store.HistoryEntry) error
	History(ctx context.Context, limit int) ([]store.HistoryEntry, error)
}

// Feed publishes messages to live consumers outside the process. Feed
// failures never affect delivery.
type Feed interface {
	Publish(ctx context.Context, receiver string, msg *Message) error
}

// participant is one named seat in the room. A zero agentID marks the human
// principal, which is always deliverable and never busy.
type participant struct {
	handle   string
	agentID  string
	mailbox  []*Message
	retiring bool
}

// Room serializes all busy/idle flips and mailbox mutation under one lock;
// agent processing itself happens outside that critical section.
type Room struct {
	mu           sync.Mutex
	participants map[string]*participant

	directory *agent.Directory
	runner    Runner
	history   HistorySink
	feed      Feed
	events    chan Event
	logger    *zap.Logger

	schedMu   sync.Mutex
	scheduled map[string]*scheduledMessage
	schedSink ScheduleSink
}

// NewRoom creates an empty room.
func NewRoom(directory *agent.Directory, runner Runner, history HistorySink, logger *zap.Logger) *Room {
	return &Room{
		participants: make(map[string]*participant),
		directory:    directory,
		runner:       runner,
		history:      history,
		events:       make(chan Event, 256),
		logger:       logger,
		scheduled:    make(map[string]*scheduledMessage),
	}
}

// SetFeed wires an optional live feed.
func (r *Room) SetFeed(f Feed) { r.feed = f }

// Events exposes delivered human messages, agent replies, and delivery
// failures.
func (r *Room) Events() <-chan Event { return r.events }

// JoinHuman seats a human participant under handle.
func (r *Room) JoinHuman(handle string) error {
	return r.join(handle, "")
}

// Join seats an active agent under handle.
func (r *Room) Join(handle, agentID string) error {
	desc, err := r.directory.Get(agentID)
	if err != nil {
		return err
	}
	if desc.Lifecycle == agent.LifecycleRetired {
		return fmt.Errorf("%w: agent %s is retired", apperr.ErrConflict, agentID)
	}
	return r.join(handle, agentID)
}

func (r *Room) join(handle, agentID string) error {
	if handle == "" || handle == MentionAll {
		return fmt.Errorf("%w: invalid handle %q", apperr.ErrValidation, handle)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[handle]; ok {
		return fmt.Errorf("%w: handle %s already seated", apperr.ErrConflict, handle)
	}
	r.participants[handle] = &participant{handle: handle, agentID: agentID}
	return nil
}

// AgentID returns the agent seated under handle, empty for humans. The
// second return reports whether the handle is seated at all.
func (r *Room) AgentID(handle string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.participants[handle]
	if !ok {
		return "", false
	}
	return p.agentID, true
}

// Handles returns all seated participant handles.
func (r *Room) Handles() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.participants))
	for h := range r.participants {
		out = append(out, h)
	}
	return out
}

// History returns the most recent entries of the global log.
func (r *Room) History(ctx context.Context, limit int) ([]store.HistoryEntry, error) {
	return r.history.History(ctx, limit)
}

// Post records a message in the global history, then delivers or enqueues it
// per addressee. Mentions name the addressees; no mention or @all broadcasts
// to every other participant. The sender never blocks on a busy addressee.
// Addressees that cannot be reached are reported as Undeliverable; delivery
// to the rest proceeds.
func (r *Room) Post(ctx context.Context, sender, content string) (*Message, error) {
	receivers, err := r.resolveReceivers(sender, content)
	if err != nil {
		return nil, err
	}

	msg := &Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Receivers: receivers,
		Content:   content,
		PostedAt:  time.Now(),
	}
	if err := r.record(ctx, msg); err != nil {
		return nil, err
	}
	return msg, r.submit(ctx, msg)
}

// resolveReceivers maps mentions in content to seated handles.
func (r *Room) resolveReceivers(sender, content string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.participants[sender]; !ok {
		return nil, fmt.Errorf("sender %s: %w", sender, apperr.ErrNotFound)
	}

	mentions, broadcast := ParseMentions(content)
	if broadcast || len(mentions) == 0 {
		var all []string
		for h := range r.participants {
			if h != sender {
				all = append(all, h)
			}
		}
		if len(all) == 0 {
			return nil, fmt.Errorf("%w: nobody to deliver to", apperr.ErrUndeliverable)
		}
		return all, nil
	}

	receivers := make([]string, 0, len(mentions))
	for _, m := range mentions {
		if _, ok := r.participants[m]; !ok {
			return nil, fmt.Errorf("addressee %s: %w", m, apperr.ErrNotFound)
		}
		receivers = append(receivers, m)
	}
	return receivers, nil
}

// record appends to the history log and the live feed. History is written
// before any delivery so arrival order is preserved regardless of how
// delivery interleaves.
func (r *Room) record(ctx context.Context, msg *Message) error {
	err := r.history.AppendHistory(ctx, &store.HistoryEntry{
		MessageID: msg.ID,
		Sender:    msg.Sender,
		Receivers: msg.Receivers,
		Content:   msg.Content,
		PostedAt:  msg.PostedAt,
	})
	if err != nil {
		return fmt.Errorf("record message: %w", err)
	}
	if r.feed != nil {
		for _, recv := range msg.Receivers {
			if err := r.feed.Publish(ctx, recv, msg); err != nil {
				r.logger.Warn("live feed publish failed",
					zap.String("receiver", recv), zap.Error(err))
			}
		}
	}
	return nil
}

// submit delivers or enqueues msg for each receiver.
func (r *Room) submit(ctx context.Context, msg *Message) error {
	r.mu.Lock()
	var failures []error
	for _, recv := range msg.Receivers {
		p, ok := r.participants[recv]
		if !ok {
			failures = append(failures, fmt.Errorf("addressee %s: %w", recv, apperr.ErrNotFound))
			continue
		}
		if err := r.deliverLocked(ctx, p, msg); err != nil {
			failures = append(failures, err)
		}
	}
	r.mu.Unlock()

	if len(failures) > 0 {
		err := errors.Join(failures...)
		r.emit(Event{Type: EventUndeliverable, Message: msg, Err: err})
		return err
	}
	return nil
}

// deliverLocked is called with r.mu held. An idle agent flips to busy and
// gets the message immediately; a busy agent's mailbox grows in arrival
// order; a retired agent is undeliverable.
func (r *Room) deliverLocked(ctx context.Context, p *participant, msg *Message) error {
	if p.agentID == "" {
		r.emit(Event{Type: EventMessage, Message: msg})
		return nil
	}
	if p.retiring || r.directory.IsRetired(p.agentID) {
		return fmt.Errorf("%w: agent %s is retired", apperr.ErrUndeliverable, p.handle)
	}
	if r.directory.MarkBusy(p.agentID, true) {
		r.dispatch(ctx, p.handle, p.agentID, msg)
		return nil
	}
	p.mailbox = append(p.mailbox, msg)
	return nil
}

// dispatch runs the agent outside the room lock.
func (r *Room) dispatch(ctx context.Context, handle, agentID string, msg *Message) {
	go func() {
		reply, err := r.runner.Run(ctx, agentID, msg)
		r.complete(ctx, handle, agentID, msg, reply, err)
	}()
}

// complete is the agent's completion signal: publish the reply, flip back to
// idle, and deliver the next queued message in FIFO order. A runner failure
// is scoped to this one message.
func (r *Room) complete(ctx context.Context, handle, agentID string, msg *Message, reply string, runErr error) {
	if runErr != nil {
		r.logger.Warn("agent run failed",
			zap.String("agent", handle), zap.String("message", msg.ID), zap.Error(runErr))
		r.emit(Event{Type: EventReply, Message: msg, Err: runErr})
	} else if reply != "" {
		out := &Message{
			ID:        uuid.New().String(),
			Sender:    handle,
			Receivers: []string{msg.Sender},
			Content:   reply,
			ReplyTo:   msg.ID,
			PostedAt:  time.Now(),
		}
		if err := r.record(ctx, out); err != nil {
			r.logger.Warn("record reply failed", zap.String("agent", handle), zap.Error(err))
		}
		r.emit(Event{Type: EventReply, Message: out})
	}

	r.mu.Lock()
	r.directory.MarkBusy(agentID, false)
	p := r.participants[handle]

	var next *Message
	var orphaned []*Message
	var retireNow bool
	if p != nil {
		if p.retiring || r.directory.IsRetired(agentID) {
			retireNow = p.retiring
			orphaned = p.mailbox
			p.mailbox = nil
		} else if len(p.mailbox) > 0 && r.directory.MarkBusy(agentID, true) {
			next = p.mailbox[0]
			p.mailbox = p.mailbox[1:]
		}
	}
	r.mu.Unlock()

	if retireNow {
		if err := r.directory.Retire(ctx, agentID); err != nil {
			r.logger.Warn("deferred retirement failed",
				zap.String("agent", handle), zap.Error(err))
		}
	}
	for _, m := range orphaned {
		r.emit(Event{Type: EventUndeliverable, Message: m,
			Err: fmt.Errorf("%w: agent %s retired with queued messages", apperr.ErrUndeliverable, handle)})
	}
	if next != nil {
		r.dispatch(ctx, handle, agentID, next)
	}
}

// Retire retires the agent seated at handle. Retiring a busy agent fails
// with Conflict; callers wait for idle or use RequestRetire. Pending mailbox
// messages fail back to their senders as Undeliverable.
func (r *Room) Retire(ctx context.Context, handle string) error {
	r.mu.Lock()
	p, ok := r.participants[handle]
	if !ok || p.agentID == "" {
		r.mu.Unlock()
		return fmt.Errorf("agent participant %s: %w", handle, apperr.ErrNotFound)
	}
	agentID := p.agentID

	if err := r.directory.Retire(ctx, agentID); err != nil {
		r.mu.Unlock()
		return err
	}
	pending := p.mailbox
	p.mailbox = nil
	r.mu.Unlock()

	for _, m := range pending {
		r.emit(Event{Type: EventUndeliverable, Message: m,
			Err: fmt.Errorf("%w: agent %s retired", apperr.ErrUndeliverable, handle)})
	}
	return nil
}

// RequestRetire retires the agent as soon as it is idle. A busy agent
// finishes its current unit of work first; queued messages then fail back
// to their senders as Undeliverable. New messages are refused immediately.
func (r *Room) RequestRetire(ctx context.Context, handle string) error {
	r.mu.Lock()
	p, ok := r.participants[handle]
	if !ok || p.agentID == "" {
		r.mu.Unlock()
		return fmt.Errorf("agent participant %s: %w", handle, apperr.ErrNotFound)
	}
	agentID := p.agentID

	// Idle right now: retire immediately.
	if err := r.directory.Retire(ctx, agentID); err == nil {
		pending := p.mailbox
		p.mailbox = nil
		r.mu.Unlock()
		for _, m := range pending {
			r.emit(Event{Type: EventUndeliverable, Message: m,
				Err: fmt.Errorf("%w: agent %s retired", apperr.ErrUndeliverable, handle)})
		}
		return nil
	} else if !errors.Is(err, apperr.ErrConflict) {
		r.mu.Unlock()
		return err
	}

	p.retiring = true
	r.mu.Unlock()
	return nil
}

// emit never blocks the scheduler; a full event channel drops with a warning.
func (r *Room) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.logger.Warn("event channel full, dropping",
			zap.String("type", string(ev.Type)))
	}
}
