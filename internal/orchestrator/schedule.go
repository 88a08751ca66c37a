package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/apperr"
	"github.com/kekehq/keke/internal/store"
)

// Trigger describes when a scheduled message fires: an absolute deadline, a
// relative delay, or a condition predicate evaluated against shared state on
// each poll. Exactly one must be set.
type Trigger struct {
	At        time.Time
	After     time.Duration
	Condition func(ctx context.Context) bool
}

// ScheduleSink persists deadline-triggered messages across restarts.
// Condition triggers hold an in-process predicate and are re-created by
// their owners at boot.
type ScheduleSink interface {
	SaveScheduled(ctx context.Context, row *store.ScheduledRow) error
	DeleteScheduled(ctx context.Context, id string) error
}

type scheduledMessage struct {
	id        string
	sender    string
	receiver  string
	content   string
	fireAt    time.Time // zero for condition triggers
	condition func(ctx context.Context) bool
	createdAt time.Time
}

// SetScheduleSink wires optional persistence for deadline triggers.
func (r *Room) SetScheduleSink(s ScheduleSink) { r.schedSink = s }

// Schedule registers a message to be posted to receiver once the trigger is
// satisfied. The message enters the receiver's mailbox exactly once.
func (r *Room) Schedule(ctx context.Context, sender, receiver, content string, trig Trigger) (string, error) {
	set := 0
	if !trig.At.IsZero() {
		set++
	}
	if trig.After > 0 {
		set++
	}
	if trig.Condition != nil {
		set++
	}
	if set != 1 {
		return "", fmt.Errorf("%w: exactly one trigger must be set", apperr.ErrValidation)
	}

	r.mu.Lock()
	_, senderOK := r.participants[sender]
	_, receiverOK := r.participants[receiver]
	r.mu.Unlock()
	if !senderOK {
		return "", fmt.Errorf("sender %s: %w", sender, apperr.ErrNotFound)
	}
	if !receiverOK {
		return "", fmt.Errorf("receiver %s: %w", receiver, apperr.ErrNotFound)
	}

	s := &scheduledMessage{
		id:        uuid.New().String(),
		sender:    sender,
		receiver:  receiver,
		content:   content,
		condition: trig.Condition,
		createdAt: time.Now(),
	}
	if !trig.At.IsZero() {
		s.fireAt = trig.At
	} else if trig.After > 0 {
		s.fireAt = time.Now().Add(trig.After)
	}

	r.schedMu.Lock()
	r.scheduled[s.id] = s
	r.schedMu.Unlock()

	if r.schedSink != nil && !s.fireAt.IsZero() {
		err := r.schedSink.SaveScheduled(ctx, &store.ScheduledRow{
			ID:        s.id,
			Sender:    s.sender,
			Receiver:  s.receiver,
			Content:   s.content,
			FireAt:    s.fireAt,
			CreatedAt: s.createdAt,
		})
		if err != nil {
			r.logger.Warn("persist scheduled message failed",
				zap.String("id", s.id), zap.Error(err))
		}
	}
	return s.id, nil
}

// RestoreScheduled re-registers a persisted deadline message at boot.
func (r *Room) RestoreScheduled(row store.ScheduledRow) {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()
	r.scheduled[row.ID] = &scheduledMessage{
		id:        row.ID,
		sender:    row.Sender,
		receiver:  row.Receiver,
		content:   row.Content,
		fireAt:    row.FireAt,
		createdAt: row.CreatedAt,
	}
}

// CancelScheduled removes a pending scheduled message. Canceling after the
// trigger fired, or an unknown id, returns NotFound.
func (r *Room) CancelScheduled(ctx context.Context, id string) error {
	r.schedMu.Lock()
	_, ok := r.scheduled[id]
	if ok {
		delete(r.scheduled, id)
	}
	r.schedMu.Unlock()
	if !ok {
		return fmt.Errorf("scheduled message %s: %w", id, apperr.ErrNotFound)
	}
	if r.schedSink != nil {
		if err := r.schedSink.DeleteScheduled(ctx, id); err != nil {
			r.logger.Warn("delete persisted schedule failed",
				zap.String("id", id), zap.Error(err))
		}
	}
	return nil
}

// ScheduledIDs lists pending scheduled message ids.
func (r *Room) ScheduledIDs() []string {
	r.schedMu.Lock()
	defer r.schedMu.Unlock()
	ids := make([]string, 0, len(r.scheduled))
	for id := range r.scheduled {
		ids = append(ids, id)
	}
	return ids
}

// RunTriggers polls triggers at the given interval until ctx is cancelled.
func (r *Room) RunTriggers(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.FireDue(ctx, now)
		}
	}
}

// FireDue posts every scheduled message whose trigger is satisfied at now.
// Each entry is removed from the pending set before posting, so a trigger
// cannot fire twice even if polls overlap.
func (r *Room) FireDue(ctx context.Context, now time.Time) {
	r.schedMu.Lock()
	candidates := make([]*scheduledMessage, 0, len(r.scheduled))
	for _, s := range r.scheduled {
		candidates = append(candidates, s)
	}
	r.schedMu.Unlock()

	for _, s := range candidates {
		satisfied := false
		if !s.fireAt.IsZero() {
			satisfied = !now.Before(s.fireAt)
		} else if s.condition != nil {
			satisfied = s.condition(ctx)
		}
		if !satisfied {
			continue
		}

		// Claim the entry; a concurrent poll or cancel that got here first
		// wins and this fire is skipped.
		r.schedMu.Lock()
		_, pending := r.scheduled[s.id]
		if pending {
			delete(r.scheduled, s.id)
		}
		r.schedMu.Unlock()
		if !pending {
			continue
		}
		if r.schedSink != nil && !s.fireAt.IsZero() {
			if err := r.schedSink.DeleteScheduled(ctx, s.id); err != nil {
				r.logger.Warn("delete fired schedule failed",
					zap.String("id", s.id), zap.Error(err))
			}
		}

		msg := &Message{
			ID:        uuid.New().String(),
			Sender:    s.sender,
			Receivers: []string{s.receiver},
			Content:   s.content,
			PostedAt:  time.Now(),
		}
		if err := r.record(ctx, msg); err != nil {
			r.logger.Warn("record scheduled message failed",
				zap.String("id", s.id), zap.Error(err))
		}
		if err := r.submit(ctx, msg); err != nil {
			r.logger.Warn("scheduled delivery failed",
				zap.String("id", s.id), zap.Error(err))
		}
	}
}
