// Package reflect runs the nightly reflection pass: recent Memory notes are
// condensed into Knowledge and Task updates committed back to the vault.
package reflect

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/apperr"
	"github.com/kekehq/keke/internal/note"
	"github.com/kekehq/keke/internal/vault"
)

// DefaultSpec runs reflection at 03:00 every night.
const DefaultSpec = "0 3 * * *"

const watermarkName = "reflection"

// Summarizer condenses a batch of Memory notes into Knowledge and Task
// updates. It is the LLM boundary of the reflection pass.
type Summarizer interface {
	Summarize(ctx context.Context, memories []*note.Note) ([]*note.Note, error)
}

// WatermarkStore persists the at-least-once progress cursor.
type WatermarkStore interface {
	Watermark(ctx context.Context, name string) (time.Time, error)
	SetWatermark(ctx context.Context, name string, mark time.Time) error
}

// Scheduler owns the recurring reflection job.
type Scheduler struct {
	vault      *vault.Store
	summarizer Summarizer
	marks      WatermarkStore
	cron       *cron.Cron
	logger     *zap.Logger
}

// New creates a Scheduler.
func New(v *vault.Store, summarizer Summarizer, marks WatermarkStore, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		vault:      v,
		summarizer: summarizer,
		marks:      marks,
		cron:       cron.New(),
		logger:     logger,
	}
}

// Start schedules the recurring job. spec is a cron expression; empty
// selects DefaultSpec.
func (s *Scheduler) Start(spec string) error {
	if spec == "" {
		spec = DefaultSpec
	}
	_, err := s.cron.AddFunc(spec, func() {
		if err := s.RunOnce(context.Background()); err != nil {
			s.logger.Warn("reflection run failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reflection %q: %w", spec, err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the recurring job, waiting for a running pass to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce processes every Memory note created since the watermark. Notes
// the vault rejects as invalid or conflicting are skipped so one bad
// update cannot wedge the pass forever; the watermark only advances once
// everything else is committed, so an infrastructure failure is retried
// in full on the next trigger. No output is committed on a summarizer
// failure.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	since, err := s.marks.Watermark(ctx, watermarkName)
	if err != nil {
		return err
	}
	runStart := time.Now()

	filter := vault.Filter{}
	if !since.IsZero() {
		filter.CreatedAfter = &since
	}
	memories, err := s.vault.List(ctx, note.TypeMemory, filter)
	if err != nil {
		return fmt.Errorf("collect memories: %w", err)
	}
	if len(memories) == 0 {
		return s.marks.SetWatermark(ctx, watermarkName, runStart)
	}
	sort.Slice(memories, func(i, j int) bool {
		return memories[i].Created.Before(memories[j].Created)
	})

	updates, err := s.summarizer.Summarize(ctx, memories)
	if err != nil {
		// Watermark untouched; the same memories are retried next run.
		return fmt.Errorf("summarize %d memories: %w", len(memories), err)
	}

	committed, skipped := 0, 0
	for _, n := range updates {
		if n.Type != note.TypeKnowledge && n.Type != note.TypeTask {
			s.logger.Warn("reflection produced unexpected note type, skipping",
				zap.String("note", n.ID), zap.String("type", string(n.Type)))
			skipped++
			continue
		}
		if n.Type == note.TypeTask && s.isCompleted(ctx, n.ID) {
			// Completed tasks are settled; reflection never reopens them.
			skipped++
			continue
		}
		if err := s.vault.Put(ctx, n); err != nil {
			// A note the vault rejects outright will be rejected again on
			// every retry, so skip it rather than wedge the whole pass.
			if errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrValidation) {
				s.logger.Warn("reflection note rejected, skipping",
					zap.String("note", n.ID), zap.Error(err))
				skipped++
				continue
			}
			// Infrastructure failure: stop here and leave the watermark so
			// the next trigger retries the same memories.
			return fmt.Errorf("commit reflection note %s: %w", n.ID, err)
		}
		committed++
	}

	if err := s.marks.SetWatermark(ctx, watermarkName, runStart); err != nil {
		return err
	}
	s.logger.Info("reflection complete",
		zap.Int("memories", len(memories)),
		zap.Int("committed", committed),
		zap.Int("skipped", skipped),
		zap.Time("since", since))
	return nil
}

func (s *Scheduler) isCompleted(ctx context.Context, id string) bool {
	existing, err := s.vault.Get(ctx, id)
	return err == nil && existing.Status == note.StatusCompleted
}
