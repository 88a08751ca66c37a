package reflect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/apperr"
	"github.com/kekehq/keke/internal/note"
	"github.com/kekehq/keke/internal/provider"
)

const reflectionPrompt = `You distill a day of memory notes into durable knowledge and open tasks.
Respond with a JSON array only. Each element: {"id": "Knowledge/<slug>" or "Task/<slug>", "type": "knowledge"|"task", "tags": [...], "importance": "low"|"medium"|"high", "status": "not-started" (tasks only), "body": "markdown text"}.
Reuse an existing id to update that note. Return [] when nothing is worth keeping.`

// ProviderSummarizer condenses memories through an LLM provider.
type ProviderSummarizer struct {
	router *provider.Router
	model  string
	logger *zap.Logger
}

// NewProviderSummarizer creates a Summarizer backed by router.
func NewProviderSummarizer(router *provider.Router, model string, logger *zap.Logger) *ProviderSummarizer {
	return &ProviderSummarizer{router: router, model: model, logger: logger}
}

type summaryItem struct {
	ID         string   `json:"id"`
	Type       string   `json:"type"`
	Tags       []string `json:"tags,omitempty"`
	Importance string   `json:"importance,omitempty"`
	Status     string   `json:"status,omitempty"`
	Body       string   `json:"body"`
}

// Summarize sends the day's memories and parses the structured reply.
func (ps *ProviderSummarizer) Summarize(ctx context.Context, memories []*note.Note) ([]*note.Note, error) {
	var b strings.Builder
	for _, m := range memories {
		fmt.Fprintf(&b, "## %s (%s)\n%s\n\n", m.ID, m.Created.Format("2006-01-02 15:04"), m.Body)
	}

	resp, err := ps.router.Route(ctx, &provider.ChatRequest{
		Model: ps.model,
		Messages: []provider.Message{
			{Role: "system", Content: reflectionPrompt},
			{Role: "user", Content: b.String()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("reflection chat: %w", err)
	}

	var items []summaryItem
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &items); err != nil {
		return nil, fmt.Errorf("%w: reflection reply is not a JSON array: %v", apperr.ErrValidation, err)
	}

	now := time.Now()
	out := make([]*note.Note, 0, len(items))
	for _, it := range items {
		n := &note.Note{
			ID:         it.ID,
			Type:       note.Type(it.Type),
			Created:    now,
			Tags:       it.Tags,
			Importance: note.Importance(it.Importance),
			Body:       it.Body,
		}
		if n.Importance == "" {
			n.Importance = note.ImportanceMedium
		}
		if n.Type == note.TypeTask {
			n.Status = note.Status(it.Status)
			if n.Status == "" {
				n.Status = note.StatusNotStarted
			}
		}
		out = append(out, n)
	}
	return out, nil
}

// extractJSON tolerates replies that wrap the array in a code fence.
func extractJSON(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
