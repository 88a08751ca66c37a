package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kekehq/keke/internal/agent"
	"github.com/kekehq/keke/internal/note"
	"github.com/kekehq/keke/internal/provider"
	"github.com/kekehq/keke/internal/retrieve"
)

// maxToolRounds bounds the chat/tool loop per message.
const maxToolRounds = 8

// retrievalTopK chunks of vault context are offered to the model per turn.
const retrievalTopK = 5

// ProviderRunner executes agent turns against an LLM provider, grounding
// each turn with retrieved vault context and dispatching tool calls through
// the agent's own registry.
type ProviderRunner struct {
	directory *agent.Directory
	router    *provider.Router
	retriever *retrieve.Retriever // optional
	model     string
	logger    *zap.Logger
}

// NewProviderRunner creates a runner. retriever may be nil to skip context
// retrieval.
func NewProviderRunner(directory *agent.Directory, router *provider.Router, retriever *retrieve.Retriever, model string, logger *zap.Logger) *ProviderRunner {
	return &ProviderRunner{
		directory: directory,
		router:    router,
		retriever: retriever,
		model:     model,
		logger:    logger,
	}
}

// Run processes one message for an agent and returns its reply.
func (pr *ProviderRunner) Run(ctx context.Context, agentID string, msg *Message) (string, error) {
	desc, err := pr.directory.Get(agentID)
	if err != nil {
		return "", err
	}
	registry, err := pr.directory.Tools(agentID)
	if err != nil {
		return "", err
	}

	system := desc.SystemPrompt
	if desc.AttachedKnowledge != "" {
		system += "\n\nYour knowledge base is the note " + desc.AttachedKnowledge + "."
	}
	if pr.retriever != nil {
		if ctxBlock := pr.contextBlock(ctx, msg.Content); ctxBlock != "" {
			system += "\n\nRelevant notes:\n" + ctxBlock
		}
	}

	req := &provider.ChatRequest{
		Model: pr.model,
		Messages: []provider.Message{
			{Role: "system", Content: system},
			{Role: "user", Name: msg.Sender, Content: msg.Content},
		},
		Tools: providerTools(registry),
	}

	for round := 0; round < maxToolRounds; round++ {
		resp, err := pr.router.Route(ctx, req)
		if err != nil {
			return "", fmt.Errorf("agent %s turn: %w", agentID, err)
		}
		if len(resp.ToolCalls) == 0 {
			return resp.Content, nil
		}

		req.Messages = append(req.Messages, provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, call := range resp.ToolCalls {
			out, err := registry.Execute(ctx, call.Function.Name, call.Function.Arguments)
			if err != nil {
				out = "error: " + err.Error()
				pr.logger.Warn("tool call failed",
					zap.String("agent", agentID),
					zap.String("tool", call.Function.Name),
					zap.Error(err))
			}
			req.Messages = append(req.Messages, provider.Message{
				Role:       "tool",
				Content:    out,
				ToolCallID: call.ID,
			})
		}
	}
	return "", fmt.Errorf("agent %s exceeded %d tool rounds", agentID, maxToolRounds)
}

// contextBlock retrieves vault chunks relevant to the message. Retrieval
// failure degrades to an uncontextualized turn rather than failing it.
func (pr *ProviderRunner) contextBlock(ctx context.Context, query string) string {
	results, err := pr.retriever.Query(ctx, query, retrievalTopK, retrieve.Filters{
		Types: []note.Type{note.TypeMemory, note.TypeKnowledge, note.TypePerson},
	})
	if err != nil {
		pr.logger.Warn("context retrieval failed", zap.Error(err))
		return ""
	}
	var b strings.Builder
	for _, res := range results {
		fmt.Fprintf(&b, "- [%s] %s\n", res.NoteID, res.Content)
	}
	return b.String()
}

func providerTools(registry *agent.ToolRegistry) []provider.Tool {
	defs := registry.Definitions()
	if len(defs) == 0 {
		return nil
	}
	tools := make([]provider.Tool, len(defs))
	for i, def := range defs {
		tools[i] = provider.Tool{
			Type: "function",
			Function: provider.ToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  map[string]any{"type": "object"},
			},
		}
	}
	return tools
}
