package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	anthropicDefaultEndpoint = "https://api.anthropic.com/v1"
	anthropicVersion         = "2023-06-01"
	anthropicMaxTokens       = 4096
)

// AnthropicProvider speaks the Anthropic Messages wire format, including
// tool use so agents keep their registries when routed here.
type AnthropicProvider struct {
	cfg    ProviderConfig
	client *http.Client
	logger *zap.Logger
}

// NewAnthropicProvider creates a backend from cfg.
func NewAnthropicProvider(cfg ProviderConfig, logger *zap.Logger) *AnthropicProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = anthropicDefaultEndpoint
	}
	return &AnthropicProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
		logger: logger,
	}
}

func (p *AnthropicProvider) ID() string       { return p.cfg.ID }
func (p *AnthropicProvider) Models() []string { return p.cfg.Models }

// Wire types for /messages. Content is a block list rather than a string;
// tool calls arrive as tool_use blocks and tool results go back inside a
// user turn as tool_result blocks.

type anthropicBlock struct {
	Type string `json:"type"`

	// type: text
	Text string `json:"text,omitempty"`

	// type: tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// type: tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicTool struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Tools     []anthropicTool    `json:"tools,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat posts one completion and maps the content blocks back.
func (p *AnthropicProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	wire, err := p.toWire(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("anthropic: encode request: %w", err)
	}

	url := strings.TrimRight(p.cfg.Endpoint, "/") + "/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.cfg.APIKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("anthropic: read response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("anthropic: decode response (status %d): %w", httpResp.StatusCode, err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("anthropic: %s (%s)", parsed.Error.Message, parsed.Error.Type)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic: status %d: %s", httpResp.StatusCode, truncate(string(raw), 200))
	}

	resp := &ChatResponse{
		StopReason: parsed.StopReason,
		Usage: Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
		},
	}
	var text strings.Builder
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID:   block.ID,
				Type: "function",
				Function: ToolCallFunction{
					Name:      block.Name,
					Arguments: string(block.Input),
				},
			})
		}
	}
	resp.Content = text.String()

	p.logger.Debug("anthropic chat",
		zap.String("model", req.Model),
		zap.String("stop_reason", resp.StopReason),
		zap.Int("tool_calls", len(resp.ToolCalls)))
	return resp, nil
}

// toWire converts the request: the system turn becomes the top-level
// system field, assistant tool calls become tool_use blocks, and tool
// turns become user turns holding a tool_result block.
func (p *AnthropicProvider) toWire(req *ChatRequest) (*anthropicRequest, error) {
	wire := &anthropicRequest{
		Model:     req.Model,
		MaxTokens: anthropicMaxTokens,
	}
	for _, t := range req.Tools {
		schema := t.Function.Parameters
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		wire.Tools = append(wire.Tools, anthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: schema,
		})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			if wire.System != "" {
				wire.System += "\n\n"
			}
			wire.System += m.Content
		case "assistant":
			am := anthropicMessage{Role: "assistant"}
			if m.Content != "" {
				am.Content = append(am.Content, anthropicBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				input := json.RawMessage(tc.Function.Arguments)
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				am.Content = append(am.Content, anthropicBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: input,
				})
			}
			wire.Messages = append(wire.Messages, am)
		case "tool":
			wire.Messages = append(wire.Messages, anthropicMessage{
				Role: "user",
				Content: []anthropicBlock{{
					Type:      "tool_result",
					ToolUseID: m.ToolCallID,
					Content:   m.Content,
				}},
			})
		case "user":
			content := m.Content
			if m.Name != "" {
				content = m.Name + ": " + content
			}
			wire.Messages = append(wire.Messages, anthropicMessage{
				Role:    "user",
				Content: []anthropicBlock{{Type: "text", Text: content}},
			})
		default:
			return nil, fmt.Errorf("anthropic: unsupported role %q", m.Role)
		}
	}
	return wire, nil
}
