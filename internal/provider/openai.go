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

const openaiDefaultEndpoint = "https://api.openai.com/v1"

// OpenAIProvider speaks the OpenAI chat completions wire format. Any
// OpenAI-compatible endpoint works through the Endpoint config field.
type OpenAIProvider struct {
	cfg    ProviderConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIProvider creates a backend from cfg.
func NewOpenAIProvider(cfg ProviderConfig, logger *zap.Logger) *OpenAIProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = openaiDefaultEndpoint
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: 120 * time.Second},
		logger: logger,
	}
}

func (p *OpenAIProvider) ID() string       { return p.cfg.ID }
func (p *OpenAIProvider) Models() []string { return p.cfg.Models }

// Wire types for /chat/completions.

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	Name       string           `json:"name,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Parameters  any    `json:"parameters,omitempty"`
	} `json:"function"`
}

type openaiRequest struct {
	Model    string          `json:"model"`
	Messages []openaiMessage `json:"messages"`
	Tools    []openaiTool    `json:"tools,omitempty"`
}

type openaiResponse struct {
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Chat posts one completion and maps the first choice back.
func (p *OpenAIProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	body, err := json.Marshal(p.toWire(req))
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}

	url := strings.TrimRight(p.cfg.Endpoint, "/") + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}

	var wire openaiResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("openai: decode response (status %d): %w", httpResp.StatusCode, err)
	}
	if wire.Error != nil {
		return nil, fmt.Errorf("openai: %s (%s)", wire.Error.Message, wire.Error.Type)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai: status %d: %s", httpResp.StatusCode, truncate(string(raw), 200))
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("openai: response has no choices")
	}

	choice := wire.Choices[0]
	resp := &ChatResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{
			ID:   tc.ID,
			Type: tc.Type,
			Function: ToolCallFunction{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}

	p.logger.Debug("openai chat",
		zap.String("model", req.Model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Int("tool_calls", len(resp.ToolCalls)))
	return resp, nil
}

func (p *OpenAIProvider) toWire(req *ChatRequest) openaiRequest {
	wire := openaiRequest{Model: req.Model}
	for _, m := range req.Messages {
		wm := openaiMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			wtc := openaiToolCall{ID: tc.ID, Type: tc.Type}
			wtc.Function.Name = tc.Function.Name
			wtc.Function.Arguments = tc.Function.Arguments
			wm.ToolCalls = append(wm.ToolCalls, wtc)
		}
		wire.Messages = append(wire.Messages, wm)
	}
	for _, t := range req.Tools {
		wt := openaiTool{Type: t.Type}
		wt.Function.Name = t.Function.Name
		wt.Function.Description = t.Function.Description
		wt.Function.Parameters = t.Function.Parameters
		wire.Tools = append(wire.Tools, wt)
	}
	return wire
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
