// Package provider holds the LLM chat backends that agent turns and
// reflection runs execute against. Backends implement Provider and the
// Router picks one per request by model name.
package provider

import "context"

// Provider is a single chat backend.
type Provider interface {
	// ID is the configured identifier, unique within a Router.
	ID() string
	// Models lists the model names this backend serves. Empty means the
	// backend accepts any model name.
	Models() []string
	// Chat runs one completion, including any tool-result turns the
	// caller appended since the previous call.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
}

// ChatRequest is one completion call.
type ChatRequest struct {
	Model    string
	Messages []Message
	Tools    []Tool
}

// Message is a single turn in the conversation sent to the model.
type Message struct {
	Role       string // system, user, assistant, tool
	Content    string
	Name       string // sender handle on user turns
	ToolCalls  []ToolCall
	ToolCallID string // set on tool-result turns
}

// ChatResponse is the model's reply. Non-empty ToolCalls means the caller
// must execute the calls and continue the conversation.
type ChatResponse struct {
	Content    string
	ToolCalls  []ToolCall
	StopReason string
	Usage      Usage
}

// Usage reports token consumption for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Tool advertises a callable function to the model.
type Tool struct {
	Type     string // always "function"
	Function ToolFunction
}

// ToolFunction describes a tool's name and argument schema.
type ToolFunction struct {
	Name        string
	Description string
	Parameters  any
}

// ToolCall is the model's request to invoke a tool.
type ToolCall struct {
	ID       string
	Type     string
	Function ToolCallFunction
}

// ToolCallFunction carries the invoked name and raw JSON arguments.
type ToolCallFunction struct {
	Name      string
	Arguments string
}

// ProviderConfig configures one backend.
type ProviderConfig struct {
	ID       string
	Type     string // openai or anthropic
	Name     string
	Endpoint string
	APIKey   string
	Models   []string
	Extra    map[string]string
}
