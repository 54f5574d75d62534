// Package llm defines the capability contract the engine consumes from an
// LLM provider. The engine never implements a provider itself — concrete
// providers (Anthropic, OpenAI, Gemini, Ollama, ...) live outside this
// module and are injected wherever a Capability is required.
package llm

import "context"

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of the conversation sent to, or received from, the
// LLM. ToolCalls is populated on assistant messages that requested tool
// execution; ToolCallID/Name identify which call a tool-role message
// answers.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a single invocation the LLM requested.
type ToolCall struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Input  map[string]any `json:"input"`
	ReadOnly bool         `json:"read_only,omitempty"`
}

// ToolDefinition is the JSON-schema-shaped tool description sent with every
// chatWithTools call,
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Usage reports token consumption for a single call.
type Usage struct {
	PromptTokens     int `json:"prompt"`
	CompletionTokens int `json:"completion"`
}

// CompleteOptions configures a plain text completion call.
type CompleteOptions struct {
	MaxTokens     int
	Temperature   float64
	StopSequences []string
}

// CompleteResult is the response to Complete.
type CompleteResult struct {
	Content    string
	Usage      Usage
	DurationMs int64
}

// ChatOptions configures a tool-enabled chat call.
type ChatOptions struct {
	ToolChoice  string // "", "auto", "none", or a specific tool name
	Temperature float64
	MaxTokens   int
}

// ChatResult is the response to ChatWithTools.
type ChatResult struct {
	Messages   []Message
	ToolCalls  []ToolCall
	Usage      Usage
	DurationMs int64
}

// ErrorKind classifies an LLM transport failure
type ErrorKind string

const (
	ErrorRateLimit ErrorKind = "rate_limit"
	ErrorTimeout   ErrorKind = "timeout"
	ErrorInvalid   ErrorKind = "invalid"
	ErrorNetwork   ErrorKind = "network"
	ErrorOther     ErrorKind = "other"
)

// Error is the structured error type a Capability returns on failure.
type Error struct {
	Kind      ErrorKind
	Retriable bool
	Message   string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

// Capability is the two-method surface the engine consumes from an LLM
// provider. Retry backoff for network transport is the provider's concern,
// not the engine's (Non-goals).
type Capability interface {
	// Complete performs a single-shot text completion.
	Complete(ctx context.Context, prompt string, opts CompleteOptions) (CompleteResult, error)

	// ChatWithTools performs one turn of tool-enabled chat, returning any
	// tool calls the model requested alongside its text.
	ChatWithTools(ctx context.Context, messages []Message, tools []ToolDefinition, opts ChatOptions) (ChatResult, error)
}

// Factory builds a Capability from a flat string config (API key, base
// URL, model name, ...). Concrete providers register one under a name at
// init time — the same blank-import-and-register pattern database/sql
// drivers use — so a binary picks its provider by name (e.g. --provider
// anthropic) without this module ever importing a provider SDK.
type Factory func(cfg map[string]string) (Capability, error)

var factories = map[string]Factory{}

// Register adds factory under name. Concrete provider packages call this
// from an init() function; registering the same name twice panics, same
// as database/sql.Register.
func Register(name string, factory Factory) {
	if _, exists := factories[name]; exists {
		panic("llm: Register called twice for provider " + name)
	}
	factories[name] = factory
}

// Open builds a Capability using the provider registered under name.
func Open(name string, cfg map[string]string) (Capability, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, &Error{Kind: ErrorInvalid, Message: "llm: no provider registered under name " + name + " (blank-import a provider package to register one)"}
	}
	return factory(cfg)
}

// Providers lists every registered provider name.
func Providers() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}
