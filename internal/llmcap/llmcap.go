// Package llmcap abstracts over the LLM providers the AI Task Executor
// drives: Anthropic, OpenAI, and Google. Every variant implements the same
// Capability interface so the executor never branches on provider.
package llmcap

import (
	"context"
	"encoding/json"
)

// Message is one turn of a chat-style conversation. Role is "system",
// "user", or "assistant".
type Message struct {
	Role    string
	Content string
}

// StopReason classifies why a completion ended.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopToolUse   StopReason = "tool_use"
	StopError     StopReason = "error"
)

// ToolCall is one function-call the model asked to make.
type ToolCall struct {
	Name      string
	Arguments map[string]any
}

// Usage carries token accounting for billing and AITask counters.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Result is the uniform return shape for complete/analyze_image/extract_structured.
type Result struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason StopReason
	Usage      Usage
}

// StreamEventType distinguishes incremental stream payloads.
type StreamEventType string

const (
	StreamText     StreamEventType = "text"
	StreamToolCall StreamEventType = "tool_call"
)

// StreamEvent is one incremental chunk from Stream.
type StreamEvent struct {
	Type    StreamEventType
	Text    string
	Tool    ToolCall
}

// StreamCallback receives each incremental event as it arrives.
type StreamCallback func(StreamEvent)

// Capability is the provider-agnostic surface the executor calls.
type Capability interface {
	Complete(ctx context.Context, messages []Message) (Result, error)
	Stream(ctx context.Context, messages []Message, cb StreamCallback) (Result, error)
	AnalyzeImage(ctx context.Context, imageBytes []byte, mimeType, prompt string) (Result, error)
	ExtractStructured(ctx context.Context, messages []Message, schema json.RawMessage) (map[string]any, error)
	Model() string
}
