// Package model defines the provider-agnostic message and streaming
// contract consumed by the agent loop. Messages are modeled as typed
// parts (text, thinking, tool use/result) rather than flattened strings so
// provider adapters can round-trip structure without lossy string parsing.
package model

import (
	"context"
	"encoding/json"
)

// ConversationRole identifies the speaker for a message.
type ConversationRole string

const (
	RoleSystem    ConversationRole = "system"
	RoleUser      ConversationRole = "user"
	RoleAssistant ConversationRole = "assistant"
)

type (
	// Part is a marker interface implemented by every message content block.
	Part interface {
		isPart()
	}

	// TextPart is plain assistant- or user-visible text.
	TextPart struct {
		Text string
	}

	// ThinkingPart is provider-issued reasoning content, treated as opaque
	// metadata by callers and surfaced according to UI policy.
	ThinkingPart struct {
		Text      string
		Signature string
		Final     bool
	}

	// ToolUsePart declares a tool invocation requested by the assistant.
	ToolUsePart struct {
		ID    string
		Name  string
		Input json.RawMessage
	}

	// ToolResultPart carries a tool result fed back to the model.
	ToolResultPart struct {
		ToolUseID string
		Content   any
		IsError   bool
	}

	// Message is a single chat message: an ordered sequence of typed parts.
	Message struct {
		Role  ConversationRole
		Parts []Part
		Meta  map[string]any
	}
)

func (TextPart) isPart()       {}
func (ThinkingPart) isPart()   {}
func (ToolUsePart) isPart()    {}
func (ToolResultPart) isPart() {}

// ToolDefinition describes a tool exposed to the model for a given request.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema any
}

// ToolChoiceMode controls how the model is asked to use tools.
type ToolChoiceMode string

const (
	ToolChoiceAuto ToolChoiceMode = "auto"
	ToolChoiceNone ToolChoiceMode = "none"
	ToolChoiceAny  ToolChoiceMode = "any"
	ToolChoiceTool ToolChoiceMode = "tool"
)

// ToolChoice configures optional tool-use behavior for a Request. A nil
// ToolChoice on the Request lets the provider apply its default (usually
// ToolChoiceAuto).
type ToolChoice struct {
	Mode ToolChoiceMode
	Name string
}

// TokenUsage tracks token counts for a model call.
type TokenUsage struct {
	InputTokens  int
	OutputTokens int
}

// ModelClass selects a model family when Model is not set explicitly.
type ModelClass string

const (
	ModelClassDefault       ModelClass = "default"
	ModelClassSmall         ModelClass = "small"
	ModelClassHighReasoning ModelClass = "high-reasoning"
)

// Options enumerates the recognized request options named in the provider
// contract. Unsupported fields are ignored by an adapter; unsupported
// tool-calling modes yield a documented error.
type Options struct {
	Model         string
	ModelClass    ModelClass
	Temperature   float32
	TopP          float32
	MaxTokens     int
	StopSequences []string
	Stream        bool
	SystemPrompt  string
}

// Request captures the full input to a provider invocation.
type Request struct {
	RunID      string
	Messages   []*Message
	Tools      []*ToolDefinition
	ToolChoice *ToolChoice
	Options    Options
}

// Response is the result of a non-streaming invocation.
type Response struct {
	Content    []Message
	ToolCalls  []ToolCall
	Usage      TokenUsage
	StopReason string
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ChunkType identifies the kind of event on a streaming response, mirroring
// the provider contract's closed event set: text-delta | text | tool-call |
// usage | done | error.
type ChunkType string

const (
	ChunkTextDelta ChunkType = "text-delta"
	ChunkText      ChunkType = "text"
	ChunkToolCall  ChunkType = "tool-call"
	ChunkUsage     ChunkType = "usage"
	ChunkDone      ChunkType = "done"
	ChunkError     ChunkType = "error"
)

// Chunk is a single event on a provider's streaming response.
type Chunk struct {
	Type ChunkType

	// Text carries content for ChunkTextDelta and ChunkText.
	Text string

	// ToolCall carries a completed tool invocation for ChunkToolCall.
	ToolCall *ToolCall

	// Usage carries token accounting for ChunkUsage.
	Usage *TokenUsage

	// Err carries a classified failure for ChunkError.
	Err *Error
}

// Client is the provider-agnostic model client consumed by the agent loop.
// Each call is independent: no in-flight call state leaks between calls,
// and implementations must be safe to share across concurrently running
// agents.
type Client interface {
	// Complete performs a non-streaming invocation, returning the fully
	// aggregated response.
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream performs a streaming invocation. The returned stream is
	// single-consumer and always terminates with a ChunkDone or ChunkError
	// chunk.
	Stream(ctx context.Context, req *Request) (Stream, error)

	// IsAvailable reports whether the provider is currently reachable.
	IsAvailable(ctx context.Context) bool

	// ListModels returns the model identifiers the provider currently
	// exposes, when the provider supports introspection.
	ListModels(ctx context.Context) ([]string, error)
}

// Stream delivers incremental model output. Callers must drain the stream
// until a ChunkDone or ChunkError chunk (or Recv returns a non-nil error),
// then call Close.
type Stream interface {
	Recv() (Chunk, error)
	Close() error
}
