// Package llms normalizes LLM provider differences behind a single Provider
// interface with blocking and streaming calls.
package llms

import (
	"context"

	"github.com/kadirpekel/conductor/pkg/protocol"
)

// ToolDefinition is the provider-facing description of a callable tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Response is a completed model turn.
type Response struct {
	Content      string
	Thinking     string
	ToolCalls    []*protocol.ToolCall
	InputTokens  int
	OutputTokens int
}

// ChunkType identifies a streaming delta kind.
type ChunkType string

const (
	ChunkTypeText            ChunkType = "text"
	ChunkTypeThinking        ChunkType = "thinking"
	ChunkTypeToolCallPartial ChunkType = "tool_call_partial"
	ChunkTypeToolCall        ChunkType = "tool_call"
	ChunkTypeDone            ChunkType = "done"
	ChunkTypeError           ChunkType = "error"
)

// ToolCallPartial carries an in-flight tool call argument fragment.
type ToolCallPartial struct {
	ID        string
	Name      string
	ArgsChunk string
}

// StreamChunk is one streaming delta. ToolCall is set on ChunkTypeToolCall
// with fully reassembled arguments; when the accumulated argument JSON is
// malformed at stream end the call carries RawArguments instead.
type StreamChunk struct {
	Type         ChunkType
	Text         string
	Partial      *ToolCallPartial
	ToolCall     *protocol.ToolCall
	InputTokens  int
	OutputTokens int
	Err          error
}

// Provider is the uniform surface over LLM backends. maxTokens of zero uses
// the provider's configured default; requests above the model ceiling are
// capped and the cap is logged once per call.
type Provider interface {
	GetModelName() string
	GetMaxTokens() int
	Generate(ctx context.Context, messages []protocol.Message, tools []ToolDefinition, maxTokens int) (*Response, error)
	GenerateStreaming(ctx context.Context, messages []protocol.Message, tools []ToolDefinition, maxTokens int) (<-chan StreamChunk, error)
	Close() error
}
