// Package llm provides abstractions for LLM provider integration.
//
// Example usage:
//
//	provider, err := openai.NewProvider(os.Getenv("OPENAI_API_KEY"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	stream, err := provider.StreamChat(ctx, &llm.Request{
//	    Model:    "gpt-4o",
//	    Messages: []*types.Message{types.NewUserMessage("Hello!")},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for chunk := range stream {
//	    if chunk.IsError() {
//	        log.Fatal(chunk.Error)
//	    }
//	    fmt.Print(chunk.Content)
//	}
package llm

import (
	"context"

	"github.com/entrhq/loom/pkg/types"
)

// ToolDefinition describes a tool to a provider that supports native tool calls.
type ToolDefinition struct {
	Name        string
	Description string

	// Parameters is a JSON Schema object.
	Parameters map[string]interface{}
}

// Request is a single chat call.
type Request struct {
	Model    string
	Messages []*types.Message

	// Tools is empty for tool-disabled calls (e.g. synthesis) and for the
	// embedded protocol, where tools are described in the system prompt.
	Tools []ToolDefinition

	MaxTokens int
}

// ToolCallDelta is a fragment of a structured tool call.
// Fragments sharing an Index belong to the same call.
type ToolCallDelta struct {
	Index          int
	ID             string
	Name           string
	ArgumentsDelta string
}

// StreamChunk is one element of a provider response stream.
type StreamChunk struct {
	Error error

	// ToolCall is set when the chunk carries a structured tool-call fragment.
	ToolCall *ToolCallDelta

	// Usage is reported by providers that expose token counts, usually on the last chunk.
	Usage *types.TokenUsage

	Role    string
	Content string

	// Finished marks the final chunk of a stream.
	Finished bool
}

// IsError reports whether the chunk carries a stream-time error.
func (c *StreamChunk) IsError() bool {
	return c != nil && c.Error != nil
}

// Provider defines the interface for LLM integrations.
//
// Providers translate transcript messages into their wire format, stream the
// response back as StreamChunks and leave orchestration to the agent layer.
type Provider interface {
	// StreamChat starts a streaming call.
	//
	// The returned channel emits content deltas and tool-call fragments in
	// arrival order and is closed when the stream ends. Stream-time failures are
	// delivered as a chunk with Error set.
	//
	// Returns an error only if the call cannot be started (bad status, network
	// failure). Such errors are classified by ClassifyError.
	StreamChat(ctx context.Context, req *Request) (<-chan *StreamChunk, error)

	// Name identifies the backend (e.g. "openai").
	Name() string
}
