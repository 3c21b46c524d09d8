// Package llm provides abstractions for LLM provider integration.
//
// Providers handle API communication with LLM services and return simple
// StreamChunk instances. The evaluator layer is responsible for turning
// completions into browser actions; providers stay focused on transport so
// they remain reusable and testable in isolation.
package llm

import (
	"context"

	"github.com/Zeeeepa/web-eval-agent/pkg/types"
)

// StreamChunk is one increment of a streamed completion.
type StreamChunk struct {
	// Role is set on the first chunk of a response (e.g., "assistant").
	Role string

	// Content is the text delta carried by this chunk.
	Content string

	// Finished is true on the final chunk of a successful stream.
	Finished bool

	// Error is set when the stream failed; no further chunks follow.
	Error error
}

// IsError returns true if this chunk carries a stream error.
func (c *StreamChunk) IsError() bool {
	return c.Error != nil
}

// Provider defines the interface for LLM integrations.
type Provider interface {
	// StreamCompletion sends messages to the LLM and streams back response
	// chunks. The channel is closed when streaming completes or fails;
	// callers should read until closed. An error is returned only when
	// streaming cannot be initiated; stream-time errors arrive as chunks
	// with Error set.
	StreamCompletion(ctx context.Context, messages []*types.Message) (<-chan *StreamChunk, error)

	// Complete sends messages to the LLM and returns the full response.
	// It is a convenience wrapper around StreamCompletion.
	Complete(ctx context.Context, messages []*types.Message) (*types.Message, error)

	// GetModelInfo returns information about the model being used.
	GetModelInfo() *types.ModelInfo

	// GetModel returns the model name being used.
	GetModel() string
}
