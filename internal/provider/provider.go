// Package provider defines the interface for communicating with LLM
// backends and the error taxonomy every cross-boundary call is classified
// against.
package provider

import "context"

// Provider is the interface for communicating with an LLM backend.
// Concrete implementations live in subpackages (openai, anthropic).
type Provider interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// Stream sends a completion request and returns a channel of chunks.
	// Initial connection errors are returned directly. Mid-stream errors
	// are delivered via StreamChunk.Err.
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)

	// ModelName returns the identifier of the underlying model.
	ModelName() string
}
