// Package llms provides the LLM completion contract and provider
// implementations for the three logical clients the interview pipeline uses
// (extraction, scoring, generation).
package llms

import (
	"context"
	"time"
)

// CompletionRequest is a single non-streaming completion. The pipeline never
// streams: every call site parses the full response (usually as JSON).
type CompletionRequest struct {
	// System is the optional system prompt.
	System string

	// Prompt is the user-turn content.
	Prompt string

	// Temperature overrides the provider default when non-nil.
	Temperature *float64

	// MaxTokens overrides the provider default when > 0.
	MaxTokens int

	// Timeout overrides the provider default when > 0. The request context
	// still governs cancellation.
	Timeout time.Duration
}

// CompletionResponse is the provider-agnostic result.
type CompletionResponse struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
}

// Provider is implemented by each LLM backend.
type Provider interface {
	// Complete performs one completion. Implementations honor ctx deadlines
	// and cancellation.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	ModelName() string

	Close() error
}
