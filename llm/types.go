// Package llm implements the streaming chat-completion client contract:
// it streams deltas as they arrive, aggregates them into a final message,
// and enforces timeouts, cancellation, and empty-response detection.
package llm

import (
	"context"
	"time"
)

// FrameKind is the closed set of frames a streaming call yields.
type FrameKind string

const (
	FrameContentDelta   FrameKind = "content_delta"
	FrameReasoningDelta FrameKind = "reasoning_delta"
	FrameToolCallDelta  FrameKind = "tool_call_delta"
	FrameDone           FrameKind = "done"
)

// ToolCall is one tool invocation the model emitted, in the standard
// OpenAI-compatible tools/tool_calls schema.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Message is one chat turn, aggregated or authored.
type Message struct {
	Role             string     `json:"role"`
	Content          string     `json:"content"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string     `json:"tool_call_id,omitempty"`
}

// Frame is one event in a streaming call. Only the field matching Kind is
// meaningful; Final is set only on FrameDone. Err is set on FrameDone when
// the call failed after streaming had already begun (the point at which a
// synchronous error return from Call is no longer possible) — one of
// *TransportError, *EmptyResponseError, or *CancelledError.
type Frame struct {
	Kind           FrameKind
	ContentDelta   string
	ReasoningDelta string
	ToolCallDelta  string
	Final          *Message
	Err            error
}

// ToolSchema describes one tool for the chat-completion request's `tools`
// parameter.
type ToolSchema struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters"`
}

// CallConfig resolves a profile's llm_config_ref plus the engine's call
// policy.
type CallConfig struct {
	EndpointURL string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	MaxRetries  int
}

// Client is the streaming chat-completion contract the turn engine depends
// on, satisfied by the OpenAI-compatible HTTP+SSE implementation in this
// package.
type Client interface {
	Call(ctx context.Context, messages []Message, tools []ToolSchema, cfg CallConfig) (<-chan Frame, error)
}
