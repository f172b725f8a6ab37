// Package eventbus implements the per-run publish/subscribe channel that
// streams frames and lifecycle events to external subscribers.
package eventbus

import "time"

// Kind is the closed set of event kinds the bus transports.
type Kind string

const (
	KindLLMChunk          Kind = "llm_chunk"
	KindLLMResponse       Kind = "llm_response"
	KindToolCall          Kind = "tool_call"
	KindToolResult        Kind = "tool_result"
	KindWorkModulesUpdate Kind = "work_modules_update"
	KindDispatchStart     Kind = "dispatch_start"
	KindDispatchComplete  Kind = "dispatch_complete"
	KindFlowEnd           Kind = "flow_end"
	KindRunEnd            Kind = "run_end"
)

// Event is one tagged record on the bus. Seq is assigned by the bus at
// publish time and is strictly increasing per publisher, giving each
// subscriber a total order over the events it receives.
type Event struct {
	Kind    Kind      `json:"kind"`
	RunID   string    `json:"run_id"`
	FlowID  string    `json:"flow_id,omitempty"`
	Seq     uint64    `json:"seq"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// Payload shapes for the events above. Handlers type-assert Event.Payload
// to the shape matching Event.Kind.

type LLMChunkPayload struct {
	ContentDelta   string `json:"content_delta,omitempty"`
	ReasoningDelta string `json:"reasoning_delta,omitempty"`
	ToolCallDelta  string `json:"tool_call_delta,omitempty"`
}

type LLMResponsePayload struct {
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
	ToolCallCount    int    `json:"tool_call_count"`
}

type ToolCallPayload struct {
	ToolName string `json:"tool_name"`
	Params   any    `json:"params"`
}

type ToolResultPayload struct {
	ToolName string `json:"tool_name"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`
}

type WorkModulesUpdatePayload struct {
	ModuleIDs []string `json:"module_ids"`
}

type DispatchStartPayload struct {
	ModuleID string `json:"module_id"`
}

type DispatchCompletePayload struct {
	Outcomes map[string]string `json:"outcomes"`
}

type FlowEndPayload struct {
	Outcome      string `json:"outcome"`
	ErrorMessage string `json:"error_message,omitempty"`
	Cancelled    bool   `json:"cancelled,omitempty"`
}

type RunEndPayload struct {
	Outcome   string `json:"outcome"`
	Cancelled bool   `json:"cancelled,omitempty"`
}
