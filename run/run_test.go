package run

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conclave/llm"
	"github.com/kadirpekel/conclave/profile"
)

// scriptedRunLLM returns one fixed assistant message per call index,
// falling back to its last scripted message for any call beyond the
// script's length (keeps a runaway flow from panicking on slice bounds
// instead of tripping its own max-turns cap).
type scriptedRunLLM struct {
	byFlow map[string][]llm.Message
	calls  map[string]int
}

func newScriptedRunLLM(byFlow map[string][]llm.Message) *scriptedRunLLM {
	return &scriptedRunLLM{byFlow: byFlow, calls: map[string]int{}}
}

// Call ignores flow identity (not part of the llm.Client interface) and
// plays back one shared script; adequate for these single-flow tests.
func (s *scriptedRunLLM) Call(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema, cfg llm.CallConfig) (<-chan llm.Frame, error) {
	key := "default"
	script := s.byFlow[key]
	idx := s.calls[key]
	if idx >= len(script) {
		idx = len(script) - 1
	}
	s.calls[key]++
	msg := script[idx]
	ch := make(chan llm.Frame, 1)
	ch <- llm.Frame{Kind: llm.FrameDone, Final: &msg}
	close(ch)
	return ch, nil
}

func associateProfileRaw() profile.Raw {
	return profile.Raw{
		Name: "Associate_WebSearcher",
		Type: profile.TypeAssociate,
		ToolAccessPolicy: profile.ToolAccessPolicy{
			AllowedToolsets: []string{"submission"},
		},
		FlowDecider: []profile.Rule{
			{ID: "tool-ended", Condition: "v['state.turn.tool_ends_turn']", Action: profile.Action{Kind: profile.ActionEndAgentTurn, Outcome: "success"}},
			{ID: "default", Condition: "True", Action: profile.Action{Kind: profile.ActionContinueWithTool}},
		},
	}
}

func principalProfileRaw() profile.Raw {
	return profile.Raw{
		Name: "Principal",
		Type: profile.TypePrincipal,
		ToolAccessPolicy: profile.ToolAccessPolicy{
			AllowedToolsets: []string{"planning", "dispatch", "submission"},
		},
		FlowDecider: []profile.Rule{
			{ID: "tool-ended", Condition: "v['state.turn.tool_ends_turn']", Action: profile.Action{Kind: profile.ActionEndAgentTurn, Outcome: "success"}},
			{ID: "default", Condition: "True", Action: profile.Action{Kind: profile.ActionContinueWithTool}},
		},
	}
}

func TestRunEndsWithSuccessAfterFinishFlow(t *testing.T) {
	llmClient := newScriptedRunLLM(map[string][]llm.Message{
		"default": {
			{Role: "assistant", Content: "done", ToolCalls: []llm.ToolCall{
				{ID: "1", Name: "finish_flow", Arguments: "{}"},
			}},
		},
	})

	cfg := Config{
		RunID: "run-1",
		EngineConfig: EngineConfig{
			MaxTurnsPerFlow:         5,
			MaxConcurrentChildFlows: 2,
		},
		CallConfig: llm.CallConfig{},
		Profiles: map[string]profile.Raw{
			"Principal":             principalProfileRaw(),
			"Associate_WebSearcher": associateProfileRaw(),
		},
		PrincipalProfileName: "Principal",
		LLMClient:            llmClient,
	}

	r, err := Start(context.Background(), cfg, "summarize topic T")
	require.NoError(t, err)

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not complete in time")
	}

	assert.Equal(t, "success", r.Result().Outcome)
	assert.False(t, r.Result().Cancelled)
}

func TestRunCancelStopsPrincipalPromptly(t *testing.T) {
	llmClient := newScriptedRunLLM(map[string][]llm.Message{
		"default": {
			{Role: "assistant", Content: "still working"},
		},
	})

	cfg := Config{
		RunID: "run-2",
		EngineConfig: EngineConfig{
			MaxTurnsPerFlow:         1000,
			MaxConcurrentChildFlows: 2,
		},
		Profiles: map[string]profile.Raw{
			"Principal": {
				Name: "Principal",
				Type: profile.TypePrincipal,
				FlowDecider: []profile.Rule{
					{ID: "default", Condition: "True", Action: profile.Action{Kind: profile.ActionContinueWithTool}},
				},
			},
		},
		PrincipalProfileName: "Principal",
		LLMClient:            llmClient,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, err := Start(ctx, cfg, "go")
	require.NoError(t, err)

	select {
	case <-r.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not observe cancellation within grace period")
	}

	assert.Equal(t, "cancelled", r.Result().Outcome)
	assert.True(t, r.Result().Cancelled)
}
