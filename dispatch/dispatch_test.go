package dispatch

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/conclave/eventbus"
	"github.com/kadirpekel/conclave/expr"
	"github.com/kadirpekel/conclave/flowtools"
	"github.com/kadirpekel/conclave/llm"
	"github.com/kadirpekel/conclave/planning"
	"github.com/kadirpekel/conclave/profile"
	"github.com/kadirpekel/conclave/prompt"
	"github.com/kadirpekel/conclave/state"
	"github.com/kadirpekel/conclave/tool"
	"github.com/kadirpekel/conclave/turn"
)

type fakeProfiles struct {
	byName map[string]*profile.Effective
}

func (f fakeProfiles) Resolve(name string) (*profile.Effective, error) {
	p, ok := f.byName[name]
	if !ok {
		return nil, &profile.ProfileNotFoundError{Name: name}
	}
	return p, nil
}

type scriptedLLM struct{ content string }

func (s scriptedLLM) Call(ctx context.Context, messages []llm.Message, tools []llm.ToolSchema, cfg llm.CallConfig) (<-chan llm.Frame, error) {
	msg := llm.Message{Role: "assistant", Content: "done", ToolCalls: []llm.ToolCall{
		{ID: "1", Name: "generate_message_summary", Arguments: `{"current_associate_findings":"` + s.content + `"}`},
	}}
	ch := make(chan llm.Frame, 1)
	ch <- llm.Frame{Kind: llm.FrameDone, Final: &msg}
	close(ch)
	return ch, nil
}

type regTools struct{ reg *tool.Registry }

func (r regTools) Invoke(ctx context.Context, name string, raw json.RawMessage) tool.Result {
	return r.reg.Invoke(ctx, name, raw)
}
func (r regTools) EndsTurn(name string) bool { return r.reg.EndsTurn(name) }
func (r regTools) Visible(a, b []string) []tool.Description {
	return r.reg.Visible(a, b)
}

func associateProfile() *profile.Effective {
	return &profile.Effective{
		Type: profile.TypeAssociate,
		FlowDecider: []profile.Rule{
			{ID: "tool-ended", Condition: "v['state.turn.tool_ends_turn']", Action: profile.Action{Kind: profile.ActionEndAgentTurn, Outcome: "success"}},
			{ID: "default", Condition: "True", Action: profile.Action{Kind: profile.ActionContinueWithTool}},
		},
	}
}

func newTestDispatcher(t *testing.T, content string) (*Dispatcher, *planning.Store) {
	t.Helper()
	reg := tool.NewRegistry()
	require.NoError(t, flowtools.RegisterAll(reg))

	eval := expr.New()
	assembler := prompt.NewAssembler(eval, regTools{reg}, nil)
	bus := eventbus.New("run-1", nil)
	tree := state.New()
	store := planning.NewStore(tree, bus)
	engine := turn.NewEngine(assembler, regTools{reg}, scriptedLLM{content: content}, eval, bus)

	profiles := fakeProfiles{byName: map[string]*profile.Effective{"Associate_WebSearcher": associateProfile()}}
	d := New("run-1", store, profiles, engine, tree, bus, llm.CallConfig{}, 10, 2)
	return d, store
}

func TestDispatchHappyPathRecordsDeliverable(t *testing.T) {
	d, store := newTestDispatcher(t, "the answer is 42")

	results := store.Manage([]planning.ModuleAction{{Add: &planning.AddAction{Name: "Research T", Description: "desc"}}})
	require.True(t, results[0].OK)
	moduleID := results[0].ModuleID

	outcomes, err := d.Dispatch(context.Background(), Params{
		Assignments: []Assignment{
			{ModuleID: moduleID, ProfileName: "Associate_WebSearcher", RoleName: "researcher", Instructions: "go find it"},
		},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "dispatched", outcomes[0].Status)
	assert.Empty(t, outcomes[0].Error)

	m, ok := store.Get(moduleID)
	require.True(t, ok)
	assert.Equal(t, planning.StatusPendingReview, m.Status)
	require.Len(t, m.Deliverables, 1)
	assert.Equal(t, "the answer is 42", m.Deliverables[0])
}

func TestDispatchRejectsWholeBatchOnInvalidAssignment(t *testing.T) {
	d, store := newTestDispatcher(t, "irrelevant")

	results := store.Manage([]planning.ModuleAction{{Add: &planning.AddAction{Name: "Research T", Description: "desc"}}})
	moduleID := results[0].ModuleID

	outcomes, err := d.Dispatch(context.Background(), Params{
		Assignments: []Assignment{
			{ModuleID: moduleID, ProfileName: "Associate_WebSearcher", RoleName: "researcher", Instructions: "go find it"},
			{ModuleID: "wm_does_not_exist", ProfileName: "Associate_WebSearcher", RoleName: "researcher", Instructions: "go find it"},
		},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		assert.Equal(t, "rejected", o.Status)
		assert.NotEmpty(t, o.Error)
	}

	m, ok := store.Get(moduleID)
	require.True(t, ok)
	assert.Equal(t, planning.StatusPending, m.Status)
}

func TestDispatchRejectsUnknownProfile(t *testing.T) {
	d, store := newTestDispatcher(t, "irrelevant")

	results := store.Manage([]planning.ModuleAction{{Add: &planning.AddAction{Name: "Research T", Description: "desc"}}})
	moduleID := results[0].ModuleID

	outcomes, err := d.Dispatch(context.Background(), Params{
		Assignments: []Assignment{
			{ModuleID: moduleID, ProfileName: "does_not_exist", RoleName: "researcher", Instructions: "go find it"},
		},
	})
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "rejected", outcomes[0].Status)
	assert.Contains(t, outcomes[0].Error, "unknown profile")
}
