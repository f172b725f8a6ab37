// Package turn implements the agent node: the turn engine that executes
// exactly one turn for one flow (pre-turn observers, prompt assembly, LLM
// call, message recording, tool execution, post-turn observers, flow
// decider), per the engine's per-flow sequential turn loop.
package turn

import (
	"github.com/kadirpekel/conclave/llm"
	"github.com/kadirpekel/conclave/prompt"
	"github.com/kadirpekel/conclave/state"
)

// State is one flow's mutable turn-local data: message history, the
// pending tool call, the inbox queue, and counters an observer maintains
// through update_state actions.
type State struct {
	Messages           []llm.Message
	CurrentAction      *llm.ToolCall
	Inbox              []prompt.InboxItem
	Flags              *state.Tree
	ContributedContext []string
	TurnCount          int

	// LastTurn carries the ephemeral outcome signals of the turn just
	// executed (empty-response detection, whether a tool call happened,
	// whether a pre/post-turn observer already decided to end this turn)
	// so post-turn observers and the flow decider can branch on them. It
	// is rebuilt every Step call and never persisted past one turn.
	LastTurn TurnSignals
}

// TurnSignals is the per-turn outcome exposed to conditions under the
// "state.turn" namespace.
type TurnSignals struct {
	HadContent           bool
	HadToolCall          bool
	WasEmptyResponse     bool
	LLMError             string
	ToolStatus           string
	ToolEndsTurn         bool
	ObserverEndedTurn    bool
	ObserverOutcome      string
	ObserverErrorMessage string
}

func (s TurnSignals) toValue() state.Value {
	return state.Map(map[string]state.Value{
		"had_content":            state.Bool(s.HadContent),
		"had_tool_call":          state.Bool(s.HadToolCall),
		"was_empty_response":     state.Bool(s.WasEmptyResponse),
		"llm_error":              state.String(s.LLMError),
		"tool_status":            state.String(s.ToolStatus),
		"tool_ends_turn":         state.Bool(s.ToolEndsTurn),
		"observer_ended_turn":    state.Bool(s.ObserverEndedTurn),
		"observer_outcome":       state.String(s.ObserverOutcome),
		"observer_error_message": state.String(s.ObserverErrorMessage),
	})
}

// NewState returns an empty State with its own local Flags tree.
func NewState() *State {
	return &State{Flags: state.New()}
}

func currentActionValue(ca *llm.ToolCall) state.Value {
	if ca == nil {
		return state.Absent
	}
	return state.Map(map[string]state.Value{
		"id":        state.String(ca.ID),
		"name":      state.String(ca.Name),
		"arguments": state.String(ca.Arguments),
	})
}

// View returns this flow's local contribution to the evaluation view, under
// the "state" namespace once merged with team state by mergeView.
func (s *State) View() state.Value {
	return state.Map(map[string]state.Value{
		"flags":          s.Flags.View(),
		"current_action": currentActionValue(s.CurrentAction),
		"turn":           s.LastTurn.toValue(),
	})
}

// mergeView combines the shared team tree's view (whose root already nests
// under "team", per the planning store's projection convention) with this
// flow's local view under "state", producing the single view passed to the
// expression evaluator and prompt assembler for one turn.
func mergeView(teamTree *state.Tree, st *State) state.Value {
	root := teamTree.View()
	m := make(map[string]state.Value, len(root.Map)+1)
	for k, v := range root.Map {
		m[k] = v
	}
	m["state"] = st.View()
	return state.Map(m)
}
