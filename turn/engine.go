package turn

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/conclave/eventbus"
	"github.com/kadirpekel/conclave/expr"
	"github.com/kadirpekel/conclave/llm"
	"github.com/kadirpekel/conclave/profile"
	"github.com/kadirpekel/conclave/prompt"
	"github.com/kadirpekel/conclave/state"
	"github.com/kadirpekel/conclave/tool"
)

var tracer = otel.Tracer("github.com/kadirpekel/conclave/turn")

// ToolInvoker is the subset of tool.Registry the engine depends on, so a
// flow can layer its own submission tools (generate_message_summary and
// friends) over the shared, boot-time registry without mutating it.
type ToolInvoker interface {
	Invoke(ctx context.Context, name string, rawParams json.RawMessage) tool.Result
	EndsTurn(name string) bool
	Visible(allowedToolsets, allowedIndividualTools []string) []tool.Description
}

// Outcome is what Step returns once the flow decider has run.
type Outcome struct {
	Terminal     bool
	Success      bool
	ErrorMessage string
}

// Engine executes one turn at a time; it holds no per-flow state itself,
// so one Engine can serve every flow in a run concurrently.
type Engine struct {
	Assembler *prompt.Assembler
	Tools     ToolInvoker
	LLM       llm.Client
	Eval      *expr.Evaluator
	Bus       *eventbus.Bus
}

// NewEngine wires an Engine from its five collaborators.
func NewEngine(assembler *prompt.Assembler, tools ToolInvoker, client llm.Client, eval *expr.Evaluator, bus *eventbus.Bus) *Engine {
	return &Engine{Assembler: assembler, Tools: tools, LLM: client, Eval: eval, Bus: bus}
}

// Step executes exactly one turn for one flow, per the engine's seven-step
// sequence: pre-turn observers, prompt assembly, LLM call, message
// recording, tool execution, post-turn observers, flow decider.
func (e *Engine) Step(ctx context.Context, runID, flowID string, prof *profile.Effective, st *State, teamTree *state.Tree, cfg llm.CallConfig) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "turn.Step", trace.WithAttributes(
		attribute.String("flow.id", flowID),
		attribute.String("profile.name", prof.Name),
		attribute.Int("turn.count", st.TurnCount+1),
	))
	defer span.End()

	st.TurnCount++
	st.LastTurn = TurnSignals{}

	skipTurnBody, err := e.runObservers(ctx, prof.PreTurnObservers, st, teamTree)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Outcome{}, err
	}

	if !skipTurnBody {
		if err := e.runLLMTurn(ctx, runID, flowID, prof, st, teamTree, cfg); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return Outcome{}, err
		}
	}

	if _, err := e.runObservers(ctx, prof.PostTurnObservers, st, teamTree); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Outcome{}, err
	}

	outcome, err := e.runDecider(prof, st, teamTree)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return outcome, err
	}
	span.SetAttributes(attribute.Bool("turn.terminal", outcome.Terminal))
	return outcome, nil
}

func (e *Engine) runLLMTurn(ctx context.Context, runID, flowID string, prof *profile.Effective, st *State, teamTree *state.Tree, cfg llm.CallConfig) error {
	view := mergeView(teamTree, st)

	messages, err := e.Assembler.Build(prof, view, st.ContributedContext, st.Messages, &st.Inbox, prof.ToolAccessPolicy)
	if err != nil {
		return err
	}
	st.ContributedContext = nil

	tools := toLLMToolSchemas(e.Tools.Visible(prof.ToolAccessPolicy.AllowedToolsets, prof.ToolAccessPolicy.AllowedIndividualTools))

	frames, callErr := e.LLM.Call(ctx, messages, tools, cfg)
	if callErr != nil {
		st.LastTurn.LLMError = callErr.Error()
		return nil
	}

	var final *llm.Message
	for f := range frames {
		switch f.Kind {
		case llm.FrameContentDelta:
			e.Bus.Publish(eventbus.KindLLMChunk, flowID, eventbus.LLMChunkPayload{ContentDelta: f.ContentDelta})
		case llm.FrameReasoningDelta:
			e.Bus.Publish(eventbus.KindLLMChunk, flowID, eventbus.LLMChunkPayload{ReasoningDelta: f.ReasoningDelta})
		case llm.FrameToolCallDelta:
			e.Bus.Publish(eventbus.KindLLMChunk, flowID, eventbus.LLMChunkPayload{ToolCallDelta: f.ToolCallDelta})
		case llm.FrameDone:
			final = f.Final
			if f.Err != nil {
				st.LastTurn.LLMError = f.Err.Error()
				if _, ok := f.Err.(*llm.EmptyResponseError); ok {
					st.LastTurn.WasEmptyResponse = true
				}
			}
		}
	}

	if final == nil {
		return nil
	}

	e.Bus.Publish(eventbus.KindLLMResponse, flowID, eventbus.LLMResponsePayload{
		Content:          final.Content,
		ReasoningContent: final.ReasoningContent,
		ToolCallCount:    len(final.ToolCalls),
	})

	st.Messages = append(st.Messages, *final)
	st.LastTurn.HadContent = final.Content != ""
	st.LastTurn.HadToolCall = len(final.ToolCalls) > 0

	if len(final.ToolCalls) > 0 {
		call := final.ToolCalls[0]
		st.CurrentAction = &call
		e.executeTool(ctx, flowID, st, call)
	} else {
		st.CurrentAction = nil
	}

	return nil
}

func (e *Engine) executeTool(ctx context.Context, flowID string, st *State, call llm.ToolCall) {
	e.Bus.Publish(eventbus.KindToolCall, flowID, eventbus.ToolCallPayload{ToolName: call.Name, Params: json.RawMessage(call.Arguments)})

	result := e.Tools.Invoke(ctx, call.Name, json.RawMessage(call.Arguments))
	st.LastTurn.ToolStatus = string(result.Status)
	st.LastTurn.ToolEndsTurn = e.Tools.EndsTurn(call.Name)

	payload, _ := json.Marshal(result)
	st.Messages = append(st.Messages, llm.Message{
		Role:       "tool",
		Content:    string(payload),
		ToolCallID: call.ID,
	})

	e.Bus.Publish(eventbus.KindToolResult, flowID, eventbus.ToolResultPayload{
		ToolName: call.Name,
		Status:   string(result.Status),
		Error:    result.ErrorMessage,
	})
}

// runObservers iterates rules in order, executing the action of every rule
// whose condition evaluates truthy. It returns true if an end_agent_turn
// action fired, signalling the caller to skip the prompt/LLM/tool portion
// of this turn (step 1 only; harmless to check after step 6 too).
func (e *Engine) runObservers(ctx context.Context, rules []profile.Rule, st *State, teamTree *state.Tree) (bool, error) {
	ended := false
	for _, rule := range rules {
		view := mergeView(teamTree, st)
		ok, err := e.Eval.EvaluateCondition(rule.Condition, view)
		if err != nil {
			return ended, fmt.Errorf("turn: observer %q: %w", rule.ID, err)
		}
		if !ok {
			continue
		}
		if e.applyObserverAction(rule.Action, st, teamTree) {
			ended = true
		}
	}
	return ended, nil
}

// applyObserverAction executes one of the three observer-legal action
// kinds. Returns true for end_agent_turn.
func (e *Engine) applyObserverAction(action profile.Action, st *State, teamTree *state.Tree) bool {
	switch action.Kind {
	case profile.ActionAddToInbox:
		st.Inbox = append(st.Inbox, prompt.InboxItem{
			Source:     action.Target,
			Payload:    state.String(action.Item),
			IngestorID: "text",
			Policy:     prompt.ConsumeOnRead,
		})

	case profile.ActionUpdateState:
		applyStateUpdates(action.Updates, st, teamTree)

	case profile.ActionEndAgentTurn:
		st.LastTurn.ObserverEndedTurn = true
		st.LastTurn.ObserverOutcome = action.Outcome
		st.LastTurn.ObserverErrorMessage = action.ErrorMessage
		return true
	}
	return false
}

// runDecider iterates the flow-decider rules in order; the first truthy
// condition's action determines the turn's outcome.
func (e *Engine) runDecider(prof *profile.Effective, st *State, teamTree *state.Tree) (Outcome, error) {
	view := mergeView(teamTree, st)
	for _, rule := range prof.FlowDecider {
		ok, err := e.Eval.EvaluateCondition(rule.Condition, view)
		if err != nil {
			return Outcome{}, fmt.Errorf("turn: flow_decider %q: %w", rule.ID, err)
		}
		if !ok {
			continue
		}
		switch rule.Action.Kind {
		case profile.ActionContinueWithTool:
			return Outcome{Terminal: false}, nil

		case profile.ActionLoopWithInboxItem:
			st.Inbox = append(st.Inbox, prompt.InboxItem{
				Source:     "flow_decider",
				Payload:    state.String(prof.TextDefinitions[rule.Action.ContentKey]),
				IngestorID: "text",
				Policy:     prompt.ConsumeOnRead,
			})
			return Outcome{Terminal: false}, nil

		case profile.ActionEndAgentTurn:
			return Outcome{
				Terminal:     true,
				Success:      rule.Action.Outcome == "success",
				ErrorMessage: rule.Action.ErrorMessage,
			}, nil
		}
	}
	return Outcome{Terminal: true, Success: false, ErrorMessage: "no flow_decider rule matched"}, nil
}

// applyStateUpdates applies one update_state action's ops. A path prefixed
// with "team." targets the shared team tree verbatim (its root already
// nests under "team", matching the planning store's projection
// convention); every other path targets this flow's local Flags tree,
// stripping a leading "flags." prefix so the same path string used in a
// condition (state.flags.x) and in an update (flags.x) resolve to the same
// location without Flags nesting a redundant "flags" key inside itself.
func applyStateUpdates(updates []profile.StateUpdate, st *State, teamTree *state.Tree) {
	for _, u := range updates {
		target := teamTree
		path := u.Path
		if !isTeamPath(path) {
			target = st.Flags
			path = trimFlagsPrefix(path)
		}

		op := state.Op{Path: path}
		switch u.Op {
		case profile.StateOpSet:
			op.Kind = state.OpSet
			op.Value = state.FromNative(u.Value)
		case profile.StateOpIncrement:
			op.Kind = state.OpIncrement
			op.Value = state.FromNative(u.Value)
		case profile.StateOpAppend:
			op.Kind = state.OpAppend
			op.Value = state.FromNative(u.Value)
		default:
			continue
		}
		_ = target.Update([]state.Op{op})
	}
}

func isTeamPath(path string) bool {
	return len(path) > 5 && path[:5] == "team."
}

func trimFlagsPrefix(path string) string {
	const prefix = "flags."
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		return path[len(prefix):]
	}
	return path
}

func toLLMToolSchemas(descs []tool.Description) []llm.ToolSchema {
	out := make([]llm.ToolSchema, len(descs))
	for i, d := range descs {
		out[i] = llm.ToolSchema{Name: d.Name, Description: d.Description, Parameters: d.Schema}
	}
	return out
}
