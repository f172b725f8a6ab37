// Package flow implements the flow runner: it owns one agent's profile,
// turn-local state, and inbox, and drives the turn engine until the flow
// decider yields a terminal outcome, the max-turns cap trips, or the run's
// cancellation token fires.
package flow

import (
	"context"

	"github.com/kadirpekel/conclave/eventbus"
	"github.com/kadirpekel/conclave/flowtools"
	"github.com/kadirpekel/conclave/llm"
	"github.com/kadirpekel/conclave/profile"
	"github.com/kadirpekel/conclave/prompt"
	"github.com/kadirpekel/conclave/state"
	"github.com/kadirpekel/conclave/turn"
)

// MaxTurnsExceeded is the ErrorMessage a Runner reports when it hits its
// turn cap without the flow decider reaching a terminal outcome.
const MaxTurnsExceeded = "max_turns_exceeded"

// Result is the terminal state of one completed flow.
type Result struct {
	Outcome           turn.Outcome
	Cancelled         bool
	Messages          []llm.Message
	SubmittedFindings string
	SubmittedOnce     bool
}

// Runner drives one flow to completion.
type Runner struct {
	ID       string
	RunID    string
	Profile  *profile.Effective
	Engine   *turn.Engine
	TeamTree *state.Tree
	Bus      *eventbus.Bus
	CallCfg  llm.CallConfig
	MaxTurns int

	State      *turn.State
	Submission *flowtools.Submission
}

// New returns a Runner for one flow, with a fresh, empty turn-local State;
// callers add the initial messages (typically the Principal's user prompt)
// or an Associate's initial inbox from dispatch before calling Run.
func New(id, runID string, prof *profile.Effective, engine *turn.Engine, teamTree *state.Tree, bus *eventbus.Bus, cfg llm.CallConfig, maxTurns int) *Runner {
	return &Runner{
		ID:         id,
		RunID:      runID,
		Profile:    prof,
		Engine:     engine,
		TeamTree:   teamTree,
		Bus:        bus,
		CallCfg:    cfg,
		MaxTurns:   maxTurns,
		State:      turn.NewState(),
		Submission: &flowtools.Submission{},
	}
}

// Run drives the turn loop until terminal, cancelled, or over the turn cap.
// It always publishes exactly one FlowEnd event before returning.
func (r *Runner) Run(ctx context.Context) Result {
	var last turn.Outcome
	cancelled := false
	stepCtx := flowtools.WithSubmission(ctx, r.Submission)

	for {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		if r.State.TurnCount >= r.MaxTurns {
			last = turn.Outcome{Terminal: true, Success: false, ErrorMessage: MaxTurnsExceeded}
			break
		}

		outcome, err := r.Engine.Step(stepCtx, r.RunID, r.ID, r.Profile, r.State, r.TeamTree, r.CallCfg)
		if err != nil {
			last = turn.Outcome{Terminal: true, Success: false, ErrorMessage: err.Error()}
			break
		}
		if outcome.Terminal {
			last = outcome
			break
		}
	}

	r.Bus.Publish(eventbus.KindFlowEnd, r.ID, eventbus.FlowEndPayload{
		Outcome:      flowOutcomeLabel(last, cancelled),
		ErrorMessage: last.ErrorMessage,
		Cancelled:    cancelled,
	})

	findings, submittedOnce := r.Submission.Findings()
	return Result{
		Outcome:           last,
		Cancelled:         cancelled,
		Messages:          r.State.Messages,
		SubmittedFindings: findings,
		SubmittedOnce:     submittedOnce,
	}
}

func flowOutcomeLabel(o turn.Outcome, cancelled bool) string {
	if cancelled {
		return "cancelled"
	}
	if o.Success {
		return "success"
	}
	return "error"
}

// Seed appends messages to the flow's initial state before Run is called;
// used to give a Principal its opening user prompt or an Associate its
// dispatch-constructed inbox.
func (r *Runner) Seed(messages ...llm.Message) {
	r.State.Messages = append(r.State.Messages, messages...)
}

// SeedInbox queues inbox items visible on the flow's first turn, used by
// dispatch to hand an Associate its shared context, assignment
// instructions, and any inherited deliverables/messages.
func (r *Runner) SeedInbox(items ...prompt.InboxItem) {
	r.State.Inbox = append(r.State.Inbox, items...)
}
