// Package dispatch implements the dispatch subsystem: the
// dispatch_submodules tool that spawns child Associate flows for pending
// work modules, runs them concurrently under a bounded semaphore, and
// aggregates their deliverables back into the planning store.
package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kadirpekel/conclave/eventbus"
	"github.com/kadirpekel/conclave/flow"
	"github.com/kadirpekel/conclave/llm"
	"github.com/kadirpekel/conclave/planning"
	"github.com/kadirpekel/conclave/profile"
	"github.com/kadirpekel/conclave/prompt"
	"github.com/kadirpekel/conclave/state"
	"github.com/kadirpekel/conclave/turn"
)

// ProfileProvider resolves an agent profile's logical name to its effective
// (base_profile-resolved) form. Satisfied by *profile.Resolver.
type ProfileProvider interface {
	Resolve(name string) (*profile.Effective, error)
}

// Assignment is one entry of a dispatch_submodules call, naming the module
// to dispatch, the profile and role to dispatch it under, its
// instructions, and what prior deliverables or message histories it
// should inherit.
type Assignment struct {
	ModuleID                string   `json:"module_id_to_assign" required:"true"`
	ProfileName             string   `json:"agent_profile_logical_name" required:"true"`
	RoleName                string   `json:"assigned_role_name" required:"true"`
	Instructions            string   `json:"assignment_specific_instructions" required:"true"`
	InheritDeliverablesFrom []string `json:"inherit_deliverables_from,omitempty"`
	InheritMessagesFrom     []string `json:"inherit_messages_from,omitempty"`
}

// Params is dispatch_submodules's parameter shape.
type Params struct {
	Assignments   []Assignment `json:"assignments" required:"true"`
	SharedContext string       `json:"shared_context_for_all_assignments,omitempty"`
}

// Outcome is the per-assignment result reported back in the aggregated
// dispatch_submodules payload and in the DispatchComplete event.
type Outcome struct {
	ModuleID string `json:"module_id"`
	Status   string `json:"status"` // "dispatched" | "rejected"
	Error    string `json:"error,omitempty"`
}

// Dispatcher owns the collaborators a dispatch_submodules call needs to
// validate assignments, construct child flows, run them to completion, and
// write their outcomes back to the planning store.
type Dispatcher struct {
	RunID    string
	Store    *planning.Store
	Profiles ProfileProvider
	Engine   *turn.Engine
	TeamTree *state.Tree
	Bus      *eventbus.Bus
	CallCfg  llm.CallConfig
	MaxTurns int

	sem *semaphore.Weighted

	// messagesMu guards messages, the run-local map from module id to the
	// full message history of the child flow dispatched for it, keyed so a
	// later assignment's inherit_messages_from can look up a prior child's
	// transcript without a separate message store.
	messagesMu sync.Mutex
	messages   map[string][]llm.Message
}

// New returns a Dispatcher bounding concurrent child flows to
// maxConcurrentChildFlows.
func New(runID string, store *planning.Store, profiles ProfileProvider, engine *turn.Engine, teamTree *state.Tree, bus *eventbus.Bus, callCfg llm.CallConfig, maxTurns int, maxConcurrentChildFlows int64) *Dispatcher {
	return &Dispatcher{
		RunID:    runID,
		Store:    store,
		Profiles: profiles,
		Engine:   engine,
		TeamTree: teamTree,
		Bus:      bus,
		CallCfg:  callCfg,
		MaxTurns: maxTurns,
		sem:      semaphore.NewWeighted(maxConcurrentChildFlows),
		messages: map[string][]llm.Message{},
	}
}

// Dispatch validates every assignment atomically, and only if all are valid
// spawns one child flow per assignment, waits for all to terminate, and
// records their deliverables. Returns one Outcome per assignment in
// request order, regardless of whether the batch was accepted.
func (d *Dispatcher) Dispatch(ctx context.Context, params Params) ([]Outcome, error) {
	if errs := d.validate(params.Assignments); len(errs) > 0 {
		outcomes := make([]Outcome, len(params.Assignments))
		for i, a := range params.Assignments {
			if msg, bad := errs[a.ModuleID]; bad {
				outcomes[i] = Outcome{ModuleID: a.ModuleID, Status: "rejected", Error: msg}
			} else {
				outcomes[i] = Outcome{ModuleID: a.ModuleID, Status: "rejected", Error: "batch rejected: another assignment in this call was invalid"}
			}
		}
		return outcomes, nil
	}

	outcomes := make([]Outcome, len(params.Assignments))
	group, groupCtx := errgroup.WithContext(ctx)

	for i, a := range params.Assignments {
		i, a := i, a
		if err := d.sem.Acquire(groupCtx, 1); err != nil {
			outcomes[i] = Outcome{ModuleID: a.ModuleID, Status: "rejected", Error: err.Error()}
			continue
		}
		group.Go(func() error {
			defer d.sem.Release(1)
			outcomes[i] = d.runOne(groupCtx, params.SharedContext, a)
			return nil
		})
	}
	_ = group.Wait()

	agg := make(map[string]string, len(outcomes))
	for _, o := range outcomes {
		agg[o.ModuleID] = o.Status
	}
	d.Bus.Publish(eventbus.KindDispatchComplete, "", eventbus.DispatchCompletePayload{Outcomes: agg})

	return outcomes, nil
}

// validate checks every assignment without mutating any module, so a
// partially-invalid batch never transitions any module to in_progress.
func (d *Dispatcher) validate(assignments []Assignment) map[string]string {
	errs := map[string]string{}
	ids := make([]string, len(assignments))
	for i, a := range assignments {
		ids[i] = a.ModuleID
	}
	storeErrs := d.Store.ValidateAssignments(ids)
	for id, msg := range storeErrs {
		errs[id] = msg
	}

	for _, a := range assignments {
		if _, ok := errs[a.ModuleID]; ok {
			continue
		}
		if a.RoleName == "" {
			errs[a.ModuleID] = "assigned_role_name is required"
			continue
		}
		if a.Instructions == "" {
			errs[a.ModuleID] = "assignment_specific_instructions is required"
			continue
		}
		if _, err := d.Profiles.Resolve(a.ProfileName); err != nil {
			errs[a.ModuleID] = fmt.Sprintf("unknown profile %q: %v", a.ProfileName, err)
		}
	}
	return errs
}

// runOne transitions one module to in_progress, runs its child flow to
// completion, and records the resulting deliverable or error back to the
// planning store.
func (d *Dispatcher) runOne(ctx context.Context, sharedContext string, a Assignment) Outcome {
	prof, err := d.Profiles.Resolve(a.ProfileName)
	if err != nil {
		return Outcome{ModuleID: a.ModuleID, Status: "rejected", Error: err.Error()}
	}

	if !d.Store.TransitionToInProgress(a.ModuleID, a.ProfileName, a.RoleName) {
		return Outcome{ModuleID: a.ModuleID, Status: "rejected", Error: "module not dispatchable"}
	}

	d.Bus.Publish(eventbus.KindDispatchStart, a.ModuleID, eventbus.DispatchStartPayload{ModuleID: a.ModuleID})

	runner := flow.New(a.ModuleID, d.RunID, prof, d.Engine, d.TeamTree, d.Bus, d.CallCfg, d.MaxTurns)
	runner.SeedInbox(d.buildInbox(sharedContext, a)...)

	result := runner.Run(ctx)

	d.messagesMu.Lock()
	d.messages[a.ModuleID] = result.Messages
	d.messagesMu.Unlock()

	if result.SubmittedOnce {
		d.Store.RecordDeliverable(a.ModuleID, a.ModuleID, result.SubmittedFindings, "")
		return Outcome{ModuleID: a.ModuleID, Status: "dispatched"}
	}

	childErr := result.Outcome.ErrorMessage
	if result.Cancelled {
		childErr = "cancelled"
	} else if childErr == "" {
		childErr = "associate did not submit findings"
	}
	d.Store.RecordDeliverable(a.ModuleID, a.ModuleID, "", childErr)
	return Outcome{ModuleID: a.ModuleID, Status: "dispatched", Error: childErr}
}

// buildInbox assembles the child flow's first-turn inbox: shared context,
// the assignment's own instructions, and any inherited deliverables
// (summaries only) or inherited messages (full history).
func (d *Dispatcher) buildInbox(sharedContext string, a Assignment) []prompt.InboxItem {
	var items []prompt.InboxItem

	if sharedContext != "" {
		items = append(items, prompt.InboxItem{
			Source:     "dispatch_shared_context",
			Payload:    state.String(sharedContext),
			IngestorID: "text",
			Policy:     prompt.Persistent,
		})
	}

	items = append(items, prompt.InboxItem{
		Source:     "dispatch_instructions",
		Payload:    state.String(a.Instructions),
		IngestorID: "text",
		Policy:     prompt.Persistent,
	})

	for _, srcID := range a.InheritDeliverablesFrom {
		m, ok := d.Store.Get(srcID)
		if !ok || len(m.Deliverables) == 0 {
			continue
		}
		deliverables := make([]state.Value, len(m.Deliverables))
		for i, dl := range m.Deliverables {
			deliverables[i] = state.String(dl)
		}
		items = append(items, prompt.InboxItem{
			Source:     "inherited_deliverables:" + srcID,
			Payload:    state.Value{Kind: state.KindList, List: deliverables},
			IngestorID: "bullet_list",
			Policy:     prompt.Persistent,
		})
	}

	for _, srcID := range a.InheritMessagesFrom {
		text := d.renderInheritedMessages(srcID)
		if text == "" {
			continue
		}
		items = append(items, prompt.InboxItem{
			Source:     "inherited_messages:" + srcID,
			Payload:    state.String(text),
			IngestorID: "text",
			Policy:     prompt.Persistent,
		})
	}

	return items
}

// Histories returns a snapshot of every dispatched child flow's full
// message history, keyed by module id, for the run's state-dump sink.
func (d *Dispatcher) Histories() map[string][]llm.Message {
	d.messagesMu.Lock()
	defer d.messagesMu.Unlock()
	out := make(map[string][]llm.Message, len(d.messages))
	for k, v := range d.messages {
		out[k] = append([]llm.Message(nil), v...)
	}
	return out
}

// renderInheritedMessages flattens a prior child flow's full message
// history into plain text for injection into a new child's inbox, per the
// inherit_messages_from contract (full history, as opposed to
// inherit_deliverables_from's summaries-only contract).
func (d *Dispatcher) renderInheritedMessages(moduleID string) string {
	d.messagesMu.Lock()
	msgs := d.messages[moduleID]
	d.messagesMu.Unlock()
	if len(msgs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
