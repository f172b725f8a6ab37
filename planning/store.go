package planning

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/conclave/eventbus"
	"github.com/kadirpekel/conclave/state"
)

// Store is the single source of truth for a run's work modules, guarded by
// one mutex held for the duration of one manage_work_modules call — the
// team-state mutual-exclusion lock described in the concurrency model,
// scoped here to the planning concern. Every mutation is projected into the
// shared state.Tree under team.work_modules so the expression evaluator and
// prompt ingestors see it through the typed state-path view; Store itself
// remains the strongly-typed source of truth for dispatch validation.
type Store struct {
	mu      sync.Mutex
	modules map[string]*Module
	order   []string
	tree    *state.Tree
	bus     *eventbus.Bus
}

// NewStore returns an empty Store projecting into tree and publishing
// WorkModulesUpdate on bus. bus may be nil in tests.
func NewStore(tree *state.Tree, bus *eventbus.Bus) *Store {
	return &Store{modules: map[string]*Module{}, tree: tree, bus: bus}
}

// AddAction creates a new module in status pending.
type AddAction struct {
	Name        string `json:"name" required:"true"`
	Description string `json:"description" required:"true"`
}

// UpdateAction patches an existing module's fields; nil fields are left
// unchanged.
type UpdateAction struct {
	ModuleID    string  `json:"module_id" required:"true"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *string `json:"status,omitempty"`
}

// DeleteAction soft-deletes a module by transitioning it to deprecated.
type DeleteAction struct {
	ModuleID string `json:"module_id" required:"true"`
}

// ModuleAction is a tagged union of the three action shapes, decoded from
// the same entry in the actions[] array.
type ModuleAction struct {
	Add    *AddAction    `json:"add,omitempty"`
	Update *UpdateAction `json:"update,omitempty"`
	Delete *DeleteAction `json:"delete,omitempty"`
}

// ActionResult is the per-action outcome reported back to the caller; a
// failing action never aborts the others in the same batch.
type ActionResult struct {
	ModuleID string `json:"module_id,omitempty"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// Manage applies actions in order, each independently. It is the only
// entry point for mutating modules and is what the manage_work_modules
// tool handler calls.
func (s *Store) Manage(actions []ModuleAction) []ActionResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]ActionResult, len(actions))
	var touched []string

	for i, a := range actions {
		switch {
		case a.Add != nil:
			id := newModuleID()
			now := time.Now()
			s.modules[id] = &Module{
				ModuleID:    id,
				Name:        a.Add.Name,
				Description: a.Add.Description,
				Status:      StatusPending,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			s.order = append(s.order, id)
			results[i] = ActionResult{ModuleID: id, OK: true}
			touched = append(touched, id)

		case a.Update != nil:
			m, ok := s.modules[a.Update.ModuleID]
			if !ok {
				results[i] = ActionResult{ModuleID: a.Update.ModuleID, OK: false, Error: "module not found"}
				continue
			}
			// completed modules are terminal: the only allowed transition is
			// to deprecated, via delete, not via an arbitrary update.
			if m.Status == StatusCompleted {
				results[i] = ActionResult{ModuleID: m.ModuleID, OK: false, Error: "completed module cannot be updated"}
				continue
			}
			if a.Update.Name != nil {
				m.Name = *a.Update.Name
			}
			if a.Update.Description != nil {
				m.Description = *a.Update.Description
			}
			if a.Update.Status != nil {
				m.Status = Status(*a.Update.Status)
			}
			m.UpdatedAt = time.Now()
			results[i] = ActionResult{ModuleID: m.ModuleID, OK: true}
			touched = append(touched, m.ModuleID)

		case a.Delete != nil:
			m, ok := s.modules[a.Delete.ModuleID]
			if !ok {
				results[i] = ActionResult{ModuleID: a.Delete.ModuleID, OK: false, Error: "module not found"}
				continue
			}
			m.Status = StatusDeprecated
			m.UpdatedAt = time.Now()
			results[i] = ActionResult{ModuleID: m.ModuleID, OK: true}
			touched = append(touched, m.ModuleID)

		default:
			results[i] = ActionResult{OK: false, Error: "action must set exactly one of add, update, delete"}
		}
	}

	s.projectLocked()
	if len(touched) > 0 && s.bus != nil {
		s.bus.Publish(eventbus.KindWorkModulesUpdate, "", eventbus.WorkModulesUpdatePayload{ModuleIDs: touched})
	}
	return results
}

// Get returns a copy of the module with id, if present.
func (s *Store) Get(id string) (Module, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[id]
	if !ok {
		return Module{}, false
	}
	return m.Clone(), true
}

// List returns a copy of every module in insertion order.
func (s *Store) List() []Module {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Module, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.modules[id].Clone())
	}
	return out
}

// TransitionToInProgress marks id in_progress with its dispatch
// assignment, recording the child flow's profile/role and returning false
// if the module was not dispatchable. Used by the dispatch subsystem
// immediately before starting a child flow, under the same lock used by
// Manage so a module can never be dispatched twice concurrently.
func (s *Store) TransitionToInProgress(id, profileName, roleName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[id]
	if !ok || !m.Dispatchable() {
		return false
	}
	m.Status = StatusInProgress
	m.AssignedProfileName = profileName
	m.AssignedRoleName = roleName
	m.UpdatedAt = time.Now()
	s.projectLocked()
	return true
}

// RecordDeliverable appends a deliverable and transitions id to
// pending_review. Used by the dispatch subsystem once a child flow has
// terminated. If the child never submitted findings, deliverable is empty
// and childErr carries its terminal error; that error is still recorded as
// a deliverable (prefixed "error: ") so pending_review always has at least
// one deliverable to review, in addition to being recorded in Errors.
func (s *Store) RecordDeliverable(id, messagesRef string, deliverable string, childErr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.modules[id]
	if !ok {
		return
	}
	if deliverable != "" {
		m.Deliverables = append(m.Deliverables, deliverable)
	}
	if childErr != "" {
		m.Errors = append(m.Errors, childErr)
		if deliverable == "" {
			m.Deliverables = append(m.Deliverables, "error: "+childErr)
		}
	}
	m.MessagesRef = messagesRef
	m.Status = StatusPendingReview
	m.UpdatedAt = time.Now()
	s.projectLocked()
	if s.bus != nil {
		s.bus.Publish(eventbus.KindWorkModulesUpdate, "", eventbus.WorkModulesUpdatePayload{ModuleIDs: []string{id}})
	}
}

// ValidateAssignments checks every assignment without mutating any module,
// so dispatch_submodules can reject the whole batch atomically before any
// state change. Returns a per-assignment error string, empty if valid.
func (s *Store) ValidateAssignments(moduleIDs []string) map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	errs := map[string]string{}
	for _, id := range moduleIDs {
		m, ok := s.modules[id]
		if !ok {
			errs[id] = "module not found"
			continue
		}
		if !m.Dispatchable() {
			errs[id] = fmt.Sprintf("module not dispatchable (status=%s)", m.Status)
		}
	}
	return errs
}

func (s *Store) projectLocked() {
	moduleValues := map[string]state.Value{}
	for id, m := range s.modules {
		deliverables := make([]state.Value, len(m.Deliverables))
		for i, d := range m.Deliverables {
			deliverables[i] = state.String(d)
		}
		moduleValues[id] = state.Map(map[string]state.Value{
			"module_id":             state.String(m.ModuleID),
			"name":                  state.String(m.Name),
			"description":           state.String(m.Description),
			"status":                state.String(string(m.Status)),
			"assigned_profile_name": state.String(m.AssignedProfileName),
			"assigned_role_name":    state.String(m.AssignedRoleName),
			"deliverables":          {Kind: state.KindList, List: deliverables},
			"messages_ref":          state.String(m.MessagesRef),
		})
	}
	_ = s.tree.Update([]state.Op{{Kind: state.OpSet, Path: "team.work_modules", Value: state.Map(moduleValues)}})
}

func newModuleID() string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "wm_" + raw[:10]
}

// SortedIDs returns module ids in lexicographic order, for stable
// test/report output.
func (s *Store) SortedIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.order...)
	sort.Strings(out)
	return out
}
