// Package planning implements the data model and operations for work
// modules: the unit of work assigned to one Associate agent, and the
// manage_work_modules tool that mutates it.
package planning

import "time"

// Status is the closed set of a work module's lifecycle states.
type Status string

const (
	StatusPending       Status = "pending"
	StatusInProgress    Status = "in_progress"
	StatusPendingReview Status = "pending_review"
	StatusCompleted     Status = "completed"
	StatusDeprecated    Status = "deprecated"
)

// Module is one unit of delegated work tracked in team state.
type Module struct {
	ModuleID            string    `json:"module_id"`
	Name                string    `json:"name"`
	Description         string    `json:"description"`
	Status              Status    `json:"status"`
	AssignedProfileName string    `json:"assigned_profile_name,omitempty"`
	AssignedRoleName    string    `json:"assigned_role_name,omitempty"`
	Deliverables        []string  `json:"deliverables,omitempty"`
	MessagesRef         string    `json:"messages_ref,omitempty"`
	Errors              []string  `json:"errors,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Clone returns a deep-enough copy safe to hand out of the Store's lock.
func (m Module) Clone() Module {
	clone := m
	clone.Deliverables = append([]string(nil), m.Deliverables...)
	clone.Errors = append([]string(nil), m.Errors...)
	return clone
}

// Dispatchable reports whether a module may be targeted by
// dispatch_submodules: only pending or pending_review modules are eligible.
func (m Module) Dispatchable() bool {
	return m.Status == StatusPending || m.Status == StatusPendingReview
}
