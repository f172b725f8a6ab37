package planning

import (
	"context"

	"github.com/kadirpekel/conclave/tool"
)

// ManageWorkModulesParams is the manage_work_modules tool's parameter
// shape: a batch of independently-applied actions.
type ManageWorkModulesParams struct {
	Actions []ModuleAction `json:"actions" required:"true"`
}

// RegisterTool wires manage_work_modules into reg, backed by store.
// ends_turn is false per the built-in tool surface table: the Principal
// is not forced to end its turn after planning, so the flow decider can
// keep the flow going and the Principal can call dispatch_submodules on a
// following turn (the engine executes one tool call per turn).
func RegisterTool(reg *tool.Registry, store *Store) error {
	return tool.Register(reg, "manage_work_modules",
		"Add, update, or soft-delete work modules tracked for this run.",
		"planning", false,
		func(ctx context.Context, params ManageWorkModulesParams) tool.Result {
			results := store.Manage(params.Actions)
			return tool.Ok(results)
		})
}
