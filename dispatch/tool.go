package dispatch

import (
	"context"

	"github.com/kadirpekel/conclave/tool"
)

// RegisterTool wires dispatch_submodules into reg, backed by d. ends_turn
// is true: dispatch always ends the Principal's turn so its flow decider
// reopens a fresh turn to review the aggregated outcomes.
func RegisterTool(reg *tool.Registry, d *Dispatcher) error {
	return tool.Register(reg, "dispatch_submodules",
		"Dispatch one or more pending work modules to Associate flows, running them in parallel and returning their outcomes once all have terminated.",
		"dispatch", true,
		func(ctx context.Context, params Params) tool.Result {
			outcomes, err := d.Dispatch(ctx, params)
			if err != nil {
				return tool.Err("dispatch_submodules: %v", err)
			}
			return tool.Ok(outcomes)
		})
}
