package run

import (
	"encoding/json"
	"os"

	"github.com/kadirpekel/conclave/flow"
	"github.com/kadirpekel/conclave/llm"
)

// Snapshot is the serialized form a state-dump sink receives at run
// termination: the final team state plus every flow's message history
// (the Principal's and every dispatched child's), keyed by flow id.
type Snapshot struct {
	RunID     string                   `json:"run_id"`
	Outcome   string                   `json:"outcome"`
	Cancelled bool                     `json:"cancelled"`
	TeamState any                      `json:"team_state"`
	Flows     map[string][]llm.Message `json:"flows"`
}

// Sink persists a run's terminal Snapshot. FileSink is the built-in
// implementation backing config.EngineConfig.StateDumpPath; callers may
// supply any Sink (e.g. one writing to object storage) via Config.
type Sink interface {
	Write(Snapshot) error
}

// FileSink writes the snapshot as indented JSON to a single file, created
// or truncated on each Write.
type FileSink struct {
	Path string
}

// Write implements Sink.
func (f FileSink) Write(snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, data, 0o644)
}

func (r *Run) snapshot(principalResult flow.Result) Snapshot {
	flows := r.Dispatcher.Histories()
	flows[r.ID] = principalResult.Messages

	return Snapshot{
		RunID:     r.ID,
		Outcome:   r.Result().Outcome,
		Cancelled: principalResult.Cancelled,
		TeamState: r.TeamTree.View().Native(),
		Flows:     flows,
	}
}
