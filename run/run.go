// Package run implements the run supervisor: it owns one run's team state,
// event bus, cancellation token, and Principal flow, and wires the shared
// tool registry (planning, dispatch, and submission tools) used by every
// flow in the run.
package run

import (
	"context"
	"sync"
	"time"

	"github.com/kadirpekel/conclave/dispatch"
	"github.com/kadirpekel/conclave/eventbus"
	"github.com/kadirpekel/conclave/expr"
	"github.com/kadirpekel/conclave/flow"
	"github.com/kadirpekel/conclave/flowtools"
	"github.com/kadirpekel/conclave/llm"
	"github.com/kadirpekel/conclave/planning"
	"github.com/kadirpekel/conclave/profile"
	"github.com/kadirpekel/conclave/prompt"
	"github.com/kadirpekel/conclave/state"
	"github.com/kadirpekel/conclave/tool"
	"github.com/kadirpekel/conclave/turn"
)

// Config bundles everything Start needs to construct one run: resolved
// engine settings, the profile table, the Principal's profile name, and
// the LLM client to use for every flow.
type Config struct {
	RunID                string
	EngineConfig         EngineConfig
	CallConfig           llm.CallConfig
	Profiles             map[string]profile.Raw
	PrincipalProfileName string
	LLMClient            llm.Client
	Metrics              *eventbus.Metrics
	StateDumpSink        Sink
}

// EngineConfig is the subset of config.EngineConfig a run consults
// directly; kept as its own type so run does not require a hard
// dependency on the config package's YAML tags.
type EngineConfig struct {
	MaxTurnsPerFlow         int
	MaxConcurrentChildFlows int
	RunWallClockTimeout     time.Duration
	StateDumpEnabled        bool
}

// Result is a run's terminal outcome, available once Done() is closed.
type Result struct {
	Outcome         string
	Cancelled       bool
	Report          string
	ReportSubmitted bool
}

// Run supervises one Principal flow plus every child flow dispatch spawns
// for it, sharing one team state tree, event bus, and tool registry.
type Run struct {
	ID         string
	Bus        *eventbus.Bus
	TeamTree   *state.Tree
	Store      *planning.Store
	Registry   *tool.Registry
	Resolver   *profile.Resolver
	Dispatcher *dispatch.Dispatcher
	Engine     *turn.Engine
	Principal  *flow.Runner

	cancel context.CancelFunc
	sink   Sink
	dump   bool

	mu     sync.Mutex
	result Result
	done   chan struct{}
}

// Start builds a run's collaborators, seeds the Principal flow with
// userPrompt as its first user message, and runs it on a background
// goroutine. The returned Run is live immediately; callers observe
// progress via Bus.Subscribe and completion via Done/Result.
func Start(ctx context.Context, cfg Config, userPrompt string) (*Run, error) {
	resolver := profile.NewResolver(cfg.Profiles)
	principalProf, err := resolver.Resolve(cfg.PrincipalProfileName)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New(cfg.RunID, cfg.Metrics)
	tree := state.New()
	store := planning.NewStore(tree, bus)

	reg := tool.NewRegistry()
	if err := planning.RegisterTool(reg, store); err != nil {
		return nil, err
	}
	if err := flowtools.RegisterAll(reg); err != nil {
		return nil, err
	}

	eval := expr.New()
	assembler := prompt.NewAssembler(eval, reg, prompt.NewIngestorRegistry())
	engine := turn.NewEngine(assembler, reg, cfg.LLMClient, eval, bus)

	maxConcurrent := int64(cfg.EngineConfig.MaxConcurrentChildFlows)
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	dispatcher := dispatch.New(cfg.RunID, store, resolver, engine, tree, bus, cfg.CallConfig, cfg.EngineConfig.MaxTurnsPerFlow, maxConcurrent)
	if err := dispatch.RegisterTool(reg, dispatcher); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	if cfg.EngineConfig.RunWallClockTimeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, cfg.EngineConfig.RunWallClockTimeout)
	}

	principal := flow.New(cfg.RunID, cfg.RunID, principalProf, engine, tree, bus, cfg.CallConfig, cfg.EngineConfig.MaxTurnsPerFlow)
	principal.Seed(llm.Message{Role: "user", Content: userPrompt})

	r := &Run{
		ID:         cfg.RunID,
		Bus:        bus,
		TeamTree:   tree,
		Store:      store,
		Registry:   reg,
		Resolver:   resolver,
		Dispatcher: dispatcher,
		Engine:     engine,
		Principal:  principal,
		cancel:     cancel,
		sink:       cfg.StateDumpSink,
		dump:       cfg.EngineConfig.StateDumpEnabled,
		done:       make(chan struct{}),
	}

	go r.runPrincipal(runCtx)
	return r, nil
}

func (r *Run) runPrincipal(ctx context.Context) {
	flowResult := r.Principal.Run(ctx)
	report, reportSubmitted := r.Principal.Submission.Report()

	outcome := "error"
	if flowResult.Outcome.Success {
		outcome = "success"
	}
	if flowResult.Cancelled {
		outcome = "cancelled"
	}

	r.mu.Lock()
	r.result = Result{
		Outcome:         outcome,
		Cancelled:       flowResult.Cancelled,
		Report:          report,
		ReportSubmitted: reportSubmitted,
	}
	r.mu.Unlock()

	r.Bus.Publish(eventbus.KindRunEnd, "", eventbus.RunEndPayload{Outcome: outcome, Cancelled: flowResult.Cancelled})

	if r.dump && r.sink != nil {
		_ = r.sink.Write(r.snapshot(flowResult))
	}

	r.Bus.Close()
	close(r.done)
}

// Cancel fires the run's cancellation token. Every flow and in-flight LLM
// call observes it at its next suspension point, per the bounded-grace
// cancellation contract.
func (r *Run) Cancel() {
	r.cancel()
}

// Done returns a channel closed once the Principal flow (and therefore the
// whole run) has terminated.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Result returns the run's terminal outcome. Only meaningful after Done()
// has closed.
func (r *Run) Result() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result
}
