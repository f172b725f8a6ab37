package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kadirpekel/conclave/run"
)

// RunCmd runs a single goal to completion, streaming its events to stdout
// as newline-delimited JSON and printing the final report once the run
// terminates.
type RunCmd struct {
	Goal      string        `arg:"" help:"The goal to give the Principal agent."`
	Principal string        `help:"Name of the Principal's agent profile." default:"Principal"`
	StateDump string        `help:"If set, write the run's terminal state+transcripts snapshot to this path."`
	WallClock time.Duration `help:"Wall-clock cap for the whole run (0 = use the config's run_wall_clock_timeout_ms)."`
	Quiet     bool          `help:"Suppress the per-event NDJSON stream; print only the final report."`
}

func (c *RunCmd) Run(cli *CLI) error {
	env, err := loadEnvironment(cli.Config, cli.Profiles)
	if err != nil {
		return err
	}
	defer env.shutdownTracing(context.Background())

	principalProfile, err := env.resolver.Resolve(c.Principal)
	if err != nil {
		return fmt.Errorf("resolving principal profile %q: %w", c.Principal, err)
	}
	callCfg, err := env.llmConfigFor(principalProfile.LLMConfigRef)
	if err != nil {
		return err
	}

	engineCfg := env.engineConfig()
	if c.WallClock > 0 {
		engineCfg.RunWallClockTimeout = c.WallClock
	}

	var sink run.Sink
	if c.StateDump != "" {
		sink = run.FileSink{Path: c.StateDump}
		engineCfg.StateDumpEnabled = true
	} else if engineCfg.StateDumpEnabled {
		sink = run.FileSink{Path: env.cfg.Engine.StateDumpPath}
	}

	runCfg := run.Config{
		RunID:                newRunID(),
		EngineConfig:         engineCfg,
		CallConfig:           callCfg,
		Profiles:             env.resolver.Table(),
		PrincipalProfileName: c.Principal,
		LLMClient:            env.llm,
		Metrics:              env.metrics,
		StateDumpSink:        sink,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := run.Start(ctx, runCfg, c.Goal)
	if err != nil {
		return fmt.Errorf("starting run: %w", err)
	}

	sub := r.Bus.Subscribe()
	defer sub.Unsubscribe()

	enc := json.NewEncoder(os.Stdout)
	for evt := range sub.C {
		if !c.Quiet {
			if err := enc.Encode(evt); err != nil {
				slog.Warn("encoding event", "error", err)
			}
		}
	}

	<-r.Done()
	result := r.Result()

	slog.Info("run finished", "run_id", runCfg.RunID, "outcome", result.Outcome, "cancelled", result.Cancelled)
	if result.ReportSubmitted {
		fmt.Println(result.Report)
	} else {
		fmt.Fprintln(os.Stderr, "run ended without a submitted report")
	}
	if result.Outcome != "success" {
		return fmt.Errorf("run ended with outcome %q", result.Outcome)
	}
	return nil
}
