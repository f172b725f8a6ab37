package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kadirpekel/conclave/config"
	"github.com/kadirpekel/conclave/eventbus"
	"github.com/kadirpekel/conclave/llm"
	"github.com/kadirpekel/conclave/profile"
	"github.com/kadirpekel/conclave/run"
)

// environment bundles everything loaded once at process startup and
// reused across runs: the engine config, the resolved profile table, a
// shared LLM client, and a shared Prometheus registry for the metrics
// server.
type environment struct {
	cfg             *config.Config
	resolver        *profile.Resolver
	llm             llm.Client
	registry        *prometheus.Registry
	metrics         *eventbus.Metrics
	shutdownTracing func(context.Context) error
}

func loadEnvironment(configPath, profilesDir string) (*environment, error) {
	if err := config.LoadEnvFiles(); err != nil {
		return nil, err
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if profilesDir != "" {
		cfg.ProfilesDir = profilesDir
	}

	profiles, err := profile.LoadAll(cfg.ProfilesDir)
	if err != nil {
		return nil, fmt.Errorf("loading profiles: %w", err)
	}
	resolver := profile.NewResolver(profiles)

	reg := prometheus.NewRegistry()
	metrics, err := eventbus.NewMetrics(reg)
	if err != nil {
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	shutdownTracing, err := initTracing(context.Background(), cfg.Global.Tracing)
	if err != nil {
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}

	httpClient := &http.Client{Timeout: 0}
	client := llm.NewOpenAIClient(httpClient)

	return &environment{
		cfg:             cfg,
		resolver:        resolver,
		llm:             client,
		registry:        reg,
		metrics:         metrics,
		shutdownTracing: shutdownTracing,
	}, nil
}

// watchProfiles starts hot-reloading the environment's profile table from
// dir, logging reload failures until ctx is cancelled. The resolver already
// backing any in-flight run keeps serving its memoized Effective profiles;
// only runs started after a successful reload see the new definitions.
func (e *environment) watchProfiles(ctx context.Context, dir string) error {
	errs, err := e.resolver.Watch(ctx, dir)
	if err != nil {
		return fmt.Errorf("watching profiles: %w", err)
	}
	go func() {
		for err := range errs {
			slog.Error("profile reload failed", "dir", dir, "error", err)
		}
	}()
	return nil
}

// llmConfigFor resolves the named LLM config entry into a llm.CallConfig,
// layering the engine's call-policy defaults (timeout, retries) on top of
// the transport settings (endpoint, model, key) from config.yaml's llms
// map.
func (e *environment) llmConfigFor(name string) (llm.CallConfig, error) {
	entry, ok := e.cfg.LLMs[name]
	if !ok {
		return llm.CallConfig{}, fmt.Errorf("no llm config named %q", name)
	}
	timeout := e.cfg.Engine.LLMCallTimeout
	if entry.Timeout > 0 {
		timeout = entry.Timeout
	}
	maxRetries := e.cfg.Engine.LLMMaxRetries
	if entry.MaxRetries > 0 {
		maxRetries = entry.MaxRetries
	}
	return llm.CallConfig{
		EndpointURL: entry.EndpointURL,
		APIKey:      entry.APIKey,
		Model:       entry.Model,
		Timeout:     timeout,
		MaxRetries:  maxRetries,
	}, nil
}

func (e *environment) engineConfig() run.EngineConfig {
	return run.EngineConfig{
		MaxTurnsPerFlow:         e.cfg.Engine.MaxTurnsPerFlow,
		MaxConcurrentChildFlows: e.cfg.Engine.MaxConcurrentChildFlows,
		RunWallClockTimeout:     e.cfg.Engine.RunWallClockTimeout,
		StateDumpEnabled:        e.cfg.Engine.StateDumpEnabled,
	}
}

func newRunID() string {
	return uuid.NewString()
}
