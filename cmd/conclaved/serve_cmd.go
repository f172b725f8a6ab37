package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/conclave/run"
)

// ServeCmd starts an HTTP server exposing one endpoint to launch a run and
// one to stream its events back over SSE, plus a Prometheus scrape
// endpoint for the event bus's publish/drop counters.
type ServeCmd struct {
	Addr          string `help:"Listen address." default:":8080"`
	MetricsAddr   string `help:"Prometheus metrics listen address (empty disables it)." default:":9090"`
	WatchProfiles bool   `help:"Hot-reload the profile directory on change." default:"false"`
}

// server holds the shared environment and the set of runs launched over
// the lifetime of the process, keyed by run id, so GET /runs/{id}/events
// can find the run a later request started.
type server struct {
	env *environment

	mu   sync.Mutex
	runs map[string]*run.Run
}

type startRunRequest struct {
	Goal      string `json:"goal"`
	Principal string `json:"principal_profile"`
}

type startRunResponse struct {
	RunID string `json:"run_id"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	env, err := loadEnvironment(cli.Config, cli.Profiles)
	if err != nil {
		return err
	}
	defer env.shutdownTracing(context.Background())
	srv := &server{env: env, runs: map[string]*run.Run{}}

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Post("/runs", srv.handleStartRun)
	r.Get("/runs/{runID}/events", srv.handleStreamEvents)
	r.Get("/runs/{runID}", srv.handleRunResult)

	httpServer := &http.Server{Addr: c.Addr, Handler: r}

	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if c.WatchProfiles {
		if err := env.watchProfiles(watchCtx, env.cfg.ProfilesDir); err != nil {
			return err
		}
	}

	if c.MetricsAddr != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.HandlerFor(env.registry, promhttp.HandlerOpts{}))
		metricsServer := &http.Server{Addr: c.MetricsAddr, Handler: metricsMux}
		go func() {
			slog.Info("metrics listening", "addr", c.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		defer metricsServer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("conclaved listening", "addr", c.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func (s *server) handleStartRun(w http.ResponseWriter, req *http.Request) {
	var body startRunRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, fmt.Sprintf("decoding request: %v", err), http.StatusBadRequest)
		return
	}
	if body.Goal == "" {
		http.Error(w, "goal is required", http.StatusBadRequest)
		return
	}
	principalName := body.Principal
	if principalName == "" {
		principalName = "Principal"
	}

	principalProfile, err := s.env.resolver.Resolve(principalName)
	if err != nil {
		http.Error(w, fmt.Sprintf("resolving principal profile %q: %v", principalName, err), http.StatusBadRequest)
		return
	}
	callCfg, err := s.env.llmConfigFor(principalProfile.LLMConfigRef)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	runCfg := run.Config{
		RunID:                newRunID(),
		EngineConfig:         s.env.engineConfig(),
		CallConfig:           callCfg,
		Profiles:             s.env.resolver.Table(),
		PrincipalProfileName: principalName,
		LLMClient:            s.env.llm,
		Metrics:              s.env.metrics,
	}

	r, err := run.Start(context.WithoutCancel(req.Context()), runCfg, body.Goal)
	if err != nil {
		http.Error(w, fmt.Sprintf("starting run: %v", err), http.StatusInternalServerError)
		return
	}

	s.mu.Lock()
	s.runs[runCfg.RunID] = r
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(startRunResponse{RunID: runCfg.RunID})
}

func (s *server) lookupRun(w http.ResponseWriter, req *http.Request) (*run.Run, bool) {
	id := chi.URLParam(req, "runID")
	s.mu.Lock()
	r, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		http.Error(w, fmt.Sprintf("run %q not found", id), http.StatusNotFound)
		return nil, false
	}
	return r, true
}

// handleStreamEvents streams a run's event bus over SSE until the run ends
// or the client disconnects, whichever comes first.
func (s *server) handleStreamEvents(w http.ResponseWriter, req *http.Request) {
	r, ok := s.lookupRun(w, req)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := r.Bus.Subscribe()
	defer sub.Unsubscribe()

	for {
		select {
		case evt, open := <-sub.C:
			if !open {
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				slog.Warn("marshalling event", "error", err)
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, data)
			flusher.Flush()
		case <-req.Context().Done():
			return
		}
	}
}

func (s *server) handleRunResult(w http.ResponseWriter, req *http.Request) {
	r, ok := s.lookupRun(w, req)
	if !ok {
		return
	}
	select {
	case <-r.Done():
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.Result())
	default:
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "running"})
	}
}
