package main

import (
	"context"
	"fmt"
	"path/filepath"

	"clawflow/internal/agent"
	"clawflow/internal/cache"
	"clawflow/internal/config"
	"clawflow/internal/gateway"
	"clawflow/internal/logging"
	"clawflow/internal/orchestrator"
	"clawflow/internal/ratelimit"
	"clawflow/internal/runstore"
	"clawflow/internal/thinker"
)

// runtime bundles the wired collaborators behind both serve and run.
type runtime struct {
	cfg      *config.Config
	registry *agent.Registry
	gateways *gateway.Registry
	store    runstore.Store
	limiter  *ratelimit.Limiter
	results  *cache.Cache[string, agent.TaskResult]
}

// buildRuntime loads configuration and wires the agent pool, gateway pool,
// run store, and dispatch utilities.
func buildRuntime(cfgPath string) (*runtime, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	if cfg.Logging.ToFile {
		if err := logging.EnableFileLogging(config.ConfigDir(), logging.ParseLevel(cfg.Logging.Level)); err != nil {
			return nil, fmt.Errorf("failed to enable file logging: %w", err)
		}
	} else {
		logging.SetLevel(logging.ParseLevel(cfg.Logging.Level))
	}

	identity, err := gateway.LoadOrCreateIdentity(cfg.Identity.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load device identity: %w", err)
	}

	gateways := gateway.NewRegistry()
	for _, gwCfg := range cfg.Gateways {
		if err := gateways.Add(gateway.NewClient(gwCfg, identity)); err != nil {
			return nil, err
		}
	}

	registry := agent.NewRegistry()
	for _, ac := range cfg.Agents {
		adapter := agent.NewHTTPAdapter(ac.Name, ac.Endpoint,
			agent.WithHTTPDescription(ac.Description),
			agent.WithHTTPCapabilities(ac.Capabilities...))
		if err := registry.Add(adapter); err != nil {
			return nil, err
		}
	}

	storeDir := cfg.Store.Dir
	if storeDir == "" {
		storeDir = filepath.Join(config.ConfigDir(), "runs")
	}
	store, err := runstore.NewFileStore(storeDir)
	if err != nil {
		return nil, err
	}

	rt := &runtime{
		cfg:      cfg,
		registry: registry,
		gateways: gateways,
		store:    store,
	}
	if cfg.RateLimit.Enabled {
		rt.limiter = ratelimit.NewLimiter(ratelimit.Config{
			MaxRequests:  cfg.RateLimit.MaxRequests,
			Window:       cfg.RateLimit.Window(),
			QueueExcess:  cfg.RateLimit.QueueExcess,
			MaxQueueSize: cfg.RateLimit.MaxQueueSize,
		})
	}
	if cfg.Cache.Enabled {
		rt.results = cache.New[string, agent.TaskResult](cache.Config{
			MaxEntries:        cfg.Cache.MaxEntries,
			TTL:               cfg.Cache.TTL(),
			SlidingExpiration: true,
		})
	}
	return rt, nil
}

// discoverAgents registers every agent hosted on the first reachable gateway.
// A failed discovery is logged, not fatal: runs can still use static agents.
func (rt *runtime) discoverAgents(ctx context.Context) {
	if rt.gateways.Len() == 0 {
		return
	}

	client, err := rt.gateways.Pick(ctx, "")
	if err != nil {
		logging.Warn("agent discovery skipped", "error", err)
		return
	}

	infos, err := client.ListAgents(ctx)
	if err != nil {
		logging.Warn("agent discovery failed", "gateway", client.Name(), "error", err)
		return
	}

	for _, info := range infos {
		adapter := gateway.NewAdapter(client, info)
		if err := rt.registry.Add(adapter); err != nil {
			logging.Warn("agent skipped", "agent", info.Name, "error", err)
		}
	}
	logging.Info("agents discovered", "gateway", client.Name(), "count", len(infos))
}

// newThinker builds the configured directive backend for one run. Gateway
// selection errors surface through a failing thinker so the run records them
// the same way as any other think-time failure.
func (rt *runtime) newThinker(ctx context.Context) orchestrator.Thinker {
	switch rt.cfg.Thinker.Backend {
	case "gemini":
		t, err := thinker.NewGemini(ctx, thinker.GeminiConfig{
			APIKey: rt.cfg.Thinker.GeminiKey,
			Model:  rt.cfg.Thinker.Model,
		})
		if err != nil {
			return failingThinker(err)
		}
		return t
	case "ollama":
		t, err := thinker.NewOllama(thinker.OllamaConfig{
			BaseURL: rt.cfg.Thinker.OllamaBaseURL,
			Model:   rt.cfg.Thinker.Model,
		})
		if err != nil {
			return failingThinker(err)
		}
		return t
	default:
		client, err := rt.gateways.Pick(ctx, "")
		if err != nil {
			return failingThinker(err)
		}
		return thinker.NewGateway(client)
	}
}

func failingThinker(err error) orchestrator.Thinker {
	return thinker.Func(func(context.Context, string) (string, error) {
		return "", err
	})
}

// execute drives one run record to completion with a freshly built thinker.
func (rt *runtime) execute(ctx context.Context, run *orchestrator.Run, opts orchestrator.Options, cb orchestrator.Callbacks) *orchestrator.Run {
	if opts.MaxSteps == 0 {
		opts.MaxSteps = rt.cfg.Orchestrator.MaxSteps
	}
	if opts.MaxConcurrency == 0 {
		opts.MaxConcurrency = rt.cfg.Orchestrator.MaxConcurrency
	}
	if opts.OutputTruncation == 0 {
		opts.OutputTruncation = rt.cfg.Orchestrator.OutputTruncation
	}

	o := orchestrator.New(rt.newThinker(ctx), rt.registry, rt.limiter, rt.results)
	return o.Execute(ctx, run, opts, cb)
}
