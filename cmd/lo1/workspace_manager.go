// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
WorkspaceManager is the orchestration engine behind `lo1 up` and
`lo1 down`.

Up drives the phase sequence: stale cleanup, manifest load, dependency
graph, plugins, compose generation, infrastructure and application
compose phases (gated on readiness with init-task semantics), TLS
trust, provisioning hooks, and finally the DAG's service layers. Every
side-effecting phase registers a compensation on a saga, so a failure
or cancellation anywhere unwinds what was already started.

Down is the reverse path, able to run from a different CLI invocation
than the one that started the workspace by hydrating stop handles from
the persisted state file.
*/
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/newstack-cloud/lo1/cmd/lo1/config"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/compose"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/dag"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/endpoint"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/event"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/hook"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/plugin"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/proc"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/proxy"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/resilience"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/state"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/util"
	"github.com/newstack-cloud/lo1/pkg/logging"
)

// =============================================================================
// Error Definition
// =============================================================================

// OrchestratorError wraps a failure in one of the orchestrator's own
// phases. Collaborator errors bubble up unchanged.
type OrchestratorError struct {
	// Phase names the failing phase.
	Phase string

	// Wrapped is the underlying error.
	Wrapped error
}

func (e *OrchestratorError) Error() string {
	return fmt.Sprintf("orchestrator: %s: %v", e.Phase, e.Wrapped)
}

func (e *OrchestratorError) Unwrap() error { return e.Wrapped }

var _ error = (*OrchestratorError)(nil)

// =============================================================================
// Options and Results
// =============================================================================

// UpOptions configure one workspace start.
type UpOptions struct {
	// Services restricts the run to these services plus their
	// transitive dependencies. Empty means all.
	Services []string

	// ModeOverride forces every non-skip service into the given mode
	// ("dev" or "container"). Empty means manifest modes.
	ModeOverride string
}

// UpResult is handed back to the CLI after a successful start.
type UpResult struct {
	// Config is the effective (filtered, mode-overridden) manifest.
	Config *config.WorkspaceConfig

	// Handles are the started services, in start order.
	Handles []*ServiceHandle

	// Project identifies the compose project for later operations.
	Project compose.ProjectOptions

	// Logs is the running compose log follower (may be nil when no
	// compose services exist).
	Logs *compose.LogsHandle
}

// DownOptions configure one workspace stop.
type DownOptions struct {
	// Clean also removes volumes and orphans.
	Clean bool

	// Handles are in-memory handles from a foreground up. When empty,
	// handles are hydrated from the state file.
	Handles []*ServiceHandle
}

// WorkspaceStatus is the status command's view of a run.
type WorkspaceStatus struct {
	// Running reports whether a state file exists.
	Running bool

	// State is the persisted run record (nil when not running).
	State *state.WorkspaceState

	// Containers is the compose project's container state.
	Containers []compose.PsEntry
}

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// hostsApplier is the hosts-file writer surface the orchestrator uses.
type hostsApplier interface {
	Apply(domains []string) error
	Remove() error
}

// caTruster is the TLS trust helper surface the orchestrator uses.
type caTruster interface {
	TrustCaddyCA(ctx context.Context, containerName string) error
}

// managerDeps bundles every external effect behind an injection point.
// Production wiring lives in workspace_factory.go; tests override
// individual fields.
type managerDeps struct {
	proc          proc.Manager
	loadConfig    func(path string) (*config.WorkspaceConfig, error)
	loadPlugins   func(cfg *config.WorkspaceConfig) (map[string]plugin.Plugin, error)
	newExecutor   func(project compose.ProjectOptions) compose.Executor
	generate      func(input compose.GenerateInput) (*compose.GenerateResult, error)
	generateCaddy func(cfg *config.WorkspaceConfig) proxy.CaddyConfig
	hosts         hostsApplier
	trust         caTruster
	startService  func(ctx context.Context, in StartServiceInput) (*ServiceHandle, error)
}

// =============================================================================
// Workspace Manager
// =============================================================================

// WorkspaceManager orchestrates workspace lifecycle operations.
type WorkspaceManager interface {
	// Up brings the workspace up and returns run handles.
	Up(ctx context.Context, opts UpOptions) (*UpResult, error)

	// Down stops the workspace. Idempotent when nothing runs.
	Down(ctx context.Context, opts DownOptions) error

	// Status reports the persisted run and container states.
	Status(ctx context.Context) (*WorkspaceStatus, error)
}

// DefaultWorkspaceManager is the production WorkspaceManager.
//
// # Thread Safety
//
// Only one Up/Down operation should be in progress at a time;
// concurrent operations are serialized via mutex.
type DefaultWorkspaceManager struct {
	workspaceDir string
	manifestPath string
	logger       *logging.Logger
	bus          *event.Bus
	timeouts     util.TimeoutConfig
	store        *state.Store
	deps         managerDeps
	mu           sync.Mutex
}

// NewWorkspaceManager assembles a manager over the given dependency
// bundle. Use the factory for production wiring.
func NewWorkspaceManager(workspaceDir, manifestPath string, logger *logging.Logger, bus *event.Bus, timeouts util.TimeoutConfig, deps managerDeps) *DefaultWorkspaceManager {
	return &DefaultWorkspaceManager{
		workspaceDir: workspaceDir,
		manifestPath: manifestPath,
		logger:       logger,
		bus:          bus,
		timeouts:     timeouts.Validated(),
		store:        state.NewStore(workspaceDir),
		deps:         deps,
	}
}

var _ WorkspaceManager = (*DefaultWorkspaceManager)(nil)

// phase emits a phase event and logs it.
func (m *DefaultWorkspaceManager) phase(name string) {
	m.logger.Info("phase", "phase", name)
	m.bus.Publish(event.PhaseEvent{Phase: name})
}

// publishError reports a non-fatal problem.
func (m *DefaultWorkspaceManager) publishError(err error) {
	m.logger.Warn("non-fatal orchestration error", "error", err)
	m.bus.Publish(event.ErrorEvent{Message: err.Error()})
}

// runState accumulates the side effects of one Up for compensation.
type runState struct {
	mu       sync.Mutex
	handles  []*ServiceHandle
	logs     *compose.LogsHandle
	executor compose.Executor
}

func (r *runState) addHandle(h *ServiceHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = append(r.handles, h)
}

func (r *runState) snapshotHandles() []*ServiceHandle {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*ServiceHandle, len(r.handles))
	copy(out, r.handles)
	return out
}

// =============================================================================
// Up
// =============================================================================

// Up brings the whole workspace up. See the package comment for the
// phase sequence.
func (m *DefaultWorkspaceManager) Up(ctx context.Context, opts UpOptions) (*UpResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ctx.Err() != nil {
		return nil, &OrchestratorError{Phase: "start", Wrapped: ctx.Err()}
	}

	m.cleanupStale(ctx)

	m.phase("Loading configuration")
	cfg, err := m.deps.loadConfig(m.manifestPath)
	if err != nil {
		return nil, err
	}
	if opts.ModeOverride != "" {
		cfg = applyModeOverride(cfg, config.Mode(opts.ModeOverride))
	}
	if len(opts.Services) > 0 {
		closure, err := dag.ResolveServiceFilter(opts.Services, cfg)
		if err != nil {
			return nil, err
		}
		cfg = applyServiceFilter(cfg, closure)
	}

	m.phase("Building dependency graph")
	graph, err := dag.Build(cfg)
	if err != nil {
		return nil, err
	}
	registry := endpoint.BuildRegistry(cfg)

	m.phase("Loading plugins")
	plugins, err := m.deps.loadPlugins(cfg)
	if err != nil {
		return nil, err
	}
	if err := plugin.ValidateServiceTypes(cfg, plugins); err != nil {
		return nil, err
	}

	m.phase("Generating compose project")
	contributions, pluginEnvByType, err := collectContributions(cfg, plugins)
	if err != nil {
		return nil, err
	}

	caddy := m.deps.generateCaddy(cfg)
	caddyfilePath := ""
	if caddy.Content != "" {
		caddyfilePath = filepath.Join(m.workspaceDir, state.WorkDirName, proxy.CaddyfileName)
		if err := os.MkdirAll(filepath.Dir(caddyfilePath), 0750); err != nil {
			return nil, &OrchestratorError{Phase: "generate proxy config", Wrapped: err}
		}
		if err := os.WriteFile(caddyfilePath, []byte(caddy.Content), 0640); err != nil {
			return nil, &OrchestratorError{Phase: "generate proxy config", Wrapped: err}
		}
	}

	genResult, err := m.deps.generate(compose.GenerateInput{
		Config:        cfg,
		WorkspaceDir:  m.workspaceDir,
		Contributions: contributions,
		CaddyfilePath: caddyfilePath,
	})
	if err != nil {
		return nil, err
	}

	if len(caddy.Domains) > 0 {
		m.phase("Updating hosts file")
		if err := m.deps.hosts.Apply(caddy.Domains); err != nil {
			return nil, err
		}
	}

	project := compose.ProjectOptions{
		ProjectName: config.ProjectName(cfg.Name),
		FileArgs:    genResult.FileArgs,
		Dir:         m.workspaceDir,
	}

	// Baseline state so any later failure is recoverable from another
	// invocation.
	if err := m.store.Save(&state.WorkspaceState{
		WorkspaceName: cfg.Name,
		ProjectName:   project.ProjectName,
		FileArgs:      project.FileArgs,
		WorkspaceDir:  m.workspaceDir,
		Services:      map[string]state.ServiceState{},
	}); err != nil {
		return nil, err
	}

	run := &runState{executor: m.deps.newExecutor(project)}
	saga := resilience.New(resilience.Config{
		StepTimeout: 30 * time.Minute,
		Logger:      m.logger.Slog(),
	})

	m.addComposeSteps(ctx, saga, cfg, genResult, run)
	m.addProvisioningSteps(ctx, saga, cfg, plugins)
	m.addServiceLayerSteps(ctx, saga, cfg, graph, registry, plugins, pluginEnvByType, run)

	saga.AddStep(resilience.Step{
		Name: "finalize workspace state",
		Execute: func(context.Context) error {
			return m.finalizeUp(ctx, cfg, run, project)
		},
	})

	if err := saga.Execute(ctx); err != nil {
		return nil, err
	}

	m.phase("Ready")
	return &UpResult{
		Config:  cfg,
		Handles: run.snapshotHandles(),
		Project: project,
		Logs:    run.logs,
	}, nil
}

// addComposeSteps registers the infrastructure and application compose
// phases. The infrastructure step owns the whole compose project's
// compensation: log follower teardown, compose down, state removal.
func (m *DefaultWorkspaceManager) addComposeSteps(ctx context.Context, saga *resilience.Saga, cfg *config.WorkspaceConfig, gen *compose.GenerateResult, run *runState) {
	initTasks := map[string]bool{}
	for _, name := range gen.InitTaskServices {
		initTasks[name] = true
	}

	saga.AddStep(resilience.Step{
		Name: "start infrastructure",
		Execute: func(context.Context) error {
			if len(gen.InfraServices) == 0 {
				return nil
			}
			m.phase("Starting infrastructure")
			if err := run.executor.Up(ctx, compose.UpOptions{
				Services: gen.InfraServices,
				OnOutput: m.composeProgressSink(),
			}); err != nil {
				return err
			}
			m.ensureLogFollower(ctx, run)
			return run.executor.Wait(ctx, compose.WaitOptions{
				Services:    gen.InfraServices,
				WaitForExit: intersect(gen.InfraServices, initTasks),
				Timeout:     m.timeouts.ComposeWait,
			})
		},
		Compensate: func(compCtx context.Context) error {
			if run.logs != nil {
				run.logs.Kill()
				run.logs = nil
			}
			if err := run.executor.Down(compCtx, compose.DownOptions{}); err != nil {
				m.publishError(err)
			}
			return m.store.Remove()
		},
	})

	saga.AddStep(resilience.Step{
		Name: "start application containers",
		Execute: func(context.Context) error {
			if len(gen.AppServices) == 0 {
				return nil
			}
			m.phase("Starting application containers")
			if err := run.executor.Up(ctx, compose.UpOptions{
				Services: gen.AppServices,
				OnOutput: m.composeProgressSink(),
			}); err != nil {
				return err
			}
			m.ensureLogFollower(ctx, run)
			return run.executor.Wait(ctx, compose.WaitOptions{
				Services:    gen.AppServices,
				WaitForExit: intersect(gen.AppServices, initTasks),
				Timeout:     m.timeouts.ComposeWait,
			})
		},
	})

	saga.AddStep(resilience.Step{
		Name: "trust proxy certificate",
		Execute: func(context.Context) error {
			if cfg.Proxy == nil || !cfg.Proxy.Enabled || cfg.Proxy.TLS == nil || !cfg.Proxy.TLS.Enabled {
				return nil
			}
			m.phase("Installing TLS trust")
			return m.deps.trust.TrustCaddyCA(ctx, config.ProxyServiceName(cfg.Name))
		},
	})
}

// addProvisioningSteps registers the post-infrastructure hook and the
// parallel plugin provision/seed joins.
func (m *DefaultWorkspaceManager) addProvisioningSteps(ctx context.Context, saga *resilience.Saga, cfg *config.WorkspaceConfig, plugins map[string]plugin.Plugin) {
	saga.AddStep(resilience.Step{
		Name: "provision infrastructure",
		Execute: func(context.Context) error {
			if cfg.Hooks != nil && cfg.Hooks.PostInfrastructure != "" {
				m.phase("Running postInfrastructure hook")
				if err := m.runWorkspaceHook(ctx, cfg, "postInfrastructure", cfg.Hooks.PostInfrastructure); err != nil {
					return err
				}
			}

			provisioners := pluginsByCapability(plugins, func(p plugin.Plugin) bool {
				_, ok := p.(plugin.InfraProvisioner)
				return ok
			})
			if len(provisioners) > 0 {
				m.phase("Provisioning plugin infrastructure")
				var g errgroup.Group
				for _, p := range provisioners {
					prov := p.(plugin.InfraProvisioner)
					g.Go(func() error { return prov.ProvisionInfra(ctx, cfg) })
				}
				if err := g.Wait(); err != nil {
					return err
				}
			}

			seeders := pluginsByCapability(plugins, func(p plugin.Plugin) bool {
				_, ok := p.(plugin.DataSeeder)
				return ok
			})
			if len(seeders) > 0 {
				m.phase("Seeding data")
				var g errgroup.Group
				for _, p := range seeders {
					seeder := p.(plugin.DataSeeder)
					g.Go(func() error { return seeder.SeedData(ctx, cfg) })
				}
				if err := g.Wait(); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

// addServiceLayerSteps registers the DAG-ordered service start step.
func (m *DefaultWorkspaceManager) addServiceLayerSteps(ctx context.Context, saga *resilience.Saga, cfg *config.WorkspaceConfig, graph *dag.Graph, registry *endpoint.Registry, plugins map[string]plugin.Plugin, pluginEnvByType map[string]map[string]string, run *runState) {
	saga.AddStep(resilience.Step{
		Name: "start service layers",
		Execute: func(context.Context) error {
			m.phase("Starting services")
			for _, layer := range graph.Layers {
				if ctx.Err() != nil {
					return &OrchestratorError{Phase: "start services", Wrapped: ctx.Err()}
				}

				var g errgroup.Group
				for _, name := range layer {
					name := name
					svc := cfg.Services[name]
					if svc.Mode == config.ModeSkip {
						continue
					}
					g.Go(func() error {
						m.bus.Publish(event.ServiceEvent{Service: name, Status: event.StatusStarting})
						handle, err := m.deps.startService(ctx, StartServiceInput{
							ServiceName:  name,
							Service:      svc,
							Config:       cfg,
							Plugin:       plugins[svc.Type],
							Registry:     registry,
							PluginEnv:    pluginEnvByType[svc.Type],
							WorkspaceDir: m.workspaceDir,
							Proc:         m.deps.proc,
							Bus:          m.bus,
							Timeouts:     m.timeouts,
						})
						if err != nil {
							return err
						}
						run.addHandle(handle)
						m.bus.Publish(event.ServiceEvent{Service: name, Status: event.StatusStarted})
						return nil
					})
				}
				// Settled-all join: siblings finish (and register their
				// handles for cleanup) even when one of them fails.
				if err := g.Wait(); err != nil {
					return err
				}
			}
			return nil
		},
		Compensate: func(compCtx context.Context) error {
			m.stopHandles(compCtx, run.snapshotHandles())
			return nil
		},
	})
}

// finalizeUp records concrete runner state and runs the postSetup hook.
func (m *DefaultWorkspaceManager) finalizeUp(ctx context.Context, cfg *config.WorkspaceConfig, run *runState, project compose.ProjectOptions) error {
	services := map[string]state.ServiceState{}
	for _, h := range run.snapshotHandles() {
		services[h.Name] = h.State()
	}
	if err := m.store.Save(&state.WorkspaceState{
		WorkspaceName: cfg.Name,
		ProjectName:   project.ProjectName,
		FileArgs:      project.FileArgs,
		WorkspaceDir:  m.workspaceDir,
		Services:      services,
	}); err != nil {
		return err
	}

	if cfg.Hooks != nil && cfg.Hooks.PostSetup != "" {
		m.phase("Running postSetup hook")
		if err := m.runWorkspaceHook(ctx, cfg, "postSetup", cfg.Hooks.PostSetup); err != nil {
			return err
		}
	}
	return nil
}

// ensureLogFollower starts the compose log follower once.
func (m *DefaultWorkspaceManager) ensureLogFollower(ctx context.Context, run *runState) {
	if run.logs != nil {
		return
	}
	handle, err := run.executor.Logs(ctx, compose.LogsOptions{
		OnOutput: func(line event.OutputLine) {
			m.bus.Publish(event.OutputEvent{Line: line})
		},
	})
	if err != nil {
		m.publishError(err)
		return
	}
	run.logs = handle
}

// composeProgressSink forwards compose progress lines as output events.
func (m *DefaultWorkspaceManager) composeProgressSink() func(compose.OutputChunk) {
	return func(chunk compose.OutputChunk) {
		m.bus.Publish(event.OutputEvent{Line: event.OutputLine{
			Service:   "compose",
			Stream:    event.Stream(chunk.Stream),
			Text:      chunk.Text,
			Timestamp: time.Now(),
		}})
	}
}

// runWorkspaceHook executes a workspace-level hook with bus output.
func (m *DefaultWorkspaceManager) runWorkspaceHook(ctx context.Context, cfg *config.WorkspaceConfig, name, command string) error {
	_, err := hook.Execute(ctx, name, command, hook.Options{
		Cwd: m.workspaceDir,
		Env: map[string]string{
			endpoint.EnvWorkspaceName: cfg.Name,
		},
		OnOutput: func(chunk hook.OutputChunk) {
			m.bus.Publish(event.HookEvent{Hook: name, Output: chunk.Text})
		},
	})
	return err
}

// stopHandles stops handles in reverse start order, best-effort.
func (m *DefaultWorkspaceManager) stopHandles(ctx context.Context, handles []*ServiceHandle) {
	for i := len(handles) - 1; i >= 0; i-- {
		h := handles[i]
		m.bus.Publish(event.ServiceEvent{Service: h.Name, Status: event.StatusStopping})
		if err := h.Stop(ctx, 0); err != nil {
			m.publishError(fmt.Errorf("stop %s: %w", h.Name, err))
		}
		m.bus.Publish(event.ServiceEvent{Service: h.Name, Status: event.StatusStopped})
	}
}

// =============================================================================
// Stale Cleanup
// =============================================================================

// cleanupStale tears down a previous run recorded in the state file.
// Best-effort: failures are reported but never block the new run.
func (m *DefaultWorkspaceManager) cleanupStale(ctx context.Context) {
	st, err := m.store.Load()
	if err != nil {
		m.publishError(fmt.Errorf("stale cleanup: %w", err))
		_ = m.store.Remove()
		return
	}
	if st == nil {
		return
	}

	m.phase("Cleaning up stale workspace")
	for _, h := range m.hydrateHandles(st) {
		if err := h.Stop(ctx, 0); err != nil {
			m.publishError(fmt.Errorf("stale cleanup: stop %s: %w", h.Name, err))
		}
	}

	executor := m.deps.newExecutor(compose.ProjectOptions{
		ProjectName: st.ProjectName,
		FileArgs:    st.FileArgs,
		Dir:         st.WorkspaceDir,
	})
	if err := executor.Down(ctx, compose.DownOptions{}); err != nil {
		m.publishError(fmt.Errorf("stale cleanup: %w", err))
	}
	if err := m.store.Remove(); err != nil {
		m.publishError(err)
	}
}

// =============================================================================
// Down
// =============================================================================

// Down stops the workspace: preStop hook, handle stops, compose down,
// state removal. A workspace that is not running is a no-op.
func (m *DefaultWorkspaceManager) Down(ctx context.Context, opts DownOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.store.Load()
	if err != nil {
		return err
	}
	if st == nil {
		m.phase("No running workspace found")
		return nil
	}

	// preStop runs before in-memory handles are stopped, matching the
	// source orchestrator's ordering.
	if cfg, cfgErr := m.deps.loadConfig(m.manifestPath); cfgErr == nil {
		if cfg.Hooks != nil && cfg.Hooks.PreStop != "" {
			m.phase("Running preStop hook")
			if hookErr := m.runWorkspaceHook(ctx, cfg, "preStop", cfg.Hooks.PreStop); hookErr != nil {
				m.publishError(hookErr)
			}
		}
	}

	handles := opts.Handles
	if len(handles) == 0 {
		handles = m.hydrateHandles(st)
	}

	// Sequential stops keep log output readable and avoid thrashing
	// the container daemon.
	for _, h := range handles {
		m.bus.Publish(event.ServiceEvent{Service: h.Name, Status: event.StatusStopping})
		if err := h.Stop(ctx, 0); err != nil {
			m.publishError(fmt.Errorf("stop %s: %w", h.Name, err))
		}
		m.bus.Publish(event.ServiceEvent{Service: h.Name, Status: event.StatusStopped})
	}

	executor := m.deps.newExecutor(compose.ProjectOptions{
		ProjectName: st.ProjectName,
		FileArgs:    st.FileArgs,
		Dir:         st.WorkspaceDir,
	})
	if err := executor.Down(ctx, compose.DownOptions{Clean: opts.Clean}); err != nil {
		return err
	}

	if err := m.store.Remove(); err != nil {
		return err
	}
	m.phase("Stopped")
	return nil
}

// hydrateHandles rebuilds stop handles from a persisted state record,
// in sorted service order.
func (m *DefaultWorkspaceManager) hydrateHandles(st *state.WorkspaceState) []*ServiceHandle {
	names := make([]string, 0, len(st.Services))
	for name := range st.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	handles := make([]*ServiceHandle, 0, len(names))
	for _, name := range names {
		record := st.Services[name]
		handles = append(handles, m.hydrateHandle(st, name, record))
	}
	return handles
}

// hydrateHandle rebuilds one stop handle from its persisted record.
func (m *DefaultWorkspaceManager) hydrateHandle(st *state.WorkspaceState, name string, record state.ServiceState) *ServiceHandle {
	h := &ServiceHandle{
		Name:        name,
		Kind:        record.Runner,
		Pid:         record.Pid,
		ContainerID: record.ContainerID,
	}

	switch record.Runner {
	case state.RunnerProcess:
		pid := record.Pid
		h.stop = func(ctx context.Context, timeout time.Duration) error {
			return m.stopHydratedProcess(ctx, pid, timeout)
		}
	case state.RunnerContainer:
		containerName := config.ContainerName(st.WorkspaceName, name)
		h.stop = func(ctx context.Context, timeout time.Duration) error {
			return m.stopHydratedContainer(ctx, containerName, timeout)
		}
	case state.RunnerCompose:
		// Owned by the compose project; Down handles it.
	}
	return h
}

// stopHydratedProcess terminates a recorded pid: SIGTERM, poll for
// exit, then SIGKILL after the graceful window.
func (m *DefaultWorkspaceManager) stopHydratedProcess(ctx context.Context, pid int, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = m.timeouts.ProcessStop
	}
	pidArg := strconv.Itoa(pid)

	if _, _, _, err := m.deps.proc.Run(ctx, "kill", "-TERM", pidArg); err != nil {
		// Already gone.
		return nil
	}

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, _, _, err := m.deps.proc.Run(ctx, "kill", "-0", pidArg); err != nil {
			return nil
		}
		sleepWithContext(ctx, 200*time.Millisecond)
		if ctx.Err() != nil {
			break
		}
	}

	_, _, _, _ = m.deps.proc.Run(ctx, "kill", "-KILL", pidArg)
	return nil
}

// stopHydratedContainer stops and removes a recorded container,
// tolerant of absence.
func (m *DefaultWorkspaceManager) stopHydratedContainer(ctx context.Context, containerName string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = m.timeouts.ContainerStop
	}
	secs := int(timeout.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}

	_, _, _, _ = m.deps.proc.Run(ctx, "docker", "stop", "-t", strconv.Itoa(secs), containerName)
	_, _, _, _ = m.deps.proc.Run(ctx, "docker", "rm", containerName)
	return nil
}

// =============================================================================
// Status
// =============================================================================

// Status reports the persisted run record and live container state.
func (m *DefaultWorkspaceManager) Status(ctx context.Context) (*WorkspaceStatus, error) {
	st, err := m.store.Load()
	if err != nil {
		return nil, err
	}
	if st == nil {
		return &WorkspaceStatus{Running: false}, nil
	}

	executor := m.deps.newExecutor(compose.ProjectOptions{
		ProjectName: st.ProjectName,
		FileArgs:    st.FileArgs,
		Dir:         st.WorkspaceDir,
	})
	containers, err := executor.Ps(ctx)
	if err != nil {
		// The daemon may be down; the state file alone is still useful.
		m.publishError(err)
		containers = nil
	}
	return &WorkspaceStatus{Running: true, State: st, Containers: containers}, nil
}

// =============================================================================
// Helpers
// =============================================================================

// collectContributions invokes every contributing plugin with the
// services of its type, returning contributions and per-type env vars.
func collectContributions(cfg *config.WorkspaceConfig, plugins map[string]plugin.Plugin) (map[string]compose.Contribution, map[string]map[string]string, error) {
	contributions := map[string]compose.Contribution{}
	envByType := map[string]map[string]string{}

	typeNames := make([]string, 0, len(plugins))
	for typeName := range plugins {
		typeNames = append(typeNames, typeName)
	}
	sort.Strings(typeNames)

	for _, typeName := range typeNames {
		contributor, ok := plugins[typeName].(plugin.ComposeContributor)
		if !ok {
			continue
		}

		typed := map[string]*config.ServiceConfig{}
		for name, svc := range cfg.Services {
			if svc.Type == typeName && svc.Mode != config.ModeSkip {
				typed[name] = svc
			}
		}
		if len(typed) == 0 {
			continue
		}

		contribution, err := contributor.Contribute(typed, cfg)
		if err != nil {
			return nil, nil, err
		}
		contributions[typeName] = contribution
		envByType[typeName] = contribution.EnvVars
	}
	return contributions, envByType, nil
}

// pluginsByCapability returns plugins passing the predicate in sorted
// type order.
func pluginsByCapability(plugins map[string]plugin.Plugin, match func(plugin.Plugin) bool) []plugin.Plugin {
	typeNames := make([]string, 0, len(plugins))
	for typeName := range plugins {
		typeNames = append(typeNames, typeName)
	}
	sort.Strings(typeNames)

	var out []plugin.Plugin
	for _, typeName := range typeNames {
		if match(plugins[typeName]) {
			out = append(out, plugins[typeName])
		}
	}
	return out
}

// applyModeOverride copies cfg with every non-skip service forced to
// the given mode.
func applyModeOverride(cfg *config.WorkspaceConfig, mode config.Mode) *config.WorkspaceConfig {
	out := *cfg
	out.Services = make(map[string]*config.ServiceConfig, len(cfg.Services))
	for name, svc := range cfg.Services {
		copied := *svc
		if copied.Mode != config.ModeSkip {
			copied.Mode = mode
		}
		out.Services[name] = &copied
	}
	return &out
}

// applyServiceFilter copies cfg with services outside the closure
// marked skip. The dependency graph keeps its shape; skipped members
// simply never start.
func applyServiceFilter(cfg *config.WorkspaceConfig, closure map[string]struct{}) *config.WorkspaceConfig {
	out := *cfg
	out.Services = make(map[string]*config.ServiceConfig, len(cfg.Services))
	for name, svc := range cfg.Services {
		copied := *svc
		if _, selected := closure[name]; !selected {
			copied.Mode = config.ModeSkip
		}
		out.Services[name] = &copied
	}
	return &out
}

// intersect returns the members of list present in set, preserving
// list order.
func intersect(list []string, set map[string]bool) []string {
	var out []string
	for _, name := range list {
		if set[name] {
			out = append(out, name)
		}
	}
	return out
}

// sleepWithContext waits for the duration or context cancellation.
func sleepWithContext(ctx context.Context, duration time.Duration) {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
