// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/newstack-cloud/lo1/cmd/lo1/config"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/endpoint"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/event"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/hook"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/plugin"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/probe"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/proc"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/runner"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/state"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/util"
)

// =============================================================================
// Error Definition
// =============================================================================

// ServiceStartError reports a service for which no valid runner could
// be determined.
type ServiceStartError struct {
	// Service is the service name.
	Service string

	// Reason explains why no runner fits.
	Reason string
}

func (e *ServiceStartError) Error() string {
	return fmt.Sprintf("cannot start service %q: %s", e.Service, e.Reason)
}

var _ error = (*ServiceStartError)(nil)

// =============================================================================
// Service Handle
// =============================================================================

// ServiceHandle is the orchestrator's opaque stop token for one
// running service.
type ServiceHandle struct {
	// Name is the service name.
	Name string

	// Kind says which runner supervises the service.
	Kind state.RunnerKind

	// Pid is set for process-supervised services.
	Pid int

	// ContainerID is set for container-supervised services.
	ContainerID string

	// stop tears the service down; nil for passive (compose) handles.
	stop func(ctx context.Context, timeout time.Duration) error
}

// Stop tears the supervised service down. Passive handles (compose
// services, owned by the compose project) are a no-op.
func (h *ServiceHandle) Stop(ctx context.Context, timeout time.Duration) error {
	if h.stop == nil {
		return nil
	}
	return h.stop(ctx, timeout)
}

// State renders the handle as its persisted record.
func (h *ServiceHandle) State() state.ServiceState {
	return state.ServiceState{
		Runner:      h.Kind,
		Pid:         h.Pid,
		ContainerID: h.ContainerID,
	}
}

// =============================================================================
// Service Starter
// =============================================================================

// StartServiceInput collects everything startService consumes.
type StartServiceInput struct {
	// ServiceName is the manifest service name.
	ServiceName string

	// Service is the service's manifest entry.
	Service *config.ServiceConfig

	// Config is the whole workspace manifest.
	Config *config.WorkspaceConfig

	// Plugin is the plugin bound to the service's type; nil for
	// builtin types.
	Plugin plugin.Plugin

	// Registry is the endpoint registry for discovery env.
	Registry *endpoint.Registry

	// PluginEnv are env vars contributed by the service's plugin type.
	PluginEnv map[string]string

	// WorkspaceDir is the absolute workspace directory.
	WorkspaceDir string

	// Proc executes container commands.
	Proc proc.Manager

	// Bus receives service output and hook events. May be nil.
	Bus *event.Bus

	// Timeouts carries stop and probe timeouts.
	Timeouts util.TimeoutConfig
}

// startService selects a runner, builds the environment, and wraps
// hooks and readiness into a ServiceHandle.
//
// # Description
//
// Runner decision, in order:
//
//  1. The service's plugin provides container configuration ->
//     single-container runner with the plugin's config.
//  2. Builtin type, dev mode, command set -> process runner.
//  3. Container mode with an image or per-service compose file ->
//     passive handle (the compose project owns the container).
//  4. Otherwise *ServiceStartError.
//
// Execution order per service: preStart hook, runner spawn, readiness
// probe (stop + fail on probe failure), postStart hook.
func startService(ctx context.Context, in StartServiceInput) (*ServiceHandle, error) {
	configurer, hasContainerPlugin := in.Plugin.(plugin.ContainerConfigurer)

	consumerMode := endpoint.ConsumerHost
	if hasContainerPlugin || in.Service.Mode == config.ModeContainer {
		consumerMode = endpoint.ConsumerContainer
	}
	env := endpoint.BuildServiceEnv(in.ServiceName, in.Service, in.Config, in.Registry, in.PluginEnv, consumerMode)

	hookCwd := in.WorkspaceDir
	if in.Service.Path != "" {
		hookCwd = filepath.Join(in.WorkspaceDir, in.Service.Path)
	}

	if err := runServiceHook(ctx, in, "preStart", hookValue(in.Service, "preStart"), hookCwd, env); err != nil {
		return nil, err
	}

	handle, err := spawnRunner(ctx, in, configurer, hasContainerPlugin, env)
	if err != nil {
		return nil, err
	}

	if in.Service.ReadinessProbe != "" {
		probeErr := probe.WaitForReady(ctx, probe.Options{
			URL:         in.Service.ReadinessProbe,
			ServiceName: in.ServiceName,
			Timeout:     in.Timeouts.Probe,
		})
		if probeErr != nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			_ = handle.Stop(stopCtx, 0)
			cancel()
			return nil, probeErr
		}
	}

	if err := runServiceHook(ctx, in, "postStart", hookValue(in.Service, "postStart"), hookCwd, env); err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_ = handle.Stop(stopCtx, 0)
		cancel()
		return nil, err
	}

	return handle, nil
}

// spawnRunner starts the chosen runner and wraps it in a handle.
func spawnRunner(ctx context.Context, in StartServiceInput, configurer plugin.ContainerConfigurer, hasContainerPlugin bool, env map[string]string) (*ServiceHandle, error) {
	onOutput := func(line event.OutputLine) {
		if in.Bus != nil {
			in.Bus.Publish(event.OutputEvent{Line: line})
		}
	}

	switch {
	case hasContainerPlugin:
		containerCfg, err := configurer.ContainerConfig(in.ServiceName, in.Service, in.Config)
		if err != nil {
			return nil, &ServiceStartError{
				Service: in.ServiceName,
				Reason:  fmt.Sprintf("plugin container config: %v", err),
			}
		}
		h, err := runner.StartContainer(ctx, in.Proc, runner.ContainerSpec{
			WorkspaceName: in.Config.Name,
			ServiceName:   in.ServiceName,
			Container:     containerCfg,
			NetworkName:   config.NetworkName(in.Config.Name),
			Env:           env,
			OnOutput:      onOutput,
			StopTimeout:   in.Timeouts.ContainerStop,
		})
		if err != nil {
			return nil, err
		}
		return &ServiceHandle{
			Name:        in.ServiceName,
			Kind:        state.RunnerContainer,
			ContainerID: h.ContainerID,
			stop:        h.Stop,
		}, nil

	case config.IsBuiltinType(in.Service.Type) && in.Service.Mode == config.ModeDev && in.Service.Command != "":
		cwd := in.WorkspaceDir
		if in.Service.Path != "" {
			cwd = filepath.Join(in.WorkspaceDir, in.Service.Path)
		}
		h, err := runner.StartProcess(ctx, runner.ProcessSpec{
			ServiceName: in.ServiceName,
			Command:     in.Service.Command,
			Cwd:         cwd,
			Env:         env,
			OnOutput:    onOutput,
			StopTimeout: in.Timeouts.ProcessStop,
		})
		if err != nil {
			return nil, err
		}
		return &ServiceHandle{
			Name: in.ServiceName,
			Kind: state.RunnerProcess,
			Pid:  h.Pid,
			stop: func(ctx context.Context, timeout time.Duration) error {
				_, err := h.Stop(ctx, timeout)
				return err
			},
		}, nil

	case in.Service.Mode == config.ModeContainer && (in.Service.ContainerImage != "" || in.Service.Compose != ""):
		// The compose project supervises the container; the handle
		// only carries identity.
		return &ServiceHandle{
			Name: in.ServiceName,
			Kind: state.RunnerCompose,
		}, nil

	default:
		return nil, &ServiceStartError{
			Service: in.ServiceName,
			Reason:  fmt.Sprintf("no runner for type=%q mode=%q", in.Service.Type, in.Service.Mode),
		}
	}
}

// runServiceHook executes one per-service hook, streaming output to
// the bus. A missing hook is a no-op.
func runServiceHook(ctx context.Context, in StartServiceInput, hookName, command, cwd string, env map[string]string) error {
	if command == "" {
		return nil
	}
	_, err := hook.Execute(ctx, hookName, command, hook.Options{
		Cwd: cwd,
		Env: env,
		OnOutput: func(chunk hook.OutputChunk) {
			if in.Bus != nil {
				in.Bus.Publish(event.HookEvent{
					Hook:   fmt.Sprintf("%s:%s", in.ServiceName, hookName),
					Output: chunk.Text,
				})
			}
		},
	})
	return err
}

// hookValue extracts one named hook command from a service config.
func hookValue(svc *config.ServiceConfig, name string) string {
	if svc.Hooks == nil {
		return ""
	}
	switch name {
	case "preStart":
		return svc.Hooks.PreStart
	case "postStart":
		return svc.Hooks.PostStart
	case "preStop":
		return svc.Hooks.PreStop
	default:
		return ""
	}
}
