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
Package plugin defines typed workspace extensions and their registry.

Plugins extend the orchestrator with new service types. They are
compile-time registered implementations: a manifest's plugins map binds
a service type name to a registered specifier, and the orchestrator
discovers optional capabilities (container configuration, compose
contributions, infrastructure provisioning, data seeding) through
interface assertions on the loaded plugin.
*/
package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/newstack-cloud/lo1/cmd/lo1/config"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/compose"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/runner"
)

// =============================================================================
// Error Definition
// =============================================================================

// Error reports a plugin resolution or lifecycle failure.
type Error struct {
	// Plugin is the plugin specifier or type name.
	Plugin string

	// Reason describes the failure.
	Reason string

	// Wrapped is the underlying error (may be nil).
	Wrapped error
}

func (e *Error) Error() string {
	return fmt.Sprintf("plugin %q: %s", e.Plugin, e.Reason)
}

func (e *Error) Unwrap() error { return e.Wrapped }

var _ error = (*Error)(nil)

// =============================================================================
// Plugin Interfaces
// =============================================================================

// Plugin is the base interface every workspace extension implements.
//
// Optional capabilities are separate interfaces discovered by type
// assertion; a plugin implements only what it needs.
type Plugin interface {
	// Name returns the plugin's registered specifier.
	Name() string
}

// ContainerConfigurer supplies single-container run configuration for
// services of the plugin's type. Services backed by such a plugin are
// supervised by the container runner even in dev mode.
type ContainerConfigurer interface {
	Plugin

	// ContainerConfig builds the container configuration for one
	// service of this plugin's type.
	ContainerConfig(serviceName string, svc *config.ServiceConfig, cfg *config.WorkspaceConfig) (runner.ContainerConfig, error)
}

// ComposeContributor contributes compose services and shared env vars
// for all manifest services of the plugin's type.
type ComposeContributor interface {
	Plugin

	// Contribute receives the manifest services of this plugin's type
	// and returns compose service definitions plus env vars.
	Contribute(services map[string]*config.ServiceConfig, cfg *config.WorkspaceConfig) (compose.Contribution, error)
}

// InfraProvisioner performs one-time infrastructure setup after the
// compose infrastructure phase is ready.
type InfraProvisioner interface {
	Plugin

	// ProvisionInfra runs after infrastructure readiness, before
	// service layers start. Called in parallel across plugins.
	ProvisionInfra(ctx context.Context, cfg *config.WorkspaceConfig) error
}

// DataSeeder loads development data after provisioning.
type DataSeeder interface {
	Plugin

	// SeedData runs after every ProvisionInfra has completed.
	// Called in parallel across plugins.
	SeedData(ctx context.Context, cfg *config.WorkspaceConfig) error
}

// =============================================================================
// Registry
// =============================================================================

// Factory constructs a plugin instance.
type Factory func() Plugin

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register binds a specifier to a plugin factory. Intended to be
// called from init() in plugin packages; duplicate registration panics.
func Register(specifier string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[specifier]; exists {
		panic(fmt.Sprintf("plugin: duplicate registration of %q", specifier))
	}
	registry[specifier] = factory
}

// Registered returns the known specifiers, sorted. Diagnostics only.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resetRegistry clears the registry between tests.
func resetRegistry() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = map[string]Factory{}
}

// Load resolves every manifest plugin declaration to an instance.
//
// # Description
//
// For each plugins entry (type name -> specifier) the registered
// factory is invoked. Unknown specifiers and factories returning nil
// yield *Error. The result maps service TYPE names (not specifiers)
// to instances, matching how the orchestrator looks plugins up.
func Load(cfg *config.WorkspaceConfig) (map[string]Plugin, error) {
	loaded := make(map[string]Plugin, len(cfg.Plugins))

	typeNames := make([]string, 0, len(cfg.Plugins))
	for typeName := range cfg.Plugins {
		typeNames = append(typeNames, typeName)
	}
	sort.Strings(typeNames)

	for _, typeName := range typeNames {
		specifier := cfg.Plugins[typeName]

		registryMu.RLock()
		factory, found := registry[specifier]
		registryMu.RUnlock()

		if !found {
			return nil, &Error{
				Plugin: specifier,
				Reason: fmt.Sprintf("not registered (declared for type %q)", typeName),
			}
		}
		instance := factory()
		if instance == nil {
			return nil, &Error{Plugin: specifier, Reason: "factory returned nil"}
		}
		loaded[typeName] = instance
	}
	return loaded, nil
}

// ValidateServiceTypes checks that every non-builtin service type has
// a loaded plugin.
func ValidateServiceTypes(cfg *config.WorkspaceConfig, loaded map[string]Plugin) error {
	names := make([]string, 0, len(cfg.Services))
	for name := range cfg.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		svc := cfg.Services[name]
		if config.IsBuiltinType(svc.Type) {
			continue
		}
		if _, ok := loaded[svc.Type]; !ok {
			return &Error{
				Plugin: svc.Type,
				Reason: fmt.Sprintf("service %q uses type %q but no plugin provides it", name, svc.Type),
			}
		}
	}
	return nil
}
