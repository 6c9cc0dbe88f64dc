// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config defines the lo1.yaml workspace manifest model and loader.
//
// A WorkspaceConfig is immutable after Load returns it; the orchestrator
// and its collaborators only ever read from it.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// SchemaVersion is the only accepted manifest schema version literal.
const SchemaVersion = "1"

// Builtin service types. Any other type must be declared in the
// workspace plugins map.
const (
	TypeService = "service"
	TypeApp     = "app"
)

// Mode selects how a service is supervised.
type Mode string

const (
	// ModeDev runs the service as a host process from its command.
	ModeDev Mode = "dev"

	// ModeContainer runs the service under the compose project.
	ModeContainer Mode = "container"

	// ModeSkip excludes the service from the run entirely.
	ModeSkip Mode = "skip"
)

// WorkspaceConfig is the parsed lo1.yaml manifest.
type WorkspaceConfig struct {
	// Version is the manifest schema version; must equal SchemaVersion.
	Version string `yaml:"version" validate:"required"`

	// Name identifies the workspace; it scopes project, network, and
	// container names (lo1-<name>...).
	Name string `yaml:"name" validate:"required"`

	// Plugins maps a service type name to its plugin specifier.
	Plugins map[string]string `yaml:"plugins,omitempty"`

	// Repositories lists source repositories cloned by `lo1 init`.
	Repositories []Repository `yaml:"repositories,omitempty"`

	// Proxy configures the reverse proxy for local domains.
	Proxy *ProxyConfig `yaml:"proxy,omitempty"`

	// ExtraCompose references an additional user compose file merged
	// into the generated project.
	ExtraCompose *ExtraCompose `yaml:"extraCompose,omitempty"`

	// Hooks are workspace-level lifecycle hooks.
	Hooks *WorkspaceHooks `yaml:"hooks,omitempty"`

	// Services is the workspace service map, keyed by service name.
	Services map[string]*ServiceConfig `yaml:"services" validate:"required,min=1,dive,required"`
}

// Repository is one entry cloned by `lo1 init`.
type Repository struct {
	// URL is the git clone URL.
	URL string `yaml:"url" validate:"required"`

	// Path is the checkout directory, relative to the workspace.
	Path string `yaml:"path" validate:"required"`
}

// ProxyConfig enables the Caddy-style reverse proxy.
type ProxyConfig struct {
	// Enabled turns the proxy service on.
	Enabled bool `yaml:"enabled"`

	// Port is the host HTTP port; defaults to 80.
	Port int `yaml:"port,omitempty" validate:"omitempty,gte=1,lte=65535"`

	// TLD is the local top-level domain; defaults to "test".
	TLD string `yaml:"tld,omitempty"`

	// TLS optionally enables HTTPS with a locally trusted CA.
	TLS *TLSConfig `yaml:"tls,omitempty"`
}

// TLSConfig enables HTTPS on the proxy.
type TLSConfig struct {
	// Enabled turns TLS termination on.
	Enabled bool `yaml:"enabled"`

	// Port is the host HTTPS port; defaults to 443.
	Port int `yaml:"port,omitempty" validate:"omitempty,gte=1,lte=65535"`
}

// ExtraCompose references a user-supplied compose file. In the manifest
// it may appear either as a bare path string or as a mapping with an
// optional init-task service list:
//
//	extraCompose: ./infra.yaml
//
//	extraCompose:
//	  file: ./infra.yaml
//	  initTaskServices: [migrator]
type ExtraCompose struct {
	// File is the compose file path, relative to the workspace.
	File string `yaml:"file" validate:"required"`

	// InitTaskServices lists services in the file that must run to
	// completion (exit 0) before dependents may start.
	InitTaskServices []string `yaml:"initTaskServices,omitempty"`
}

// UnmarshalYAML accepts both the scalar and mapping manifest forms.
func (e *ExtraCompose) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		var path string
		if err := value.Decode(&path); err != nil {
			return err
		}
		e.File = path
		return nil
	}

	// Plain struct alias avoids recursing into this method.
	type plain ExtraCompose
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*e = ExtraCompose(p)
	return nil
}

// WorkspaceHooks are workspace-level lifecycle shell snippets.
type WorkspaceHooks struct {
	// PostInfrastructure runs after infrastructure compose services are
	// ready, before application services start.
	PostInfrastructure string `yaml:"postInfrastructure,omitempty"`

	// PostSetup runs after every service layer has started.
	PostSetup string `yaml:"postSetup,omitempty"`

	// PreStop runs before services are stopped on `lo1 down`.
	PreStop string `yaml:"preStop,omitempty"`
}

// ServiceHooks are per-service lifecycle shell snippets.
type ServiceHooks struct {
	// PreStart runs before the service's runner is spawned.
	PreStart string `yaml:"preStart,omitempty"`

	// PostStart runs after the service is running (and ready, when a
	// readiness probe is configured).
	PostStart string `yaml:"postStart,omitempty"`

	// PreStop runs before the service is stopped.
	PreStop string `yaml:"preStop,omitempty"`
}

// ServiceProxy routes a local domain to the service through the proxy.
type ServiceProxy struct {
	// Domain overrides the default <service>.<workspace>.<tld> domain.
	Domain string `yaml:"domain,omitempty"`

	// PathPrefix restricts routing to a path prefix.
	PathPrefix string `yaml:"pathPrefix,omitempty"`
}

// ServiceConfig describes one supervised service.
type ServiceConfig struct {
	// Type is a builtin type (service, app) or a plugin type name.
	Type string `yaml:"type" validate:"required"`

	// Path is the service source directory, relative to the workspace.
	Path string `yaml:"path,omitempty"`

	// Port is the service's listen port inside its own network
	// namespace (container) or on the host (dev mode).
	Port int `yaml:"port,omitempty" validate:"omitempty,gte=1,lte=65535"`

	// HostPort is the host-visible port; defaults to Port.
	HostPort int `yaml:"hostPort,omitempty" validate:"omitempty,gte=1,lte=65535"`

	// Mode selects the runner; defaults to dev.
	Mode Mode `yaml:"mode,omitempty" validate:"omitempty,oneof=dev container skip"`

	// Command is the dev-mode shell command.
	Command string `yaml:"command,omitempty"`

	// ContainerImage is the container-mode image reference.
	ContainerImage string `yaml:"containerImage,omitempty"`

	// Compose is an optional per-service compose file path.
	Compose string `yaml:"compose,omitempty"`

	// Env is the service's own environment; it wins over discovery and
	// plugin-provided variables.
	Env map[string]string `yaml:"env,omitempty"`

	// Proxy configures reverse-proxy routing for this service.
	Proxy *ServiceProxy `yaml:"proxy,omitempty"`

	// Hooks are per-service lifecycle hooks.
	Hooks *ServiceHooks `yaml:"hooks,omitempty"`

	// DependsOn lists services that must be started first.
	DependsOn []string `yaml:"dependsOn,omitempty"`

	// InitTask marks a service expected to run to completion (exit 0)
	// before dependents start.
	InitTask bool `yaml:"initTask,omitempty"`

	// ReadinessProbe is an HTTP URL polled until it returns 2xx.
	ReadinessProbe string `yaml:"readinessProbe,omitempty" validate:"omitempty,url"`
}

// IsBuiltinType reports whether t is one of the builtin service types.
func IsBuiltinType(t string) bool {
	return t == TypeService || t == TypeApp
}

// EffectiveHostPort returns HostPort, defaulting to Port when unset.
func (s *ServiceConfig) EffectiveHostPort() int {
	if s.HostPort != 0 {
		return s.HostPort
	}
	return s.Port
}

// ProjectName returns the compose project identifier for a workspace.
func ProjectName(workspaceName string) string {
	return "lo1-" + workspaceName
}

// NetworkName returns the workspace bridge network name.
func NetworkName(workspaceName string) string {
	return fmt.Sprintf("lo1-%s-network", workspaceName)
}

// ProxyServiceName returns the generated proxy service name.
func ProxyServiceName(workspaceName string) string {
	return fmt.Sprintf("lo1-%s-proxy", workspaceName)
}

// ContainerName returns the container name for a single-container service.
func ContainerName(workspaceName, serviceName string) string {
	return fmt.Sprintf("lo1-%s-%s", workspaceName, serviceName)
}
