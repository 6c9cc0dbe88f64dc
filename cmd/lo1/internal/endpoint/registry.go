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
Package endpoint derives per-service URLs and discovery environment
variables from the workspace manifest.

Only services with a port and a non-skip mode are registered. Consumers
resolve a service's URL differently depending on where they run: a
container reaches siblings through the compose network
(http://<name>:<port>), a host process through published ports
(http://localhost:<hostPort>).
*/
package endpoint

import (
	"fmt"
	"sort"
	"strings"

	"github.com/newstack-cloud/lo1/cmd/lo1/config"
)

// ConsumerMode says where the consumer of a discovery variable runs.
type ConsumerMode string

const (
	// ConsumerHost resolves URLs through host-published ports.
	ConsumerHost ConsumerMode = "host"

	// ConsumerContainer resolves URLs through the compose network.
	ConsumerContainer ConsumerMode = "container"
)

// Reserved environment variables injected into every service.
const (
	EnvServiceName   = "LO1_SERVICE_NAME"
	EnvWorkspaceName = "LO1_WORKSPACE_NAME"
)

// ServiceEndpoint carries every address form for one service.
type ServiceEndpoint struct {
	// Name is the manifest service name.
	Name string

	// Port is the service's own listen port.
	Port int

	// HostPort is the host-visible port (defaults to Port).
	HostPort int

	// InternalURL is the compose-network form, http://<name>:<port>.
	InternalURL string

	// ExternalURL is the host form, http://localhost:<hostPort>.
	ExternalURL string

	// ProxyURL is the reverse-proxy form,
	// <scheme>://<name>.<workspace>.<tld> (https iff TLS is enabled).
	ProxyURL string

	// Mode is the service's configured mode.
	Mode config.Mode
}

// Registry maps service names to their endpoints.
type Registry struct {
	// Endpoints holds one entry per registered service.
	Endpoints map[string]ServiceEndpoint
}

// BuildRegistry derives endpoints for every service with a port and a
// non-skip mode.
func BuildRegistry(cfg *config.WorkspaceConfig) *Registry {
	reg := &Registry{Endpoints: make(map[string]ServiceEndpoint)}

	scheme := "http"
	tld := config.DefaultProxyTLD
	if cfg.Proxy != nil {
		if cfg.Proxy.TLD != "" {
			tld = cfg.Proxy.TLD
		}
		if cfg.Proxy.TLS != nil && cfg.Proxy.TLS.Enabled {
			scheme = "https"
		}
	}

	for name, svc := range cfg.Services {
		if svc.Port == 0 || svc.Mode == config.ModeSkip {
			continue
		}
		hostPort := svc.EffectiveHostPort()
		domain := fmt.Sprintf("%s.%s.%s", name, cfg.Name, tld)
		if svc.Proxy != nil && svc.Proxy.Domain != "" {
			domain = svc.Proxy.Domain
		}
		reg.Endpoints[name] = ServiceEndpoint{
			Name:        name,
			Port:        svc.Port,
			HostPort:    hostPort,
			InternalURL: fmt.Sprintf("http://%s:%d", name, svc.Port),
			ExternalURL: fmt.Sprintf("http://localhost:%d", hostPort),
			ProxyURL:    fmt.Sprintf("%s://%s", scheme, domain),
			Mode:        svc.Mode,
		}
	}
	return reg
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Endpoints))
	for name := range r.Endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DiscoveryEnvVars renders the registry as LO1_SERVICE_* variables for
// a consumer in the given mode.
//
// For each registered service S three variables are emitted:
//
//	LO1_SERVICE_<UPPER_SNAKE(S)>_URL
//	LO1_SERVICE_<UPPER_SNAKE(S)>_PORT
//	LO1_SERVICE_<UPPER_SNAKE(S)>_PROXY_URL
//
// URL and PORT resolve to the container-internal form for container
// consumers and the host-visible form for host consumers.
func DiscoveryEnvVars(reg *Registry, mode ConsumerMode) map[string]string {
	env := make(map[string]string, len(reg.Endpoints)*3)
	for name, ep := range reg.Endpoints {
		key := upperSnake(name)
		if mode == ConsumerContainer {
			env["LO1_SERVICE_"+key+"_URL"] = ep.InternalURL
			env["LO1_SERVICE_"+key+"_PORT"] = fmt.Sprintf("%d", ep.Port)
		} else {
			env["LO1_SERVICE_"+key+"_URL"] = ep.ExternalURL
			env["LO1_SERVICE_"+key+"_PORT"] = fmt.Sprintf("%d", ep.HostPort)
		}
		env["LO1_SERVICE_"+key+"_PROXY_URL"] = ep.ProxyURL
	}
	return env
}

// BuildServiceEnv assembles the full environment for one service.
//
// # Description
//
// Precedence, lowest to highest: discovery variables, plugin-provided
// variables, the service's own env. Plugin values are textually
// rewritten for host consumers: every "<service>:<port>" occurrence
// becomes "localhost:<hostPort>" so host processes can reach compose
// services through published ports. The reserved LO1_SERVICE_NAME and
// LO1_WORKSPACE_NAME variables are always set last.
func BuildServiceEnv(
	serviceName string,
	svc *config.ServiceConfig,
	cfg *config.WorkspaceConfig,
	reg *Registry,
	pluginEnv map[string]string,
	mode ConsumerMode,
) map[string]string {
	env := DiscoveryEnvVars(reg, mode)

	for k, v := range pluginEnv {
		if mode == ConsumerHost {
			v = rewriteForHost(v, reg)
		}
		env[k] = v
	}

	for k, v := range svc.Env {
		env[k] = v
	}

	env[EnvServiceName] = serviceName
	env[EnvWorkspaceName] = cfg.Name
	return env
}

// rewriteForHost replaces container-network authorities with their
// host-published equivalents in a plugin-provided value.
func rewriteForHost(value string, reg *Registry) string {
	for name, ep := range reg.Endpoints {
		from := fmt.Sprintf("%s:%d", name, ep.Port)
		to := fmt.Sprintf("localhost:%d", ep.HostPort)
		value = strings.ReplaceAll(value, from, to)
	}
	return value
}

// upperSnake converts a service name to its env-var key fragment:
// "auth-api" -> "AUTH_API".
func upperSnake(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
