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
Package proxy generates the reverse-proxy configuration and manages the
host-side pieces that make local domains resolve and verify: the hosts
file block and the Caddy root certificate trust.
*/
package proxy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/newstack-cloud/lo1/cmd/lo1/config"
)

// CaddyfileName is the generated proxy config's name under .lo1.
const CaddyfileName = "Caddyfile"

// CaddyConfig is the generated routing document plus its domain list.
type CaddyConfig struct {
	// Content is the Caddyfile text.
	Content string

	// Domains lists every routed domain, sorted.
	Domains []string
}

// GenerateCaddyfile renders one site block per proxied service.
//
// # Description
//
// Every service with a port and non-skip mode gets a site block
// routing <service>.<workspace>.<tld> (or its custom domain) to
// <service>:<port> over the compose network for container services,
// or to host.docker.internal:<hostPort> for dev-mode services. A path prefix restricts
// the route via handle_path. TLS-disabled workspaces bind plain-HTTP
// sites (http:// prefix) so Caddy does not attempt ACME for local
// domains; TLS-enabled workspaces use Caddy's internal CA.
func GenerateCaddyfile(cfg *config.WorkspaceConfig) CaddyConfig {
	if cfg.Proxy == nil || !cfg.Proxy.Enabled {
		return CaddyConfig{}
	}

	tlsEnabled := cfg.Proxy.TLS != nil && cfg.Proxy.TLS.Enabled

	names := make([]string, 0, len(cfg.Services))
	for name := range cfg.Services {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	var domains []string

	if tlsEnabled {
		b.WriteString("{\n\tlocal_certs\n}\n\n")
	}

	for _, name := range names {
		svc := cfg.Services[name]
		if svc.Port == 0 || svc.Mode == config.ModeSkip {
			continue
		}

		domain := fmt.Sprintf("%s.%s.%s", name, cfg.Name, cfg.Proxy.TLD)
		if svc.Proxy != nil && svc.Proxy.Domain != "" {
			domain = svc.Proxy.Domain
		}
		domains = append(domains, domain)

		site := domain
		if !tlsEnabled {
			site = "http://" + domain
		}

		upstream := fmt.Sprintf("%s:%d", name, svc.Port)
		if svc.Mode == config.ModeDev {
			// Dev-mode services listen on the host, reachable from the
			// proxy container via the daemon's host gateway.
			upstream = fmt.Sprintf("host.docker.internal:%d", svc.EffectiveHostPort())
		}

		b.WriteString(site + " {\n")
		if svc.Proxy != nil && svc.Proxy.PathPrefix != "" {
			b.WriteString(fmt.Sprintf("\thandle_path %s/* {\n\t\treverse_proxy %s\n\t}\n",
				strings.TrimSuffix(svc.Proxy.PathPrefix, "/"), upstream))
		} else {
			b.WriteString(fmt.Sprintf("\treverse_proxy %s\n", upstream))
		}
		b.WriteString("}\n\n")
	}

	if len(domains) == 0 {
		return CaddyConfig{}
	}

	sort.Strings(domains)
	return CaddyConfig{
		Content: strings.TrimRight(b.String(), "\n") + "\n",
		Domains: domains,
	}
}
