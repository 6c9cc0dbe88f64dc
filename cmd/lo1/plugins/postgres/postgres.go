// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package postgres is the builtin PostgreSQL workspace plugin.
//
// A manifest binds it with:
//
//	plugins:
//	  postgres: lo1-plugin-postgres
//	services:
//	  db:
//	    type: postgres
//	    mode: container
//	    port: 5432
//
// The plugin contributes one postgres compose service per manifest
// service of its type and exports a DATABASE_URL_<NAME> (NAME being the
// upper-snake service name) for dependents.
package postgres

import (
	"fmt"
	"sort"

	"github.com/newstack-cloud/lo1/cmd/lo1/config"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/compose"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/plugin"
)

// Specifier is the registry name manifests reference.
const Specifier = "lo1-plugin-postgres"

// DefaultImage is the contributed postgres image.
const DefaultImage = "postgres:16-alpine"

const defaultPort = 5432

func init() {
	plugin.Register(Specifier, func() plugin.Plugin { return &Plugin{} })
}

// Plugin contributes postgres compose services.
type Plugin struct{}

// Name returns the registered specifier.
func (p *Plugin) Name() string { return Specifier }

// Contribute renders one postgres service per manifest service of the
// plugin's type, plus a DATABASE_URL_<NAME> env var per database.
func (p *Plugin) Contribute(services map[string]*config.ServiceConfig, cfg *config.WorkspaceConfig) (compose.Contribution, error) {
	contribution := compose.Contribution{
		Services: map[string]compose.ServiceDefinition{},
		EnvVars:  map[string]string{},
	}

	names := make([]string, 0, len(services))
	for name := range services {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		svc := services[name]
		port := svc.Port
		if port == 0 {
			port = defaultPort
		}
		image := svc.ContainerImage
		if image == "" {
			image = DefaultImage
		}

		definition := compose.ServiceDefinition{
			"image": image,
			"environment": map[string]string{
				"POSTGRES_USER":     cfg.Name,
				"POSTGRES_PASSWORD": cfg.Name,
				"POSTGRES_DB":       name,
			},
			"healthcheck": map[string]any{
				"test":     []string{"CMD-SHELL", fmt.Sprintf("pg_isready -U %s -d %s", cfg.Name, name)},
				"interval": "2s",
				"timeout":  "3s",
				"retries":  15,
			},
			"volumes": []string{fmt.Sprintf("lo1-%s-%s-data:/var/lib/postgresql/data", cfg.Name, name)},
		}
		if hostPort := svc.EffectiveHostPort(); hostPort != 0 {
			definition["ports"] = []string{fmt.Sprintf("%d:%d", hostPort, port)}
		}
		contribution.Services[name] = definition

		contribution.EnvVars[envKey(name)] = fmt.Sprintf(
			"postgres://%s:%s@%s:%d/%s", cfg.Name, cfg.Name, name, port, name)
	}
	return contribution, nil
}

// envKey derives the exported env var name for one database service.
func envKey(serviceName string) string {
	return "DATABASE_URL_" + upperSnake(serviceName)
}

func upperSnake(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-'a'+'A')
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

// Compile-time capability checks.
var (
	_ plugin.Plugin             = (*Plugin)(nil)
	_ plugin.ComposeContributor = (*Plugin)(nil)
)
