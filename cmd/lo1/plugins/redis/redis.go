// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package redis is the builtin Redis workspace plugin.
//
// Unlike the postgres plugin it supplies single-container
// configuration, so redis services are supervised directly by the
// container runner rather than through the compose project:
//
//	plugins:
//	  redis: lo1-plugin-redis
//	services:
//	  cache:
//	    type: redis
//	    port: 6379
package redis

import (
	"fmt"

	"github.com/newstack-cloud/lo1/cmd/lo1/config"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/plugin"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/runner"
)

// Specifier is the registry name manifests reference.
const Specifier = "lo1-plugin-redis"

// DefaultImage is the container image used when the manifest does not
// override it.
const DefaultImage = "redis:7-alpine"

const defaultPort = 6379

func init() {
	plugin.Register(Specifier, func() plugin.Plugin { return &Plugin{} })
}

// Plugin supervises redis services as single containers.
type Plugin struct{}

// Name returns the registered specifier.
func (p *Plugin) Name() string { return Specifier }

// ContainerConfig builds the redis container for one service.
func (p *Plugin) ContainerConfig(serviceName string, svc *config.ServiceConfig, cfg *config.WorkspaceConfig) (runner.ContainerConfig, error) {
	image := svc.ContainerImage
	if image == "" {
		image = DefaultImage
	}
	port := svc.Port
	if port == 0 {
		port = defaultPort
	}

	return runner.ContainerConfig{
		Image: image,
		Cmd:   []string{"redis-server", "--port", fmt.Sprintf("%d", port)},
		Env: map[string]string{
			"REDIS_PORT": fmt.Sprintf("%d", port),
		},
	}, nil
}

// Compile-time capability checks.
var (
	_ plugin.Plugin              = (*Plugin)(nil)
	_ plugin.ContainerConfigurer = (*Plugin)(nil)
)
