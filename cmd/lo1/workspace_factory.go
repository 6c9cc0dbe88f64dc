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
	"path/filepath"

	"github.com/newstack-cloud/lo1/cmd/lo1/config"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/compose"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/event"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/plugin"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/proc"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/proxy"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/state"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/util"
	"github.com/newstack-cloud/lo1/pkg/logging"
)

// newProductionManager wires a WorkspaceManager with real collaborators.
//
// # Description
//
// This is the composition root for the CLI: real process execution,
// the on-disk manifest loader, the compile-time plugin registry, the
// compose executor and generator, the system hosts writer, and the
// platform TLS trust helper. Tests construct managers directly with
// overridden managerDeps fields instead.
func newProductionManager(workspaceDir string, logger *logging.Logger, bus *event.Bus) *DefaultWorkspaceManager {
	pm := proc.NewDefaultManager()
	workDir := filepath.Join(workspaceDir, state.WorkDirName)

	deps := managerDeps{
		proc:        pm,
		loadConfig:  config.Load,
		loadPlugins: plugin.Load,
		newExecutor: func(project compose.ProjectOptions) compose.Executor {
			return compose.NewDefaultExecutor(project, pm)
		},
		generate:      compose.Generate,
		generateCaddy: proxy.GenerateCaddyfile,
		hosts:         &proxy.Writer{},
		trust:         proxy.NewTrustHelper(pm, workDir),
		startService:  startService,
	}

	manifestPath := filepath.Join(workspaceDir, config.DefaultManifestName)
	return NewWorkspaceManager(workspaceDir, manifestPath, logger, bus, util.TimeoutFromEnv(), deps)
}
