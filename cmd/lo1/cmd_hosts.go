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
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/newstack-cloud/lo1/cmd/lo1/config"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/proc"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/proxy"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/state"
	"github.com/newstack-cloud/lo1/pkg/ux"
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "Apply or remove the workspace's hosts file block",
	Long: `Manages the marker-bracketed lo1 block in the system hosts file.
Workspace teardown deliberately leaves the block in place; use
--remove to delete it.`,
	RunE: runHosts,
}

func runHosts(cmd *cobra.Command, _ []string) error {
	if hostsApply == hostsRemove {
		err := errors.New("exactly one of --apply or --remove is required")
		printError(err)
		return err
	}

	writer := &proxy.Writer{}

	if hostsRemove {
		if err := writer.Remove(); err != nil {
			printError(err)
			return err
		}
		ux.Success("hosts block removed")
		return nil
	}

	manifest, err := manifestPath()
	if err != nil {
		printError(err)
		return err
	}
	cfg, err := config.Load(manifest)
	if err != nil {
		printError(err)
		return err
	}

	caddy := proxy.GenerateCaddyfile(cfg)
	if len(caddy.Domains) == 0 {
		ux.Info("no proxied domains in this workspace")
		return nil
	}

	if err := writer.Apply(caddy.Domains); err != nil {
		printError(err)
		return err
	}
	ux.Success(fmt.Sprintf("hosts block applied (%d domains)", len(caddy.Domains)))
	return nil
}

var tlsSetupCmd = &cobra.Command{
	Use:   "tls-setup",
	Short: "Trust the workspace proxy's root certificate",
	Long: `Extracts the Caddy root certificate from the running proxy container
and installs it into the host trust store. Idempotent: reinstalls only
when the certificate changed.`,
	RunE: runTLSSetup,
}

func runTLSSetup(cmd *cobra.Command, _ []string) error {
	dir, err := workspaceDir()
	if err != nil {
		printError(err)
		return err
	}
	manifest, err := manifestPath()
	if err != nil {
		printError(err)
		return err
	}
	cfg, err := config.Load(manifest)
	if err != nil {
		printError(err)
		return err
	}

	helper := proxy.NewTrustHelper(proc.NewDefaultManager(), filepath.Join(dir, state.WorkDirName))
	if err := helper.TrustCaddyCA(cmd.Context(), config.ProxyServiceName(cfg.Name)); err != nil {
		printError(err)
		return err
	}
	ux.Success("proxy certificate trusted")
	return nil
}
