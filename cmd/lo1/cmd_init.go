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
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/newstack-cloud/lo1/cmd/lo1/config"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/proc"
	"github.com/newstack-cloud/lo1/pkg/ux"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Clone the workspace's repositories",
	Long: `Clones every entry in the manifest's repositories list into its
configured path. Existing checkouts are skipped.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, _ []string) error {
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

	if len(cfg.Repositories) == 0 {
		ux.Info("no repositories configured")
		return nil
	}

	pm := proc.NewDefaultManager()
	var failures int
	for _, repo := range cfg.Repositories {
		target := repo.Path
		if !filepath.IsAbs(target) {
			target = filepath.Join(dir, target)
		}

		if _, statErr := os.Stat(target); statErr == nil {
			ux.Info(fmt.Sprintf("%s exists, skipping", repo.Path))
			continue
		}

		ux.Phase(fmt.Sprintf("Cloning %s", repo.URL))
		if _, stderr, _, cloneErr := pm.Run(cmd.Context(), "git", "clone", repo.URL, target); cloneErr != nil {
			failures++
			ux.Error(fmt.Sprintf("clone %s failed: %s", repo.URL, stderr))
			if initFailFast {
				printError(cloneErr)
				return cloneErr
			}
			continue
		}
		ux.Success(fmt.Sprintf("cloned %s", repo.Path))
	}

	if failures > 0 {
		err := fmt.Errorf("init completed with %d clone failure(s)", failures)
		printError(err)
		return err
	}
	return nil
}
