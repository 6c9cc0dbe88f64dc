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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newstack-cloud/lo1/cmd/lo1/config"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/dag"
	"github.com/newstack-cloud/lo1/pkg/ux"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the manifest and print the computed start order",
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, _ []string) error {
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

	graph, err := dag.Build(cfg)
	if err != nil {
		printError(err)
		return err
	}

	if jsonOutput {
		data, err := json.MarshalIndent(map[string]any{
			"workspace": cfg.Name,
			"services":  graph.ServiceCount,
			"layers":    graph.Layers,
		}, "", "  ")
		if err != nil {
			printError(err)
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	ux.Success(fmt.Sprintf("workspace %q is valid (%d services)", cfg.Name, graph.ServiceCount))
	for i, layer := range graph.Layers {
		ux.Info(fmt.Sprintf("layer %d: %s", i, strings.Join(layer, ", ")))
	}
	return nil
}
