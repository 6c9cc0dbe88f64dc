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
Package dag builds the workspace dependency graph and its parallel
execution layers.

The graph is validated (references, cycles) before layering so that
diagnostics name the offending services rather than failing generically
during the topological sort. Layer membership is deterministic:
services inside a layer are sorted lexicographically, and the
orchestrator preserves that order as its stable start order.
*/
package dag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/newstack-cloud/lo1/cmd/lo1/config"
)

// =============================================================================
// Error Definitions
// =============================================================================

// UnknownDependencyError reports a dependsOn reference to a service
// that does not exist in the manifest.
type UnknownDependencyError struct {
	// Service is the service with the bad reference.
	Service string

	// Dependency is the missing target name.
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("dag: service %q depends on unknown service %q", e.Service, e.Dependency)
}

// CycleError reports a dependency cycle with its full reconstructed path.
type CycleError struct {
	// Path lists the cycle members in order, repeating the entry node
	// at the end: ["a", "b", "c", "a"].
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dag: dependency cycle detected: %s", strings.Join(e.Path, " -> "))
}

var (
	_ error = (*UnknownDependencyError)(nil)
	_ error = (*CycleError)(nil)
)

// =============================================================================
// Graph
// =============================================================================

// Graph holds the computed execution layers for a workspace.
type Graph struct {
	// Layers is the ordered list of parallel start groups. Every member
	// of a layer depends only on services in strictly earlier layers.
	Layers [][]string

	// ServiceCount is the total number of services across all layers.
	ServiceCount int
}

// Build validates the dependency references of cfg, rejects cycles,
// and produces execution layers via Kahn's algorithm.
//
// # Outputs
//
//   - *Graph: Layers in start order, lexicographic within a layer
//   - error: *UnknownDependencyError or *CycleError
func Build(cfg *config.WorkspaceConfig) (*Graph, error) {
	if err := validateReferences(cfg); err != nil {
		return nil, err
	}
	if err := detectCycle(cfg); err != nil {
		return nil, err
	}
	return layer(cfg)
}

// validateReferences checks every dependsOn entry against the service map.
func validateReferences(cfg *config.WorkspaceConfig) error {
	for _, name := range sortedNames(cfg) {
		for _, dep := range cfg.Services[name].DependsOn {
			if _, ok := cfg.Services[dep]; !ok {
				return &UnknownDependencyError{Service: name, Dependency: dep}
			}
		}
	}
	return nil
}

// DFS colors for cycle detection.
const (
	white = iota // unvisited
	gray         // on the current DFS stack
	black        // fully explored
)

// detectCycle runs a three-color DFS and reconstructs the cycle path
// via parent pointers when a gray node is re-entered.
//
// This runs before the topological sort purely for diagnostic quality:
// Kahn's algorithm would notice a cycle but could not name its members.
func detectCycle(cfg *config.WorkspaceConfig) error {
	colors := make(map[string]int, len(cfg.Services))
	parents := make(map[string]string, len(cfg.Services))

	var visit func(name string) *CycleError
	visit = func(name string) *CycleError {
		colors[name] = gray
		deps := append([]string(nil), cfg.Services[name].DependsOn...)
		sort.Strings(deps)
		for _, dep := range deps {
			switch colors[dep] {
			case white:
				parents[dep] = name
				if err := visit(dep); err != nil {
					return err
				}
			case gray:
				return &CycleError{Path: reconstructCycle(parents, name, dep)}
			}
		}
		colors[name] = black
		return nil
	}

	for _, name := range sortedNames(cfg) {
		if colors[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// reconstructCycle walks parent pointers from `from` back to `entry`
// and returns the cycle path entry -> ... -> from -> entry.
func reconstructCycle(parents map[string]string, from, entry string) []string {
	var reversed []string
	for node := from; ; node = parents[node] {
		reversed = append(reversed, node)
		if node == entry {
			break
		}
	}
	path := make([]string, 0, len(reversed)+1)
	for i := len(reversed) - 1; i >= 0; i-- {
		path = append(path, reversed[i])
	}
	return append(path, entry)
}

// layer peels zero-in-degree services off the graph layer by layer.
func layer(cfg *config.WorkspaceConfig) (*Graph, error) {
	inDegree := make(map[string]int, len(cfg.Services))
	dependents := make(map[string][]string, len(cfg.Services))

	for name, svc := range cfg.Services {
		if _, ok := inDegree[name]; !ok {
			inDegree[name] = 0
		}
		for _, dep := range svc.DependsOn {
			inDegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	var current []string
	for name, deg := range inDegree {
		if deg == 0 {
			current = append(current, name)
		}
	}
	sort.Strings(current)

	graph := &Graph{}
	peeled := 0
	for len(current) > 0 {
		graph.Layers = append(graph.Layers, current)
		peeled += len(current)

		var next []string
		for _, name := range current {
			for _, dependent := range dependents[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		sort.Strings(next)
		current = next
	}

	// Cycles were rejected above; an unpeeled node here would mean the
	// two traversals disagree.
	if peeled != len(cfg.Services) {
		var remaining []string
		for name, deg := range inDegree {
			if deg > 0 {
				remaining = append(remaining, name)
			}
		}
		sort.Strings(remaining)
		return nil, &CycleError{Path: remaining}
	}

	graph.ServiceCount = peeled
	return graph, nil
}

// sortedNames returns the service names in lexicographic order.
func sortedNames(cfg *config.WorkspaceConfig) []string {
	names := make([]string, 0, len(cfg.Services))
	for name := range cfg.Services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
