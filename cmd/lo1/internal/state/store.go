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
Package state persists the workspace run record under
<workspaceDir>/.lo1/state.json.

The state file exists so a second CLI invocation can recover a run it
did not start: `lo1 down` from another terminal, or stale cleanup when
a previous `up` crashed. A skeleton is written before the compose phases
start (so a failed run is recoverable), the full record once service
layers complete, and it is removed on clean teardown.
*/
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// WorkDirName is the orchestrator-owned directory inside a workspace.
const WorkDirName = ".lo1"

// FileName is the state file name inside WorkDirName.
const FileName = "state.json"

// RunnerKind names the mechanism supervising a service.
type RunnerKind string

const (
	RunnerProcess   RunnerKind = "process"
	RunnerContainer RunnerKind = "container"
	RunnerCompose   RunnerKind = "compose"
)

// ServiceState records how one service is supervised.
type ServiceState struct {
	// Runner is the supervising mechanism.
	Runner RunnerKind `json:"runner"`

	// Pid is the host process id (process runner only).
	Pid int `json:"pid,omitempty"`

	// ContainerID identifies the container (container runner only).
	ContainerID string `json:"containerId,omitempty"`
}

// WorkspaceState is the persisted run record.
type WorkspaceState struct {
	// WorkspaceName is the manifest workspace name.
	WorkspaceName string `json:"workspaceName"`

	// ProjectName is the compose project identifier (lo1-<name>).
	ProjectName string `json:"projectName"`

	// FileArgs is the compose -f argument list of the run.
	FileArgs []string `json:"fileArgs"`

	// WorkspaceDir is the absolute workspace directory.
	WorkspaceDir string `json:"workspaceDir"`

	// Services maps service names to their runner records.
	Services map[string]ServiceState `json:"services"`
}

// Store reads and writes the state file for one workspace directory.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at the workspace directory.
func NewStore(workspaceDir string) *Store {
	return &Store{dir: workspaceDir}
}

// Path returns the absolute state file path.
func (s *Store) Path() string {
	return filepath.Join(s.dir, WorkDirName, FileName)
}

// Exists reports whether a state file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path())
	return err == nil
}

// Load reads and parses the state file.
//
// Returns (nil, nil) when no state file exists; corrupt files return
// an error so stale cleanup can surface the problem instead of
// silently ignoring a half-written record.
func (s *Store) Load() (*WorkspaceState, error) {
	data, err := os.ReadFile(s.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("state: read %s: %w", s.Path(), err)
	}

	var st WorkspaceState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("state: parse %s: %w", s.Path(), err)
	}
	if st.Services == nil {
		st.Services = map[string]ServiceState{}
	}
	return &st, nil
}

// Save writes the state file as pretty-printed JSON, creating the
// .lo1 directory when needed.
func (s *Store) Save(st *WorkspaceState) error {
	if err := os.MkdirAll(filepath.Dir(s.Path()), 0750); err != nil {
		return fmt.Errorf("state: create %s: %w", filepath.Dir(s.Path()), err)
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("state: encode: %w", err)
	}
	data = append(data, '\n')

	if err := os.WriteFile(s.Path(), data, 0640); err != nil {
		return fmt.Errorf("state: write %s: %w", s.Path(), err)
	}
	return nil
}

// Remove deletes the state file. Removing an absent file is not an error.
func (s *Store) Remove() error {
	err := os.Remove(s.Path())
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("state: remove %s: %w", s.Path(), err)
	}
	return nil
}
