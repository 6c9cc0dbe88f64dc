// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package state

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState(dir string) *WorkspaceState {
	return &WorkspaceState{
		WorkspaceName: "demo",
		ProjectName:   "lo1-demo",
		FileArgs:      []string{"-f", filepath.Join(dir, ".lo1", "compose.generated.yaml")},
		WorkspaceDir:  dir,
		Services: map[string]ServiceState{
			"api": {Runner: RunnerProcess, Pid: 4242},
			"db":  {Runner: RunnerCompose},
			"ml":  {Runner: RunnerContainer, ContainerID: "abc123"},
		},
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	require.NoError(t, store.Save(sampleState(dir)))
	require.True(t, store.Exists())

	loaded, err := store.Load()
	require.NoError(t, err)
	require.NotNil(t, loaded)

	assert.Equal(t, "demo", loaded.WorkspaceName)
	assert.Equal(t, "lo1-demo", loaded.ProjectName)
	assert.Equal(t, RunnerProcess, loaded.Services["api"].Runner)
	assert.Equal(t, 4242, loaded.Services["api"].Pid)
	assert.Equal(t, "abc123", loaded.Services["ml"].ContainerID)
}

func TestStore_PrettyPrinted(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	require.NoError(t, store.Save(sampleState(dir)))

	data, err := os.ReadFile(store.Path())
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(data), "\n  \"workspaceName\""),
		"state file should be indented JSON, got:\n%s", data)
	assert.True(t, strings.HasSuffix(string(data), "\n"))
}

func TestStore_LoadAbsentReturnsNil(t *testing.T) {
	store := NewStore(t.TempDir())

	st, err := store.Load()
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.False(t, store.Exists())
}

func TestStore_LoadCorruptFails(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, WorkDirName), 0750))
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0640))

	_, err := store.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}

func TestStore_LoadNilServicesMap(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, WorkDirName), 0750))
	require.NoError(t, os.WriteFile(store.Path(),
		[]byte(`{"workspaceName":"w","projectName":"lo1-w"}`), 0640))

	st, err := store.Load()
	require.NoError(t, err)
	assert.NotNil(t, st.Services, "services map must never be nil after Load")
}

func TestStore_RemoveIdempotent(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	require.NoError(t, store.Save(sampleState(dir)))
	require.NoError(t, store.Remove())
	assert.False(t, store.Exists())

	// Second remove is a no-op.
	require.NoError(t, store.Remove())
}
