// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package proc

import (
	"bytes"
	"context"
	"runtime"
	"strings"
	"testing"
	"time"
)

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test uses POSIX tools")
	}
}

func TestDefaultManager_Run(t *testing.T) {
	skipOnWindows(t)

	pm := NewDefaultManager()
	stdout, _, code, err := pm.Run(context.Background(), "sh", "-c", "echo hello")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
	if strings.TrimSpace(stdout) != "hello" {
		t.Errorf("stdout = %q, want hello", stdout)
	}
}

func TestDefaultManager_Run_NonZeroExit(t *testing.T) {
	skipOnWindows(t)

	pm := NewDefaultManager()
	_, stderr, code, err := pm.Run(context.Background(), "sh", "-c", "echo boom 1>&2; exit 4")
	if err == nil {
		t.Fatal("Run() expected error for non-zero exit")
	}
	if code != 4 {
		t.Errorf("exit code = %d, want 4", code)
	}
	if !strings.Contains(stderr, "boom") {
		t.Errorf("stderr = %q, want to contain boom", stderr)
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error should carry stderr, got %v", err)
	}
}

func TestDefaultManager_RunInDir_EnvOverride(t *testing.T) {
	skipOnWindows(t)

	t.Setenv("PROC_TEST_VAR", "ambient")
	pm := NewDefaultManager()

	stdout, _, _, err := pm.RunInDir(context.Background(), t.TempDir(),
		map[string]string{"PROC_TEST_VAR": "override"},
		"sh", "-c", "echo $PROC_TEST_VAR; pwd")
	if err != nil {
		t.Fatalf("RunInDir() error = %v", err)
	}

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	if lines[0] != "override" {
		t.Errorf("env override lost: %q", lines[0])
	}
}

func TestDefaultManager_RunStream(t *testing.T) {
	skipOnWindows(t)

	pm := NewDefaultManager()
	var stdout, stderr bytes.Buffer

	code, err := pm.RunStream(context.Background(), "", nil, &stdout, &stderr,
		"sh", "-c", "echo out; echo err 1>&2")
	if err != nil {
		t.Fatalf("RunStream() error = %v", err)
	}
	if code != 0 {
		t.Errorf("exit code = %d", code)
	}
	if strings.TrimSpace(stdout.String()) != "out" || strings.TrimSpace(stderr.String()) != "err" {
		t.Errorf("streams = %q / %q", stdout.String(), stderr.String())
	}
}

func TestDefaultManager_RunStream_CancellationIsNotAnError(t *testing.T) {
	skipOnWindows(t)

	pm := NewDefaultManager()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var buf bytes.Buffer
	_, err := pm.RunStream(ctx, "", nil, &buf, &buf, "sh", "-c", "sleep 30")
	if err != nil {
		t.Errorf("cancelled stream should report nil error, got %v", err)
	}
}

func TestMockManager_RecordsCalls(t *testing.T) {
	mock := &MockManager{}

	mock.Run(context.Background(), "docker", "ps")
	mock.RunInDir(context.Background(), "/tmp", map[string]string{"A": "1"}, "docker", "compose", "up")

	calls := mock.GetCalls()
	if len(calls) != 2 {
		t.Fatalf("recorded %d calls, want 2", len(calls))
	}
	if calls[0].Method != "Run" || calls[0].Name != "docker" {
		t.Errorf("call 0 = %+v", calls[0])
	}
	if calls[1].Dir != "/tmp" || calls[1].Env["A"] != "1" {
		t.Errorf("call 1 = %+v", calls[1])
	}

	mock.Reset()
	if len(mock.GetCalls()) != 0 {
		t.Error("Reset should clear recorded calls")
	}
}
