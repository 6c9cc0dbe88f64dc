// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newstack-cloud/lo1/cmd/lo1/internal/event"
)

type lineSink struct {
	mu    sync.Mutex
	lines []event.OutputLine
}

func (s *lineSink) add(line event.OutputLine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lines = append(s.lines, line)
}

func (s *lineSink) texts(stream event.Stream) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, l := range s.lines {
		if l.Stream == stream {
			out = append(out, l.Text)
		}
	}
	return out
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("test uses POSIX shell syntax")
	}
}

func TestStartProcess_CapturesOutput(t *testing.T) {
	skipOnWindows(t)

	sink := &lineSink{}
	h, err := StartProcess(context.Background(), ProcessSpec{
		ServiceName: "api",
		Command:     "echo out-line; echo err-line 1>&2",
		OnOutput:    sink.add,
	})
	require.NoError(t, err)
	require.Greater(t, h.Pid, 0)

	code, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, code)

	assert.Equal(t, []string{"out-line"}, sink.texts(event.StreamStdout))
	assert.Equal(t, []string{"err-line"}, sink.texts(event.StreamStderr))
	assert.False(t, h.Running())

	// Lines carry attribution.
	sink.mu.Lock()
	defer sink.mu.Unlock()
	for _, l := range sink.lines {
		assert.Equal(t, "api", l.Service)
		assert.False(t, l.Timestamp.IsZero())
	}
}

func TestStartProcess_SpawnFailure(t *testing.T) {
	// A nonexistent working directory makes the shell spawn fail.
	_, err := StartProcess(context.Background(), ProcessSpec{
		ServiceName: "api",
		Command:     "true",
		Cwd:         "/this/path/does/not/exist",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProcessSpawn))
}

func TestStartProcess_EnvUnion(t *testing.T) {
	skipOnWindows(t)

	t.Setenv("RUNNER_AMBIENT", "parent")
	sink := &lineSink{}
	h, err := StartProcess(context.Background(), ProcessSpec{
		ServiceName: "api",
		Command:     "echo $RUNNER_AMBIENT:$RUNNER_SUPPLIED",
		Env:         map[string]string{"RUNNER_SUPPLIED": "child"},
		OnOutput:    sink.add,
	})
	require.NoError(t, err)
	_, err = h.Wait(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"parent:child"}, sink.texts(event.StreamStdout))
}

func TestProcessHandle_ExitCode(t *testing.T) {
	skipOnWindows(t)

	h, err := StartProcess(context.Background(), ProcessSpec{
		ServiceName: "api",
		Command:     "exit 7",
	})
	require.NoError(t, err)

	code, waitErr := h.Wait(context.Background())
	assert.Equal(t, 7, code)
	assert.Error(t, waitErr, "non-zero exit surfaces from Wait")
}

func TestProcessHandle_StopGraceful(t *testing.T) {
	skipOnWindows(t)

	// The shell and its sleep child both exit on SIGTERM to the group.
	h, err := StartProcess(context.Background(), ProcessSpec{
		ServiceName: "api",
		Command:     "sleep 60",
	})
	require.NoError(t, err)
	require.True(t, h.Running())

	start := time.Now()
	_, err = h.Stop(context.Background(), 5*time.Second)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 3*time.Second, "graceful stop should not hit the kill timeout")
	assert.False(t, h.Running())
}

func TestProcessHandle_StopEscalatesToKill(t *testing.T) {
	skipOnWindows(t)

	// Trapping and ignoring SIGTERM forces the SIGKILL path.
	h, err := StartProcess(context.Background(), ProcessSpec{
		ServiceName: "stubborn",
		Command:     `trap "" TERM; while true; do sleep 1; done`,
	})
	require.NoError(t, err)

	// Give the shell a moment to install the trap.
	time.Sleep(200 * time.Millisecond)

	start := time.Now()
	_, err = h.Stop(context.Background(), 300*time.Millisecond)
	require.NoError(t, err)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 250*time.Millisecond, "kill fires only after the graceful window")
	assert.Less(t, elapsed, 10*time.Second)
	assert.False(t, h.Running())
}

func TestProcessHandle_StopIdempotent(t *testing.T) {
	skipOnWindows(t)

	h, err := StartProcess(context.Background(), ProcessSpec{
		ServiceName: "api",
		Command:     "sleep 60",
	})
	require.NoError(t, err)

	_, err = h.Stop(context.Background(), time.Second)
	require.NoError(t, err)
	_, err = h.Stop(context.Background(), time.Second)
	require.NoError(t, err)
}
