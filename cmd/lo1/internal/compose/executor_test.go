// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compose

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newstack-cloud/lo1/cmd/lo1/internal/event"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/proc"
)

func testProject() ProjectOptions {
	return ProjectOptions{
		ProjectName: "lo1-demo",
		FileArgs:    []string{"-f", ".lo1/compose.generated.yaml", "-f", "infra.yaml"},
		Dir:         "/workspace",
	}
}

func TestUp_Arguments(t *testing.T) {
	mock := &proc.MockManager{}
	exec := NewDefaultExecutor(testProject(), mock)

	require.NoError(t, exec.Up(context.Background(), UpOptions{Services: []string{"db", "cache"}}))

	calls := mock.GetCalls()
	require.Len(t, calls, 1)
	call := calls[0]

	assert.Equal(t, "docker", call.Name)
	assert.Equal(t, "/workspace", call.Dir)
	joined := strings.Join(call.Args, " ")
	assert.True(t, strings.HasPrefix(joined,
		"compose --progress plain --project-directory . -p lo1-demo -f .lo1/compose.generated.yaml -f infra.yaml"),
		"common prefix missing: %s", joined)
	assert.Contains(t, joined, "up -d --build db cache")
	assert.NotContains(t, joined, "--wait", "readiness must not use compose --wait")
}

func TestUp_StreamsOutput(t *testing.T) {
	mock := &proc.MockManager{
		RunStreamFunc: func(_ context.Context, _ string, _ map[string]string, stdout, stderr io.Writer, _ string, _ ...string) (int, error) {
			stdout.Write([]byte("Container db Created\n"))
			stderr.Write([]byte("Network created\n"))
			return 0, nil
		},
	}
	exec := NewDefaultExecutor(testProject(), mock)

	var mu sync.Mutex
	var chunks []OutputChunk
	err := exec.Up(context.Background(), UpOptions{
		OnOutput: func(c OutputChunk) {
			mu.Lock()
			defer mu.Unlock()
			chunks = append(chunks, c)
		},
	})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, OutputChunk{Stream: "stdout", Text: "Container db Created"}, chunks[0])
	assert.Equal(t, OutputChunk{Stream: "stderr", Text: "Network created"}, chunks[1])
}

func TestUp_NonZeroExit(t *testing.T) {
	mock := &proc.MockManager{
		RunStreamFunc: func(_ context.Context, _ string, _ map[string]string, _, stderr io.Writer, _ string, _ ...string) (int, error) {
			stderr.Write([]byte("no space left on device\n"))
			return 1, errors.New("exit status 1")
		},
	}
	exec := NewDefaultExecutor(testProject(), mock)

	err := exec.Up(context.Background(), UpOptions{})
	require.Error(t, err)

	var execErr *ExecError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "up", execErr.Op)
	assert.Contains(t, execErr.Stderr, "no space left on device")
	assert.True(t, errors.Is(err, ErrComposeFailed))
}

// psSequence returns a RunInDirFunc producing successive ps snapshots.
func psSequence(snapshots ...string) func(context.Context, string, map[string]string, string, ...string) (string, string, int, error) {
	var mu sync.Mutex
	idx := 0
	return func(_ context.Context, _ string, _ map[string]string, _ string, _ ...string) (string, string, int, error) {
		mu.Lock()
		defer mu.Unlock()
		snapshot := snapshots[idx]
		if idx < len(snapshots)-1 {
			idx++
		}
		return snapshot, "", 0, nil
	}
}

const psRunningHealthy = `{"Name":"lo1-demo-postgres-1","Service":"postgres","State":"running","Health":"healthy","ExitCode":0}
{"Name":"lo1-demo-migrator-1","Service":"migrator","State":"exited","Health":"","ExitCode":0}`

const psStarting = `{"Name":"lo1-demo-postgres-1","Service":"postgres","State":"running","Health":"starting","ExitCode":0}
{"Name":"lo1-demo-migrator-1","Service":"migrator","State":"running","Health":"","ExitCode":0}`

func TestWait_InitTaskGate(t *testing.T) {
	mock := &proc.MockManager{RunInDirFunc: psSequence(psStarting, psStarting, psRunningHealthy)}
	exec := NewDefaultExecutor(testProject(), mock)

	err := exec.Wait(context.Background(), WaitOptions{
		Services:     []string{"postgres", "migrator"},
		WaitForExit:  []string{"migrator"},
		PollInterval: 5 * time.Millisecond,
		Timeout:      5 * time.Second,
	})
	require.NoError(t, err)

	// It took at least three polls to converge.
	assert.GreaterOrEqual(t, len(mock.GetCalls()), 3)
}

func TestWait_InitTaskStillRunningIsNotReady(t *testing.T) {
	mock := &proc.MockManager{RunInDirFunc: psSequence(psStarting)}
	exec := NewDefaultExecutor(testProject(), mock)

	err := exec.Wait(context.Background(), WaitOptions{
		Services:     []string{"migrator"},
		WaitForExit:  []string{"migrator"},
		PollInterval: 5 * time.Millisecond,
		Timeout:      60 * time.Millisecond,
	})
	require.Error(t, err)

	var execErr *ExecError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, []string{"migrator"}, execErr.Pending)
}

func TestWait_InitTaskFailureIsTerminal(t *testing.T) {
	failed := `{"Name":"lo1-demo-migrator-1","Service":"migrator","State":"exited","Health":"","ExitCode":1}`
	mock := &proc.MockManager{RunInDirFunc: psSequence(failed)}
	exec := NewDefaultExecutor(testProject(), mock)

	err := exec.Wait(context.Background(), WaitOptions{
		Services:     []string{"migrator"},
		WaitForExit:  []string{"migrator"},
		PollInterval: 5 * time.Millisecond,
		Timeout:      5 * time.Second,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 1")
}

func TestWait_UnhealthyIsTerminal(t *testing.T) {
	unhealthy := `{"Name":"lo1-demo-postgres-1","Service":"postgres","State":"running","Health":"unhealthy","ExitCode":0}`
	mock := &proc.MockManager{RunInDirFunc: psSequence(unhealthy)}
	exec := NewDefaultExecutor(testProject(), mock)

	err := exec.Wait(context.Background(), WaitOptions{
		Services:     []string{"postgres"},
		PollInterval: 5 * time.Millisecond,
		Timeout:      5 * time.Second,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unhealthy")
}

func TestWait_MissingServiceKeepsPolling(t *testing.T) {
	empty := ``
	mock := &proc.MockManager{RunInDirFunc: psSequence(empty, empty, psRunningHealthy)}
	exec := NewDefaultExecutor(testProject(), mock)

	err := exec.Wait(context.Background(), WaitOptions{
		Services:     []string{"postgres"},
		PollInterval: 5 * time.Millisecond,
		Timeout:      5 * time.Second,
	})
	require.NoError(t, err)
}

func TestWait_TimeoutNamesPending(t *testing.T) {
	mock := &proc.MockManager{RunInDirFunc: psSequence(psStarting)}
	exec := NewDefaultExecutor(testProject(), mock)

	err := exec.Wait(context.Background(), WaitOptions{
		Services:     []string{"postgres", "absent"},
		PollInterval: 5 * time.Millisecond,
		Timeout:      60 * time.Millisecond,
	})
	require.Error(t, err)

	var execErr *ExecError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, []string{"absent", "postgres"}, execErr.Pending)
}

func TestPs_ParsesNDJSON(t *testing.T) {
	mock := &proc.MockManager{RunInDirFunc: psSequence(psRunningHealthy)}
	exec := NewDefaultExecutor(testProject(), mock)

	entries, err := exec.Ps(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "postgres", entries[0].Service)
	assert.Equal(t, "running", entries[0].State)
	assert.Equal(t, "healthy", entries[0].Health)
	assert.Equal(t, "migrator", entries[1].Service)
	assert.Equal(t, 0, entries[1].ExitCode)

	// ps includes stopped containers and asks for JSON.
	call := mock.GetCalls()[0]
	joined := strings.Join(call.Args, " ")
	assert.Contains(t, joined, "ps -a --format json")
}

func TestPs_UnparseableLine(t *testing.T) {
	mock := &proc.MockManager{RunInDirFunc: psSequence("{garbage")}
	exec := NewDefaultExecutor(testProject(), mock)

	_, err := exec.Ps(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrComposeFailed))
}

func TestLogs_ParsesAndAttributesLines(t *testing.T) {
	streamed := make(chan struct{})
	mock := &proc.MockManager{
		RunStreamFunc: func(ctx context.Context, _ string, _ map[string]string, stdout, _ io.Writer, _ string, args ...string) (int, error) {
			joined := strings.Join(args, " ")
			assert.Contains(t, joined, "logs -f --no-color --since 0s")
			stdout.Write([]byte("postgres-1  | ready to accept connections\n"))
			stdout.Write([]byte("api  | listening :3000\n"))
			stdout.Write([]byte("no separator line\n"))
			close(streamed)
			<-ctx.Done()
			return 0, nil
		},
	}
	exec := NewDefaultExecutor(testProject(), mock)

	var mu sync.Mutex
	var lines []event.OutputLine
	handle, err := exec.Logs(context.Background(), LogsOptions{
		OnOutput: func(l event.OutputLine) {
			mu.Lock()
			defer mu.Unlock()
			lines = append(lines, l)
		},
	})
	require.NoError(t, err)

	<-streamed
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 3
	}, 2*time.Second, 10*time.Millisecond)

	handle.Kill()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "postgres", lines[0].Service, "replica suffix is stripped")
	assert.Equal(t, "ready to accept connections", lines[0].Text)
	assert.Equal(t, "api", lines[1].Service)
	assert.Equal(t, "", lines[2].Service, "unparseable lines carry no attribution")
	assert.Equal(t, "no separator line", lines[2].Text)
}

func TestLogs_RequiresSink(t *testing.T) {
	exec := NewDefaultExecutor(testProject(), &proc.MockManager{})
	_, err := exec.Logs(context.Background(), LogsOptions{})
	require.Error(t, err)
}

func TestDown_CleanFlags(t *testing.T) {
	mock := &proc.MockManager{}
	exec := NewDefaultExecutor(testProject(), mock)

	require.NoError(t, exec.Down(context.Background(), DownOptions{}))
	require.NoError(t, exec.Down(context.Background(), DownOptions{Clean: true}))

	calls := mock.GetCalls()
	require.Len(t, calls, 2)

	plain := strings.Join(calls[0].Args, " ")
	assert.True(t, strings.HasSuffix(plain, "down"), "args: %s", plain)

	clean := strings.Join(calls[1].Args, " ")
	assert.True(t, strings.HasSuffix(clean, "down -v --remove-orphans"), "args: %s", clean)
}

func TestDown_Failure(t *testing.T) {
	mock := &proc.MockManager{
		RunInDirFunc: func(_ context.Context, _ string, _ map[string]string, _ string, _ ...string) (string, string, int, error) {
			return "", "daemon not running", 1, errors.New("exit status 1")
		},
	}
	exec := NewDefaultExecutor(testProject(), mock)

	err := exec.Down(context.Background(), DownOptions{})
	var execErr *ExecError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, "down", execErr.Op)
	assert.Contains(t, execErr.Stderr, "daemon not running")
}

func TestParseLogLine(t *testing.T) {
	tests := []struct {
		line        string
		wantService string
		wantText    string
	}{
		{"api-1  | hello", "api", "hello"},
		{"api-12  | hi", "api", "hi"},
		{"worker  |  indented", "worker", " indented"},
		{"plain text", "", "plain text"},
		{"svc  |", "svc", ""},
	}

	for _, tt := range tests {
		service, text := parseLogLine(tt.line)
		assert.Equal(t, tt.wantService, service, "line %q", tt.line)
		assert.Equal(t, tt.wantText, text, "line %q", tt.line)
	}
}
