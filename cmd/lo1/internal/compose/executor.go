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
Package compose drives the local container-compose tool and generates
the workspace compose document.

The Executor abstracts all `docker compose` interactions so the
orchestrator can be tested without a container daemon. Operations share
a common invocation prefix:

	docker compose --progress plain --project-directory . -p <project> -f <file>...

Readiness is deliberately not delegated to `up --wait`: init-task
services must be treated as ready only once they have exited zero,
which `--wait` cannot express. Wait polls `ps --format json` instead.
*/
package compose

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/newstack-cloud/lo1/cmd/lo1/internal/event"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/proc"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/util"
)

// =============================================================================
// Error Definitions
// =============================================================================

// ErrComposeFailed is the sentinel wrapped by every ExecError.
var ErrComposeFailed = errors.New("compose failed")

// ExecError reports a failed compose invocation or readiness wait.
type ExecError struct {
	// Op names the operation ("up", "wait", "logs", "down", "ps").
	Op string

	// Stderr is the captured error output (trimmed, may be empty).
	Stderr string

	// Pending lists services still not ready when a wait timed out.
	Pending []string

	// Wrapped is the underlying error (may be nil).
	Wrapped error
}

func (e *ExecError) Error() string {
	msg := fmt.Sprintf("compose %s failed", e.Op)
	if len(e.Pending) > 0 {
		msg += fmt.Sprintf(": services not ready: %s", strings.Join(e.Pending, ", "))
	}
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	if e.Stderr == "" && len(e.Pending) == 0 && e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

func (e *ExecError) Unwrap() error {
	if e.Wrapped != nil {
		return e.Wrapped
	}
	return ErrComposeFailed
}

func (e *ExecError) Is(target error) bool {
	return target == ErrComposeFailed
}

var _ error = (*ExecError)(nil)

// =============================================================================
// Supporting Types
// =============================================================================

// ProjectOptions identify the compose project every operation acts on.
type ProjectOptions struct {
	// ProjectName is the compose -p value (lo1-<workspace>).
	ProjectName string

	// FileArgs is the flattened -f argument list:
	// ["-f", "a.yaml", "-f", "b.yaml"].
	FileArgs []string

	// Dir is the working directory for compose invocations.
	Dir string
}

// OutputChunk is one line of compose progress output.
type OutputChunk struct {
	// Stream is "stdout" or "stderr".
	Stream string

	// Text is the line content.
	Text string
}

// UpOptions configure the Up operation.
type UpOptions struct {
	// Services limits which services to start. Empty means all.
	Services []string

	// OnOutput receives compose progress lines. May be nil.
	OnOutput func(OutputChunk)

	// Timeout overrides the invocation timeout.
	// Default: util.DefaultComposeTimeout
	Timeout time.Duration
}

// WaitOptions configure the readiness Wait.
type WaitOptions struct {
	// Services are the compose service names to wait for. Required.
	Services []string

	// WaitForExit lists init-task services that are ready only once
	// they have exited with code zero.
	WaitForExit []string

	// PollInterval is the ps polling cadence. Default: 2s.
	PollInterval time.Duration

	// Timeout bounds the whole wait. Default: util.DefaultComposeWaitTimeout.
	Timeout time.Duration
}

// DownOptions configure the Down operation.
type DownOptions struct {
	// Clean also removes volumes and orphan containers (-v --remove-orphans).
	Clean bool

	// Timeout overrides the invocation timeout.
	Timeout time.Duration
}

// LogsOptions configure the Logs follower.
type LogsOptions struct {
	// Services limits which services to follow. Empty means all.
	Services []string

	// OnOutput receives parsed, attributed log lines. Required.
	OnOutput func(event.OutputLine)
}

// LogsHandle controls a running log follower.
type LogsHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Kill terminates the follower and waits for it to drain.
func (h *LogsHandle) Kill() {
	h.cancel()
	<-h.done
}

// PsEntry is one parsed line of `ps --format json` output.
type PsEntry struct {
	// Name is the container name.
	Name string `json:"Name"`

	// Service is the compose service name.
	Service string `json:"Service"`

	// State is the container state ("running", "exited", ...).
	State string `json:"State"`

	// Health is the health check status ("", "healthy", "unhealthy",
	// "starting").
	Health string `json:"Health"`

	// ExitCode is meaningful when State is "exited".
	ExitCode int `json:"ExitCode"`
}

// =============================================================================
// Executor
// =============================================================================

// Executor abstracts the compose tool operations used by the
// orchestrator.
//
// # Thread Safety
//
// Implementations must serialize mutating operations (Up, Down);
// read-only operations (Ps, Logs, Wait) may run concurrently.
type Executor interface {
	// Up starts services detached with --build, streaming progress.
	Up(ctx context.Context, opts UpOptions) error

	// Wait polls Ps until every target service is ready, honoring
	// init-task (wait-for-exit) semantics.
	Wait(ctx context.Context, opts WaitOptions) error

	// Logs starts a follower streaming attributed service log lines.
	Logs(ctx context.Context, opts LogsOptions) (*LogsHandle, error)

	// Ps returns the current state of the project's containers.
	Ps(ctx context.Context) ([]PsEntry, error)

	// Down stops and removes the project's containers. Idempotent.
	Down(ctx context.Context, opts DownOptions) error
}

// DefaultExecutor implements Executor by shelling out to docker.
type DefaultExecutor struct {
	project ProjectOptions
	proc    proc.Manager
	mu      sync.Mutex
}

// NewDefaultExecutor creates an Executor bound to one compose project.
func NewDefaultExecutor(project ProjectOptions, pm proc.Manager) *DefaultExecutor {
	return &DefaultExecutor{project: project, proc: pm}
}

// baseArgs builds the shared invocation prefix.
func (e *DefaultExecutor) baseArgs() []string {
	args := []string{"compose", "--progress", "plain", "--project-directory", ".", "-p", e.project.ProjectName}
	return append(args, e.project.FileArgs...)
}

// Up runs `up -d --build [services...]`, streaming progress lines.
//
// # Description
//
// Cancellation via ctx kills the child; no SIGTERM is sent first. A
// non-zero exit yields
// an *ExecError carrying captured stderr. Readiness is NOT verified
// here; call Wait afterwards.
func (e *DefaultExecutor) Up(ctx context.Context, opts UpOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	args := append(e.baseArgs(), "up", "-d", "--build")
	args = append(args, opts.Services...)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = util.DefaultComposeTimeout
	}
	upCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stderrTail strings.Builder
	stdout := util.NewLineWriter(func(line string) {
		notify(opts.OnOutput, "stdout", line)
	})
	stderr := util.NewLineWriter(func(line string) {
		stderrTail.WriteString(line + "\n")
		notify(opts.OnOutput, "stderr", line)
	})

	exitCode, err := e.proc.RunStream(upCtx, e.project.Dir, nil, stdout, stderr, "docker", args...)
	stdout.Flush()
	stderr.Flush()

	if ctx.Err() != nil {
		return &ExecError{Op: "up", Wrapped: ctx.Err()}
	}
	if err != nil || exitCode != 0 {
		return &ExecError{Op: "up", Stderr: tail(stderrTail.String(), 20), Wrapped: err}
	}
	return nil
}

// Wait polls `ps --format json` until all target services are ready.
//
// # Description
//
// Readiness rules per service:
//
//   - not in WaitForExit: State=running with Health empty or healthy,
//     OR State=exited with ExitCode=0.
//   - in WaitForExit (init task): State=exited with ExitCode=0 only;
//     a still-running init task counts as not ready.
//   - Health=unhealthy or a non-zero exit code fails immediately.
//   - missing, created, starting, restarting: keep polling.
//
// Timeout yields an *ExecError naming the still-pending services.
func (e *DefaultExecutor) Wait(ctx context.Context, opts WaitOptions) error {
	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = util.DefaultComposeWaitTimeout
	}

	waitForExit := make(map[string]bool, len(opts.WaitForExit))
	for _, name := range opts.WaitForExit {
		waitForExit[name] = true
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pending := append([]string(nil), opts.Services...)
	for {
		if waitCtx.Err() != nil {
			sort.Strings(pending)
			return &ExecError{Op: "wait", Pending: pending, Wrapped: waitCtx.Err()}
		}

		entries, err := e.Ps(waitCtx)
		if err == nil {
			var failed error
			pending, failed = evaluateReadiness(opts.Services, waitForExit, entries)
			if failed != nil {
				return failed
			}
			if len(pending) == 0 {
				return nil
			}
		}

		sleepWithContext(waitCtx, pollInterval)
	}
}

// evaluateReadiness classifies every target service against the ps
// snapshot, returning still-pending services or a terminal failure.
func evaluateReadiness(services []string, waitForExit map[string]bool, entries []PsEntry) ([]string, error) {
	byService := make(map[string]PsEntry, len(entries))
	for _, entry := range entries {
		byService[entry.Service] = entry
	}

	var pending []string
	for _, name := range services {
		entry, found := byService[name]
		if !found {
			pending = append(pending, name)
			continue
		}

		if entry.Health == "unhealthy" {
			return nil, &ExecError{
				Op:     "wait",
				Stderr: fmt.Sprintf("service %q is unhealthy", name),
			}
		}
		if entry.State == "exited" && entry.ExitCode != 0 {
			return nil, &ExecError{
				Op:     "wait",
				Stderr: fmt.Sprintf("service %q exited with code %d", name, entry.ExitCode),
			}
		}

		if waitForExit[name] {
			// Init task: only a clean exit counts.
			if entry.State == "exited" && entry.ExitCode == 0 {
				continue
			}
			pending = append(pending, name)
			continue
		}

		switch {
		case entry.State == "running" && (entry.Health == "" || entry.Health == "healthy"):
			// Ready.
		case entry.State == "exited" && entry.ExitCode == 0:
			// One-shot service that finished cleanly.
		default:
			pending = append(pending, name)
		}
	}
	return pending, nil
}

// logLinePattern splits "service-1  | text" follower output.
var logLinePattern = regexp.MustCompile(`^(\S+)\s+\|\s?(.*)$`)

// replicaSuffix strips the compose replica index from container names.
var replicaSuffix = regexp.MustCompile(`-\d+$`)

// Logs starts `logs -f --no-color --since 0s` and parses each line into
// an attributed OutputLine. Returns a handle whose Kill terminates the
// follower.
func (e *DefaultExecutor) Logs(ctx context.Context, opts LogsOptions) (*LogsHandle, error) {
	if opts.OnOutput == nil {
		return nil, &ExecError{Op: "logs", Stderr: "OnOutput is required"}
	}

	args := append(e.baseArgs(), "logs", "-f", "--no-color", "--since", "0s")
	args = append(args, opts.Services...)

	followCtx, cancel := context.WithCancel(ctx)
	handle := &LogsHandle{cancel: cancel, done: make(chan struct{})}

	makeWriter := func(stream event.Stream) *util.LineWriter {
		return util.NewLineWriter(func(line string) {
			service, text := parseLogLine(line)
			opts.OnOutput(event.OutputLine{
				Service:   service,
				Stream:    stream,
				Text:      text,
				Timestamp: time.Now(),
			})
		})
	}
	stdout := makeWriter(event.StreamStdout)
	stderr := makeWriter(event.StreamStderr)

	go func() {
		defer close(handle.done)
		_, _ = e.proc.RunStream(followCtx, e.project.Dir, nil, stdout, stderr, "docker", args...)
		stdout.Flush()
		stderr.Flush()
	}()

	return handle, nil
}

// parseLogLine splits a compose follower line into service and text,
// stripping the replica suffix from the service column.
func parseLogLine(line string) (service, text string) {
	m := logLinePattern.FindStringSubmatch(line)
	if m == nil {
		return "", line
	}
	return replicaSuffix.ReplaceAllString(m[1], ""), m[2]
}

// Ps runs `ps -a --format json` and parses the NDJSON output.
func (e *DefaultExecutor) Ps(ctx context.Context) ([]PsEntry, error) {
	args := append(e.baseArgs(), "ps", "-a", "--format", "json")

	stdout, stderr, _, err := e.proc.RunInDir(ctx, e.project.Dir, nil, "docker", args...)
	if err != nil {
		return nil, &ExecError{Op: "ps", Stderr: strings.TrimSpace(stderr), Wrapped: err}
	}
	return parsePsOutput(stdout)
}

// parsePsOutput parses one JSON object per line, skipping blanks.
func parsePsOutput(out string) ([]PsEntry, error) {
	var entries []PsEntry
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var entry PsEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, &ExecError{Op: "ps", Stderr: "unparseable ps line: " + line, Wrapped: err}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Down runs `down`, adding -v --remove-orphans when Clean. Idempotent:
// a project with nothing running downs successfully.
func (e *DefaultExecutor) Down(ctx context.Context, opts DownOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	args := append(e.baseArgs(), "down")
	if opts.Clean {
		args = append(args, "-v", "--remove-orphans")
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = util.DefaultComposeTimeout
	}
	downCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	_, stderr, exitCode, err := e.proc.RunInDir(downCtx, e.project.Dir, nil, "docker", args...)
	if err != nil || exitCode != 0 {
		return &ExecError{Op: "down", Stderr: tail(stderr, 20), Wrapped: err}
	}
	return nil
}

// notify forwards one chunk when a sink is configured.
func notify(onOutput func(OutputChunk), stream, text string) {
	if onOutput != nil {
		onOutput(OutputChunk{Stream: stream, Text: text})
	}
}

// tail returns the last n lines of s.
func tail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// sleepWithContext waits for the duration or context cancellation.
func sleepWithContext(ctx context.Context, duration time.Duration) {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Compile-time interface compliance check.
var _ Executor = (*DefaultExecutor)(nil)
