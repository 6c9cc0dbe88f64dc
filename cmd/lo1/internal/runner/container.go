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
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/newstack-cloud/lo1/cmd/lo1/internal/event"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/proc"
	"github.com/newstack-cloud/lo1/cmd/lo1/internal/util"
)

// ErrContainerStart is returned when `docker run` fails.
var ErrContainerStart = errors.New("container runner: start failed")

// ContainerConfig is the container half of a ContainerSpec, supplied
// either by the manifest or by a plugin's container-configuration hook.
type ContainerConfig struct {
	// Image is the container image reference. Required.
	Image string

	// Cmd overrides the image command. Optional.
	Cmd []string

	// WorkingDir sets the container working directory. Optional.
	WorkingDir string

	// Binds are volume binds in "host:container" form. Optional.
	Binds []string

	// Env is the plugin- or manifest-supplied container environment.
	Env map[string]string
}

// ContainerSpec describes a single-container service.
type ContainerSpec struct {
	// WorkspaceName scopes the container name (lo1-<ws>-<svc>).
	WorkspaceName string

	// ServiceName names the service.
	ServiceName string

	// Container is the image/command/bind configuration.
	Container ContainerConfig

	// NetworkName attaches the container to the workspace network.
	NetworkName string

	// Env is layered over Container.Env, Env winning.
	Env map[string]string

	// OnOutput receives log lines from the container. May be nil.
	OnOutput func(event.OutputLine)

	// StopTimeout is the graceful stop window.
	// Default: util.DefaultContainerStopTimeout (10s)
	StopTimeout time.Duration
}

// ContainerHandle supervises one running container and its log follower.
type ContainerHandle struct {
	// ServiceName is the supervised service's name.
	ServiceName string

	// ContainerName is the docker container name (lo1-<ws>-<svc>).
	ContainerName string

	// ContainerID is the id captured from `docker run -d`.
	ContainerID string

	proc         proc.Manager
	stopTimeout  time.Duration
	followCancel context.CancelFunc
	followDone   chan struct{}
	stopOnce     sync.Once
	stopErr      error
}

// StartContainer launches a named, network-attached container and a
// log follower feeding spec.OnOutput.
//
// # Description
//
// Runs `docker run -d --name lo1-<ws>-<svc> --network <net> ...` with
// binds, working dir, and merged environment, capturing the container
// id. A follower `docker logs -f <id>` streams output until the handle
// is stopped.
//
// # Outputs
//
//   - *ContainerHandle: Supervising handle with container id
//   - error: ErrContainerStart (wrapped) when docker run fails
func StartContainer(ctx context.Context, pm proc.Manager, spec ContainerSpec) (*ContainerHandle, error) {
	if spec.Container.Image == "" {
		return nil, fmt.Errorf("%w: service %q has no image", ErrContainerStart, spec.ServiceName)
	}

	name := fmt.Sprintf("lo1-%s-%s", spec.WorkspaceName, spec.ServiceName)
	args := []string{"run", "-d", "--name", name}
	if spec.NetworkName != "" {
		args = append(args, "--network", spec.NetworkName)
	}
	for _, bind := range spec.Container.Binds {
		args = append(args, "-v", bind)
	}
	if spec.Container.WorkingDir != "" {
		args = append(args, "-w", spec.Container.WorkingDir)
	}
	for _, kv := range mergedEnvList(spec.Container.Env, spec.Env) {
		args = append(args, "-e", kv)
	}
	args = append(args, spec.Container.Image)
	args = append(args, spec.Container.Cmd...)

	stdout, stderr, _, err := pm.Run(ctx, "docker", args...)
	if err != nil {
		return nil, fmt.Errorf("%w: service %q: %v: %s",
			ErrContainerStart, spec.ServiceName, err, strings.TrimSpace(stderr))
	}
	containerID := strings.TrimSpace(stdout)

	stopTimeout := spec.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = util.DefaultContainerStopTimeout
	}

	h := &ContainerHandle{
		ServiceName:   spec.ServiceName,
		ContainerName: name,
		ContainerID:   containerID,
		proc:          pm,
		stopTimeout:   stopTimeout,
		followDone:    make(chan struct{}),
	}
	h.startLogFollower(spec)
	return h, nil
}

// startLogFollower streams `docker logs -f` into OnOutput.
func (h *ContainerHandle) startLogFollower(spec ContainerSpec) {
	followCtx, cancel := context.WithCancel(context.Background())
	h.followCancel = cancel

	lw := util.NewLineWriter(func(line string) {
		if spec.OnOutput == nil {
			return
		}
		spec.OnOutput(event.OutputLine{
			Service:   spec.ServiceName,
			Stream:    event.StreamStdout,
			Text:      line,
			Timestamp: time.Now(),
		})
	})

	go func() {
		defer close(h.followDone)
		_, _ = h.proc.RunStream(followCtx, "", nil, lw, lw, "docker", "logs", "-f", h.ContainerID)
		lw.Flush()
	}()
}

// Stop stops and removes the container, then kills the log follower.
//
// # Description
//
// Runs `docker stop -t <secs>` followed by `docker rm`, both tolerant
// of a container that is already stopped or removed. The log follower
// is cancelled last so trailing lines are delivered. Idempotent.
func (h *ContainerHandle) Stop(ctx context.Context, timeout time.Duration) error {
	h.stopOnce.Do(func() {
		if timeout <= 0 {
			timeout = h.stopTimeout
		}
		secs := int(math.Ceil(timeout.Seconds()))

		_, stderr, _, err := h.proc.Run(ctx, "docker", "stop", "-t", fmt.Sprintf("%d", secs), h.ContainerName)
		if err != nil && !isAbsentContainerError(stderr) {
			h.stopErr = util.NewCommandError("docker stop "+h.ContainerName, -1, stderr, err)
		}

		_, stderr, _, err = h.proc.Run(ctx, "docker", "rm", h.ContainerName)
		if err != nil && !isAbsentContainerError(stderr) && h.stopErr == nil {
			h.stopErr = util.NewCommandError("docker rm "+h.ContainerName, -1, stderr, err)
		}

		if h.followCancel != nil {
			h.followCancel()
			<-h.followDone
		}
	})
	return h.stopErr
}

// isAbsentContainerError matches docker's "no such container" family of
// errors, which Stop treats as success.
func isAbsentContainerError(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no such container") ||
		strings.Contains(s, "is not running") ||
		strings.Contains(s, "already in progress")
}

// mergedEnvList merges base and override maps into sorted KEY=VALUE
// pairs, override winning.
func mergedEnvList(base, override map[string]string) []string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}
