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
Package event defines the orchestrator's typed event stream.

Events flow from the orchestrator and runners to a single consumer
(the CLI) through a buffered Bus. Service output events are droppable
under back-pressure; phase, service-state, hook, and error events are
never dropped.
*/
package event

import (
	"fmt"
	"time"
)

// Type discriminates event variants.
type Type string

const (
	TypePhase   Type = "phase"
	TypeService Type = "service"
	TypeHook    Type = "hook"
	TypeOutput  Type = "output"
	TypeError   Type = "error"
)

// ServiceStatus is the lifecycle state reported in ServiceEvents.
type ServiceStatus string

const (
	StatusStarting ServiceStatus = "starting"
	StatusStarted  ServiceStatus = "started"
	StatusStopping ServiceStatus = "stopping"
	StatusStopped  ServiceStatus = "stopped"
)

// Stream identifies which output stream a line came from.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Event is the sealed interface over all orchestrator event variants.
type Event interface {
	// Type returns the variant discriminator.
	Type() Type

	// String renders a single human-readable line.
	String() string
}

// PhaseEvent announces an orchestration phase transition.
type PhaseEvent struct {
	// Phase is the human-readable phase name ("Starting infrastructure").
	Phase string
}

func (e PhaseEvent) Type() Type     { return TypePhase }
func (e PhaseEvent) String() string { return e.Phase }

// ServiceEvent reports a service lifecycle transition.
type ServiceEvent struct {
	// Service is the manifest service name.
	Service string

	// Status is the new lifecycle state.
	Status ServiceStatus
}

func (e ServiceEvent) Type() Type     { return TypeService }
func (e ServiceEvent) String() string { return fmt.Sprintf("%s: %s", e.Service, e.Status) }

// HookEvent reports output from a lifecycle hook.
type HookEvent struct {
	// Hook is the hook name ("preStart", "postInfrastructure", ...).
	Hook string

	// Output is one chunk of hook output.
	Output string
}

func (e HookEvent) Type() Type     { return TypeHook }
func (e HookEvent) String() string { return fmt.Sprintf("[%s] %s", e.Hook, e.Output) }

// OutputLine is one reassembled line of service output.
type OutputLine struct {
	// Service is the originating service name.
	Service string

	// Stream is stdout or stderr.
	Stream Stream

	// Text is the line content without trailing newline.
	Text string

	// Timestamp is when the line was captured.
	Timestamp time.Time
}

// OutputEvent carries one line of service output. Droppable under
// back-pressure.
type OutputEvent struct {
	Line OutputLine
}

func (e OutputEvent) Type() Type { return TypeOutput }
func (e OutputEvent) String() string {
	return fmt.Sprintf("%s | %s", e.Line.Service, e.Line.Text)
}

// ErrorEvent reports a non-fatal orchestration error (best-effort
// teardown failures, stale cleanup problems).
type ErrorEvent struct {
	// Message is the rendered error text.
	Message string
}

func (e ErrorEvent) Type() Type     { return TypeError }
func (e ErrorEvent) String() string { return e.Message }
