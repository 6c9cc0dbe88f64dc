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
	"os"
	"path/filepath"
	"sync"

	"github.com/newstack-cloud/lo1/cmd/lo1/internal/event"
	"github.com/newstack-cloud/lo1/pkg/ux"
)

// eventPrinter consumes the orchestrator event stream for the CLI:
// human-readable (or JSON) terminal output, plus per-service log file
// sinks under .lo1/logs/.
type eventPrinter struct {
	jsonMode bool
	logDir   string

	mu    sync.Mutex
	files map[string]*os.File
	done  chan struct{}
}

// newEventPrinter creates a printer. logDir may be empty to disable
// file sinking.
func newEventPrinter(jsonMode bool, logDir string) *eventPrinter {
	return &eventPrinter{
		jsonMode: jsonMode,
		logDir:   logDir,
		files:    map[string]*os.File{},
		done:     make(chan struct{}),
	}
}

// consume drains the bus until it closes. Run as a goroutine; Wait
// blocks until the stream has fully drained.
func (p *eventPrinter) consume(bus *event.Bus) {
	defer close(p.done)
	for ev := range bus.Events() {
		p.print(ev)
	}
	p.closeFiles()
}

// Wait blocks until consume has drained the closed bus.
func (p *eventPrinter) Wait() {
	<-p.done
}

// print renders one event.
func (p *eventPrinter) print(ev event.Event) {
	if p.jsonMode {
		p.printJSON(ev)
		return
	}

	switch e := ev.(type) {
	case event.PhaseEvent:
		ux.Phase(e.Phase)
	case event.ServiceEvent:
		switch e.Status {
		case event.StatusStarted:
			ux.Success(fmt.Sprintf("%s %s", e.Service, e.Status))
		case event.StatusStopped:
			ux.Info(fmt.Sprintf("%s %s", e.Service, e.Status))
		default:
			ux.Info(fmt.Sprintf("%s %s", e.Service, e.Status))
		}
	case event.HookEvent:
		ux.Info(e.String())
	case event.OutputEvent:
		ux.ServiceLine(e.Line.Service, string(e.Line.Stream), e.Line.Text)
		p.sink(e.Line)
	case event.ErrorEvent:
		ux.Warning(e.Message)
	}
}

// printJSON renders one event as a JSON line on stdout.
func (p *eventPrinter) printJSON(ev event.Event) {
	payload := map[string]any{"type": string(ev.Type())}
	switch e := ev.(type) {
	case event.PhaseEvent:
		payload["phase"] = e.Phase
	case event.ServiceEvent:
		payload["service"] = e.Service
		payload["status"] = string(e.Status)
	case event.HookEvent:
		payload["hook"] = e.Hook
		payload["output"] = e.Output
	case event.OutputEvent:
		payload["service"] = e.Line.Service
		payload["stream"] = string(e.Line.Stream)
		payload["text"] = e.Line.Text
		payload["timestamp"] = e.Line.Timestamp
		p.sink(e.Line)
	case event.ErrorEvent:
		payload["message"] = e.Message
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Println(string(data))
}

// sink appends one output line to the service's log file.
func (p *eventPrinter) sink(line event.OutputLine) {
	if p.logDir == "" || line.Service == "" {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	file, open := p.files[line.Service]
	if !open {
		if err := os.MkdirAll(p.logDir, 0750); err != nil {
			return
		}
		f, err := os.OpenFile(
			filepath.Join(p.logDir, line.Service+".log"),
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return
		}
		p.files[line.Service] = f
		file = f
	}
	fmt.Fprintf(file, "%s [%s] %s\n", line.Timestamp.Format("15:04:05.000"), line.Stream, line.Text)
}

// closeFiles closes every open log sink.
func (p *eventPrinter) closeFiles() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range p.files {
		_ = f.Close()
	}
	p.files = map[string]*os.File{}
}
