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
Package resilience provides saga-based execution for multi-step
workspace operations that must roll back on failure.

The orchestrator's startup sequence is a saga: every phase that creates
side effects (compose up, service layer starts, state writes) registers
a compensation, and a failure unwinds the failing step and the
completed ones in reverse order. Compensations must be idempotent and
tolerate partial execution of their step. Compensation errors are
logged and swallowed so the original failure is preserved.
*/
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// =============================================================================
// Saga Step
// =============================================================================

// Step is one forward action with its rollback.
//
// # Example
//
//	saga.AddStep(resilience.Step{
//	    Name: "compose up infrastructure",
//	    Execute: func(ctx context.Context) error {
//	        return executor.Up(ctx, upOpts)
//	    },
//	    Compensate: func(ctx context.Context) error {
//	        return executor.Down(ctx, compose.DownOptions{})
//	    },
//	})
//
// Compensate should be idempotent and tolerate "already gone" states;
// it may be nil when the action needs no cleanup.
type Step struct {
	// Name identifies the step in logs.
	Name string

	// Execute performs the forward action.
	Execute func(ctx context.Context) error

	// Compensate undoes Execute. May be nil.
	Compensate func(ctx context.Context) error

	// Timeout overrides the saga default for this step. Zero uses the
	// saga's StepTimeout.
	Timeout time.Duration
}

// Config configures saga behavior.
type Config struct {
	// StepTimeout is the default per-step timeout. Default: 60s.
	StepTimeout time.Duration

	// CompensationTimeout bounds each compensation. Default: 30s.
	CompensationTimeout time.Duration

	// Logger receives step and compensation events.
	// Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		StepTimeout:         60 * time.Second,
		CompensationTimeout: 30 * time.Second,
		Logger:              slog.Default(),
	}
}

// =============================================================================
// Saga
// =============================================================================

// Saga executes steps in order and compensates completed steps in
// reverse order when one fails.
//
// # Thread Safety
//
// AddStep may be called from any goroutine before Execute. Execute
// itself must be called from a single goroutine.
type Saga struct {
	config    Config
	steps     []Step
	completed []Step
	lastError error
	mu        sync.Mutex
}

// New creates a Saga, filling zero config fields with defaults.
func New(config Config) *Saga {
	if config.StepTimeout <= 0 {
		config.StepTimeout = 60 * time.Second
	}
	if config.CompensationTimeout <= 0 {
		config.CompensationTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Saga{config: config}
}

// AddStep appends a step to the saga.
func (s *Saga) AddStep(step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
}

// Execute runs every step in order.
//
// # Description
//
// The context is checked before each step; cancellation compensates
// completed steps and returns the context error. A failing step
// triggers compensation of its own partial effects followed by
// reverse-order compensation of everything completed so far, then
// returns the step's error wrapped with its name.
func (s *Saga) Execute(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.completed = s.completed[:0]
	s.lastError = nil

	for _, step := range s.steps {
		if ctx.Err() != nil {
			s.lastError = fmt.Errorf("saga cancelled before step %q: %w", step.Name, ctx.Err())
			s.compensate()
			return s.lastError
		}

		timeout := step.Timeout
		if timeout <= 0 {
			timeout = s.config.StepTimeout
		}

		if err := s.executeStep(ctx, step, timeout); err != nil {
			s.lastError = fmt.Errorf("saga failed at step %q: %w", step.Name, err)
			// The failing step may have partial side effects (a compose
			// up that succeeded before its readiness wait failed), so
			// its own compensation runs first. Compensations are
			// idempotent by contract.
			s.compensateStep(step)
			s.compensate()
			return s.lastError
		}
		s.completed = append(s.completed, step)
	}
	return nil
}

// executeStep runs one step under its timeout.
func (s *Saga) executeStep(ctx context.Context, step Step, timeout time.Duration) error {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.config.Logger.Debug("saga step", "step", step.Name)
	start := time.Now()
	err := step.Execute(stepCtx)
	if err != nil {
		s.config.Logger.Error("saga step failed", "step", step.Name, "error", err)
		return err
	}
	s.config.Logger.Debug("saga step completed", "step", step.Name, "duration", time.Since(start))
	return nil
}

// compensate unwinds completed steps in reverse order.
func (s *Saga) compensate() {
	for i := len(s.completed) - 1; i >= 0; i-- {
		s.compensateStep(s.completed[i])
	}
	s.completed = s.completed[:0]
}

// compensateStep rolls back one step.
//
// Compensation runs on a fresh context: the original may already be
// cancelled, and teardown must still proceed. Compensation failures
// are logged and swallowed to preserve the original error.
func (s *Saga) compensateStep(step Step) {
	if step.Compensate == nil {
		return
	}

	compCtx, cancel := context.WithTimeout(context.Background(), s.config.CompensationTimeout)
	defer cancel()

	s.config.Logger.Info("compensating", "step", step.Name)
	if err := step.Compensate(compCtx); err != nil {
		s.config.Logger.Warn("compensation failed", "step", step.Name, "error", err)
	}
}

// CompletedSteps returns the names of successfully completed steps.
func (s *Saga) CompletedSteps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.completed))
	for _, step := range s.completed {
		names = append(names, step.Name)
	}
	return names
}

// LastError returns the error that failed the most recent Execute.
func (s *Saga) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// Reset clears steps and state for reuse.
func (s *Saga) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = nil
	s.completed = nil
	s.lastError = nil
}
