// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

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

// Step is one completed unit of work and the action that undoes it.
//
// # Limitations
//
//   - Compensate should be idempotent and should not fail when the
//     resource is already gone.
type Step struct {
	// Name identifies the step in logs and results.
	Name string

	// Compensate undoes the work. Nil means nothing to undo.
	Compensate func(ctx context.Context) error
}

// =============================================================================
// Saga Configuration
// =============================================================================

// SagaConfig configures compensation.
type SagaConfig struct {
	// CompensationTimeout bounds each compensation.
	// Default: 30 seconds
	CompensationTimeout time.Duration

	// Logger is used for compensation events.
	// Default: slog.Default()
	Logger *slog.Logger

	// OnCompensate is called after each compensation with its error.
	OnCompensate func(step Step, err error)
}

// DefaultSagaConfig returns sensible defaults.
func DefaultSagaConfig() SagaConfig {
	return SagaConfig{
		CompensationTimeout: 30 * time.Second,
		Logger:              slog.Default(),
	}
}

// =============================================================================
// Saga Result Types
// =============================================================================

// Result is the outcome of Compensate.
type Result struct {
	// Compensated lists steps undone successfully, in the order they ran.
	Compensated []string

	// Errors lists compensations that failed.
	Errors []CompensationError

	// Duration is the total compensation time.
	Duration time.Duration
}

// OK reports whether every compensation succeeded.
func (r Result) OK() bool {
	return len(r.Errors) == 0
}

// CompensationError records a failure during compensation.
type CompensationError struct {
	StepName string
	Err      error
}

func (e CompensationError) Error() string {
	return fmt.Sprintf("compensate %s: %v", e.StepName, e.Err)
}

// =============================================================================
// Saga
// =============================================================================

// Saga records completed steps and undoes them on failure.
//
// # Description
//
// Work that runs in parallel (a wave of container starts) records a Step
// as each unit completes. If the overall operation fails, Compensate runs
// the recorded compensations newest first. A failing compensation is
// logged and collected; the remaining ones still run.
//
// # Thread Safety
//
// Record may be called from many goroutines. Compensate runs compensations
// sequentially and clears the record.
//
// # Limitations
//
//   - No persistence: steps recorded by a crashed process are lost.
type Saga struct {
	config    SagaConfig
	completed []Step
	mu        sync.Mutex
}

// NewSaga creates an empty saga. Zero config values are replaced with
// defaults.
func NewSaga(config SagaConfig) *Saga {
	if config.CompensationTimeout <= 0 {
		config.CompensationTimeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Saga{config: config}
}

// Record appends a completed step.
func (s *Saga) Record(step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = append(s.completed, step)
}

// CompletedSteps returns the names of recorded steps in completion order.
func (s *Saga) CompletedSteps() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.completed))
	for i, step := range s.completed {
		names[i] = step.Name
	}
	return names
}

// Compensate undoes every recorded step, newest first.
//
// # Description
//
// Runs on a context detached from ctx's cancellation so cleanup completes
// after an interrupted run, with each compensation bounded by
// CompensationTimeout.
//
// # Outputs
//
//   - Result: What was undone and what failed.
func (s *Saga) Compensate(ctx context.Context) Result {
	s.mu.Lock()
	steps := s.completed
	s.completed = nil
	s.mu.Unlock()

	start := time.Now()
	var result Result
	if len(steps) == 0 {
		return result
	}

	s.config.Logger.Info("compensating completed steps", "count", len(steps))
	base := context.WithoutCancel(ctx)

	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if step.Compensate == nil {
			s.config.Logger.Debug("no compensation defined", "step", step.Name)
			continue
		}

		stepCtx, cancel := context.WithTimeout(base, s.config.CompensationTimeout)
		err := step.Compensate(stepCtx)
		cancel()

		if err != nil {
			s.config.Logger.Warn("compensation failed", "step", step.Name, "error", err)
			result.Errors = append(result.Errors, CompensationError{StepName: step.Name, Err: err})
		} else {
			s.config.Logger.Info("compensated step", "step", step.Name)
			result.Compensated = append(result.Compensated, step.Name)
		}
		if s.config.OnCompensate != nil {
			s.config.OnCompensate(step, err)
		}
	}

	result.Duration = time.Since(start)
	return result
}
