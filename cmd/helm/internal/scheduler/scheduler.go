// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jinterlante1206/helm/cmd/helm/internal/util"
)

// =============================================================================
// Scheduler
// =============================================================================

// Observer receives slot wait measurements. Implemented by telemetry.
type Observer interface {
	ObserveSlotWait(class string, wait time.Duration, err error)
}

// TransientFunc decides whether a failed operation may be retried.
type TransientFunc func(err error) bool

// Scheduler gates heavy and build engine operations behind a Locker.
//
// # Description
//
// Every call acquires a slot, runs the body and releases the slot whatever
// the outcome. In dry-run mode the gate is skipped and no slot file is ever
// touched. A body failing with a transient engine error is retried up to the
// policy's retry budget; the slot is released before each backoff so other
// waiters can proceed.
//
// # Thread Safety
//
// Safe for concurrent use.
type Scheduler struct {
	locker    Locker
	policy    Policy
	dryRun    bool
	logger    *slog.Logger
	observer  Observer
	transient TransientFunc
	backoff   time.Duration
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithDryRun bypasses the gate entirely.
func WithDryRun(dryRun bool) Option {
	return func(s *Scheduler) { s.dryRun = dryRun }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithObserver attaches a slot wait observer.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// WithTransient replaces the transient error predicate.
func WithTransient(fn TransientFunc) Option {
	return func(s *Scheduler) { s.transient = fn }
}

// WithBackoff sets the base pause between retries. Attempt n waits n*base.
func WithBackoff(d time.Duration) Option {
	return func(s *Scheduler) { s.backoff = d }
}

// New creates a Scheduler.
func New(locker Locker, policy Policy, opts ...Option) *Scheduler {
	s := &Scheduler{
		locker:    locker,
		policy:    policy,
		logger:    slog.Default(),
		transient: IsTransient,
		backoff:   250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Policy returns the active policy.
func (s *Scheduler) Policy() Policy {
	return s.policy
}

// DryRun reports whether the gate is bypassed.
func (s *Scheduler) DryRun() bool {
	return s.dryRun
}

// Run executes body while holding a slot of class.
//
// # Inputs
//
//   - ctx: Cancels slot acquisition and retry backoff. A running body is
//     not interrupted by the scheduler.
//   - class: ClassHeavy or ClassBuild.
//   - operation: Human-readable label stored in the slot marker.
//   - body: The engine operation.
//
// # Outputs
//
//   - error: The body's last error, or a slot acquisition error.
func (s *Scheduler) Run(ctx context.Context, class Class, operation string, body func(ctx context.Context) error) error {
	_, err := WithSlot(ctx, s, class, operation, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, body(ctx)
	})
	return err
}

// WithSlot is Run for bodies that produce a value.
func WithSlot[T any](ctx context.Context, s *Scheduler, class Class, operation string, body func(ctx context.Context) (T, error)) (T, error) {
	if s.dryRun {
		return body(ctx)
	}

	var zero T
	retries := s.policy.Retries()
	ceiling := s.policy.Ceiling(class)

	for attempt := 0; ; attempt++ {
		start := time.Now()
		guard, err := s.locker.Acquire(ctx, class, ceiling, operation)
		if s.observer != nil {
			s.observer.ObserveSlotWait(string(class), time.Since(start), err)
		}
		if err != nil {
			return zero, err
		}
		s.logger.Debug("slot acquired", "class", class, "operation", operation, "wait", time.Since(start))

		result, bodyErr := body(ctx)
		if relErr := guard.Release(); relErr != nil {
			s.logger.Warn("failed to release slot", "class", class, "operation", operation, "error", relErr)
		}

		if bodyErr == nil || attempt >= retries || !s.transient(bodyErr) {
			return result, bodyErr
		}

		wait := time.Duration(attempt+1) * s.backoff
		s.logger.Warn("transient engine failure, retrying",
			"operation", operation,
			"attempt", attempt+1,
			"retry_budget", retries,
			"backoff", wait,
			"error", bodyErr)

		select {
		case <-ctx.Done():
			return zero, errors.Join(bodyErr, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// transientMarkers are engine stderr fragments known to clear on retry.
var transientMarkers = []string{
	"resource temporarily unavailable",
	"database is locked",
	"connection reset by peer",
	"tls handshake timeout",
	"i/o timeout",
	"error during connect",
	"is already in progress",
}

// IsTransient reports whether err is an engine failure worth retrying.
func IsTransient(err error) bool {
	var cmdErr *util.CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	stderr := strings.ToLower(cmdErr.Stderr)
	for _, marker := range transientMarkers {
		if strings.Contains(stderr, marker) {
			return true
		}
	}
	return false
}
