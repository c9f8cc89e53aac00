// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrPortsExhausted is returned when no free host port could be found.
	ErrPortsExhausted = errors.New("no free host port available")

	// ErrSlotTimeout is returned when no scheduler slot frees up in time.
	ErrSlotTimeout = errors.New("timed out waiting for an operation slot")

	// ErrNotRunning is returned when a health probe targets a stopped container.
	ErrNotRunning = errors.New("container is not running")

	// ErrHealthTimeout is returned when the probe wall-clock deadline passes.
	ErrHealthTimeout = errors.New("health check timed out")

	// ErrRetriesExhausted is returned when the probe attempt budget is spent.
	ErrRetriesExhausted = errors.New("health check retries exhausted")

	// ErrHookFailed is returned when a hook exits non-zero or cannot start.
	ErrHookFailed = errors.New("hook failed")

	// ErrHookTimeout is returned when a hook exceeds its timeout and is killed.
	ErrHookTimeout = errors.New("hook timed out")

	// ErrHookNotAllowed is returned for exec hooks in the post_down phase.
	ErrHookNotAllowed = errors.New("exec hooks are not allowed in post_down")

	// ErrEmptyHookCommand is returned for an exec hook with no argv.
	ErrEmptyHookCommand = errors.New("exec hook has an empty command")

	// ErrDuplicateContainer is returned when two services resolve to one container name.
	ErrDuplicateContainer = errors.New("duplicate container name")

	// ErrNoNamingStrategy is returned when a container name cannot be derived.
	ErrNoNamingStrategy = errors.New("no container naming strategy configured")

	// ErrUnknownDriver is returned when a service names a driver helm does not know.
	ErrUnknownDriver = errors.New("unknown service driver")

	// ErrInvalidConfig is returned for configuration that fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// =============================================================================
// Command Error Type
// =============================================================================

// CommandError wraps a container engine invocation failure with stderr context.
//
// # Description
//
// Carries the rendered command line, the exit code and the engine's stderr
// so the user sees exactly what docker or podman said. Supports unwrapping
// via errors.Is/As.
//
// # Example
//
//	err := NewCommandError("docker run --name acme-postgres ...", 125, "port is already allocated", nil)
//	fmt.Println(err) // "docker run --name acme-postgres ... (exit 125): port is already allocated"
//
// # Thread Safety
//
// Immutable after creation.
type CommandError struct {
	// Command is the rendered command line.
	Command string

	// ExitCode is the process exit code (-1 if unknown).
	ExitCode int

	// Stderr is the trimmed standard error output.
	Stderr string

	// Wrapped is the underlying error (may be nil).
	Wrapped error
}

// Error returns "cmd (exit N): stderr", falling back to the wrapped error.
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("%s (exit %d): %s", e.Command, e.ExitCode, e.Stderr)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// HasStderr reports whether stderr output was captured.
func (e *CommandError) HasStderr() bool {
	return e.Stderr != ""
}

// NewCommandError creates a CommandError, trimming stderr.
func NewCommandError(cmd string, exitCode int, stderr string, wrapped error) *CommandError {
	return &CommandError{
		Command:  cmd,
		ExitCode: exitCode,
		Stderr:   strings.TrimSpace(stderr),
		Wrapped:  wrapped,
	}
}

// ExtractStderr walks the error chain and returns the first captured stderr.
//
// # Outputs
//
//   - string: Stderr from the first CommandError in the chain, or "".
func ExtractStderr(err error) string {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) && cmdErr.HasStderr() {
		return cmdErr.Stderr
	}
	return ""
}

// =============================================================================
// Allocation Error Type
// =============================================================================

// AllocationError reports that a bounded resource (host port or scheduler
// slot) could not be obtained.
//
// # Description
//
// Err is always one of ErrPortsExhausted or ErrSlotTimeout. For slots the
// timeout does not distinguish "every slot is held" from "the slot
// directory is not writable"; both surface as ErrSlotTimeout.
type AllocationError struct {
	// Resource is "port" or "slot".
	Resource string

	// Subject names what the resource was for, e.g. "postgres.port" or "heavy".
	Subject string

	// Attempts is the number of candidates tried.
	Attempts int

	// Err is the sentinel cause.
	Err error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocate %s for %s: %v (after %d attempts)", e.Resource, e.Subject, e.Err, e.Attempts)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Health Check Error Type
// =============================================================================

// HealthCheckError reports that a service never became ready.
type HealthCheckError struct {
	// Service is the service name.
	Service string

	// Container is the container name.
	Container string

	// Attempts is the number of probe iterations executed.
	Attempts int

	// Elapsed is the time spent probing.
	Elapsed time.Duration

	// LastErr is the error from the final probe attempt, if any.
	LastErr error

	// Err is one of ErrNotRunning, ErrHealthTimeout or ErrRetriesExhausted.
	Err error
}

func (e *HealthCheckError) Error() string {
	msg := fmt.Sprintf("service %s (%s): %v after %d attempts in %s",
		e.Service, e.Container, e.Err, e.Attempts, e.Elapsed.Round(time.Millisecond))
	if e.LastErr != nil {
		msg += fmt.Sprintf(": last error: %v", e.LastErr)
	}
	return msg
}

func (e *HealthCheckError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Hook Error Type
// =============================================================================

// HookError reports a lifecycle hook failure.
type HookError struct {
	// Service owning the hook.
	Service string

	// Hook is the hook name.
	Hook string

	// Phase is the lifecycle phase the hook ran in.
	Phase string

	// ExitCode is the hook's exit code, -1 when it never exited normally.
	ExitCode int

	// Output is the combined output tail, for the user.
	Output string

	// Err is one of ErrHookFailed, ErrHookTimeout, ErrHookNotAllowed or
	// ErrEmptyHookCommand, possibly wrapping a cause.
	Err error
}

func (e *HookError) Error() string {
	msg := fmt.Sprintf("%s hook %q for service %s: %v", e.Phase, e.Hook, e.Service, e.Err)
	if e.Output != "" {
		msg += ": " + e.Output
	}
	return msg
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Configuration Error Type
// =============================================================================

// ConfigurationError reports an invalid service declaration. Raised before
// any container operation.
type ConfigurationError struct {
	// Service is the offending service, empty for project-level problems.
	Service string

	// Field is the offending field, if known.
	Field string

	// Detail is a human-readable explanation.
	Detail string

	// Err is the sentinel cause.
	Err error
}

func (e *ConfigurationError) Error() string {
	var b strings.Builder
	b.WriteString("configuration")
	if e.Service != "" {
		b.WriteString(" for service ")
		b.WriteString(e.Service)
	}
	if e.Field != "" {
		b.WriteString(" field ")
		b.WriteString(e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// Compile-time interface satisfaction checks
var (
	_ error = (*CommandError)(nil)
	_ error = (*AllocationError)(nil)
	_ error = (*HealthCheckError)(nil)
	_ error = (*HookError)(nil)
	_ error = (*ConfigurationError)(nil)
)
