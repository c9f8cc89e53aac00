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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// =============================================================================
// CommandError Tests
// =============================================================================

func TestCommandError_Error_WithStderr(t *testing.T) {
	err := NewCommandError("docker run --name acme-redis", 125, "  port is already allocated\n", nil)

	assert.Equal(t, "docker run --name acme-redis (exit 125): port is already allocated", err.Error())
	assert.True(t, err.HasStderr())
}

func TestCommandError_Error_WithWrappedOnly(t *testing.T) {
	cause := errors.New("executable file not found")
	err := NewCommandError("podman ps", -1, "", cause)

	assert.Equal(t, "podman ps (exit -1): executable file not found", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.False(t, err.HasStderr())
}

func TestCommandError_Error_Bare(t *testing.T) {
	err := &CommandError{Command: "docker start x", ExitCode: 1}
	assert.Equal(t, "docker start x (exit 1)", err.Error())
}

func TestExtractStderr(t *testing.T) {
	inner := NewCommandError("docker pull postgres:16", 1, "manifest unknown", nil)
	wrapped := fmt.Errorf("ensure postgres: %w", inner)

	assert.Equal(t, "manifest unknown", ExtractStderr(wrapped))
	assert.Equal(t, "", ExtractStderr(errors.New("plain")))
	assert.Equal(t, "", ExtractStderr(nil))
}

// =============================================================================
// Typed Error Tests
// =============================================================================

func TestAllocationError(t *testing.T) {
	err := &AllocationError{Resource: "port", Subject: "postgres.port", Attempts: 64, Err: ErrPortsExhausted}

	assert.ErrorIs(t, err, ErrPortsExhausted)
	assert.Contains(t, err.Error(), "postgres.port")
	assert.Contains(t, err.Error(), "64 attempts")

	var target *AllocationError
	assert.True(t, errors.As(fmt.Errorf("plan: %w", err), &target))
	assert.Equal(t, "port", target.Resource)
}

func TestHealthCheckError(t *testing.T) {
	last := errors.New("connection refused")
	err := &HealthCheckError{
		Service:   "mysql",
		Container: "acme-mysql",
		Attempts:  5,
		Elapsed:   2500 * time.Millisecond,
		LastErr:   last,
		Err:       ErrRetriesExhausted,
	}

	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.Contains(t, err.Error(), "acme-mysql")
	assert.Contains(t, err.Error(), "5 attempts")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestHookError(t *testing.T) {
	err := &HookError{Service: "app", Hook: "migrate", Phase: "post_up", ExitCode: 2, Output: "table exists", Err: ErrHookFailed}

	assert.ErrorIs(t, err, ErrHookFailed)
	assert.Equal(t, `post_up hook "migrate" for service app: hook failed: table exists`, err.Error())
}

func TestConfigurationError(t *testing.T) {
	err := &ConfigurationError{Service: "db2", Field: "container", Detail: `"acme-db" is also used by db1`, Err: ErrDuplicateContainer}

	assert.ErrorIs(t, err, ErrDuplicateContainer)
	assert.Equal(t, `configuration for service db2 field container: duplicate container name: "acme-db" is also used by db1`, err.Error())

	bare := &ConfigurationError{Detail: "no services declared"}
	assert.Equal(t, "configuration: no services declared", bare.Error())
}

// =============================================================================
// Timeout Tests
// =============================================================================

func TestEnforceMinTimeout(t *testing.T) {
	assert.Equal(t, time.Second, EnforceMinTimeout(0, time.Second))
	assert.Equal(t, time.Second, EnforceMinTimeout(10*time.Millisecond, time.Second))
	assert.Equal(t, 3*time.Second, EnforceMinTimeout(3*time.Second, time.Second))
}

func TestEnforceDefaultTimeout(t *testing.T) {
	assert.Equal(t, DefaultHealthTimeout, EnforceDefaultTimeout(0, DefaultHealthTimeout))
	assert.Equal(t, DefaultHealthTimeout, EnforceDefaultTimeout(-time.Second, DefaultHealthTimeout))
	assert.Equal(t, 7*time.Second, EnforceDefaultTimeout(7*time.Second, DefaultHealthTimeout))
}
