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

import "time"

// =============================================================================
// Timeout Constants
// =============================================================================

const (
	// DefaultHealthTimeout bounds how long a service may take to become ready.
	DefaultHealthTimeout = 60 * time.Second

	// DefaultHealthInterval is the pause between probe attempts.
	DefaultHealthInterval = 2 * time.Second

	// MinHealthInterval is the smallest pause between probe attempts.
	MinHealthInterval = 1 * time.Second

	// DefaultHealthRetries is the default probe attempt budget.
	DefaultHealthRetries = 30

	// HookPollInterval is how often a running hook is checked for completion.
	HookPollInterval = 100 * time.Millisecond

	// DefaultProbeTimeout bounds a single readiness check.
	DefaultProbeTimeout = 3 * time.Second

	// DefaultEngineTimeout bounds a single container engine call.
	DefaultEngineTimeout = 10 * time.Minute
)

// =============================================================================
// Timeout Helpers
// =============================================================================

// EnforceMinTimeout returns requested, raised to minimum when smaller.
//
// # Example
//
//	EnforceMinTimeout(200*time.Millisecond, time.Second) // 1s
//	EnforceMinTimeout(5*time.Second, time.Second)        // 5s
func EnforceMinTimeout(requested, minimum time.Duration) time.Duration {
	if requested < minimum {
		return minimum
	}
	return requested
}

// EnforceDefaultTimeout returns defaultVal when requested is zero or negative.
func EnforceDefaultTimeout(requested, defaultVal time.Duration) time.Duration {
	if requested <= 0 {
		return defaultVal
	}
	return requested
}
