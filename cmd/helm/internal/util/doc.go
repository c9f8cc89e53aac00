// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package util holds the error taxonomy and timing constants shared by
// every helm component.
//
// # Error Taxonomy
//
// Each failure class has a typed error carrying the names of the service
// and container involved, and wraps one of the package sentinels so callers
// can branch with errors.Is:
//
//	AllocationError     ErrPortsExhausted, ErrSlotTimeout
//	CommandError        engine exit code and stderr, shown verbatim
//	HealthCheckError    ErrNotRunning, ErrHealthTimeout, ErrRetriesExhausted
//	HookError           ErrHookFailed, ErrHookTimeout, ErrHookNotAllowed, ErrEmptyHookCommand
//	ConfigurationError  ErrDuplicateContainer, ErrNoNamingStrategy, ErrUnknownDriver, ErrInvalidConfig
//
// # Timeouts
//
// EnforceMinTimeout and EnforceDefaultTimeout normalize user-supplied
// durations against the package constants.
package util
