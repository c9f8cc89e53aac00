// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build !unix

package process

import "context"

// WorkspaceLock is a no-op where flock(2) is unavailable.
type WorkspaceLock struct {
	path string
}

// NewWorkspaceLock creates a lock on path.
func NewWorkspaceLock(path string) *WorkspaceLock {
	return &WorkspaceLock{path: path}
}

// Path returns the lock file path.
func (l *WorkspaceLock) Path() string { return l.path }

// Lock always succeeds.
func (l *WorkspaceLock) Lock(ctx context.Context) error { return ctx.Err() }

// Unlock always succeeds.
func (l *WorkspaceLock) Unlock() error { return nil }
