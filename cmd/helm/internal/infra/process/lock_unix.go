// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build unix

package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// WorkspaceLock is an advisory flock(2) lock on a file.
//
// # Description
//
// Unlike the scheduler slots, an flock is released by the kernel when its
// holder dies, so a crashed helm never wedges the workspace. The holder's
// PID is written into the file for error messages.
//
// # Thread Safety
//
// A WorkspaceLock value must not be shared between goroutines.
type WorkspaceLock struct {
	path string
	file *os.File
}

// NewWorkspaceLock creates a lock on path. The file is created on Lock.
func NewWorkspaceLock(path string) *WorkspaceLock {
	return &WorkspaceLock{path: path}
}

// Path returns the lock file path.
func (l *WorkspaceLock) Path() string {
	return l.path
}

// Lock blocks until the lock is held or ctx ends.
//
// # Inputs
//
//   - ctx: Bounds the wait. The lock is polled every 50ms.
//
// # Outputs
//
//   - error: ctx errors carry the holder PID when it is known.
func (l *WorkspaceLock) Lock(ctx context.Context) error {
	if l.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("open lock file %s: %w", l.path, err)
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			_ = f.Close()
			return fmt.Errorf("lock %s: %w", l.path, err)
		}
		select {
		case <-ctx.Done():
			holder := readPID(f)
			_ = f.Close()
			if holder > 0 {
				return fmt.Errorf("workspace is locked by helm PID %d: %w", holder, ctx.Err())
			}
			return fmt.Errorf("workspace is locked: %w", ctx.Err())
		case <-ticker.C:
		}
	}

	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)
	l.file = f
	return nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (l *WorkspaceLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
	if err != nil {
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	return nil
}

func readPID(f *os.File) int {
	buf := make([]byte, 32)
	n, _ := f.ReadAt(buf, 0)
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}
