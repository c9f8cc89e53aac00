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
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jinterlante1206/helm/cmd/helm/internal/util"
)

// =============================================================================
// Interfaces
// =============================================================================

// Guard is a held slot. Release is idempotent.
type Guard interface {
	Release() error
}

// Locker hands out numbered slots for an operation class.
type Locker interface {
	// Acquire blocks until one of ceiling slots for class is free, or fails
	// with a *util.AllocationError wrapping util.ErrSlotTimeout.
	Acquire(ctx context.Context, class Class, ceiling int, operation string) (Guard, error)
}

// =============================================================================
// File Locker
// =============================================================================

const (
	// DefaultPollInterval is the pause between acquisition rounds.
	DefaultPollInterval = 25 * time.Millisecond

	// DefaultMaxAttempts bounds acquisition to roughly six seconds.
	DefaultMaxAttempts = 240

	slotPrefix = "slot-"
	slotSuffix = ".lock"
)

// DefaultRoot is the slot directory shared by every helm process on the host.
func DefaultRoot() string {
	return filepath.Join(os.TempDir(), "helm-scheduler")
}

// FileLocker realizes slots as exclusively created marker files
// <root>/<class>/slot-<n>.lock.
//
// # Description
//
// O_CREATE|O_EXCL makes creation atomic, so separate helm processes share
// the same bound. The marker records the holder's PID, operation and
// acquisition time for `helm slots`.
//
// # Limitations
//
//   - A process that dies while holding a slot leaves its marker behind.
//     The slot stays taken until someone removes the file, for example with
//     `helm slots --clear`. Holder PIDs are recorded but never checked.
//   - A root that cannot be created or written looks exactly like a full
//     pool: acquisition polls and then times out.
//
// # Thread Safety
//
// Safe for concurrent use.
type FileLocker struct {
	root         string
	pollInterval time.Duration
	maxAttempts  int
	now          func() time.Time
	pid          int
}

// FileLockerOption configures a FileLocker.
type FileLockerOption func(*FileLocker)

// WithPollInterval overrides the pause between acquisition rounds.
func WithPollInterval(d time.Duration) FileLockerOption {
	return func(f *FileLocker) { f.pollInterval = d }
}

// WithMaxAttempts overrides the number of acquisition rounds.
func WithMaxAttempts(n int) FileLockerOption {
	return func(f *FileLocker) { f.maxAttempts = n }
}

// NewFileLocker creates a locker rooted at root. Empty root means DefaultRoot.
func NewFileLocker(root string, opts ...FileLockerOption) *FileLocker {
	if root == "" {
		root = DefaultRoot()
	}
	f := &FileLocker{
		root:         root,
		pollInterval: DefaultPollInterval,
		maxAttempts:  DefaultMaxAttempts,
		now:          time.Now,
		pid:          os.Getpid(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.pollInterval <= 0 {
		f.pollInterval = DefaultPollInterval
	}
	if f.maxAttempts <= 0 {
		f.maxAttempts = DefaultMaxAttempts
	}
	return f
}

// Root returns the slot directory root.
func (f *FileLocker) Root() string {
	return f.root
}

// ClassDir returns the directory holding markers for class.
func (f *FileLocker) ClassDir(class Class) string {
	return filepath.Join(f.root, string(class))
}

// Acquire implements Locker.
//
// # Description
//
// Each round tries slot-0 through slot-(ceiling-1) in order. Rounds are
// paced by a token bucket so they run at most once per poll interval, and
// the first round starts immediately.
//
// # Outputs
//
//   - Guard: Removes the marker on Release.
//   - error: *util.AllocationError (ErrSlotTimeout) after maxAttempts
//     rounds, or ctx.Err() when cancelled.
func (f *FileLocker) Acquire(ctx context.Context, class Class, ceiling int, operation string) (Guard, error) {
	if ceiling <= 0 {
		ceiling = 1
	}
	dir := f.ClassDir(class)
	// A failure here surfaces as a timeout below.
	_ = os.MkdirAll(dir, 0o755)

	limiter := rate.NewLimiter(rate.Every(f.pollInterval), 1)
	for attempt := 0; attempt < f.maxAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		for n := 0; n < ceiling; n++ {
			path := filepath.Join(dir, slotName(n))
			if f.tryCreate(path, operation) {
				return &fileGuard{path: path}, nil
			}
		}
	}

	return nil, &util.AllocationError{
		Resource: "slot",
		Subject:  string(class),
		Attempts: f.maxAttempts,
		Err:      util.ErrSlotTimeout,
	}
}

func (f *FileLocker) tryCreate(path, operation string) bool {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return false
	}
	_, _ = fmt.Fprintf(file, "pid=%d\noperation=%s\nacquired=%s\n",
		f.pid, sanitizeLine(operation), f.now().UTC().Format(time.RFC3339Nano))
	_ = file.Close()
	return true
}

// fileGuard deletes its marker exactly once.
type fileGuard struct {
	path string
	once sync.Once
	err  error
}

func (g *fileGuard) Release() error {
	g.once.Do(func() {
		if err := os.Remove(g.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			g.err = fmt.Errorf("release slot %s: %w", g.path, err)
		}
	})
	return g.err
}

// =============================================================================
// Inspection
// =============================================================================

// Holder describes one occupied slot.
type Holder struct {
	Class     Class
	Slot      int
	PID       int
	Operation string
	Acquired  time.Time
	Path      string
}

// Age returns how long the slot has been held relative to now.
func (h Holder) Age(now time.Time) time.Duration {
	if h.Acquired.IsZero() {
		return 0
	}
	return now.Sub(h.Acquired)
}

// Holders lists occupied slots for class, ordered by slot number. A missing
// class directory yields an empty list.
func (f *FileLocker) Holders(class Class) ([]Holder, error) {
	dir := f.ClassDir(class)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read slot directory %s: %w", dir, err)
	}

	var holders []Holder
	for _, entry := range entries {
		n, ok := parseSlotName(entry.Name())
		if !ok || entry.IsDir() {
			continue
		}
		h := Holder{Class: class, Slot: n, PID: -1, Path: filepath.Join(dir, entry.Name())}
		readMarker(h.Path, &h)
		holders = append(holders, h)
	}
	sort.Slice(holders, func(i, j int) bool { return holders[i].Slot < holders[j].Slot })
	return holders, nil
}

// Clear removes every marker for class and returns how many were removed.
// Only meant for the user-initiated cleanup of orphaned slots.
func (f *FileLocker) Clear(class Class) (int, error) {
	holders, err := f.Holders(class)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, h := range holders {
		if err := os.Remove(h.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func readMarker(path string, h *Holder) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil {
				h.PID = pid
			}
		case "operation":
			h.Operation = value
		case "acquired":
			if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
				h.Acquired = ts
			}
		}
	}
}

func slotName(n int) string {
	return slotPrefix + strconv.Itoa(n) + slotSuffix
}

func parseSlotName(name string) (int, bool) {
	if !strings.HasPrefix(name, slotPrefix) || !strings.HasSuffix(name, slotSuffix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, slotPrefix), slotSuffix))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func sanitizeLine(s string) string {
	return strings.NewReplacer("\n", " ", "\r", " ").Replace(s)
}

var _ Locker = (*FileLocker)(nil)
