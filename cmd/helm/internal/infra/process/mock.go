// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// -----------------------------------------------------------------------------
// Mock Implementation
// -----------------------------------------------------------------------------

// Call records one invocation made through MockManager.
type Call struct {
	Dir  string
	Env  []string
	Name string
	Args []string
}

// Line renders the call as a shell-like command line.
func (c Call) Line() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// MockManager is a Manager for tests. Each method delegates to its function
// field when set; every call is recorded.
type MockManager struct {
	RunInDirFunc func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error)
	StartFunc    func(ctx context.Context, spec Spec) (Process, error)
	LookPathFunc func(name string) (string, error)

	mu    sync.Mutex
	calls []Call
}

// Run implements Manager.
func (m *MockManager) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	return m.RunInDir(ctx, "", nil, name, args...)
}

// RunInDir implements Manager.
func (m *MockManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	m.record(Call{Dir: dir, Env: env, Name: name, Args: append([]string(nil), args...)})
	if m.RunInDirFunc != nil {
		return m.RunInDirFunc(ctx, dir, env, name, args...)
	}
	return "", "", 0, nil
}

// Start implements Manager.
func (m *MockManager) Start(ctx context.Context, spec Spec) (Process, error) {
	m.record(Call{Dir: spec.Dir, Env: spec.Env, Name: spec.Name, Args: append([]string(nil), spec.Args...)})
	if m.StartFunc != nil {
		return m.StartFunc(ctx, spec)
	}
	return nil, errors.New("MockManager.Start not configured")
}

// LookPath implements Manager.
func (m *MockManager) LookPath(name string) (string, error) {
	if m.LookPathFunc != nil {
		return m.LookPathFunc(name)
	}
	return "/usr/bin/" + name, nil
}

// Calls returns a copy of the recorded calls.
func (m *MockManager) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// Lines returns the recorded calls rendered with Call.Line.
func (m *MockManager) Lines() []string {
	calls := m.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Line()
	}
	return out
}

func (m *MockManager) record(c Call) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, c)
}

// MockProcess is a Process for tests. It reports done once Done is set.
type MockProcess struct {
	Pid  int
	Out  string
	Code int
	Err  error

	mu     sync.Mutex
	done   bool
	killed bool
}

// Finish marks the process as exited.
func (p *MockProcess) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = true
}

// Killed reports whether Kill was called.
func (p *MockProcess) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

func (p *MockProcess) PID() int { return p.Pid }

func (p *MockProcess) Exited() (bool, int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.done {
		return false, 0, nil
	}
	return true, p.Code, p.Err
}

func (p *MockProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.killed = true
	p.done = true
	p.Code = -1
	return nil
}

func (p *MockProcess) Output() string { return p.Out }

var (
	_ Manager = (*MockManager)(nil)
	_ Process = (*MockProcess)(nil)
)
