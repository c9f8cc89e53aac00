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
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"sync"
	"time"
)

// waitDelay bounds how long Wait drains output after the process exits,
// even while a detached descendant still holds the pipes.
const waitDelay = 2 * time.Second

// -----------------------------------------------------------------------------
// Interface Definition
// -----------------------------------------------------------------------------

// Manager handles external process operations.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Manager interface {
	// Run executes name with args in the current directory.
	//
	// # Outputs
	//
	//   - stdout, stderr: Captured output.
	//   - exitCode: Process exit code, -1 if the process never ran.
	//   - error: Non-nil if the process could not start or exited non-zero.
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, exitCode int, err error)

	// RunInDir is Run with a working directory and extra environment.
	// env entries are "KEY=VALUE" and are appended to the current
	// environment.
	RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (stdout, stderr string, exitCode int, err error)

	// Start launches a process in the background in its own process group.
	Start(ctx context.Context, spec Spec) (Process, error)

	// LookPath resolves an executable on PATH.
	LookPath(name string) (string, error)
}

// Spec describes a background process.
type Spec struct {
	Dir  string
	Env  []string
	Name string
	Args []string
}

// Process is a handle to a started background process.
type Process interface {
	// PID returns the process ID.
	PID() int

	// Exited polls without blocking. When done is true, exitCode and err
	// describe how the process ended.
	Exited() (done bool, exitCode int, err error)

	// Kill terminates the process and its process group.
	Kill() error

	// Output returns the combined stdout and stderr captured so far.
	Output() string
}

// -----------------------------------------------------------------------------
// Default Implementation
// -----------------------------------------------------------------------------

// DefaultManager implements Manager with os/exec.
type DefaultManager struct{}

// NewDefaultManager creates a DefaultManager.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// Run implements Manager.
func (m *DefaultManager) Run(ctx context.Context, name string, args ...string) (string, string, int, error) {
	return m.RunInDir(ctx, "", nil, name, args...)
}

// RunInDir implements Manager.
func (m *DefaultManager) RunInDir(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.WaitDelay = waitDelay
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), exitCode(cmd, err), err
}

// Start implements Manager.
func (m *DefaultManager) Start(ctx context.Context, spec Spec) (Process, error) {
	cmd := exec.CommandContext(ctx, spec.Name, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.WaitDelay = waitDelay
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	setProcessGroup(cmd)

	p := &osProcess{cmd: cmd, done: make(chan struct{})}
	cmd.Stdout = &p.output
	cmd.Stderr = &p.output

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.err = err
		p.code = exitCode(cmd, err)
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

// LookPath implements Manager.
func (m *DefaultManager) LookPath(name string) (string, error) {
	return exec.LookPath(name)
}

// osProcess wraps a started exec.Cmd.
type osProcess struct {
	cmd    *exec.Cmd
	output syncBuffer
	done   chan struct{}

	mu   sync.Mutex
	code int
	err  error
}

func (p *osProcess) PID() int {
	return p.cmd.Process.Pid
}

func (p *osProcess) Exited() (bool, int, error) {
	select {
	case <-p.done:
		p.mu.Lock()
		defer p.mu.Unlock()
		return true, p.code, p.err
	default:
		return false, 0, nil
	}
}

func (p *osProcess) Kill() error {
	err := killProcessGroup(p.cmd)
	<-p.done
	return err
}

func (p *osProcess) Output() string {
	return p.output.String()
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes of stdout and
// stderr copiers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func exitCode(cmd *exec.Cmd, err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	if err != nil || cmd.ProcessState == nil {
		return -1
	}
	return cmd.ProcessState.ExitCode()
}

// Compile-time interface checks
var (
	_ Manager = (*DefaultManager)(nil)
	_ Process = (*osProcess)(nil)
)
