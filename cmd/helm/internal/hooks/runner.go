// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package hooks runs the lifecycle hooks declared on services.
//
// Hooks run per service in declaration order. Exec hooks run inside the
// service container through the engine; script hooks run on the host with
// the workspace root as working directory. A failing hook with on_error
// "fail" aborts the phase; "warn" logs and moves on.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jinterlante1206/helm/cmd/helm/internal/infra/engine"
	"github.com/jinterlante1206/helm/cmd/helm/internal/infra/process"
	"github.com/jinterlante1206/helm/cmd/helm/internal/service"
	"github.com/jinterlante1206/helm/cmd/helm/internal/util"
)

// maxOutput bounds the hook output kept in a HookError.
const maxOutput = 4096

// Runner executes hooks.
//
// # Thread Safety
//
// Safe for concurrent use; phases are normally run from one goroutine.
type Runner struct {
	engine       engine.Engine
	proc         process.Manager
	workspace    string
	env          map[string]string
	logger       *slog.Logger
	pollInterval time.Duration
	dryRun       bool
	out          io.Writer
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) { r.logger = logger }
}

// WithEnv adds variables to every script hook's environment.
func WithEnv(env map[string]string) Option {
	return func(r *Runner) { r.env = env }
}

// WithPollInterval sets how often a script hook with a timeout is checked.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) { r.pollInterval = d }
}

// WithDryRun prints script hooks to out instead of running them. Exec hooks
// follow the engine's own dry-run mode.
func WithDryRun(dryRun bool, out io.Writer) Option {
	return func(r *Runner) {
		r.dryRun = dryRun
		r.out = out
	}
}

// NewRunner creates a Runner. workspace resolves relative script paths.
func NewRunner(eng engine.Engine, proc process.Manager, workspace string, opts ...Option) *Runner {
	r := &Runner{
		engine:       eng,
		proc:         proc,
		workspace:    workspace,
		logger:       slog.Default(),
		pollInterval: util.HookPollInterval,
		out:          io.Discard,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithVars returns a copy of r whose script hooks also see env. Keys in env
// replace the runner's own.
func (r *Runner) WithVars(env map[string]string) *Runner {
	c := *r
	c.env = make(map[string]string, len(r.env)+len(env))
	maps.Copy(c.env, r.env)
	maps.Copy(c.env, env)
	return &c
}

// RunPhase runs every hook of phase for services.
//
// # Description
//
// Services are visited in the given order and their hooks in declaration
// order. The first failure of an on_error "fail" hook stops the phase and
// is returned. Failures of "warn" hooks are logged and swallowed.
//
// # Inputs
//
//   - ctx: Cancels running hooks.
//   - services: Services whose hooks to run.
//   - phase: The lifecycle phase.
//
// # Outputs
//
//   - error: *util.HookError for the aborting hook, or nil.
func (r *Runner) RunPhase(ctx context.Context, services []*service.Descriptor, phase service.Phase) error {
	for _, svc := range services {
		for _, hook := range svc.HooksFor(phase) {
			err := r.Run(ctx, svc, hook)
			if err == nil {
				continue
			}
			if hook.OnError == service.OnErrorWarn {
				r.logger.Warn("hook failed, continuing", "service", svc.Name, "hook", hook.Name, "phase", phase, "error", err)
				continue
			}
			return err
		}
	}
	return nil
}

// Run executes one hook.
func (r *Runner) Run(ctx context.Context, svc *service.Descriptor, hook service.Hook) error {
	hookErr := func(code int, output string, err error) error {
		return &util.HookError{
			Service:  svc.Name,
			Hook:     hook.Name,
			Phase:    string(hook.Phase),
			ExitCode: code,
			Output:   truncate(output),
			Err:      err,
		}
	}

	r.logger.Info("running hook", "service", svc.Name, "hook", hook.Name, "phase", hook.Phase, "kind", hook.Run)

	switch hook.Run {
	case service.RunExec:
		if hook.Phase == service.PhasePostDown {
			return hookErr(0, "", util.ErrHookNotAllowed)
		}
		if len(hook.Argv) == 0 {
			return hookErr(0, "", util.ErrEmptyHookCommand)
		}
		return r.runExec(ctx, svc, hook, hookErr)
	case service.RunScript:
		if strings.TrimSpace(hook.Script) == "" {
			return hookErr(0, "", util.ErrEmptyHookCommand)
		}
		return r.runScript(ctx, svc, hook, hookErr)
	default:
		return hookErr(0, "", fmt.Errorf("%w: unknown run kind %q", util.ErrHookFailed, hook.Run))
	}
}

type errorFunc func(code int, output string, err error) error

func (r *Runner) runExec(ctx context.Context, svc *service.Descriptor, hook service.Hook, hookErr errorFunc) error {
	if hook.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, hook.Timeout)
		defer cancel()
	}

	res, err := r.engine.Exec(ctx, svc.Container, hook.Argv)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return hookErr(-1, res.Stdout+res.Stderr, fmt.Errorf("%w after %s", util.ErrHookTimeout, hook.Timeout))
	}
	if err != nil {
		return hookErr(res.ExitCode, res.Stderr, fmt.Errorf("%w: %w", util.ErrHookFailed, err))
	}
	if res.ExitCode != 0 {
		return hookErr(res.ExitCode, res.Stdout+res.Stderr, fmt.Errorf("%w: exit code %d", util.ErrHookFailed, res.ExitCode))
	}
	return nil
}

func (r *Runner) runScript(ctx context.Context, svc *service.Descriptor, hook service.Hook, hookErr errorFunc) error {
	script := hook.Script
	if !filepath.IsAbs(script) {
		script = filepath.Join(r.workspace, script)
	}

	if r.dryRun {
		fmt.Fprintf(r.out, "[dry-run] %s (hook %s for %s)\n", script, hook.Name, svc.Name)
		return nil
	}

	env := r.scriptEnv(svc, hook)

	if hook.Timeout <= 0 {
		stdout, stderr, code, err := r.proc.RunInDir(ctx, r.workspace, env, script)
		if err != nil {
			return hookErr(code, stdout+stderr, fmt.Errorf("%w: %w", util.ErrHookFailed, err))
		}
		return nil
	}

	proc, err := r.proc.Start(ctx, process.Spec{Dir: r.workspace, Env: env, Name: script})
	if err != nil {
		return hookErr(-1, "", fmt.Errorf("%w: %w", util.ErrHookFailed, err))
	}

	deadline := time.Now().Add(hook.Timeout)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if done, code, err := proc.Exited(); done {
			if err != nil || code != 0 {
				if err == nil {
					err = fmt.Errorf("exit code %d", code)
				}
				return hookErr(code, proc.Output(), fmt.Errorf("%w: %w", util.ErrHookFailed, err))
			}
			return nil
		}

		if time.Now().After(deadline) {
			if err := proc.Kill(); err != nil {
				r.logger.Warn("failed to kill hook process group", "hook", hook.Name, "pid", proc.PID(), "error", err)
			}
			return hookErr(-1, proc.Output(), fmt.Errorf("%w after %s", util.ErrHookTimeout, hook.Timeout))
		}

		select {
		case <-ctx.Done():
			_ = proc.Kill()
			return hookErr(-1, proc.Output(), fmt.Errorf("%w: %w", util.ErrHookFailed, ctx.Err()))
		case <-ticker.C:
		}
	}
}

// scriptEnv is the runner env plus the hook identity, as sorted KEY=VALUE.
func (r *Runner) scriptEnv(svc *service.Descriptor, hook service.Hook) []string {
	env := make(map[string]string, len(r.env)+4)
	maps.Copy(env, r.env)
	env["HELM_SERVICE"] = svc.Name
	env["HELM_CONTAINER"] = svc.Container
	env["HELM_HOOK"] = hook.Name
	env["HELM_PHASE"] = string(hook.Phase)

	out := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxOutput {
		return s
	}
	start := len(s) - maxOutput
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
