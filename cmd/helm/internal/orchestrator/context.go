// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"
	"log/slog"

	"github.com/jinterlante1206/helm/cmd/helm/config"
	"github.com/jinterlante1206/helm/cmd/helm/internal/drivers"
	"github.com/jinterlante1206/helm/cmd/helm/internal/health"
	"github.com/jinterlante1206/helm/cmd/helm/internal/hooks"
	"github.com/jinterlante1206/helm/cmd/helm/internal/infra/engine"
	"github.com/jinterlante1206/helm/cmd/helm/internal/lifecycle"
	"github.com/jinterlante1206/helm/cmd/helm/internal/ports"
	"github.com/jinterlante1206/helm/cmd/helm/internal/scheduler"
	"github.com/jinterlante1206/helm/cmd/helm/internal/telemetry"
)

// Store persists bindings and variables. *config.Persister implements it.
type Store interface {
	SaveBindings(path string, bindings []config.Binding) (bool, error)
	WriteEnv(path string, vars map[string]string) (config.EnvResult, error)
}

// Locker serializes persistence across processes. *process.WorkspaceLock
// implements it.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock() error
}

// Context carries everything one command invocation needs.
//
// # Description
//
// Built once per command by the CLI and passed by pointer. Fields are read
// only after construction.
type Context struct {
	Engine    engine.Engine
	Scheduler *scheduler.Scheduler
	Registry  *drivers.Registry
	Allocator *ports.Allocator
	Lifecycle *lifecycle.Driver
	Prober    *health.Prober
	Hooks     *hooks.Runner
	Telemetry *telemetry.Telemetry
	Logger    *slog.Logger

	// Workspace is the project root.
	Workspace string

	// Environment scopes stable port seeds.
	Environment string

	// Seed is the user seed for the stable strategy.
	Seed string

	// ConfigPath and EnvPath are the persistence targets. EnvPath may be empty.
	ConfigPath string
	EnvPath    string

	// Store and Lock may be nil, which disables persistence.
	Store Store
	Lock  Locker

	DryRun bool
}

func (c *Context) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Context) telemetry() *telemetry.Telemetry {
	if c.Telemetry == nil {
		return telemetry.Nop()
	}
	return c.Telemetry
}

// Policy returns the scheduler policy in effect.
func (c *Context) Policy() scheduler.Policy {
	return c.Scheduler.Policy()
}
