// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/jinterlante1206/helm/cmd/helm/config"
	"github.com/jinterlante1206/helm/cmd/helm/internal/drivers"
	"github.com/jinterlante1206/helm/cmd/helm/internal/health"
	"github.com/jinterlante1206/helm/cmd/helm/internal/hooks"
	"github.com/jinterlante1206/helm/cmd/helm/internal/infra/engine"
	"github.com/jinterlante1206/helm/cmd/helm/internal/infra/process"
	"github.com/jinterlante1206/helm/cmd/helm/internal/lifecycle"
	"github.com/jinterlante1206/helm/cmd/helm/internal/orchestrator"
	"github.com/jinterlante1206/helm/cmd/helm/internal/ports"
	"github.com/jinterlante1206/helm/cmd/helm/internal/scheduler"
	"github.com/jinterlante1206/helm/cmd/helm/internal/service"
	"github.com/jinterlante1206/helm/cmd/helm/internal/telemetry"
	"github.com/jinterlante1206/helm/pkg/logging"
	"github.com/jinterlante1206/helm/pkg/ux"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// lockFileName is the per-workspace lock guarding helm.toml and .env writes.
const lockFileName = ".helm.lock"

// app holds what every command shares for one invocation.
type app struct {
	fs       afero.Fs
	settings config.Settings
	logger   *logging.Logger
	tel      *telemetry.Telemetry
	printer  *ux.Printer
	proc     process.Manager
	command  string
}

// current is set by setup and released by finish.
var current *app

// setup runs before every command: settings, logging, output style and
// telemetry.
func setup(cmd *cobra.Command, _ []string) error {
	fs := afero.NewOsFs()
	settings, err := config.LoadSettings(fs, config.DefaultSettingsPath())
	if err != nil {
		return err
	}

	levelName := settings.LogLevel
	if logLevel != "" {
		levelName = logLevel
	}
	level, err := logging.ParseLevel(levelName)
	if err != nil {
		return err
	}
	logger := logging.New(logging.Config{
		Level:   level,
		JSON:    logJSON || settings.LogJSON,
		LogDir:  settings.LogDir,
		Service: "helm",
	})
	slog.SetDefault(logger.Slog())

	tel, err := telemetry.Init(cmd.Context(), telemetry.Config{
		ServiceVersion: version,
		TraceExporter:  settings.Telemetry.Traces,
		MetricExporter: settings.Telemetry.Metrics,
		OTLPEndpoint:   settings.Telemetry.OTLPEndpoint,
		OTLPInsecure:   settings.Telemetry.OTLPInsecure,
		MetricsFile:    settings.Telemetry.MetricsFile,
	})
	if err != nil {
		_ = logger.Close()
		return err
	}

	current = &app{
		fs:       fs,
		settings: settings,
		logger:   logger,
		tel:      tel,
		printer:  ux.NewPrinter(ux.DetectLevel(outputStyle, os.Stdout, nil)),
		proc:     process.NewDefaultManager(),
		command:  cmd.Name(),
	}
	return nil
}

// finish records the run, flushes telemetry and closes the log file.
func (a *app) finish(ctx context.Context, runErr error) {
	a.tel.RecordRun(ctx, a.command, runErr)
	if err := a.tel.Shutdown(context.WithoutCancel(ctx)); err != nil {
		a.logger.Warn("telemetry shutdown failed", "error", err)
	}
	_ = a.logger.Close()
}

// =============================================================================
// Project
// =============================================================================

// loadProject finds and loads helm.toml and converts its services.
func (a *app) loadProject() (*config.Project, []*service.Descriptor, error) {
	path := configPath
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, fmt.Errorf("get working directory: %w", err)
		}
		path, err = config.Find(a.fs, wd)
		if err != nil {
			return nil, nil, err
		}
	}
	project, err := config.Load(a.fs, path)
	if err != nil {
		return nil, nil, err
	}
	services, err := project.Descriptors(drivers.Default())
	if err != nil {
		return nil, nil, err
	}
	return project, services, nil
}

// selection builds the service selection from positional arguments and the
// --kind/--profile flags.
func selection(args, kinds []string, profile string) (config.Selection, error) {
	sel := config.Selection{Names: args, Profile: profile}
	for _, raw := range kinds {
		for _, k := range strings.Split(raw, ",") {
			kind := service.Kind(strings.TrimSpace(k))
			if kind == "" {
				continue
			}
			if !kind.Valid() {
				return sel, fmt.Errorf("unknown kind %q (want one of %v)", kind, service.Kinds)
			}
			sel.Kinds = append(sel.Kinds, kind)
		}
	}
	return sel, nil
}

// strategy resolves the port strategy and user seed: flag, then helm.toml,
// then user settings.
func (a *app) strategy(project *config.Project) (ports.Strategy, string, error) {
	name := a.settings.PortStrategy
	if project.File.PortStrategy != "" {
		name = project.File.PortStrategy
	}
	if strategyFlag != "" {
		name = strategyFlag
	}
	strategy, err := ports.ParseStrategy(name)
	if err != nil {
		return "", "", err
	}

	seed := a.settings.Seed
	if project.File.Seed != "" {
		seed = project.File.Seed
	}
	if seedFlag != "" {
		seed = seedFlag
	}
	return strategy, seed, nil
}

// =============================================================================
// Orchestrator Wiring
// =============================================================================

// newEngine detects the engine binary and checks its version. In dry-run
// mode a missing engine is tolerated and commands are printed for docker.
func (a *app) newEngine(ctx context.Context) (engine.Engine, error) {
	preferred := a.settings.Engine
	if engineFlag != "" {
		preferred = engineFlag
	}
	binary, err := engine.Detect(a.proc, preferred)
	if err != nil {
		if !dryRun {
			return nil, err
		}
		binary = preferred
		if binary == "" {
			binary = engine.Docker
		}
	}

	eng := engine.NewCLI(binary, a.proc,
		engine.WithDryRun(dryRun, a.printer.Out),
		engine.WithLogger(a.logger.Slog()),
	)
	v, err := engine.CheckVersion(ctx, eng)
	if err != nil {
		return nil, err
	}
	a.logger.Debug("container engine", "binary", binary, "version", v)
	return eng, nil
}

// policy layers the scheduler policy: defaults, settings file, HELM_DOCKER_*
// environment, then flags.
func (a *app) policy() scheduler.Policy {
	return scheduler.PolicyFromEnv(a.settings.PolicyLookup(nil)).Override(scheduler.Policy{
		MaxHeavyOps: maxHeavyOps,
		MaxBuildOps: maxBuildOps,
		RetryBudget: retryBudget,
	})
}

// newScheduler builds the host-wide operation scheduler.
func (a *app) newScheduler() *scheduler.Scheduler {
	return scheduler.New(
		scheduler.NewFileLocker(scheduler.DefaultRoot()),
		a.policy(),
		scheduler.WithDryRun(dryRun),
		scheduler.WithLogger(a.logger.Slog()),
		scheduler.WithObserver(a.tel),
	)
}

// buildContext wires every orchestrator collaborator for project.
func (a *app) buildContext(ctx context.Context, project *config.Project, seed string) (*orchestrator.Context, error) {
	eng, err := a.newEngine(ctx)
	if err != nil {
		return nil, err
	}
	logger := a.logger.Slog()
	registry := drivers.Default()
	sched := a.newScheduler()

	return &orchestrator.Context{
		Engine:    eng,
		Scheduler: sched,
		Registry:  registry,
		Allocator: ports.NewAllocator(),
		Lifecycle: lifecycle.New(eng, sched, registry,
			lifecycle.WithLogger(logger),
			lifecycle.WithWorkspace(project.Root),
		),
		Prober: health.NewProber(eng, registry, health.WithLogger(logger)),
		Hooks: hooks.NewRunner(eng, a.proc, project.Root,
			hooks.WithLogger(logger),
			hooks.WithDryRun(dryRun, a.printer.Out),
		),
		Telemetry:   a.tel,
		Logger:      logger,
		Workspace:   project.Root,
		Environment: project.Environment(),
		Seed:        seed,
		ConfigPath:  project.Path,
		EnvPath:     project.EnvFilePath(),
		Store:       config.NewPersister(a.fs, logger),
		Lock:        process.NewWorkspaceLock(filepath.Join(project.Root, lockFileName)),
		DryRun:      dryRun,
	}, nil
}

// planningContext is the subset of the orchestrator Plan needs; it never
// talks to the engine.
func planningContext(project *config.Project, seed string, logger *slog.Logger) *orchestrator.Context {
	return &orchestrator.Context{
		Registry:    drivers.Default(),
		Allocator:   ports.NewAllocator(),
		Logger:      logger,
		Workspace:   project.Root,
		Environment: project.Environment(),
		Seed:        seed,
	}
}

// =============================================================================
// Exit Codes
// =============================================================================

const (
	exitOK       = 0
	exitFailure  = 1
	exitConfig   = 2
	exitCanceled = 130
)

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, context.Canceled):
		return exitCanceled
	case isConfigError(err):
		return exitConfig
	default:
		return exitFailure
	}
}
