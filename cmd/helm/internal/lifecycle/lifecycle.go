// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lifecycle drives one service container to the running state.
//
// The state machine, per container:
//
//	absent          -> ensure image -> run           (ActionCreated)
//	running         -> nothing                        (ActionReused)
//	exited, created -> start                          (ActionStarted)
//	anything else   -> rm -f -v -> ensure image -> run (ActionRecreated)
//	recreate        -> rm -f -v -> ensure image -> run (ActionRecreated)
//
// Every run, rm and volume rm holds a Heavy scheduler slot. Image builds
// hold a Build slot.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"github.com/jinterlante1206/helm/cmd/helm/internal/drivers"
	"github.com/jinterlante1206/helm/cmd/helm/internal/envcompose"
	"github.com/jinterlante1206/helm/cmd/helm/internal/infra/engine"
	"github.com/jinterlante1206/helm/cmd/helm/internal/scheduler"
	"github.com/jinterlante1206/helm/cmd/helm/internal/service"
	"github.com/jinterlante1206/helm/cmd/helm/internal/util"
)

// Action reports what EnsureRunning did.
type Action string

const (
	ActionReused    Action = "reused"
	ActionStarted   Action = "started"
	ActionCreated   Action = "created"
	ActionRecreated Action = "recreated"
)

// Created reports whether a new container was made, which is what a
// rollback has to undo.
func (a Action) Created() bool {
	return a == ActionCreated || a == ActionRecreated
}

// EnsureOptions controls one EnsureRunning call.
type EnsureOptions struct {
	// Recreate force-removes any existing container first.
	Recreate bool

	// PullPolicy governs image readiness before creation.
	PullPolicy service.PullPolicy

	// Env is the inferred environment to inject. Explicit service env is
	// merged on top by envcompose.ContainerEnv.
	Env map[string]string
}

// Driver is the container lifecycle driver.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent pulls of the same image are collapsed
// into one engine call.
type Driver struct {
	engine    engine.Engine
	scheduler *scheduler.Scheduler
	registry  *drivers.Registry
	workspace string
	logger    *slog.Logger
	pulls     singleflight.Group
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Driver) { d.logger = logger }
}

// WithWorkspace sets the workspace root used for ownership labels and build
// contexts.
func WithWorkspace(dir string) Option {
	return func(d *Driver) { d.workspace = dir }
}

// New creates a Driver.
func New(eng engine.Engine, sched *scheduler.Scheduler, registry *drivers.Registry, opts ...Option) *Driver {
	d := &Driver{
		engine:    eng,
		scheduler: sched,
		registry:  registry,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// EnsureRunning brings svc's container to the running state.
//
// # Description
//
// Inspects the container and applies the state machine in the package
// documentation. Creation composes the run arguments from the service
// bindings, volumes, environment, ownership labels, image and command.
//
// # Inputs
//
//   - ctx: Cancels slot waits. Engine commands in flight are not interrupted.
//   - svc: Service with its final host and ports; Container must be resolved.
//   - opts: Recreate flag, pull policy and injected environment.
//
// # Outputs
//
//   - Action: What was done.
//   - error: CommandError for engine failures, AllocationError for slot
//     timeouts, ConfigurationError for unknown drivers.
//
// # Limitations
//
//   - With PullNever and no local image, creation fails with the engine's
//     own error.
func (d *Driver) EnsureRunning(ctx context.Context, svc *service.Descriptor, opts EnsureOptions) (Action, error) {
	drv, err := d.registry.For(svc)
	if err != nil {
		return "", err
	}
	logger := d.logger.With("service", svc.Name, "container", svc.Container)

	action := ActionCreated
	if opts.Recreate {
		logger.Info("recreating container")
		if err := d.remove(ctx, svc.Container); err != nil {
			return "", err
		}
		action = ActionRecreated
	} else {
		state, err := d.engine.Inspect(ctx, svc.Container)
		if err != nil {
			return "", fmt.Errorf("inspect %s: %w", svc.Container, err)
		}
		switch {
		case state == engine.StateRunning:
			logger.Debug("container already running")
			return ActionReused, nil
		case state.Startable():
			logger.Info("starting existing container", "state", state)
			if err := d.engine.Start(ctx, svc.Container); err != nil {
				return "", err
			}
			return ActionStarted, nil
		case state != engine.StateAbsent:
			logger.Info("removing container in unusable state", "state", state)
			if err := d.remove(ctx, svc.Container); err != nil {
				return "", err
			}
			action = ActionRecreated
		}
	}

	if err := d.ensureImage(ctx, drv, svc, opts.PullPolicy); err != nil {
		return "", err
	}

	spec := d.runSpec(drv, svc, opts.Env)
	err = d.scheduler.Run(ctx, scheduler.ClassHeavy, "run "+svc.Container, func(ctx context.Context) error {
		return d.engine.Run(ctx, spec)
	})
	if err != nil {
		return "", err
	}
	logger.Info("container created", "image", spec.Image, "port", svc.Port)
	return action, nil
}

// Remove force-removes svc's container and, when volumes is set, its
// default data volume.
func (d *Driver) Remove(ctx context.Context, svc *service.Descriptor, volumes bool) error {
	if err := d.scheduler.Run(ctx, scheduler.ClassHeavy, "rm "+svc.Container, func(ctx context.Context) error {
		return d.engine.Remove(ctx, svc.Container, volumes)
	}); err != nil {
		return err
	}
	if !volumes {
		return nil
	}
	return d.RemoveVolume(ctx, svc)
}

// RemoveVolume removes svc's default data volume, if its driver has one and
// no explicit volumes are configured. A missing volume is not an error.
func (d *Driver) RemoveVolume(ctx context.Context, svc *service.Descriptor) error {
	drv, err := d.registry.For(svc)
	if err != nil {
		return err
	}
	if _, ok := drivers.DefaultVolume(drv, svc); !ok {
		return nil
	}
	name := service.DefaultVolumeName(svc.Container)
	return d.scheduler.Run(ctx, scheduler.ClassHeavy, "volume rm "+name, func(ctx context.Context) error {
		return d.engine.RemoveVolume(ctx, name)
	})
}

// Image returns the image svc runs: the explicit image, or the driver default.
func Image(drv drivers.Driver, svc *service.Descriptor) string {
	if svc.Image != "" {
		return svc.Image
	}
	return drv.DefaultImage()
}

func (d *Driver) remove(ctx context.Context, container string) error {
	return d.scheduler.Run(ctx, scheduler.ClassHeavy, "rm "+container, func(ctx context.Context) error {
		return d.engine.Remove(ctx, container, true)
	})
}

// ensureImage builds or pulls per policy.
func (d *Driver) ensureImage(ctx context.Context, drv drivers.Driver, svc *service.Descriptor, policy service.PullPolicy) error {
	image := Image(drv, svc)
	if image == "" {
		return &util.ConfigurationError{Service: svc.Name, Field: "image", Err: util.ErrInvalidConfig, Detail: "driver has no default image"}
	}

	if svc.Build != nil {
		return d.build(ctx, svc, image)
	}

	switch policy {
	case service.PullNever:
		return nil
	case service.PullAlways:
	default:
		exists, err := d.engine.ImageExists(ctx, image)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
	}

	_, err, shared := d.pulls.Do(image, func() (any, error) {
		d.logger.Info("pulling image", "image", image)
		return nil, d.engine.Pull(ctx, image)
	})
	if shared {
		d.logger.Debug("joined in-flight pull", "image", image)
	}
	return err
}

func (d *Driver) build(ctx context.Context, svc *service.Descriptor, image string) error {
	contextDir := svc.Build.Context
	if contextDir == "" {
		contextDir = "."
	}
	if !filepath.IsAbs(contextDir) && d.workspace != "" {
		contextDir = filepath.Join(d.workspace, contextDir)
	}
	spec := engine.BuildSpec{
		Image:      image,
		Context:    contextDir,
		Dockerfile: svc.Build.Dockerfile,
		Args:       svc.Build.Args,
	}
	_, err, _ := d.pulls.Do("build:"+image, func() (any, error) {
		return nil, d.scheduler.Run(ctx, scheduler.ClassBuild, "build "+image, func(ctx context.Context) error {
			d.logger.Info("building image", "service", svc.Name, "image", image)
			return d.engine.Build(ctx, spec)
		})
	})
	return err
}

// runSpec assembles the creation arguments.
func (d *Driver) runSpec(drv drivers.Driver, svc *service.Descriptor, injected map[string]string) engine.RunSpec {
	publish := []engine.PortMapping{{Host: svc.Host, HostPort: svc.Port, ContainerPort: drivers.ContainerPort(drv, svc)}}
	if sp, ok := drivers.Secondary(drv); ok && svc.SecondaryPort > 0 {
		publish = append(publish, engine.PortMapping{Host: svc.Host, HostPort: svc.SecondaryPort, ContainerPort: sp.SecondaryContainerPort()})
	}

	volumes := append([]string(nil), svc.Volumes...)
	if v, ok := drivers.DefaultVolume(drv, svc); ok {
		volumes = []string{v}
	}

	env, blocked := envcompose.ContainerEnv(drv, svc, injected)
	for _, b := range blocked {
		d.logger.Warn("kept secure value over explicit override", "service", svc.Name, "key", b.Key, "kept", b.Kept)
	}

	return engine.RunSpec{
		Name:    svc.Container,
		Publish: publish,
		Volumes: volumes,
		Env:     env,
		Labels:  engine.OwnershipLabels(d.workspace, svc.Name, drv.Name()),
		Image:   Image(drv, svc),
		Command: drivers.Command(drv, svc),
	}
}
