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
	"errors"
	"fmt"
	"sync"

	"github.com/jinterlante1206/helm/cmd/helm/config"
	"github.com/jinterlante1206/helm/cmd/helm/internal/drivers"
	"github.com/jinterlante1206/helm/cmd/helm/internal/infra/engine"
	"github.com/jinterlante1206/helm/cmd/helm/internal/lifecycle"
	"github.com/jinterlante1206/helm/cmd/helm/internal/service"
	"github.com/jinterlante1206/helm/cmd/helm/internal/telemetry"
)

// =============================================================================
// Down
// =============================================================================

// DownOptions controls one Down call.
type DownOptions struct {
	Selection config.Selection

	// Volumes also removes each service's default data volume.
	Volumes bool

	// Parallel is the removal pool size, clamped to [1, MaxParallel].
	Parallel int
}

// DownResult summarizes a Down call.
type DownResult struct {
	// Removed lists containers that were removed, or would have been in
	// dry-run.
	Removed []string

	// Skipped lists containers that did not exist.
	Skipped []string
}

// Down tears the selected services down.
//
// # Description
//
// pre_down hooks run only for services whose container is running, since
// exec hooks need it. Containers are then removed app wave first, so
// nothing talks to a backend that is already gone. post_down hooks run
// last, for the whole selection. Removal failures are joined; a failing
// pre_down hook with on_error "fail" aborts before anything is removed.
func (c *Context) Down(ctx context.Context, services []*service.Descriptor, opts DownOptions) (*DownResult, error) {
	tel := c.telemetry()
	result := &DownResult{}

	ctx, span := tel.StartSpan(ctx, "helm.down")
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	var selected []*service.Descriptor
	selected, err = config.Select(services, opts.Selection)
	if err != nil {
		return result, err
	}

	var running, present []*service.Descriptor
	for _, svc := range selected {
		state, ierr := c.Engine.Inspect(ctx, svc.Container)
		if ierr != nil {
			err = fmt.Errorf("inspect %s: %w", svc.Container, ierr)
			return result, err
		}
		switch {
		case state == engine.StateRunning:
			running = append(running, svc)
			present = append(present, svc)
		case state != engine.StateAbsent:
			present = append(present, svc)
		default:
			result.Skipped = append(result.Skipped, svc.Container)
		}
	}

	hookErr := c.Hooks.RunPhase(ctx, running, service.PhasePreDown)
	tel.ObserveHook(string(service.PhasePreDown), hookErr)
	if hookErr != nil {
		err = fmt.Errorf("pre_down hooks: %w", hookErr)
		return result, err
	}

	var mu sync.Mutex
	remove := func(ctx context.Context, svc *service.Descriptor) error {
		if rerr := c.Lifecycle.Remove(ctx, svc, opts.Volumes); rerr != nil {
			return rerr
		}
		mu.Lock()
		result.Removed = append(result.Removed, svc.Container)
		mu.Unlock()
		return nil
	}

	backends, apps := splitWaves(present)
	var errs []error
	for _, wave := range [][]*service.Descriptor{apps, backends} {
		if len(wave) == 0 {
			continue
		}
		if werr := runWave(ctx, wave, opts.Parallel, false, remove); werr != nil {
			errs = append(errs, werr)
		}
	}

	if opts.Volumes {
		errs = append(errs, c.removeOrphanVolumes(ctx, selected, present))
	}

	hookErr = c.Hooks.RunPhase(ctx, selected, service.PhasePostDown)
	tel.ObserveHook(string(service.PhasePostDown), hookErr)
	if hookErr != nil {
		errs = append(errs, fmt.Errorf("post_down hooks: %w", hookErr))
	}

	err = errors.Join(errs...)
	return result, err
}

// removeOrphanVolumes removes default volumes of services whose container
// was already gone, which Lifecycle.Remove never saw.
func (c *Context) removeOrphanVolumes(ctx context.Context, selected, present []*service.Descriptor) error {
	seen := make(map[string]bool, len(present))
	for _, svc := range present {
		seen[svc.Name] = true
	}
	var errs []error
	for _, svc := range selected {
		if seen[svc.Name] {
			continue
		}
		drv, err := c.Registry.For(svc)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, ok := drivers.DefaultVolume(drv, svc); !ok {
			continue
		}
		if err := c.Lifecycle.RemoveVolume(ctx, svc); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// Status
// =============================================================================

// ServiceStatus is one row of Status.
type ServiceStatus struct {
	Name          string       `yaml:"name"`
	Kind          service.Kind `yaml:"kind"`
	Driver        string       `yaml:"driver"`
	Container     string       `yaml:"container"`
	Image         string       `yaml:"image"`
	State         engine.State `yaml:"state"`
	Host          string       `yaml:"host"`
	Port          int          `yaml:"port,omitempty"`
	SecondaryPort int          `yaml:"secondary_port,omitempty"`
	Pinned        bool         `yaml:"pinned"`
	Hooks         int          `yaml:"hooks,omitempty"`
}

// Status inspects every selected service's container.
func (c *Context) Status(ctx context.Context, services []*service.Descriptor, sel config.Selection) ([]ServiceStatus, error) {
	selected, err := config.Select(services, sel)
	if err != nil {
		return nil, err
	}

	out := make([]ServiceStatus, 0, len(selected))
	for _, svc := range selected {
		drv, err := c.Registry.For(svc)
		if err != nil {
			return nil, err
		}
		state, err := c.Engine.Inspect(ctx, svc.Container)
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", svc.Container, err)
		}
		out = append(out, ServiceStatus{
			Name:          svc.Name,
			Kind:          svc.Kind,
			Driver:        svc.Driver,
			Container:     svc.Container,
			Image:         lifecycle.Image(drv, svc),
			State:         state,
			Host:          svc.Host,
			Port:          svc.Port,
			SecondaryPort: svc.SecondaryPort,
			Pinned:        svc.PortPinned,
			Hooks:         len(svc.Hooks),
		})
	}
	return out, nil
}
