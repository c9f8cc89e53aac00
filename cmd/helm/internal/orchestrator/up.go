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
	"time"

	"github.com/google/uuid"

	"github.com/jinterlante1206/helm/cmd/helm/config"
	"github.com/jinterlante1206/helm/cmd/helm/internal/drivers"
	"github.com/jinterlante1206/helm/cmd/helm/internal/envcompose"
	"github.com/jinterlante1206/helm/cmd/helm/internal/health"
	"github.com/jinterlante1206/helm/cmd/helm/internal/lifecycle"
	"github.com/jinterlante1206/helm/cmd/helm/internal/ports"
	"github.com/jinterlante1206/helm/cmd/helm/internal/resilience"
	"github.com/jinterlante1206/helm/cmd/helm/internal/service"
	"github.com/jinterlante1206/helm/cmd/helm/internal/telemetry"
)

// =============================================================================
// Options and Results
// =============================================================================

const (
	// DefaultParallel is the wave pool size when none is requested.
	DefaultParallel = 1

	// MaxParallel caps the wave pool size.
	MaxParallel = 8
)

// UpOptions controls one Up call.
type UpOptions struct {
	Selection  config.Selection
	Strategy   ports.Strategy
	PullPolicy service.PullPolicy

	// Recreate force-removes existing containers before creating them.
	Recreate bool

	// WaitForHealth probes each started service before its wave completes.
	WaitForHealth bool
	Health        health.Options

	// Parallel is the per-wave pool size, clamped to [1, MaxParallel].
	Parallel int

	// FailFast stops a wave at its first failure. When false every service
	// in the wave is attempted and the failures are joined.
	FailFast bool

	// Force reassigns ports that are pinned in config.
	Force bool

	// Persist writes changed bindings back to helm.toml.
	Persist bool

	// WriteEnv writes the inferred variables to the dotenv file.
	WriteEnv bool

	// Rollback removes the containers this call created when it fails.
	Rollback bool
}

// ServiceResult is the outcome for one service.
type ServiceResult struct {
	Name      string
	Container string
	Driver    string
	Action    lifecycle.Action
	Host      string
	Port      int

	// SecondaryPort is zero for drivers without one.
	SecondaryPort int

	// PortChanged is true when Port or SecondaryPort differ from config.
	PortChanged bool

	Duration time.Duration
	Err      error
}

// UpResult summarizes an Up call.
type UpResult struct {
	// RunID correlates log lines and spans of one invocation.
	RunID string

	// Services in selection order. Services never attempted have no Action.
	Services []ServiceResult

	// Env is the inferred environment injected into containers.
	Env map[string]string

	// Persisted is true when helm.toml changed.
	Persisted bool

	// EnvWritten is true when the dotenv file changed.
	EnvWritten bool

	// Blocked lists dotenv values kept to avoid a security downgrade.
	Blocked []envcompose.Downgrade

	// RolledBack lists containers removed by rollback.
	RolledBack []string
}

// Service returns the result for name.
func (r *UpResult) Service(name string) (ServiceResult, bool) {
	for _, s := range r.Services {
		if s.Name == name {
			return s, true
		}
	}
	return ServiceResult{}, false
}

// =============================================================================
// Up
// =============================================================================

// Up brings the selected services up.
//
// # Description
//
// See the package documentation for the sequence. services is the full
// configured set; only the selection is started, but every service's
// existing bindings reserve their ports and feed environment inference.
// Descriptors are cloned, so services is never mutated.
//
// # Inputs
//
//   - ctx: Cancels slot waits, health probes and hooks.
//   - services: Every configured service, container names resolved.
//   - opts: Selection and behavior.
//
// # Outputs
//
//   - *UpResult: Always non-nil, populated as far as the run got.
//   - error: Joined per-service failures, a hook failure or a persistence
//     failure.
func (c *Context) Up(ctx context.Context, services []*service.Descriptor, opts UpOptions) (*UpResult, error) {
	tel := c.telemetry()
	result := &UpResult{RunID: uuid.NewString()}
	logger := c.logger().With("run_id", result.RunID)

	ctx, span := tel.StartSpan(ctx, "helm.up", "run_id", result.RunID)
	var err error
	defer func() { telemetry.EndSpan(span, err) }()

	all := make([]*service.Descriptor, len(services))
	for i, svc := range services {
		all[i] = svc.Clone()
	}

	var selected []*service.Descriptor
	selected, err = config.Select(all, opts.Selection)
	if err != nil {
		return result, err
	}
	if len(selected) == 0 {
		logger.Info("no services selected")
		return result, nil
	}

	original := make(map[string][2]int, len(selected))
	for _, svc := range selected {
		original[svc.Name] = [2]int{svc.Port, svc.SecondaryPort}
	}

	var existing map[string]binding
	if !opts.Recreate {
		if existing, err = c.existingBindings(ctx, selected); err != nil {
			return result, err
		}
	}
	adopted := adoptBindings(selected, existing, opts.Force)
	if err = c.planPorts(all, selected, opts, adopted); err != nil {
		return result, err
	}
	stale := staleBindings(selected, existing)

	env, err := envcompose.Infer(c.Registry, bound(all))
	if err != nil {
		return result, err
	}
	result.Env = env

	results := make(map[string]*ServiceResult, len(selected))
	for _, svc := range selected {
		orig := original[svc.Name]
		results[svc.Name] = &ServiceResult{
			Name:          svc.Name,
			Container:     svc.Container,
			Driver:        svc.Driver,
			Host:          svc.Host,
			Port:          svc.Port,
			SecondaryPort: svc.SecondaryPort,
			PortChanged:   orig[0] != svc.Port || orig[1] != svc.SecondaryPort,
		}
	}
	defer func() {
		for _, svc := range selected {
			result.Services = append(result.Services, *results[svc.Name])
		}
	}()

	var saga *resilience.Saga
	if opts.Rollback {
		saga = resilience.NewSaga(resilience.SagaConfig{Logger: logger})
	}

	var (
		mu      sync.Mutex
		started []*service.Descriptor
	)
	start := func(ctx context.Context, svc *service.Descriptor) error {
		res, err := c.startService(ctx, svc, env, opts, stale[svc.Name], saga)
		mu.Lock()
		defer mu.Unlock()
		r := results[svc.Name]
		r.Action, r.Duration, r.Err = res.Action, res.Duration, err
		if res.Action != "" {
			started = append(started, svc)
		}
		return err
	}

	backends, apps := splitWaves(selected)
	for i, wave := range [][]*service.Descriptor{backends, apps} {
		if len(wave) == 0 {
			continue
		}
		logger.Info("starting wave", "wave", i+1, "services", names(wave))
		if err = runWave(ctx, wave, opts.Parallel, opts.FailFast, start); err != nil {
			break
		}
	}

	if err == nil {
		hookErr := c.Hooks.WithVars(env).RunPhase(ctx, selected, service.PhasePostUp)
		tel.ObserveHook(string(service.PhasePostUp), hookErr)
		if hookErr != nil {
			err = fmt.Errorf("post_up hooks: %w", hookErr)
		}
	}

	if err != nil && saga != nil {
		comp := saga.Compensate(ctx)
		result.RolledBack = comp.Compensated
		for _, ce := range comp.Errors {
			err = errors.Join(err, ce)
		}
		started = nil
	}

	if opts.Persist || opts.WriteEnv {
		writeEnv := opts.WriteEnv && err == nil
		if perr := c.persist(ctx, result, results, started, env, opts.Persist, writeEnv); perr != nil {
			err = errors.Join(err, perr)
		}
	}
	return result, err
}

// startService ensures one container is running and, when requested,
// healthy. rebind recreates a container whose published ports no longer
// match the planned ones.
func (c *Context) startService(ctx context.Context, svc *service.Descriptor, env map[string]string, opts UpOptions, rebind bool, saga *resilience.Saga) (ServiceResult, error) {
	tel := c.telemetry()
	ctx, span := tel.StartSpan(ctx, "helm.service.up", "service", svc.Name, "driver", svc.Driver)

	if rebind {
		c.logger().Info("recreating container to publish new ports", "service", svc.Name, "port", svc.Port)
	}
	began := time.Now()
	action, err := c.Lifecycle.EnsureRunning(ctx, svc, lifecycle.EnsureOptions{
		Recreate:   opts.Recreate || rebind,
		PullPolicy: opts.PullPolicy,
		Env:        env,
	})
	tel.ObserveServiceStart(svc.Driver, string(action), time.Since(began), err)
	res := ServiceResult{Action: action}
	if err != nil {
		res.Duration = time.Since(began)
		telemetry.EndSpan(span, err)
		return res, err
	}

	if saga != nil && action.Created() {
		saga.Record(resilience.Step{
			Name: svc.Container,
			Compensate: func(ctx context.Context) error {
				return c.Lifecycle.Remove(ctx, svc, false)
			},
		})
	}

	if opts.WaitForHealth {
		probeStart := time.Now()
		err = c.Prober.WaitUntilHealthy(ctx, svc, opts.Health)
		tel.ObserveHealth(svc.Driver, time.Since(probeStart), err)
	}
	res.Duration = time.Since(began)
	telemetry.EndSpan(span, err)
	return res, err
}

// =============================================================================
// Port Planning
// =============================================================================

// binding is the pair of host ports a container publishes. Zero means the
// port is not published.
type binding struct {
	Port          int
	SecondaryPort int
}

// existingBindings reads the published ports of selected containers that
// already exist, keyed by service name.
func (c *Context) existingBindings(ctx context.Context, selected []*service.Descriptor) (map[string]binding, error) {
	out := make(map[string]binding)
	for _, svc := range selected {
		drv, err := c.Registry.For(svc)
		if err != nil {
			continue
		}
		published, err := c.Engine.Published(ctx, svc.Container)
		if err != nil {
			return nil, fmt.Errorf("inspect ports of %s: %w", svc.Container, err)
		}
		if len(published) == 0 {
			continue
		}
		b := binding{Port: published[drivers.ContainerPort(drv, svc)]}
		if sp, ok := drivers.Secondary(drv); ok {
			b.SecondaryPort = published[sp.SecondaryContainerPort()]
		}
		if b != (binding{}) {
			out[svc.Name] = b
		}
	}
	return out, nil
}

// adoptBindings takes over the published ports of existing containers for
// fields that are not pinned, so a reused container keeps serving where
// config and env say it does. With force nothing is adopted.
func adoptBindings(selected []*service.Descriptor, existing map[string]binding, force bool) map[string]binding {
	adopted := make(map[string]binding, len(existing))
	if force {
		return adopted
	}
	for _, svc := range selected {
		b, ok := existing[svc.Name]
		if !ok {
			continue
		}
		var a binding
		if b.Port > 0 && (svc.Port <= 0 || !svc.PortPinned) {
			svc.Port, a.Port = b.Port, b.Port
		}
		if b.SecondaryPort > 0 && (svc.SecondaryPort <= 0 || !svc.SecondaryPinned) {
			svc.SecondaryPort, a.SecondaryPort = b.SecondaryPort, b.SecondaryPort
		}
		if a != (binding{}) {
			adopted[svc.Name] = a
		}
	}
	return adopted
}

// staleBindings names existing containers whose published ports differ
// from the planned ones.
func staleBindings(selected []*service.Descriptor, existing map[string]binding) map[string]bool {
	stale := make(map[string]bool)
	for _, svc := range selected {
		b, ok := existing[svc.Name]
		if !ok {
			continue
		}
		if (b.Port > 0 && b.Port != svc.Port) || (b.SecondaryPort > 0 && b.SecondaryPort != svc.SecondaryPort) {
			stale[svc.Name] = true
		}
	}
	return stale
}

// planPorts assigns ports to selected services that need one. Every other
// known binding is reserved first so no allocation collides with it. Ports
// in adopted are kept as they are.
func (c *Context) planPorts(all, selected []*service.Descriptor, opts UpOptions, adopted map[string]binding) error {
	reassign := make(map[string]bool, len(selected))
	for _, svc := range selected {
		reassign[svc.Name] = true
	}
	needsPrimary := func(svc *service.Descriptor) bool {
		return reassign[svc.Name] && adopted[svc.Name].Port == 0 &&
			(svc.Port <= 0 || !svc.PortPinned || opts.Force)
	}
	needsSecondary := func(svc *service.Descriptor, has bool) bool {
		return has && reassign[svc.Name] && adopted[svc.Name].SecondaryPort == 0 &&
			(svc.SecondaryPort <= 0 || !svc.SecondaryPinned || opts.Force)
	}

	used := ports.NewUsedSet()
	for _, svc := range all {
		_, has := c.secondary(svc)
		if svc.Port > 0 && !needsPrimary(svc) {
			used.Add(svc.Host, svc.Port)
		}
		if svc.SecondaryPort > 0 && !needsSecondary(svc, has) {
			used.Add(svc.Host, svc.SecondaryPort)
		}
	}

	seed := ports.StableSeed(c.Workspace, c.Environment, c.Seed)
	for _, svc := range selected {
		field, has := c.secondary(svc)
		if needsPrimary(svc) {
			port, err := c.Allocator.Allocate(ports.Request{Host: svc.Host, Service: svc.Name, Field: "port"}, opts.Strategy, seed, used)
			if err != nil {
				return err
			}
			c.logger().Info("assigned port", "service", svc.Name, "port", port)
			svc.Port = port
		}
		if needsSecondary(svc, has) {
			port, err := c.Allocator.Allocate(ports.Request{Host: svc.Host, Service: svc.Name, Field: field}, opts.Strategy, seed, used)
			if err != nil {
				return err
			}
			c.logger().Info("assigned port", "service", svc.Name, field, port)
			svc.SecondaryPort = port
		}
	}
	return nil
}

// secondary returns the secondary port field for svc's driver.
func (c *Context) secondary(svc *service.Descriptor) (string, bool) {
	drv, err := c.Registry.For(svc)
	if err != nil {
		return "", false
	}
	sp, ok := drivers.Secondary(drv)
	if !ok {
		return "", false
	}
	return sp.SecondaryField(), true
}

// =============================================================================
// Persistence
// =============================================================================

// persist writes the bindings of started services whose ports changed, and
// the inferred variables, under the workspace lock.
func (c *Context) persist(ctx context.Context, result *UpResult, results map[string]*ServiceResult, started []*service.Descriptor, env map[string]string, bindings, writeEnv bool) error {
	if c.Store == nil || c.ConfigPath == "" {
		return nil
	}

	var changed []config.Binding
	if bindings {
		for _, svc := range started {
			if !results[svc.Name].PortChanged {
				continue
			}
			field, _ := c.secondary(svc)
			changed = append(changed, config.Binding{
				Service:        svc.Name,
				Host:           svc.Host,
				Port:           svc.Port,
				SecondaryField: field,
				SecondaryPort:  svc.SecondaryPort,
			})
		}
	}
	writeEnv = writeEnv && c.EnvPath != "" && len(env) > 0
	if len(changed) == 0 && !writeEnv {
		return nil
	}

	if c.DryRun {
		c.logger().Info("dry-run: skipping persistence", "bindings", len(changed), "env", writeEnv)
		return nil
	}

	if c.Lock != nil {
		if err := c.Lock.Lock(ctx); err != nil {
			return fmt.Errorf("lock workspace: %w", err)
		}
		defer func() { _ = c.Lock.Unlock() }()
	}

	var errs []error
	if len(changed) > 0 {
		ok, err := c.Store.SaveBindings(c.ConfigPath, changed)
		if err != nil {
			errs = append(errs, fmt.Errorf("save bindings: %w", err))
		}
		result.Persisted = ok
	}
	if writeEnv {
		res, err := c.Store.WriteEnv(c.EnvPath, env)
		if err != nil {
			errs = append(errs, fmt.Errorf("write %s: %w", c.EnvPath, err))
		}
		result.EnvWritten = res.Changed
		result.Blocked = res.Blocked
		for _, b := range res.Blocked {
			c.logger().Warn("kept secure value in env file", "key", b.Key, "kept", b.Kept, "rejected", b.Rejected)
		}
	}
	return errors.Join(errs...)
}

// =============================================================================
// Helpers
// =============================================================================

// splitWaves returns non-app services and app services, order preserved.
func splitWaves(services []*service.Descriptor) (backends, apps []*service.Descriptor) {
	for _, svc := range services {
		if svc.Kind.IsApp() {
			apps = append(apps, svc)
		} else {
			backends = append(backends, svc)
		}
	}
	return backends, apps
}

// bound returns services that have a host port, the only ones that can
// contribute connection variables.
func bound(services []*service.Descriptor) []*service.Descriptor {
	out := make([]*service.Descriptor, 0, len(services))
	for _, svc := range services {
		if svc.Port > 0 {
			out = append(out, svc)
		}
	}
	return out
}

func names(services []*service.Descriptor) []string {
	out := make([]string, len(services))
	for i, svc := range services {
		out[i] = svc.Name
	}
	return out
}
