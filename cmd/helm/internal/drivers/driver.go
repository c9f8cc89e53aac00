// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package drivers describes the backend technologies helm can run.
//
// Every driver implements Driver. Optional behavior is expressed as small
// capability interfaces which callers discover with a type assertion:
//
//	HealthChecker   how to tell the service is ready
//	DefaultVolumer  where the default named data volume is mounted
//	RuntimeEnver    environment the container itself needs
//	ConnectionEnver variables an application uses to reach the service
//	SecondaryPorter a second published port (SMTP for mail catchers)
//	Commander       a default command line for the image
//
// Drivers are looked up by name in a Registry.
package drivers

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jinterlante1206/helm/cmd/helm/internal/service"
	"github.com/jinterlante1206/helm/cmd/helm/internal/util"
)

// =============================================================================
// Interfaces
// =============================================================================

// Driver is the minimum every backend provides.
type Driver interface {
	// Name is the registry key, e.g. "postgres".
	Name() string

	// Kind is the default service kind.
	Kind() service.Kind

	// DefaultImage is used when the service sets no image.
	DefaultImage() string

	// ContainerPort is the primary port inside the container.
	ContainerPort() int
}

// HealthChecker yields the readiness check for a service.
type HealthChecker interface {
	HealthCheck(svc *service.Descriptor) Check
}

// DefaultVolumer declares the mount path of the default data volume.
type DefaultVolumer interface {
	DefaultVolumePath() string
}

// RuntimeEnver yields environment the container needs to boot.
type RuntimeEnver interface {
	RuntimeEnv(svc *service.Descriptor) map[string]string
}

// ConnectionEnver yields the variables an application uses to reach the
// service. The values reflect svc's current host and port.
type ConnectionEnver interface {
	ConnectionEnv(svc *service.Descriptor) map[string]string
}

// Commander supplies a default command when the service sets none.
type Commander interface {
	DefaultCommand(svc *service.Descriptor) []string
}

// SecondaryPorter declares a second published port.
type SecondaryPorter interface {
	// SecondaryContainerPort is the second port inside the container.
	SecondaryContainerPort() int

	// SecondaryField is the config field holding the host port, e.g. "smtp_port".
	SecondaryField() string
}

// =============================================================================
// Health Check Description
// =============================================================================

// CheckKind selects how a readiness check is performed.
type CheckKind string

const (
	// CheckExec runs Argv inside the container; exit 0 means ready.
	CheckExec CheckKind = "exec"

	// CheckHTTP issues GET Path against the published port.
	CheckHTTP CheckKind = "http"

	// CheckTCP dials the published port.
	CheckTCP CheckKind = "tcp"
)

// Check is a driver's readiness check for one service.
type Check struct {
	Kind CheckKind

	// Argv for CheckExec.
	Argv []string

	// Expect, when set for CheckExec, must appear in stdout.
	Expect string

	// Path for CheckHTTP.
	Path string

	// Statuses, when non-empty for CheckHTTP, are the accepted status codes.
	// Otherwise any status below 500 is ready.
	Statuses []int
}

// =============================================================================
// Registry
// =============================================================================

// Registry maps driver names to drivers.
//
// # Thread Safety
//
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Register adds d, replacing any driver of the same name.
func (r *Registry) Register(d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[d.Name()] = d
}

// Lookup returns the driver for name.
func (r *Registry) Lookup(name string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	if !ok {
		return nil, &util.ConfigurationError{
			Field:  "driver",
			Detail: fmt.Sprintf("%q (known: %v)", name, r.namesLocked()),
			Err:    util.ErrUnknownDriver,
		}
	}
	return d, nil
}

// For returns the driver for svc, wrapping lookup errors with the service name.
func (r *Registry) For(svc *service.Descriptor) (Driver, error) {
	d, err := r.Lookup(svc.Driver)
	if err != nil {
		if cfgErr, ok := err.(*util.ConfigurationError); ok {
			cfgErr.Service = svc.Name
		}
		return nil, err
	}
	return d, nil
}

// Names lists registered driver names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.drivers))
	for n := range r.drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the registry with every built-in driver.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry()
		for _, d := range Builtins() {
			defaultRegistry.Register(d)
		}
	})
	return defaultRegistry
}

// =============================================================================
// Capability Helpers
// =============================================================================

// HealthCheckFor returns the readiness check for svc, falling back to a TCP
// dial when the driver declares none. Service-level HTTP overrides win.
func HealthCheckFor(d Driver, svc *service.Descriptor) Check {
	check := Check{Kind: CheckTCP}
	if hc, ok := d.(HealthChecker); ok {
		check = hc.HealthCheck(svc)
	}
	if svc.HealthPath != "" {
		check = Check{Kind: CheckHTTP, Path: svc.HealthPath}
	}
	if len(svc.HealthStatuses) > 0 && check.Kind == CheckHTTP {
		check.Statuses = append([]int(nil), svc.HealthStatuses...)
	}
	return check
}

// DefaultVolume returns "<container>-data:<path>" when the driver has a
// default volume and the service declares no explicit volumes.
func DefaultVolume(d Driver, svc *service.Descriptor) (string, bool) {
	if len(svc.Volumes) > 0 {
		return "", false
	}
	dv, ok := d.(DefaultVolumer)
	if !ok || dv.DefaultVolumePath() == "" {
		return "", false
	}
	return service.DefaultVolumeName(svc.Container) + ":" + dv.DefaultVolumePath(), true
}

// RuntimeEnv returns the driver's container environment, or nil.
func RuntimeEnv(d Driver, svc *service.Descriptor) map[string]string {
	if re, ok := d.(RuntimeEnver); ok {
		return re.RuntimeEnv(svc)
	}
	return nil
}

// ConnectionEnv returns the driver's connection variables, or nil.
func ConnectionEnv(d Driver, svc *service.Descriptor) map[string]string {
	if ce, ok := d.(ConnectionEnver); ok {
		return ce.ConnectionEnv(svc)
	}
	return nil
}

// ContainerPort returns the service's container port override or the
// driver's.
func ContainerPort(d Driver, svc *service.Descriptor) int {
	if svc.ContainerPort > 0 {
		return svc.ContainerPort
	}
	return d.ContainerPort()
}

// Command returns the service's command override or the driver default.
func Command(d Driver, svc *service.Descriptor) []string {
	if len(svc.Command) > 0 {
		return svc.Command
	}
	if c, ok := d.(Commander); ok {
		return c.DefaultCommand(svc)
	}
	return nil
}

// Secondary returns the driver's secondary port capability, if any.
func Secondary(d Driver) (SecondaryPorter, bool) {
	sp, ok := d.(SecondaryPorter)
	return sp, ok
}
