// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package service defines the in-memory model of a configured service: one
// container, its bindings, its hooks and its health overrides.
//
// Descriptors are built once per command invocation from the project
// config, mutated during port planning, and discarded when the command
// exits. Only the config file carries state between invocations.
package service

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// =============================================================================
// Kind
// =============================================================================

// Kind classifies a service. Only KindApp is special: app services start in
// the second wave, after every backend.
type Kind string

const (
	KindDatabase    Kind = "database"
	KindCache       Kind = "cache"
	KindObjectStore Kind = "object-store"
	KindSearch      Kind = "search"
	KindMail        Kind = "mail"
	KindApp         Kind = "app"
)

// Kinds lists every known kind in display order.
var Kinds = []Kind{KindDatabase, KindCache, KindObjectStore, KindSearch, KindMail, KindApp}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds, k)
}

// IsApp reports whether services of this kind belong to the app wave.
func (k Kind) IsApp() bool {
	return k == KindApp
}

// =============================================================================
// Pull Policy
// =============================================================================

// PullPolicy decides when an image is pulled before container creation.
type PullPolicy string

const (
	// PullAlways pulls unconditionally.
	PullAlways PullPolicy = "always"

	// PullMissing pulls only when local image inspection fails.
	PullMissing PullPolicy = "missing"

	// PullNever never pulls; a missing image surfaces as an engine failure.
	PullNever PullPolicy = "never"
)

// ParsePullPolicy parses a flag value. Empty input yields PullMissing.
func ParsePullPolicy(s string) (PullPolicy, error) {
	switch p := PullPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PullMissing, nil
	case PullAlways, PullMissing, PullNever:
		return p, nil
	default:
		return "", fmt.Errorf("unknown pull policy %q (want always, missing or never)", s)
	}
}

// =============================================================================
// Build
// =============================================================================

// Build describes a locally built image. When set, the lifecycle driver
// builds Image from Context instead of pulling it.
type Build struct {
	// Context is the build context directory, relative to the workspace.
	Context string

	// Dockerfile is the file name inside Context. Empty means "Dockerfile".
	Dockerfile string

	// Args are passed as --build-arg KEY=VALUE in sorted key order.
	Args map[string]string
}

// =============================================================================
// Descriptor
// =============================================================================

// Descriptor is one configured service.
type Descriptor struct {
	// Name is the unique service key from config.
	Name string

	// Kind classifies the service.
	Kind Kind

	// Driver is the backend flavor (postgres, redis, frankenphp, ...).
	Driver string

	// Image is the image reference. Empty means the driver default.
	Image string

	// Host is the bind host for published ports.
	Host string

	// Port is the host port published for the driver's primary container port.
	Port int

	// PortPinned is true when Port came from the user's config and must not
	// be reassigned unless forced.
	PortPinned bool

	// ContainerPort overrides the driver's primary container port. Needed
	// for generic app images.
	ContainerPort int

	// SecondaryPort is the host port for the driver's secondary container
	// port (SMTP for mail catchers). Zero when the driver has none.
	SecondaryPort int

	// SecondaryPinned mirrors PortPinned for SecondaryPort.
	SecondaryPinned bool

	// Command overrides the image's default command when non-empty.
	Command []string

	// Volumes are explicit "source:target[:mode]" mounts. When empty the
	// driver's default data volume is used.
	Volumes []string

	// Env is the explicit environment from config.
	Env map[string]string

	// Hooks are lifecycle hooks in declaration order.
	Hooks []Hook

	// HealthPath overrides the driver's HTTP readiness path.
	HealthPath string

	// HealthStatuses, when non-empty, replaces the "any status below 500"
	// readiness rule for HTTP checks.
	HealthStatuses []int

	// Build, when set, builds Image locally.
	Build *Build

	// Profiles are the named profiles this service belongs to.
	Profiles []string

	// ContainerName is an explicit container name from config.
	ContainerName string

	// Container is the resolved container name. Set by ResolveContainerNames.
	Container string
}

// HooksFor returns the hooks declared for phase, in declaration order.
func (d *Descriptor) HooksFor(phase Phase) []Hook {
	var out []Hook
	for _, h := range d.Hooks {
		if h.Phase == phase {
			out = append(out, h)
		}
	}
	return out
}

// HasProfile reports whether the service is tagged with profile.
func (d *Descriptor) HasProfile(profile string) bool {
	return slices.Contains(d.Profiles, profile)
}

// Clone returns a deep copy, so a planning pass can mutate ports without
// touching the loaded config.
func (d *Descriptor) Clone() *Descriptor {
	c := *d
	c.Command = slices.Clone(d.Command)
	c.Volumes = slices.Clone(d.Volumes)
	c.Hooks = slices.Clone(d.Hooks)
	c.HealthStatuses = slices.Clone(d.HealthStatuses)
	c.Profiles = slices.Clone(d.Profiles)
	if d.Env != nil {
		c.Env = make(map[string]string, len(d.Env))
		for k, v := range d.Env {
			c.Env[k] = v
		}
	}
	if d.Build != nil {
		b := *d.Build
		c.Build = &b
	}
	return &c
}

// =============================================================================
// Hooks
// =============================================================================

// Phase is a lifecycle point at which hooks run.
type Phase string

const (
	PhasePostUp   Phase = "post_up"
	PhasePreDown  Phase = "pre_down"
	PhasePostDown Phase = "post_down"
)

// RunKind selects where a hook executes.
type RunKind string

const (
	// RunExec runs Argv inside the service container via the engine.
	RunExec RunKind = "exec"

	// RunScript runs Script on the host, relative to the workspace root.
	RunScript RunKind = "script"
)

// OnError is a hook's failure policy.
type OnError string

const (
	// OnErrorFail aborts the remaining hooks of the phase.
	OnErrorFail OnError = "fail"

	// OnErrorWarn logs the failure and continues.
	OnErrorWarn OnError = "warn"
)

// Hook is one lifecycle hook.
type Hook struct {
	Name    string
	Phase   Phase
	Run     RunKind
	Argv    []string
	Script  string
	OnError OnError

	// Timeout of zero lets the hook run to completion.
	Timeout time.Duration
}
