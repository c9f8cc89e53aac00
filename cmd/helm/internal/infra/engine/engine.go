// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package engine drives the docker or podman binary.
//
// All operations are argument-list invocations of the configured binary;
// success is the exit status and stderr is surfaced verbatim through
// util.CommandError. In dry-run mode nothing is executed: each would-be
// command line is printed and the call reports the neutral result
// (containers absent, images missing, commands succeeding).
package engine

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// =============================================================================
// Container State
// =============================================================================

// State is the engine-reported container status.
type State string

const (
	// StateAbsent means no container with that name exists.
	StateAbsent     State = "absent"
	StateCreated    State = "created"
	StateRunning    State = "running"
	StatePaused     State = "paused"
	StateRestarting State = "restarting"
	StateRemoving   State = "removing"
	StateExited     State = "exited"
	StateDead       State = "dead"
)

// Startable reports whether a plain start brings the container up.
func (s State) Startable() bool {
	return s == StateExited || s == StateCreated
}

// =============================================================================
// Interface
// =============================================================================

// Engine is the container engine surface helm uses.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Engine interface {
	// Binary returns the engine executable name, "docker" or "podman".
	Binary() string

	// DryRun reports whether calls are printed instead of executed.
	DryRun() bool

	// Inspect returns the container's state, StateAbsent if it does not exist.
	Inspect(ctx context.Context, container string) (State, error)

	// Published returns the host ports a container publishes, keyed by
	// container port. An absent container publishes nothing.
	Published(ctx context.Context, container string) (map[int]int, error)

	// ImageExists reports whether image is present locally.
	ImageExists(ctx context.Context, image string) (bool, error)

	// Pull pulls image.
	Pull(ctx context.Context, image string) error

	// Build builds an image.
	Build(ctx context.Context, spec BuildSpec) error

	// Run creates and starts a detached container.
	Run(ctx context.Context, spec RunSpec) error

	// Start starts an existing container.
	Start(ctx context.Context, container string) error

	// Stop stops a running container.
	Stop(ctx context.Context, container string) error

	// Remove force-removes a container, and its anonymous volumes when
	// volumes is true. Removing an absent container is not an error.
	Remove(ctx context.Context, container string, volumes bool) error

	// RemoveVolume removes a named volume. A missing volume is not an error.
	RemoveVolume(ctx context.Context, name string) error

	// Exec runs argv inside a running container.
	Exec(ctx context.Context, container string, argv []string) (ExecResult, error)

	// List returns containers carrying every label in labels.
	List(ctx context.Context, labels map[string]string) ([]Summary, error)

	// Version returns the engine client version.
	Version(ctx context.Context) (string, error)
}

// ExecResult is the outcome of Exec.
type ExecResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Summary is one row of List.
type Summary struct {
	Name   string
	State  State
	Image  string
	Status string
}

// =============================================================================
// Run Spec
// =============================================================================

// PortMapping publishes a container port on a host address.
type PortMapping struct {
	Host          string
	HostPort      int
	ContainerPort int
}

// String renders the -p value host:hostPort:containerPort.
func (p PortMapping) String() string {
	host := p.Host
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d:%d", host, p.HostPort, p.ContainerPort)
}

// RunSpec describes a container to create.
type RunSpec struct {
	Name    string
	Publish []PortMapping
	Volumes []string
	Env     map[string]string
	Labels  map[string]string
	Image   string
	Command []string
}

// Argv renders the run arguments in a fixed order: identity (name and
// published ports), volumes, environment, labels, image, command. Map keys
// are sorted so the command line is reproducible.
func (r RunSpec) Argv() []string {
	args := []string{"run", "-d", "--name", r.Name}
	for _, p := range r.Publish {
		args = append(args, "-p", p.String())
	}
	for _, v := range r.Volumes {
		args = append(args, "-v", v)
	}
	for _, k := range slices.Sorted(maps.Keys(r.Env)) {
		args = append(args, "-e", k+"="+r.Env[k])
	}
	for _, k := range slices.Sorted(maps.Keys(r.Labels)) {
		args = append(args, "--label", k+"="+r.Labels[k])
	}
	args = append(args, r.Image)
	return append(args, r.Command...)
}

// BuildSpec describes an image build.
type BuildSpec struct {
	Image      string
	Context    string
	Dockerfile string
	Args       map[string]string
}

// Argv renders the engine arguments of the build.
func (b BuildSpec) Argv() []string {
	args := []string{"build", "-t", b.Image}
	if b.Dockerfile != "" {
		args = append(args, "-f", b.Dockerfile)
	}
	for _, k := range slices.Sorted(maps.Keys(b.Args)) {
		args = append(args, "--build-arg", k+"="+b.Args[k])
	}
	return append(args, b.Context)
}

// =============================================================================
// Labels
// =============================================================================

const (
	LabelManaged   = "dev.helm.managed"
	LabelService   = "dev.helm.service"
	LabelDriver    = "dev.helm.driver"
	LabelWorkspace = "dev.helm.workspace"
)

// OwnershipLabels returns the labels helm stamps on every container it
// creates.
func OwnershipLabels(workspace, service, driver string) map[string]string {
	return map[string]string{
		LabelManaged:   "true",
		LabelService:   service,
		LabelDriver:    driver,
		LabelWorkspace: workspace,
	}
}

func parseState(raw string) State {
	s := State(strings.ToLower(strings.TrimSpace(raw)))
	switch s {
	case StateCreated, StateRunning, StatePaused, StateRestarting, StateRemoving, StateExited, StateDead:
		return s
	case "configured", "initialized":
		// podman reports these for containers that were created but never started.
		return StateCreated
	case "stopped":
		return StateExited
	case "":
		return StateAbsent
	default:
		return s
	}
}
