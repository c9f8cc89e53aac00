// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"strings"
	"sync"
)

// Mock is an in-memory Engine for tests.
//
// Containers live in a map keyed by name. Run creates a running container,
// Start moves it to running, Remove deletes it. Function fields, when set,
// override the default behavior for that method. Every call is appended to
// Calls as "verb target".
type Mock struct {
	BinaryName string

	InspectFunc func(ctx context.Context, container string) (State, error)
	PullFunc    func(ctx context.Context, image string) error
	RunFunc     func(ctx context.Context, spec RunSpec) error
	ExecFunc    func(ctx context.Context, container string, argv []string) (ExecResult, error)
	RemoveFunc  func(ctx context.Context, container string, volumes bool) error

	mu         sync.Mutex
	containers map[string]State
	published  map[string]map[int]int
	images     map[string]bool
	runs       []RunSpec
	calls      []string
}

// NewMock creates an empty Mock.
func NewMock() *Mock {
	return &Mock{
		BinaryName: Docker,
		containers: make(map[string]State),
		published:  make(map[string]map[int]int),
		images:     make(map[string]bool),
	}
}

// SetState seeds a container.
func (m *Mock) SetState(container string, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s == StateAbsent {
		delete(m.containers, container)
		delete(m.published, container)
		return
	}
	m.containers[container] = s
}

// SetPublished seeds the host ports a container publishes, keyed by
// container port.
func (m *Mock) SetPublished(container string, ports map[int]int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[container] = ports
}

// AddImage marks image as present locally.
func (m *Mock) AddImage(image string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.images[image] = true
}

// Calls returns the recorded calls.
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// CallsWithPrefix returns recorded calls starting with prefix.
func (m *Mock) CallsWithPrefix(prefix string) []string {
	var out []string
	for _, c := range m.Calls() {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Runs returns every RunSpec passed to Run, in order.
func (m *Mock) Runs() []RunSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]RunSpec(nil), m.runs...)
}

func (m *Mock) record(call string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
}

func (m *Mock) Binary() string { return m.BinaryName }
func (m *Mock) DryRun() bool   { return false }

func (m *Mock) Inspect(ctx context.Context, container string) (State, error) {
	m.record("inspect " + container)
	if m.InspectFunc != nil {
		return m.InspectFunc(ctx, container)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.containers[container]; ok {
		return s, nil
	}
	return StateAbsent, nil
}

func (m *Mock) Published(ctx context.Context, container string) (map[int]int, error) {
	m.record("port " + container)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[container]; !ok {
		return nil, nil
	}
	out := make(map[int]int, len(m.published[container]))
	for k, v := range m.published[container] {
		out[k] = v
	}
	return out, nil
}

func (m *Mock) ImageExists(ctx context.Context, image string) (bool, error) {
	m.record("image-inspect " + image)
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.images[image], nil
}

func (m *Mock) Pull(ctx context.Context, image string) error {
	m.record("pull " + image)
	if m.PullFunc != nil {
		if err := m.PullFunc(ctx, image); err != nil {
			return err
		}
	}
	m.AddImage(image)
	return nil
}

func (m *Mock) Build(ctx context.Context, spec BuildSpec) error {
	m.record("build " + spec.Image)
	m.AddImage(spec.Image)
	return nil
}

func (m *Mock) Run(ctx context.Context, spec RunSpec) error {
	m.record("run " + spec.Name)
	if m.RunFunc != nil {
		if err := m.RunFunc(ctx, spec); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, spec)
	m.containers[spec.Name] = StateRunning
	published := make(map[int]int, len(spec.Publish))
	for _, p := range spec.Publish {
		published[p.ContainerPort] = p.HostPort
	}
	m.published[spec.Name] = published
	return nil
}

func (m *Mock) Start(ctx context.Context, container string) error {
	m.record("start " + container)
	m.SetState(container, StateRunning)
	return nil
}

func (m *Mock) Stop(ctx context.Context, container string) error {
	m.record("stop " + container)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.containers[container]; ok {
		m.containers[container] = StateExited
	}
	return nil
}

func (m *Mock) Remove(ctx context.Context, container string, volumes bool) error {
	m.record("rm " + container)
	if m.RemoveFunc != nil {
		if err := m.RemoveFunc(ctx, container, volumes); err != nil {
			return err
		}
	}
	m.SetState(container, StateAbsent)
	return nil
}

func (m *Mock) RemoveVolume(ctx context.Context, name string) error {
	m.record("volume-rm " + name)
	return nil
}

func (m *Mock) Exec(ctx context.Context, container string, argv []string) (ExecResult, error) {
	m.record("exec " + container + " " + strings.Join(argv, " "))
	if m.ExecFunc != nil {
		return m.ExecFunc(ctx, container, argv)
	}
	return ExecResult{}, nil
}

func (m *Mock) List(ctx context.Context, labels map[string]string) ([]Summary, error) {
	m.record("ps")
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Summary
	for name, s := range m.containers {
		out = append(out, Summary{Name: name, State: s})
	}
	return out, nil
}

func (m *Mock) Version(ctx context.Context) (string, error) {
	return "24.0.7", nil
}

var _ Engine = (*Mock)(nil)
