// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/gobwas/glob"

	"github.com/jinterlante1206/helm/cmd/helm/internal/drivers"
	"github.com/jinterlante1206/helm/cmd/helm/internal/service"
	"github.com/jinterlante1206/helm/cmd/helm/internal/util"
)

// =============================================================================
// Descriptors
// =============================================================================

// Prefix returns the container name prefix: the project name, or the
// workspace directory name when none is set.
func (p *Project) Prefix() string {
	if p.File.Name != "" {
		return p.File.Name
	}
	return strings.ToLower(filepath.Base(p.Root))
}

// Environment returns the configured environment name or "local".
func (p *Project) Environment() string {
	if p.File.Environment != "" {
		return p.File.Environment
	}
	return DefaultEnvironment
}

// EnvFilePath returns the absolute dotenv path, or "" when none is configured.
func (p *Project) EnvFilePath() string {
	if p.File.EnvFile == "" {
		return ""
	}
	if filepath.IsAbs(p.File.EnvFile) {
		return p.File.EnvFile
	}
	return filepath.Join(p.Root, p.File.EnvFile)
}

// Descriptors converts every configured service into a descriptor, in
// declaration order, with container names resolved.
//
// # Description
//
// The kind defaults to the driver's. A configured port or smtp_port marks
// the binding pinned. Drivers are resolved here so an unknown driver fails
// before any container operation.
//
// # Outputs
//
//   - []*service.Descriptor: One per service.
//   - error: *util.ConfigurationError.
func (p *Project) Descriptors(registry *drivers.Registry) ([]*service.Descriptor, error) {
	out := make([]*service.Descriptor, 0, len(p.File.Services))
	for i := range p.File.Services {
		svc, err := toDescriptor(&p.File.Services[i], registry)
		if err != nil {
			return nil, err
		}
		for profile, members := range p.File.Profiles {
			if slices.Contains(members, svc.Name) && !svc.HasProfile(profile) {
				svc.Profiles = append(svc.Profiles, profile)
			}
		}
		slices.Sort(svc.Profiles)
		out = append(out, svc)
	}
	if err := service.ResolveContainerNames(p.Prefix(), out); err != nil {
		return nil, err
	}
	return out, nil
}

func toDescriptor(s *Service, registry *drivers.Registry) (*service.Descriptor, error) {
	drv, err := registry.Lookup(s.Driver)
	if err != nil {
		if cfgErr, ok := err.(*util.ConfigurationError); ok {
			cfgErr.Service = s.Name
		}
		return nil, err
	}

	kind := drv.Kind()
	if s.Kind != "" {
		kind = service.Kind(s.Kind)
	}

	host := s.Host
	if host == "" {
		host = DefaultHost
	}

	svc := &service.Descriptor{
		Name:           s.Name,
		Kind:           kind,
		Driver:         s.Driver,
		Image:          s.Image,
		Host:           host,
		Port:           s.Port,
		PortPinned:     s.Port > 0,
		ContainerPort:  s.ContainerPort,
		Command:        slices.Clone(s.Command),
		Volumes:        slices.Clone(s.Volumes),
		HealthPath:     s.HealthPath,
		HealthStatuses: slices.Clone(s.HealthStatuses),
		Profiles:       slices.Clone(s.Profiles),
		ContainerName:  s.ContainerName,
	}
	if _, ok := drivers.Secondary(drv); ok {
		svc.SecondaryPort = s.SMTPPort
		svc.SecondaryPinned = s.SMTPPort > 0
	} else if s.SMTPPort > 0 {
		return nil, &util.ConfigurationError{
			Service: s.Name,
			Field:   "smtp_port",
			Detail:  fmt.Sprintf("driver %s has no secondary port", s.Driver),
			Err:     util.ErrInvalidConfig,
		}
	}
	if len(s.Env) > 0 {
		svc.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			svc.Env[k] = v
		}
	}
	if s.Build != nil {
		svc.Build = &service.Build{
			Context:    s.Build.Context,
			Dockerfile: s.Build.Dockerfile,
			Args:       s.Build.Args,
		}
	}
	for _, h := range s.Hooks {
		svc.Hooks = append(svc.Hooks, toHook(h))
	}
	return svc, nil
}

func toHook(h Hook) service.Hook {
	hook := service.Hook{
		Name:    h.Name,
		Phase:   service.Phase(h.Phase),
		OnError: service.OnErrorFail,
		Timeout: time.Duration(h.Timeout) * time.Second,
	}
	if h.OnError != "" {
		hook.OnError = service.OnError(h.OnError)
	}
	if h.Script != "" {
		hook.Run = service.RunScript
		hook.Script = h.Script
	} else {
		hook.Run = service.RunExec
		hook.Argv = slices.Clone(h.Exec)
	}
	return hook
}

// =============================================================================
// Selection
// =============================================================================

// Selection narrows the services a command acts on. A zero Selection
// selects everything.
type Selection struct {
	// Names are service names or glob patterns such as "db-*".
	Names []string

	// Kinds keeps only services of these kinds.
	Kinds []service.Kind

	// Profile keeps only services tagged with this profile.
	Profile string
}

// Empty reports whether s selects every service.
func (s Selection) Empty() bool {
	return len(s.Names) == 0 && len(s.Kinds) == 0 && s.Profile == ""
}

// Select filters services, preserving order.
//
// # Description
//
// All criteria must match. A literal name that matches no service is an
// error so typos are not silently ignored; a glob that matches nothing is
// not.
func Select(services []*service.Descriptor, sel Selection) ([]*service.Descriptor, error) {
	if sel.Empty() {
		return services, nil
	}

	matchers := make([]glob.Glob, 0, len(sel.Names))
	for _, pattern := range sel.Names {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, &util.ConfigurationError{Field: "selection", Detail: fmt.Sprintf("bad pattern %q: %v", pattern, err), Err: util.ErrInvalidConfig}
		}
		matchers = append(matchers, g)
		if !isPattern(pattern) && !slices.ContainsFunc(services, func(s *service.Descriptor) bool { return s.Name == pattern }) {
			return nil, &util.ConfigurationError{Service: pattern, Detail: "no such service", Err: util.ErrInvalidConfig}
		}
	}

	var out []*service.Descriptor
	for _, svc := range services {
		if len(matchers) > 0 && !slices.ContainsFunc(matchers, func(g glob.Glob) bool { return g.Match(svc.Name) }) {
			continue
		}
		if len(sel.Kinds) > 0 && !slices.Contains(sel.Kinds, svc.Kind) {
			continue
		}
		if sel.Profile != "" && !svc.HasProfile(sel.Profile) {
			continue
		}
		out = append(out, svc)
	}
	return out, nil
}

func isPattern(s string) bool {
	return strings.ContainsAny(s, "*?[{")
}
