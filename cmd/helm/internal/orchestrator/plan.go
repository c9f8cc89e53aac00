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
	"github.com/jinterlante1206/helm/cmd/helm/config"
	"github.com/jinterlante1206/helm/cmd/helm/internal/envcompose"
	"github.com/jinterlante1206/helm/cmd/helm/internal/service"
)

// PlannedService is one service's bindings after planning.
type PlannedService struct {
	Name           string `yaml:"name"`
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	SecondaryField string `yaml:"secondary_field,omitempty"`
	SecondaryPort  int    `yaml:"secondary_port,omitempty"`
	Pinned         bool   `yaml:"pinned"`

	// Changed is true when up would assign a different port than the
	// config holds.
	Changed bool `yaml:"changed"`
}

// PortPlan is what up would bind, computed without touching the engine.
type PortPlan struct {
	Services []PlannedService `yaml:"services"`
	Env      map[string]string `yaml:"env,omitempty"`
}

// Plan runs selection, port planning and environment inference exactly as
// Up does and stops there.
//
// # Description
//
// Services are cloned; the caller's descriptors are unchanged. Only
// Selection, Strategy and Force of opts are consulted. With the random
// strategy the result is one possible assignment, not the one the next up
// will make. Containers that already exist are not consulted, so up may
// instead keep the ports such a container publishes.
//
// # Outputs
//
//   - *PortPlan: Bindings for the selected services in selection order, and
//     the environment inferred from every bound service.
//   - error: Selection, allocation or inference failure.
func (c *Context) Plan(services []*service.Descriptor, opts UpOptions) (*PortPlan, error) {
	all := make([]*service.Descriptor, len(services))
	for i, svc := range services {
		all[i] = svc.Clone()
	}
	selected, err := config.Select(all, opts.Selection)
	if err != nil {
		return nil, err
	}

	original := make(map[string][2]int, len(selected))
	for _, svc := range selected {
		original[svc.Name] = [2]int{svc.Port, svc.SecondaryPort}
	}
	if err := c.planPorts(all, selected, opts, nil); err != nil {
		return nil, err
	}

	env, err := envcompose.Infer(c.Registry, bound(all))
	if err != nil {
		return nil, err
	}

	plan := &PortPlan{Env: env}
	for _, svc := range selected {
		field, _ := c.secondary(svc)
		orig := original[svc.Name]
		plan.Services = append(plan.Services, PlannedService{
			Name:           svc.Name,
			Host:           svc.Host,
			Port:           svc.Port,
			SecondaryField: field,
			SecondaryPort:  svc.SecondaryPort,
			Pinned:         svc.PortPinned && !opts.Force,
			Changed:        orig[0] != svc.Port || orig[1] != svc.SecondaryPort,
		})
	}
	return plan, nil
}
