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
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jinterlante1206/helm/cmd/helm/config"
	"github.com/jinterlante1206/helm/cmd/helm/internal/orchestrator"
	"github.com/jinterlante1206/helm/cmd/helm/internal/scheduler"
	"github.com/jinterlante1206/helm/cmd/helm/internal/util"
	"github.com/jinterlante1206/helm/pkg/ux"
)

// =============================================================================
// up
// =============================================================================

// renderUp prints one row per service and the persistence outcome.
func renderUp(p *ux.Printer, res *orchestrator.UpResult) {
	if res == nil || len(res.Services) == 0 {
		p.Muted("no services selected")
		return
	}

	rows := make([][]string, 0, len(res.Services))
	for _, s := range res.Services {
		action := string(s.Action)
		if action == "" {
			action = p.Dash()
		}
		status := "ok"
		switch {
		case s.Err != nil:
			status = "failed"
		case s.Action == "":
			status = "skipped"
		}
		rows = append(rows, []string{
			s.Name,
			s.Container,
			action,
			binding(p, s.Host, s.Port, s.PortChanged),
			port(p, s.SecondaryPort),
			s.Duration.Round(100 * time.Millisecond).String(),
			status,
		})
	}
	p.Table([]string{"service", "container", "action", "address", "extra", "time", "status"}, rows)

	if len(res.RolledBack) > 0 {
		p.Warning("rolled back: " + strings.Join(res.RolledBack, ", "))
	}
	if res.Persisted {
		p.Success("saved port assignments to helm.toml")
	}
	if res.EnvWritten {
		p.Success("updated env file")
	}
	if len(res.Blocked) > 0 {
		lines := make([]string, len(res.Blocked))
		for i, b := range res.Blocked {
			lines[i] = fmt.Sprintf("%s: kept %q, not %q", b.Key, b.Kept, b.Rejected)
		}
		p.WarningBox("kept secure values in env file", strings.Join(lines, "\n"))
	}
}

// binding renders host:port, marking a newly assigned port.
func binding(p *ux.Printer, host string, port int, changed bool) string {
	if port <= 0 {
		return p.Dash()
	}
	addr := host + ":" + strconv.Itoa(port)
	if changed {
		addr += " *"
	}
	return addr
}

func port(p *ux.Printer, n int) string {
	if n <= 0 {
		return p.Dash()
	}
	return strconv.Itoa(n)
}

// =============================================================================
// ps / ports
// =============================================================================

// renderStatus prints container states as a table or YAML.
func renderStatus(w io.Writer, p *ux.Printer, format string, statuses []orchestrator.ServiceStatus) error {
	if format == "yaml" {
		return writeYAML(w, statuses)
	}
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		rows = append(rows, []string{
			s.Name,
			string(s.Kind),
			s.Container,
			s.Image,
			p.State(string(s.State)),
			binding(p, s.Host, s.Port, false),
			port(p, s.SecondaryPort),
		})
	}
	p.Table([]string{"service", "kind", "container", "image", "state", "address", "extra"}, rows)
	return nil
}

// renderPlan prints planned bindings as a table or YAML.
func renderPlan(w io.Writer, p *ux.Printer, format string, plan *orchestrator.PortPlan) error {
	if format == "yaml" {
		return writeYAML(w, plan)
	}
	rows := make([][]string, 0, len(plan.Services))
	for _, s := range plan.Services {
		source := "assigned"
		if s.Pinned {
			source = "pinned"
		}
		extra := p.Dash()
		if s.SecondaryField != "" {
			extra = s.SecondaryField + "=" + port(p, s.SecondaryPort)
		}
		rows = append(rows, []string{s.Name, binding(p, s.Host, s.Port, s.Changed), extra, source})
	}
	p.Table([]string{"service", "address", "extra", "source"}, rows)
	return nil
}

// validFormat rejects unknown -o values before any work is done.
func validFormat(format string) error {
	switch format {
	case "table", "yaml":
		return nil
	default:
		return &util.ConfigurationError{Field: "output", Detail: fmt.Sprintf("%q (want table or yaml)", format), Err: util.ErrInvalidConfig}
	}
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

// =============================================================================
// slots
// =============================================================================

// renderSlots prints occupied slots with their ceilings.
func renderSlots(p *ux.Printer, policy scheduler.Policy, holders []scheduler.Holder, now time.Time) {
	counts := make(map[scheduler.Class]int, len(scheduler.Classes))
	for _, h := range holders {
		counts[h.Class]++
	}
	summary := make([]string, 0, len(scheduler.Classes))
	for _, c := range scheduler.Classes {
		summary = append(summary, fmt.Sprintf("%s %d/%d", c, counts[c], policy.Ceiling(c)))
	}
	p.Info(strings.Join(summary, "  "))

	if len(holders) == 0 {
		p.Muted("no slots held")
		return
	}
	sorted := append([]scheduler.Holder(nil), holders...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Class != sorted[j].Class {
			return sorted[i].Class < sorted[j].Class
		}
		return sorted[i].Slot < sorted[j].Slot
	})
	rows := make([][]string, 0, len(sorted))
	for _, h := range sorted {
		pid := p.Dash()
		if h.PID > 0 {
			pid = strconv.Itoa(h.PID)
		}
		op := h.Operation
		if op == "" {
			op = p.Dash()
		}
		rows = append(rows, []string{string(h.Class), strconv.Itoa(h.Slot), pid, op, h.Age(now).Round(time.Second).String()})
	}
	p.Table([]string{"class", "slot", "pid", "operation", "held"}, rows)
}

// =============================================================================
// Errors
// =============================================================================

// isConfigError reports problems the user fixes in helm.toml or flags.
func isConfigError(err error) bool {
	var cfgErr *util.ConfigurationError
	return errors.As(err, &cfgErr) || errors.Is(err, config.ErrNotFound) || errors.Is(err, util.ErrInvalidConfig)
}
