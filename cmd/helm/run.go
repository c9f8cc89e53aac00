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
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jinterlante1206/helm/cmd/helm/internal/health"
	"github.com/jinterlante1206/helm/cmd/helm/internal/orchestrator"
	"github.com/jinterlante1206/helm/cmd/helm/internal/scheduler"
	"github.com/jinterlante1206/helm/cmd/helm/internal/service"
	"github.com/jinterlante1206/helm/pkg/ux"
)

// errNotConfirmed is returned when the user declines a destructive action.
var errNotConfirmed = errors.New("aborted: volumes were not removed")

// =============================================================================
// up
// =============================================================================

func runUp(cmd *cobra.Command, args []string) error {
	a := current
	ctx := cmd.Context()

	project, services, err := a.loadProject()
	if err != nil {
		return err
	}
	sel, err := selection(args, kindFlags, profileFlag)
	if err != nil {
		return err
	}
	strategy, seed, err := a.strategy(project)
	if err != nil {
		return err
	}
	pullName := a.settings.PullPolicy
	if pullFlag != "" {
		pullName = pullFlag
	}
	pull, err := service.ParsePullPolicy(pullName)
	if err != nil {
		return err
	}

	oc, err := a.buildContext(ctx, project, seed)
	if err != nil {
		return err
	}

	n := parallel
	if n == 0 {
		n = a.settings.Parallel
	}
	opts := orchestrator.UpOptions{
		Selection:     sel,
		Strategy:      strategy,
		PullPolicy:    pull,
		Recreate:      recreate,
		WaitForHealth: waitHealthy,
		Health:        healthOptions(a.settings.HealthTimeout, a.settings.HealthInterval),
		Parallel:      n,
		FailFast:      !noFailFast,
		Force:         forcePorts,
		Persist:       !noPersist,
		WriteEnv:      writeEnvFile,
		Rollback:      rollback,
	}

	a.printer.Title("helm up " + project.Prefix())
	res, err := oc.Up(ctx, services, opts)
	renderUp(a.printer, res)
	return err
}

// healthOptions applies user settings on top of the prober defaults.
func healthOptions(timeout, interval time.Duration) health.Options {
	opts := health.DefaultOptions()
	if timeout > 0 {
		opts.Timeout = timeout
	}
	if interval > 0 {
		opts.Interval = interval
	}
	return opts
}

// =============================================================================
// down
// =============================================================================

func runDown(cmd *cobra.Command, args []string) error {
	a := current
	ctx := cmd.Context()

	project, services, err := a.loadProject()
	if err != nil {
		return err
	}
	sel, err := selection(args, kindFlags, profileFlag)
	if err != nil {
		return err
	}

	if removeVolumes && !dryRun {
		ok, err := confirmVolumes(assumeYes, ux.IsTerminal(os.Stdin), ux.Confirm, project.Prefix())
		if err != nil {
			return err
		}
		if !ok {
			return errNotConfirmed
		}
	}

	oc, err := a.buildContext(ctx, project, "")
	if err != nil {
		return err
	}
	res, err := oc.Down(ctx, services, orchestrator.DownOptions{
		Selection: sel,
		Volumes:   removeVolumes,
		Parallel:  a.settings.Parallel,
	})
	if res != nil {
		for _, name := range res.Removed {
			a.printer.Success("removed " + name)
		}
		if len(res.Skipped) > 0 {
			a.printer.Muted("not present: " + strings.Join(res.Skipped, ", "))
		}
	}
	return err
}

// confirmVolumes decides whether volume removal may go ahead. Without a
// terminal there is nobody to ask, so --yes is required.
func confirmVolumes(yes, interactive bool, ask ux.ConfirmFunc, project string) (bool, error) {
	if yes {
		return true, nil
	}
	if !interactive {
		return false, fmt.Errorf("refusing to remove volumes without --yes when stdin is not a terminal")
	}
	return ask(
		fmt.Sprintf("Remove data volumes of %s?", project),
		"Database and object store contents are deleted permanently.",
	)
}

// =============================================================================
// ps / ports
// =============================================================================

func runPs(cmd *cobra.Command, args []string) error {
	a := current
	ctx := cmd.Context()
	if err := validFormat(outputFormat); err != nil {
		return err
	}

	project, services, err := a.loadProject()
	if err != nil {
		return err
	}
	sel, err := selection(args, kindFlags, profileFlag)
	if err != nil {
		return err
	}
	oc, err := a.buildContext(ctx, project, "")
	if err != nil {
		return err
	}
	statuses, err := oc.Status(ctx, services, sel)
	if err != nil {
		return err
	}
	return renderStatus(cmd.OutOrStdout(), a.printer, outputFormat, statuses)
}

func runPorts(cmd *cobra.Command, args []string) error {
	a := current
	if err := validFormat(outputFormat); err != nil {
		return err
	}

	project, services, err := a.loadProject()
	if err != nil {
		return err
	}
	sel, err := selection(args, kindFlags, profileFlag)
	if err != nil {
		return err
	}
	strategy, seed, err := a.strategy(project)
	if err != nil {
		return err
	}
	plan, err := planningContext(project, seed, a.logger.Slog()).Plan(services, orchestrator.UpOptions{
		Selection: sel,
		Strategy:  strategy,
		Force:     forcePorts,
	})
	if err != nil {
		return err
	}
	return renderPlan(cmd.OutOrStdout(), a.printer, outputFormat, plan)
}

// =============================================================================
// slots
// =============================================================================

func runSlots(cmd *cobra.Command, _ []string) error {
	a := current
	ctx := cmd.Context()
	locker := scheduler.NewFileLocker(scheduler.DefaultRoot())
	policy := a.policy()

	if slotsClear {
		total := 0
		for _, class := range scheduler.Classes {
			n, err := locker.Clear(class)
			if err != nil {
				return err
			}
			total += n
		}
		a.printer.Success(fmt.Sprintf("cleared %d slot file(s) in %s", total, locker.Root()))
		return nil
	}

	draw := func() error {
		holders, err := allHolders(locker)
		if err != nil {
			return err
		}
		renderSlots(a.printer, policy, holders, time.Now())
		return nil
	}
	if err := draw(); err != nil {
		return err
	}
	if !slotsWatch {
		return nil
	}

	changes, err := locker.Watch(ctx)
	if err != nil {
		return err
	}
	for range changes {
		if err := draw(); err != nil {
			return err
		}
	}
	return nil
}

func allHolders(locker *scheduler.FileLocker) ([]scheduler.Holder, error) {
	var out []scheduler.Holder
	for _, class := range scheduler.Classes {
		holders, err := locker.Holders(class)
		if err != nil {
			return nil, err
		}
		out = append(out, holders...)
	}
	return out, nil
}

// =============================================================================
// version
// =============================================================================

func runVersion(cmd *cobra.Command, _ []string) {
	fmt.Fprintf(cmd.OutOrStdout(), "helm %s\n", version)
}
