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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath  string
	engineFlag  string
	dryRun      bool
	logLevel    string
	logJSON     bool
	outputStyle string

	// selection, shared by up/down/ps/ports
	kindFlags   []string
	profileFlag string

	strategyFlag  string
	seedFlag      string
	pullFlag      string
	recreate      bool
	waitHealthy   bool
	parallel      int
	noFailFast    bool
	forcePorts    bool
	noPersist     bool
	writeEnvFile  bool
	rollback      bool
	maxHeavyOps   int
	maxBuildOps   int
	retryBudget   int
	removeVolumes bool
	assumeYes     bool
	outputFormat  string
	slotsClear    bool
	slotsWatch    bool

	rootCmd = &cobra.Command{
		Use:   "helm",
		Short: "Run a project's local development services as containers",
		Long: `helm starts the databases, caches, object stores, search engines,
mail catchers and application containers a project declares in helm.toml.
It assigns conflict-free host ports, waits for services to become healthy,
runs lifecycle hooks and writes the resulting bindings back to helm.toml
and the project's .env file.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setup,
	}

	upCmd = &cobra.Command{
		Use:   "up [service|glob...]",
		Short: "Start selected services (all when none are named)",
		Long: `Start services in two waves: backing services first, then
application services. Unpinned ports are allocated before anything starts,
so every container sees the final bindings of every other service.`,
		RunE: runUp,
	}

	downCmd = &cobra.Command{
		Use:   "down [service|glob...]",
		Short: "Stop and remove selected services",
		RunE:  runDown,
	}

	psCmd = &cobra.Command{
		Use:     "ps [service|glob...]",
		Aliases: []string{"status"},
		Short:   "Show container state and bindings",
		RunE:    runPs,
	}

	portsCmd = &cobra.Command{
		Use:   "ports [service|glob...]",
		Short: "Show the port bindings up would use, without starting anything",
		RunE:  runPorts,
	}

	slotsCmd = &cobra.Command{
		Use:   "slots",
		Short: "Show engine operation slots held by helm processes on this host",
		Long: `Heavy engine operations (pull, run, remove) and image builds are
bounded host-wide by slot files. A process killed while holding a slot leaves
its file behind; --clear removes them.`,
		Args: cobra.NoArgs,
		RunE: runSlots,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the helm version",
		Args:  cobra.NoArgs,
		Run:   runVersion,
	}
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Path to helm.toml (default: search upward from the working directory)")
	pf.StringVar(&engineFlag, "engine", "", "Container engine binary: docker or podman (default: detect)")
	pf.BoolVar(&dryRun, "dry-run", false, "Print engine commands instead of running them")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVar(&logJSON, "log-json", false, "Log as JSON")
	pf.StringVar(&outputStyle, "style", "", "Output style: rich, plain or machine (default: detect)")

	for _, cmd := range []*cobra.Command{upCmd, downCmd, psCmd, portsCmd} {
		cmd.Flags().StringSliceVarP(&kindFlags, "kind", "k", nil, "Select services of these kinds (database, cache, object-store, search, mail, app)")
		cmd.Flags().StringVarP(&profileFlag, "profile", "p", "", "Select the services of a named profile")
	}

	for _, cmd := range []*cobra.Command{upCmd, portsCmd} {
		cmd.Flags().StringVar(&strategyFlag, "strategy", "", "Port strategy: random or stable (default: helm.toml, then settings)")
		cmd.Flags().StringVar(&seedFlag, "seed", "", "Extra seed for the stable strategy")
		cmd.Flags().BoolVar(&forcePorts, "force", false, "Reassign ports even when pinned in helm.toml")
	}

	rootCmd.AddCommand(upCmd)
	upCmd.Flags().StringVar(&pullFlag, "pull", "", "Image pull policy: missing, always or never")
	upCmd.Flags().BoolVar(&recreate, "recreate", false, "Remove and recreate existing containers")
	upCmd.Flags().BoolVarP(&waitHealthy, "wait", "w", true, "Wait for each service to become healthy")
	upCmd.Flags().IntVarP(&parallel, "parallel", "j", 0, "Services started concurrently within a wave (1-8)")
	upCmd.Flags().BoolVar(&noFailFast, "no-fail-fast", false, "Keep starting the rest of a wave after a failure")
	upCmd.Flags().BoolVar(&noPersist, "no-persist", false, "Do not write assigned ports back to helm.toml")
	upCmd.Flags().BoolVar(&writeEnvFile, "write-env", true, "Write connection variables to the project's .env")
	upCmd.Flags().BoolVar(&rollback, "rollback", false, "Remove containers created by this run when it fails")
	upCmd.Flags().IntVar(&maxHeavyOps, "max-heavy-ops", 0, "Host-wide ceiling on concurrent pull/run/remove operations")
	upCmd.Flags().IntVar(&maxBuildOps, "max-build-ops", 0, "Host-wide ceiling on concurrent image builds")
	upCmd.Flags().IntVar(&retryBudget, "retry-budget", 0, "Retries for transient engine failures")

	rootCmd.AddCommand(downCmd)
	downCmd.Flags().BoolVarP(&removeVolumes, "volumes", "v", false, "Also remove the services' default data volumes")
	downCmd.Flags().BoolVarP(&assumeYes, "yes", "y", false, "Do not ask before removing volumes")

	rootCmd.AddCommand(psCmd)
	psCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table or yaml")

	rootCmd.AddCommand(portsCmd)
	portsCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "Output format: table or yaml")

	rootCmd.AddCommand(slotsCmd)
	slotsCmd.Flags().BoolVar(&slotsClear, "clear", false, "Remove every slot file (only when no helm process is running)")
	slotsCmd.Flags().BoolVar(&slotsWatch, "watch", false, "Redraw whenever a slot is taken or released")

	rootCmd.AddCommand(versionCmd)
}
