// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package scheduler

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// =============================================================================
// Operation Classes
// =============================================================================

// Class is a category of engine operation with its own concurrency ceiling.
type Class string

const (
	// ClassHeavy covers container run, rm -v and volume rm.
	ClassHeavy Class = "heavy"

	// ClassBuild covers image builds.
	ClassBuild Class = "build"
)

// Classes lists every class.
var Classes = []Class{ClassHeavy, ClassBuild}

// ParseClass parses a class name.
func ParseClass(s string) (Class, error) {
	switch c := Class(strings.ToLower(strings.TrimSpace(s))); c {
	case ClassHeavy, ClassBuild:
		return c, nil
	default:
		return "", fmt.Errorf("unknown operation class %q (want heavy or build)", s)
	}
}

// =============================================================================
// Policy
// =============================================================================

const (
	// EnvMaxHeavyOps overrides the heavy ceiling.
	EnvMaxHeavyOps = "HELM_DOCKER_MAX_HEAVY_OPS"

	// EnvMaxBuildOps overrides the build ceiling.
	EnvMaxBuildOps = "HELM_DOCKER_MAX_BUILD_OPS"

	// EnvRetryBudget overrides the retry budget.
	EnvRetryBudget = "HELM_DOCKER_RETRY_BUDGET"

	DefaultMaxHeavyOps = 2
	DefaultMaxBuildOps = 1
	DefaultRetryBudget = 3
)

// Policy holds the concurrency ceilings and the retry budget.
//
// Zero fields mean "not set" and fall back to the defaults when the policy
// is resolved.
type Policy struct {
	MaxHeavyOps int
	MaxBuildOps int

	// RetryBudget is the number of extra attempts granted to an operation
	// that fails with a transient engine error.
	RetryBudget int
}

// DefaultPolicy returns the compiled defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxHeavyOps: DefaultMaxHeavyOps,
		MaxBuildOps: DefaultMaxBuildOps,
		RetryBudget: DefaultRetryBudget,
	}
}

// LookupFunc reads an environment variable.
type LookupFunc func(key string) (string, bool)

// PolicyFromEnv returns the defaults overlaid with any valid environment
// overrides.
//
// # Description
//
// Each variable must parse as a positive integer. Anything else (empty,
// garbage, zero, negative) is ignored and the default kept; a bad value is
// never an error.
//
// # Inputs
//
//   - lookup: Environment reader; nil means os.LookupEnv.
//
// # Outputs
//
//   - Policy: The resolved policy.
func PolicyFromEnv(lookup LookupFunc) Policy {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	p := DefaultPolicy()
	if v, ok := positiveEnv(lookup, EnvMaxHeavyOps); ok {
		p.MaxHeavyOps = v
	}
	if v, ok := positiveEnv(lookup, EnvMaxBuildOps); ok {
		p.MaxBuildOps = v
	}
	if v, ok := positiveEnv(lookup, EnvRetryBudget); ok {
		p.RetryBudget = v
	}
	return p
}

// Override returns p with every positive field of o applied on top. This is
// the explicit process-wide override, e.g. from CLI flags.
func (p Policy) Override(o Policy) Policy {
	if o.MaxHeavyOps > 0 {
		p.MaxHeavyOps = o.MaxHeavyOps
	}
	if o.MaxBuildOps > 0 {
		p.MaxBuildOps = o.MaxBuildOps
	}
	if o.RetryBudget > 0 {
		p.RetryBudget = o.RetryBudget
	}
	return p
}

// Ceiling returns the number of slots for class. The build ceiling never
// exceeds the heavy ceiling.
func (p Policy) Ceiling(class Class) int {
	heavy := p.MaxHeavyOps
	if heavy <= 0 {
		heavy = DefaultMaxHeavyOps
	}
	switch class {
	case ClassBuild:
		build := p.MaxBuildOps
		if build <= 0 {
			build = DefaultMaxBuildOps
		}
		return min(build, heavy)
	default:
		return heavy
	}
}

// Retries returns the retry budget, defaulting when unset.
func (p Policy) Retries() int {
	if p.RetryBudget <= 0 {
		return DefaultRetryBudget
	}
	return p.RetryBudget
}

func positiveEnv(lookup LookupFunc, key string) (int, bool) {
	raw, ok := lookup(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
