// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Level defines how rich CLI output is.
type Level string

const (
	// LevelRich enables colors, icons and rounded tables.
	LevelRich Level = "rich"

	// LevelPlain keeps icons and tables but drops colors.
	LevelPlain Level = "plain"

	// LevelMachine prints tab-separated text suitable for scripting.
	LevelMachine Level = "machine"
)

// EnvLevel overrides automatic level detection.
const EnvLevel = "HELM_OUTPUT"

// ParseLevel converts a flag or environment value to a Level. Unknown
// values yield LevelRich.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plain", "p", "no-color":
		return LevelPlain
	case "machine", "quiet", "q":
		return LevelMachine
	default:
		return LevelRich
	}
}

// DetectLevel picks the level for output written to f.
//
// # Description
//
// An explicit value (flag) wins, then HELM_OUTPUT, then NO_COLOR. Output
// that is not a terminal is LevelMachine.
//
// # Inputs
//
//   - explicit: Flag value; empty means not set.
//   - f: Destination file, usually os.Stdout.
//   - lookup: Environment reader; nil means os.LookupEnv.
func DetectLevel(explicit string, f *os.File, lookup func(string) (string, bool)) Level {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if explicit != "" {
		return ParseLevel(explicit)
	}
	if v, ok := lookup(EnvLevel); ok && v != "" {
		return ParseLevel(v)
	}
	if !IsTerminal(f) {
		return LevelMachine
	}
	if _, ok := lookup("NO_COLOR"); ok {
		return LevelPlain
	}
	return LevelRich
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
