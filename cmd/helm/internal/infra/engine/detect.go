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
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/jinterlante1206/helm/cmd/helm/internal/infra/process"
)

// Supported engine binaries, in auto-detection order.
const (
	Docker = "docker"
	Podman = "podman"
)

// MinimumVersions are the oldest client versions helm is tested against.
var MinimumVersions = map[string]string{
	Docker: "v20.10.0",
	Podman: "v4.0.0",
}

// Detect resolves the engine binary.
//
// # Description
//
// A non-empty preferred value must name docker or podman (a path is
// allowed) and must be on PATH. Otherwise docker is tried first, then
// podman.
//
// # Outputs
//
//   - string: Binary to invoke.
//   - error: When nothing usable is found.
func Detect(proc process.Manager, preferred string) (string, error) {
	if preferred != "" {
		if kind := Kind(preferred); kind == "" {
			return "", fmt.Errorf("unsupported container engine %q (want docker or podman)", preferred)
		}
		if _, err := proc.LookPath(preferred); err != nil {
			return "", fmt.Errorf("container engine %q not found: %w", preferred, err)
		}
		return preferred, nil
	}
	for _, candidate := range []string{Docker, Podman} {
		if _, err := proc.LookPath(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no container engine found: install docker or podman")
}

// Kind maps a binary name or path to Docker or Podman, "" if neither.
func Kind(binary string) string {
	switch strings.TrimSuffix(filepath.Base(binary), ".exe") {
	case Docker:
		return Docker
	case Podman:
		return Podman
	default:
		return ""
	}
}

// CheckVersion compares the engine's client version with MinimumVersions.
//
// # Outputs
//
//   - string: The reported version.
//   - error: When the version cannot be read, or is older than supported.
//     Unparseable versions (distribution builds, dev snapshots) pass.
func CheckVersion(ctx context.Context, e Engine) (string, error) {
	raw, err := e.Version(ctx)
	if err != nil {
		return "", err
	}
	if e.DryRun() {
		return raw, nil
	}

	minimum, ok := MinimumVersions[Kind(e.Binary())]
	if !ok {
		return raw, nil
	}
	v := NormalizeVersion(raw)
	if !semver.IsValid(v) {
		return raw, nil
	}
	if semver.Compare(v, minimum) < 0 {
		return raw, fmt.Errorf("%s %s is older than the supported minimum %s", e.Binary(), raw, strings.TrimPrefix(minimum, "v"))
	}
	return raw, nil
}

// NormalizeVersion turns engine version strings such as "24.0.7",
// "19.03.1", "4.9.4-rhel" or "20.10.24+dfsg1" into canonical semver with a
// v prefix.
func NormalizeVersion(raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if i := strings.IndexByte(v, '+'); i >= 0 {
		v = v[:i]
	}
	return semver.Canonical(trimLeadingZeros(v))
}

// trimLeadingZeros rewrites zero-padded release numbers such as "v19.03.1"
// to "v19.3.1". The prerelease suffix is left untouched.
func trimLeadingZeros(v string) string {
	core, pre := v[1:], ""
	if i := strings.IndexByte(core, '-'); i >= 0 {
		core, pre = core[:i], core[i:]
	}
	parts := strings.Split(core, ".")
	for i, part := range parts {
		trimmed := strings.TrimLeft(part, "0")
		if trimmed == "" && part != "" {
			trimmed = "0"
		}
		parts[i] = trimmed
	}
	return "v" + strings.Join(parts, ".") + pre
}
