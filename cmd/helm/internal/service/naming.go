// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package service

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jinterlante1206/helm/cmd/helm/internal/util"
)

// containerNameRegex matches names docker and podman both accept.
var containerNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)

// ResolveContainerNames sets Container on every descriptor and enforces
// uniqueness.
//
// # Description
//
// An explicit ContainerName wins; otherwise the name is "<prefix>-<service>".
// With neither an explicit name nor a prefix there is no naming strategy and
// the call fails. Any two services resolving to the same name fail the whole
// set; nothing is started.
//
// # Inputs
//
//   - prefix: Project-level container prefix, usually the project name.
//   - services: Descriptors to resolve, mutated in place.
//
// # Outputs
//
//   - error: *util.ConfigurationError wrapping ErrNoNamingStrategy,
//     ErrDuplicateContainer or ErrInvalidConfig.
func ResolveContainerNames(prefix string, services []*Descriptor) error {
	prefix = strings.Trim(strings.ToLower(prefix), "-")
	owners := make(map[string]string, len(services))

	for _, svc := range services {
		name := svc.ContainerName
		if name == "" {
			if prefix == "" {
				return &util.ConfigurationError{
					Service: svc.Name,
					Field:   "container",
					Detail:  "set name in helm.toml or an explicit container_name",
					Err:     util.ErrNoNamingStrategy,
				}
			}
			name = prefix + "-" + svc.Name
		}

		if !containerNameRegex.MatchString(name) {
			return &util.ConfigurationError{
				Service: svc.Name,
				Field:   "container",
				Detail:  fmt.Sprintf("%q is not a valid container name", name),
				Err:     util.ErrInvalidConfig,
			}
		}

		if other, taken := owners[name]; taken {
			return &util.ConfigurationError{
				Service: svc.Name,
				Field:   "container",
				Detail:  fmt.Sprintf("%q is also used by %s", name, other),
				Err:     util.ErrDuplicateContainer,
			}
		}
		owners[name] = svc.Name
		svc.Container = name
	}
	return nil
}

// DefaultVolumeName is the named data volume for a container. It depends
// only on the container name, so it survives a recreate.
func DefaultVolumeName(container string) string {
	return container + "-data"
}
