// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package envcompose infers the environment applications use to reach the
// backends of a workspace, and merges it with explicit values.
//
// Explicit values win over inferred ones with one exception: an override
// that would turn a secure setting into an insecure one (https to http,
// sslmode=require to disable, TLS to none) is rejected and reported as a
// Downgrade.
package envcompose

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/jinterlante1206/helm/cmd/helm/internal/drivers"
	"github.com/jinterlante1206/helm/cmd/helm/internal/service"
)

// Downgrade records an override that was rejected.
type Downgrade struct {
	Key      string
	Kept     string
	Rejected string
}

// Infer returns the connection variables for services.
//
// # Description
//
// Backends contribute first, in the given order; app services last so
// their variables can reference the final backend bindings. When a key is
// already taken by an earlier service, the later service's copy is
// published as "<SERVICE>_<KEY>" instead, so a second database never
// silently replaces the first one's DB_HOST.
//
// # Inputs
//
//   - registry: Driver registry.
//   - services: Services with final hosts and ports.
//
// # Outputs
//
//   - map[string]string: The inferred variables.
//   - error: ConfigurationError for an unknown driver.
func Infer(registry *drivers.Registry, services []*service.Descriptor) (map[string]string, error) {
	out := make(map[string]string)
	ordered := make([]*service.Descriptor, 0, len(services))
	for _, svc := range services {
		if !svc.Kind.IsApp() {
			ordered = append(ordered, svc)
		}
	}
	for _, svc := range services {
		if svc.Kind.IsApp() {
			ordered = append(ordered, svc)
		}
	}

	for _, svc := range ordered {
		drv, err := registry.For(svc)
		if err != nil {
			return nil, err
		}
		prefix := EnvPrefix(svc.Name)
		for key, value := range drivers.ConnectionEnv(drv, svc) {
			if _, taken := out[key]; taken {
				out[prefix+"_"+key] = value
				continue
			}
			out[key] = value
		}
	}
	return out, nil
}

// ContainerEnv composes the environment passed to a container: injected
// variables, then the driver's runtime environment, then the service's
// explicit environment, each layer overriding the previous one unless the
// override is a downgrade.
func ContainerEnv(drv drivers.Driver, svc *service.Descriptor, injected map[string]string) (map[string]string, []Downgrade) {
	env := make(map[string]string, len(injected))
	for k, v := range injected {
		env[k] = v
	}
	env, blocked := Merge(env, drivers.RuntimeEnv(drv, svc))
	env, more := Merge(env, svc.Env)
	return env, append(blocked, more...)
}

// Merge applies overrides to base and returns the result. base is not
// modified.
func Merge(base, overrides map[string]string) (map[string]string, []Downgrade) {
	out := make(map[string]string, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}

	var blocked []Downgrade
	for k, v := range overrides {
		if old, ok := out[k]; ok && IsDowngrade(k, old, v) {
			blocked = append(blocked, Downgrade{Key: k, Kept: old, Rejected: v})
			continue
		}
		out[k] = v
	}
	return out, blocked
}

var (
	secureSSLModes   = map[string]bool{"require": true, "verify-ca": true, "verify-full": true}
	insecureSSLModes = map[string]bool{"disable": true, "allow": true, "prefer": true}
	secureSchemes    = map[string]string{"https": "http", "rediss": "redis", "wss": "ws", "smtps": "smtp"}
	onValues         = map[string]bool{"tls": true, "ssl": true, "true": true, "1": true, "on": true, "starttls": true}
	offValues        = map[string]bool{"": true, "null": true, "none": true, "false": true, "0": true, "off": true}
)

// IsDowngrade reports whether replacing from with to for key weakens
// transport security.
func IsDowngrade(key, from, to string) bool {
	upper := strings.ToUpper(key)
	oldL, newL := strings.ToLower(strings.TrimSpace(from)), strings.ToLower(strings.TrimSpace(to))

	switch {
	case strings.HasSuffix(upper, "SSLMODE"):
		return secureSSLModes[oldL] && insecureSSLModes[newL]
	case strings.HasSuffix(upper, "ENCRYPTION"), strings.HasSuffix(upper, "_TLS"), strings.HasSuffix(upper, "_SSL"):
		return onValues[oldL] && offValues[newL]
	}

	oldURL, err := url.Parse(from)
	if err != nil || oldURL.Scheme == "" {
		return false
	}
	newURL, err := url.Parse(to)
	if err != nil || newURL.Scheme == "" {
		return false
	}
	if insecure, ok := secureSchemes[strings.ToLower(oldURL.Scheme)]; ok && strings.ToLower(newURL.Scheme) == insecure {
		return true
	}
	return secureSSLModes[strings.ToLower(oldURL.Query().Get("sslmode"))] &&
		insecureSSLModes[strings.ToLower(newURL.Query().Get("sslmode"))]
}

var nonAlnum = regexp.MustCompile(`[^A-Z0-9]+`)

// EnvPrefix turns a service name into an environment variable prefix:
// "search-2" becomes "SEARCH_2".
func EnvPrefix(name string) string {
	return strings.Trim(nonAlnum.ReplaceAllString(strings.ToUpper(name), "_"), "_")
}
