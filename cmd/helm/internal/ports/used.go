// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ports

import (
	"sort"
	"strings"
)

// wildcardHost binds every interface, so it conflicts with any host.
const wildcardHost = "0.0.0.0"

// Binding is one claimed (host, port) pair.
type Binding struct {
	Host string
	Port int
}

// UsedSet is the set of (host, port) pairs claimed in one planning pass.
//
// It only grows. Create one per pass; it is not safe for concurrent use.
type UsedSet struct {
	bindings map[Binding]struct{}
	byPort   map[int]int
}

// NewUsedSet creates an empty set.
func NewUsedSet() *UsedSet {
	return &UsedSet{
		bindings: make(map[Binding]struct{}),
		byPort:   make(map[int]int),
	}
}

// Add claims host:port. Adding an existing pair is a no-op.
func (u *UsedSet) Add(host string, port int) {
	b := Binding{Host: normalizeHost(host), Port: port}
	if _, ok := u.bindings[b]; ok {
		return
	}
	u.bindings[b] = struct{}{}
	u.byPort[port]++
}

// Contains reports whether host:port conflicts with a claimed pair. The
// wildcard host conflicts with every host on the same port.
func (u *UsedSet) Contains(host string, port int) bool {
	host = normalizeHost(host)
	if host == wildcardHost {
		return u.byPort[port] > 0
	}
	if _, ok := u.bindings[Binding{Host: host, Port: port}]; ok {
		return true
	}
	_, ok := u.bindings[Binding{Host: wildcardHost, Port: port}]
	return ok
}

// Len returns the number of claimed pairs.
func (u *UsedSet) Len() int {
	return len(u.bindings)
}

// Bindings returns the claimed pairs sorted by host then port.
func (u *UsedSet) Bindings() []Binding {
	out := make([]Binding, 0, len(u.bindings))
	for b := range u.bindings {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Host != out[j].Host {
			return out[i].Host < out[j].Host
		}
		return out[i].Port < out[j].Port
	})
	return out
}

func normalizeHost(host string) string {
	host = strings.TrimSpace(host)
	switch host {
	case "", "localhost":
		return "127.0.0.1"
	case "*", "::":
		return wildcardHost
	}
	return host
}
