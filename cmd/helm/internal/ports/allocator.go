// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ports assigns conflict-free host ports to services.
//
// Two strategies are supported:
//
//   - Random asks the OS for an ephemeral port (bind to :0, read, release).
//   - Stable hashes (seed, service, field) into the window [20000, 60000)
//     and probes forward, wrapping inside the window, for the first port
//     that is neither claimed in this planning pass nor bound on the host.
//
// Every successful allocation is recorded in the caller's UsedSet before it
// is returned, so consecutive allocations in one pass never collide.
//
// # Limitations
//
// A port that passes the bind test can still be taken by another process
// before the container engine publishes it. The engine then fails with its
// own "port is already allocated" error, which is surfaced verbatim.
package ports

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/jinterlante1206/helm/cmd/helm/internal/util"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// StableWindowStart is the first port of the stable strategy window.
	StableWindowStart = 20000

	// StableWindowSize is the width of the stable strategy window.
	StableWindowSize = 40000

	// DefaultRandomAttempts bounds how many ephemeral ports are tried.
	DefaultRandomAttempts = 64
)

// =============================================================================
// Strategy
// =============================================================================

// Strategy selects how unpinned ports are assigned.
type Strategy string

const (
	StrategyRandom Strategy = "random"
	StrategyStable Strategy = "stable"
)

// ParseStrategy parses a flag or settings value. Empty means random.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StrategyRandom, nil
	case StrategyRandom, StrategyStable:
		return st, nil
	default:
		return "", fmt.Errorf("unknown port strategy %q (want random or stable)", s)
	}
}

// Seed scopes the stable strategy. Build it with StableSeed.
type Seed string

// StableSeed combines the workspace path, the runtime environment name and an
// optional user seed. Two checkouts, or two environments of one checkout,
// therefore never share a layout even when the user seed text is identical.
func StableSeed(workspace, environment, userSeed string) Seed {
	return Seed(strings.Join([]string{workspace, environment, userSeed}, "\x00"))
}

// Request identifies the port being assigned.
type Request struct {
	// Host is the bind host. Empty means 127.0.0.1.
	Host string

	// Service is the service name.
	Service string

	// Field is the config field, "port" or "smtp_port".
	Field string
}

func (r Request) subject() string {
	return r.Service + "." + r.Field
}

// ListenFunc opens a listener. Replaced in tests.
type ListenFunc func(network, address string) (net.Listener, error)

// =============================================================================
// Allocator
// =============================================================================

// Allocator assigns host ports.
//
// # Thread Safety
//
// Allocator holds no mutable state and is safe for concurrent use; the
// UsedSet passed to Allocate is not.
type Allocator struct {
	listen         ListenFunc
	windowStart    int
	windowSize     int
	randomAttempts int
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithListenFunc replaces net.Listen for bind tests.
func WithListenFunc(fn ListenFunc) Option {
	return func(a *Allocator) { a.listen = fn }
}

// WithWindow overrides the stable strategy window.
func WithWindow(start, size int) Option {
	return func(a *Allocator) {
		a.windowStart = start
		a.windowSize = size
	}
}

// WithRandomAttempts overrides the random strategy attempt bound.
func WithRandomAttempts(n int) Option {
	return func(a *Allocator) { a.randomAttempts = n }
}

// NewAllocator creates an Allocator with the documented defaults.
func NewAllocator(opts ...Option) *Allocator {
	a := &Allocator{
		listen:         net.Listen,
		windowStart:    StableWindowStart,
		windowSize:     StableWindowSize,
		randomAttempts: DefaultRandomAttempts,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.windowSize <= 0 {
		a.windowSize = StableWindowSize
	}
	if a.randomAttempts <= 0 {
		a.randomAttempts = DefaultRandomAttempts
	}
	return a
}

// Allocate returns a free, unclaimed port for req and records it in used.
//
// # Description
//
// Dispatches on strategy. The seed is ignored by the random strategy.
//
// # Inputs
//
//   - req: Host, service and field the port is for.
//   - strategy: StrategyRandom or StrategyStable.
//   - seed: Stable strategy scope, see StableSeed.
//   - used: Ports already claimed in this planning pass. Mutated on success.
//
// # Outputs
//
//   - int: The assigned port.
//   - error: *util.AllocationError wrapping util.ErrPortsExhausted.
func (a *Allocator) Allocate(req Request, strategy Strategy, seed Seed, used *UsedSet) (int, error) {
	req.Host = normalizeHost(req.Host)

	var (
		port int
		err  error
	)
	switch strategy {
	case StrategyStable:
		port, err = a.stable(req, seed, used)
	case StrategyRandom, "":
		port, err = a.random(req, used)
	default:
		return 0, fmt.Errorf("unknown port strategy %q", strategy)
	}
	if err != nil {
		return 0, err
	}

	used.Add(req.Host, port)
	return port, nil
}

func (a *Allocator) random(req Request, used *UsedSet) (int, error) {
	for attempt := 1; attempt <= a.randomAttempts; attempt++ {
		port, err := a.ephemeral(req.Host)
		if err != nil {
			continue
		}
		if !used.Contains(req.Host, port) {
			return port, nil
		}
	}
	return 0, &util.AllocationError{
		Resource: "port",
		Subject:  req.subject(),
		Attempts: a.randomAttempts,
		Err:      util.ErrPortsExhausted,
	}
}

func (a *Allocator) stable(req Request, seed Seed, used *UsedSet) (int, error) {
	offset := StableOffset(seed, req.Service, req.Field, a.windowSize)

	for i := 0; i < a.windowSize; i++ {
		port := a.windowStart + (offset+i)%a.windowSize
		if used.Contains(req.Host, port) {
			continue
		}
		if a.free(req.Host, port) {
			return port, nil
		}
	}
	return 0, &util.AllocationError{
		Resource: "port",
		Subject:  req.subject(),
		Attempts: a.windowSize,
		Err:      util.ErrPortsExhausted,
	}
}

// ephemeral binds host:0 and returns the port the OS picked.
func (a *Allocator) ephemeral(host string) (int, error) {
	l, err := a.listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()

	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("unexpected listener address %T", l.Addr())
	}
	return addr.Port, nil
}

// free reports whether host:port can be bound right now.
func (a *Allocator) free(host string, port int) bool {
	l, err := a.listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// StableOffset maps (seed, service, field) to an offset in [0, size).
//
// The three components are length-prefixed before hashing so ("ab","c")
// and ("a","bc") never produce the same input.
func StableOffset(seed Seed, service, field string, size int) int {
	h := sha256.New()
	for _, part := range []string{string(seed), service, field} {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(part)))
		h.Write(n[:])
		h.Write([]byte(part))
	}
	sum := h.Sum(nil)
	return int(binary.BigEndian.Uint64(sum[:8]) % uint64(size))
}
