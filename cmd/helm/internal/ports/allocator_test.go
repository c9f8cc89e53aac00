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
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/helm/cmd/helm/internal/util"
)

// =============================================================================
// Test Helpers
// =============================================================================

type fakeListener struct {
	addr *net.TCPAddr
}

func (f *fakeListener) Accept() (net.Conn, error) { return nil, errors.New("not implemented") }
func (f *fakeListener) Close() error              { return nil }
func (f *fakeListener) Addr() net.Addr            { return f.addr }

// fakeOS simulates the host's port table. Ephemeral binds hand out ports
// from a scripted sequence; fixed binds fail for ports in busy.
type fakeOS struct {
	mu        sync.Mutex
	ephemeral []int
	busy      map[int]bool
	binds     int
}

func (f *fakeOS) listen(network, address string) (net.Listener, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binds++

	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	port, _ := strconv.Atoi(portStr)

	if port == 0 {
		if len(f.ephemeral) == 0 {
			return nil, errors.New("no ephemeral ports left")
		}
		port = f.ephemeral[0]
		f.ephemeral = f.ephemeral[1:]
	} else if f.busy[port] {
		return nil, errors.New("address already in use")
	}
	return &fakeListener{addr: &net.TCPAddr{IP: net.ParseIP(host), Port: port}}, nil
}

// =============================================================================
// Random Strategy Tests
// =============================================================================

func TestAllocate_Random_SkipsUsedPorts(t *testing.T) {
	fos := &fakeOS{ephemeral: []int{41000, 41000, 41001}}
	alloc := NewAllocator(WithListenFunc(fos.listen))
	used := NewUsedSet()
	used.Add("127.0.0.1", 41000)

	port, err := alloc.Allocate(Request{Service: "redis", Field: "port"}, StrategyRandom, "", used)

	require.NoError(t, err)
	assert.Equal(t, 41001, port)
	assert.True(t, used.Contains("127.0.0.1", 41001), "allocation is recorded before return")
}

func TestAllocate_Random_Exhausted(t *testing.T) {
	fos := &fakeOS{ephemeral: []int{41000, 41000, 41000}}
	alloc := NewAllocator(WithListenFunc(fos.listen), WithRandomAttempts(3))
	used := NewUsedSet()
	used.Add("127.0.0.1", 41000)

	_, err := alloc.Allocate(Request{Service: "redis", Field: "port"}, StrategyRandom, "", used)

	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrPortsExhausted)
	var allocErr *util.AllocationError
	require.ErrorAs(t, err, &allocErr)
	assert.Equal(t, "redis.port", allocErr.Subject)
	assert.Equal(t, 3, fos.binds)
}

func TestAllocate_Random_RealOSPortsAreDistinct(t *testing.T) {
	alloc := NewAllocator()
	used := NewUsedSet()
	seen := map[int]bool{}

	for _, name := range []string{"postgres", "redis", "minio", "mailpit", "app"} {
		port, err := alloc.Allocate(Request{Host: "127.0.0.1", Service: name, Field: "port"}, StrategyRandom, "", used)
		require.NoError(t, err)
		assert.False(t, seen[port], "port %d assigned twice", port)
		seen[port] = true
	}
	assert.Equal(t, 5, used.Len())
}

// =============================================================================
// Stable Strategy Tests
// =============================================================================

func TestAllocate_Stable_Deterministic(t *testing.T) {
	fos := &fakeOS{busy: map[int]bool{}}
	alloc := NewAllocator(WithListenFunc(fos.listen))
	seed := StableSeed("/home/dev/acme", "local", "")
	req := Request{Service: "postgres", Field: "port"}

	first, err := alloc.Allocate(req, StrategyStable, seed, NewUsedSet())
	require.NoError(t, err)
	second, err := alloc.Allocate(req, StrategyStable, seed, NewUsedSet())
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.GreaterOrEqual(t, first, StableWindowStart)
	assert.Less(t, first, StableWindowStart+StableWindowSize)
}

func TestAllocate_Stable_SeedChangesResult(t *testing.T) {
	fos := &fakeOS{busy: map[int]bool{}}
	alloc := NewAllocator(WithListenFunc(fos.listen))
	req := Request{Service: "postgres", Field: "port"}

	a, err := alloc.Allocate(req, StrategyStable, StableSeed("/home/dev/acme", "local", ""), NewUsedSet())
	require.NoError(t, err)
	b, err := alloc.Allocate(req, StrategyStable, StableSeed("/home/dev/acme-2", "local", ""), NewUsedSet())
	require.NoError(t, err)
	c, err := alloc.Allocate(req, StrategyStable, StableSeed("/home/dev/acme", "testing", ""), NewUsedSet())
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestAllocate_Stable_ProbesPastUsedAndBusy(t *testing.T) {
	seed := Seed("fixed")
	req := Request{Service: "redis", Field: "port"}
	start := StableWindowStart + StableOffset(seed, req.Service, req.Field, StableWindowSize)

	fos := &fakeOS{busy: map[int]bool{start + 1: true}}
	alloc := NewAllocator(WithListenFunc(fos.listen))
	used := NewUsedSet()
	used.Add("127.0.0.1", start)

	port, err := alloc.Allocate(req, StrategyStable, seed, used)

	require.NoError(t, err)
	if start+2 < StableWindowStart+StableWindowSize {
		assert.Equal(t, start+2, port)
	}
}

func TestAllocate_Stable_WrapsInsideWindow(t *testing.T) {
	seed := Seed("wrap")
	req := Request{Service: "db", Field: "port"}
	offset := StableOffset(seed, req.Service, req.Field, 4)

	// Occupy every port from the starting offset to the end of the window.
	busy := map[int]bool{}
	for i := offset; i < 4; i++ {
		busy[30000+i] = true
	}
	fos := &fakeOS{busy: busy}
	alloc := NewAllocator(WithListenFunc(fos.listen), WithWindow(30000, 4))

	port, err := alloc.Allocate(req, StrategyStable, seed, NewUsedSet())

	if offset == 0 {
		require.Error(t, err)
		return
	}
	require.NoError(t, err)
	assert.Equal(t, 30000, port)
}

func TestAllocate_Stable_ExhaustedAfterOnePass(t *testing.T) {
	fos := &fakeOS{busy: map[int]bool{30000: true, 30001: true, 30002: true}}
	alloc := NewAllocator(WithListenFunc(fos.listen), WithWindow(30000, 3))

	_, err := alloc.Allocate(Request{Service: "db", Field: "port"}, StrategyStable, "s", NewUsedSet())

	assert.ErrorIs(t, err, util.ErrPortsExhausted)
	assert.Equal(t, 3, fos.binds)
}

func TestAllocate_Stable_SecondaryPortNeverCollidesWithPrimary(t *testing.T) {
	fos := &fakeOS{busy: map[int]bool{}}
	alloc := NewAllocator(WithListenFunc(fos.listen), WithWindow(30000, 1+1))
	used := NewUsedSet()

	ui, err := alloc.Allocate(Request{Service: "mailpit", Field: "port"}, StrategyStable, "s", used)
	require.NoError(t, err)
	smtp, err := alloc.Allocate(Request{Service: "mailpit", Field: "smtp_port"}, StrategyStable, "s", used)
	require.NoError(t, err)

	assert.NotEqual(t, ui, smtp)
}

func TestAllocate_UnknownStrategy(t *testing.T) {
	_, err := NewAllocator().Allocate(Request{Service: "x", Field: "port"}, Strategy("sequential"), "", NewUsedSet())
	assert.Error(t, err)
}

// =============================================================================
// Seed and Offset Tests
// =============================================================================

func TestStableOffset_ComponentBoundaries(t *testing.T) {
	a := StableOffset("ab", "c", "port", StableWindowSize)
	b := StableOffset("a", "bc", "port", StableWindowSize)
	assert.NotEqual(t, a, b)
}

func TestStableOffset_FieldMatters(t *testing.T) {
	a := StableOffset("seed", "mailpit", "port", StableWindowSize)
	b := StableOffset("seed", "mailpit", "smtp_port", StableWindowSize)
	assert.NotEqual(t, a, b)
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyRandom, s)

	s, err = ParseStrategy("STABLE")
	require.NoError(t, err)
	assert.Equal(t, StrategyStable, s)

	_, err = ParseStrategy("round-robin")
	assert.Error(t, err)
}

// =============================================================================
// UsedSet Tests
// =============================================================================

func TestUsedSet_HostNormalization(t *testing.T) {
	used := NewUsedSet()
	used.Add("localhost", 5432)

	assert.True(t, used.Contains("127.0.0.1", 5432))
	assert.True(t, used.Contains("", 5432))
	assert.False(t, used.Contains("192.168.1.10", 5432))
	assert.True(t, used.Contains("0.0.0.0", 5432), "wildcard conflicts with any host")
}

func TestUsedSet_WildcardClaimBlocksEveryHost(t *testing.T) {
	used := NewUsedSet()
	used.Add("0.0.0.0", 6379)

	assert.True(t, used.Contains("127.0.0.1", 6379))
	assert.True(t, used.Contains("10.0.0.5", 6379))
	assert.False(t, used.Contains("127.0.0.1", 6380))
}

func TestUsedSet_AddIsIdempotent(t *testing.T) {
	used := NewUsedSet()
	used.Add("127.0.0.1", 80)
	used.Add("localhost", 80)

	assert.Equal(t, 1, used.Len())
	assert.Equal(t, []Binding{{Host: "127.0.0.1", Port: 80}}, used.Bindings())
}
