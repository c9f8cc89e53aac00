// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package health

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/helm/cmd/helm/internal/drivers"
	"github.com/jinterlante1206/helm/cmd/helm/internal/infra/engine"
	"github.com/jinterlante1206/helm/cmd/helm/internal/service"
	"github.com/jinterlante1206/helm/cmd/helm/internal/util"
)

// fakeClock advances only when Sleep is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

func redisService() *service.Descriptor {
	return &service.Descriptor{Name: "redis", Driver: "redis", Port: 26379, Container: "shop-redis"}
}

func running(container string) *engine.Mock {
	eng := engine.NewMock()
	eng.SetState(container, engine.StateRunning)
	return eng
}

func TestWaitUntilHealthy_SucceedsAfterFailures(t *testing.T) {
	eng := running("shop-redis")
	calls := 0
	eng.ExecFunc = func(ctx context.Context, container string, argv []string) (engine.ExecResult, error) {
		calls++
		if calls < 3 {
			return engine.ExecResult{ExitCode: 1, Stderr: "Could not connect"}, nil
		}
		return engine.ExecResult{Stdout: "PONG\n"}, nil
	}
	clock := newFakeClock()
	p := NewProber(eng, drivers.Default(), WithClock(clock))

	err := p.WaitUntilHealthy(context.Background(), redisService(), Options{Timeout: time.Minute, Interval: 2 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clock.sleeps)
	assert.Contains(t, eng.Calls(), "exec shop-redis redis-cli PING")
}

func TestWaitUntilHealthy_NotRunningFailsImmediately(t *testing.T) {
	eng := engine.NewMock()
	eng.SetState("shop-redis", engine.StateExited)
	clock := newFakeClock()
	p := NewProber(eng, drivers.Default(), WithClock(clock))

	err := p.WaitUntilHealthy(context.Background(), redisService(), DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrNotRunning))
	assert.Empty(t, eng.CallsWithPrefix("exec "))
	assert.Empty(t, clock.sleeps)

	var hcErr *util.HealthCheckError
	require.True(t, errors.As(err, &hcErr))
	assert.Equal(t, "shop-redis", hcErr.Container)
}

func TestWaitUntilHealthy_RetriesExhaustedBeforeTimeout(t *testing.T) {
	eng := running("shop-redis")
	eng.ExecFunc = func(ctx context.Context, container string, argv []string) (engine.ExecResult, error) {
		return engine.ExecResult{}, errors.New("engine unreachable")
	}
	clock := newFakeClock()
	p := NewProber(eng, drivers.Default(), WithClock(clock))

	err := p.WaitUntilHealthy(context.Background(), redisService(), Options{Timeout: time.Hour, Interval: time.Second, MaxRetries: 4})
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrRetriesExhausted))
	assert.Len(t, eng.CallsWithPrefix("exec "), 4)

	var hcErr *util.HealthCheckError
	require.True(t, errors.As(err, &hcErr))
	assert.Equal(t, 4, hcErr.Attempts)
	assert.ErrorContains(t, hcErr.LastErr, "engine unreachable")
}

func TestWaitUntilHealthy_TimeoutRegardlessOfRetries(t *testing.T) {
	eng := running("shop-redis")
	eng.ExecFunc = func(ctx context.Context, container string, argv []string) (engine.ExecResult, error) {
		return engine.ExecResult{ExitCode: 1}, nil
	}
	clock := newFakeClock()
	p := NewProber(eng, drivers.Default(), WithClock(clock))

	err := p.WaitUntilHealthy(context.Background(), redisService(), Options{Timeout: 5 * time.Second, Interval: time.Second})
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrHealthTimeout))
	assert.Len(t, eng.CallsWithPrefix("exec "), 6)
}

func TestWaitUntilHealthy_IntervalFloor(t *testing.T) {
	eng := running("shop-redis")
	eng.ExecFunc = func(ctx context.Context, container string, argv []string) (engine.ExecResult, error) {
		return engine.ExecResult{ExitCode: 1}, nil
	}
	clock := newFakeClock()
	p := NewProber(eng, drivers.Default(), WithClock(clock))

	_ = p.WaitUntilHealthy(context.Background(), redisService(), Options{Timeout: time.Minute, Interval: 10 * time.Millisecond, MaxRetries: 3})
	assert.Equal(t, []time.Duration{time.Second, time.Second}, clock.sleeps)
}

func TestWaitUntilHealthy_RealTimeoutReturnsPromptly(t *testing.T) {
	eng := running("shop-redis")
	eng.ExecFunc = func(ctx context.Context, container string, argv []string) (engine.ExecResult, error) {
		return engine.ExecResult{ExitCode: 1}, nil
	}
	p := NewProber(eng, drivers.Default())

	start := time.Now()
	err := p.WaitUntilHealthy(context.Background(), redisService(), Options{Timeout: time.Second, Interval: time.Second})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrHealthTimeout))
	assert.Less(t, elapsed, 2500*time.Millisecond)
}

func TestWaitUntilHealthy_HungCheckBoundedByTimeout(t *testing.T) {
	eng := running("shop-redis")
	eng.ExecFunc = func(ctx context.Context, container string, argv []string) (engine.ExecResult, error) {
		select {
		case <-ctx.Done():
			return engine.ExecResult{}, ctx.Err()
		case <-time.After(8 * time.Second):
			return engine.ExecResult{Stdout: "PONG"}, nil
		}
	}
	p := NewProber(eng, drivers.Default())

	start := time.Now()
	err := p.WaitUntilHealthy(context.Background(), redisService(), Options{Timeout: time.Second, Interval: time.Second})
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrHealthTimeout)
	assert.ErrorContains(t, err, "deadline exceeded")
	assert.Less(t, elapsed, 2500*time.Millisecond)
}

func TestWaitUntilHealthy_ExpectMismatchIsFailure(t *testing.T) {
	eng := running("shop-redis")
	eng.ExecFunc = func(ctx context.Context, container string, argv []string) (engine.ExecResult, error) {
		return engine.ExecResult{Stdout: "LOADING"}, nil
	}
	p := NewProber(eng, drivers.Default(), WithClock(newFakeClock()))

	err := p.WaitUntilHealthy(context.Background(), redisService(), Options{Timeout: time.Minute, MaxRetries: 1})
	require.Error(t, err)
	assert.ErrorContains(t, err, "LOADING")
}

func TestWaitUntilHealthy_ContextCancelled(t *testing.T) {
	eng := running("shop-redis")
	eng.ExecFunc = func(ctx context.Context, container string, argv []string) (engine.ExecResult, error) {
		return engine.ExecResult{ExitCode: 1}, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewProber(eng, drivers.Default(), WithClock(newFakeClock()))

	err := p.WaitUntilHealthy(ctx, redisService(), Options{Timeout: time.Minute})
	require.Error(t, err)
	assert.ErrorIs(t, err, util.ErrHealthTimeout)
}

func hostPort(t *testing.T, raw string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(raw)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestCheckHTTP(t *testing.T) {
	status := http.StatusServiceUnavailable
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	host, port := hostPort(t, srv.Listener.Addr().String())
	svc := &service.Descriptor{Name: "search", Driver: "meilisearch", Host: host, Port: port, Container: "c"}
	p := NewProber(engine.NewMock(), drivers.Default())
	check := drivers.Check{Kind: drivers.CheckHTTP, Path: "/health"}

	require.Error(t, p.Check(context.Background(), svc, check), "5xx is not ready")

	mu.Lock()
	status = http.StatusUnauthorized
	mu.Unlock()
	require.NoError(t, p.Check(context.Background(), svc, check), "any status below 500 is ready")

	check.Statuses = []int{http.StatusOK}
	require.Error(t, p.Check(context.Background(), svc, check), "explicit statuses replace the default rule")

	mu.Lock()
	status = http.StatusOK
	mu.Unlock()
	require.NoError(t, p.Check(context.Background(), svc, check))
}

func TestCheckTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, port := hostPort(t, ln.Addr().String())

	svc := &service.Descriptor{Name: "cache", Driver: "memcached", Host: host, Port: port}
	p := NewProber(engine.NewMock(), drivers.Default())
	require.NoError(t, p.Check(context.Background(), svc, drivers.Check{Kind: drivers.CheckTCP}))

	require.NoError(t, ln.Close())
	require.Error(t, p.Check(context.Background(), svc, drivers.Check{Kind: drivers.CheckTCP}))
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "127.0.0.1:80", address(&service.Descriptor{Port: 80}))
	assert.Equal(t, "127.0.0.1:80", address(&service.Descriptor{Host: "0.0.0.0", Port: 80}))
	assert.Equal(t, "[::1]:80", address(&service.Descriptor{Host: "::", Port: 80}))
	assert.Equal(t, "10.1.2.3:80", address(&service.Descriptor{Host: "10.1.2.3", Port: 80}))
}
