// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package health waits for started containers to become ready.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/jinterlante1206/helm/cmd/helm/internal/drivers"
	"github.com/jinterlante1206/helm/cmd/helm/internal/infra/engine"
	"github.com/jinterlante1206/helm/cmd/helm/internal/service"
	"github.com/jinterlante1206/helm/cmd/helm/internal/util"
)

// Options bounds one WaitUntilHealthy call.
type Options struct {
	// Timeout is the wall-clock budget. Zero means util.DefaultHealthTimeout.
	Timeout time.Duration

	// Interval is the pause between attempts, never less than one second.
	Interval time.Duration

	// MaxRetries caps the attempts. Zero means unlimited within Timeout.
	MaxRetries int
}

// DefaultOptions returns the options used for a wave without overrides.
func DefaultOptions() Options {
	return Options{
		Timeout:    util.DefaultHealthTimeout,
		Interval:   util.DefaultHealthInterval,
		MaxRetries: util.DefaultHealthRetries,
	}
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Prober runs driver readiness checks.
//
// # Thread Safety
//
// Safe for concurrent use; each call keeps its own attempt counter and no
// result is cached.
type Prober struct {
	engine       engine.Engine
	registry     *drivers.Registry
	logger       *slog.Logger
	client       *http.Client
	dialer       *net.Dialer
	clock        Clock
	probeTimeout time.Duration
}

// Option configures a Prober.
type Option func(*Prober)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Prober) { p.logger = logger }
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(p *Prober) { p.clock = c }
}

// WithHTTPClient replaces the client used for HTTP checks.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Prober) { p.client = c }
}

// NewProber creates a Prober.
func NewProber(eng engine.Engine, registry *drivers.Registry, opts ...Option) *Prober {
	p := &Prober{
		engine:       eng,
		registry:     registry,
		logger:       slog.Default(),
		clock:        realClock{},
		probeTimeout: util.DefaultProbeTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.client == nil {
		p.client = &http.Client{
			Timeout: p.probeTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	p.dialer = &net.Dialer{Timeout: p.probeTimeout}
	return p
}

// WaitUntilHealthy polls svc until its readiness check passes.
//
// # Description
//
// The container must be running when the call starts; any other state
// fails immediately without retrying. Each iteration runs one check and
// counts one attempt whatever the outcome. The loop fails once MaxRetries
// attempts are spent or Timeout has elapsed, whichever comes first, and
// otherwise sleeps max(Interval, 1s). A check that errors is a failed
// attempt, never an abort. One check never runs longer than the probe
// timeout or what is left of Timeout.
//
// # Inputs
//
//   - ctx: Cancels the wait between attempts.
//   - svc: Service with its final host and ports.
//   - opts: Timeout, interval and retry cap.
//
// # Outputs
//
//   - error: nil when ready, else *util.HealthCheckError wrapping
//     ErrNotRunning, ErrRetriesExhausted or ErrHealthTimeout.
//
// # Limitations
//
//   - In dry-run mode nothing is probed and the call succeeds.
func (p *Prober) WaitUntilHealthy(ctx context.Context, svc *service.Descriptor, opts Options) error {
	if p.engine.DryRun() {
		return nil
	}

	drv, err := p.registry.For(svc)
	if err != nil {
		return err
	}

	timeout := util.EnforceDefaultTimeout(opts.Timeout, util.DefaultHealthTimeout)
	interval := util.EnforceMinTimeout(opts.Interval, util.MinHealthInterval)
	start := p.clock.Now()

	fail := func(attempts int, cause, last error) error {
		return &util.HealthCheckError{
			Service:   svc.Name,
			Container: svc.Container,
			Attempts:  attempts,
			Elapsed:   p.clock.Now().Sub(start),
			LastErr:   last,
			Err:       cause,
		}
	}

	state, err := p.engine.Inspect(ctx, svc.Container)
	if err != nil {
		return fail(0, util.ErrNotRunning, err)
	}
	if state != engine.StateRunning {
		return fail(0, util.ErrNotRunning, fmt.Errorf("state is %s", state))
	}

	check := drivers.HealthCheckFor(drv, svc)
	logger := p.logger.With("service", svc.Name, "check", check.Kind)

	attempts := 0
	for {
		lastErr := p.attempt(ctx, svc, check, timeout-p.clock.Now().Sub(start))
		attempts++
		if lastErr == nil {
			logger.Info("service healthy", "attempts", attempts, "elapsed", p.clock.Now().Sub(start).Round(time.Millisecond))
			return nil
		}
		logger.Debug("health check failed", "attempt", attempts, "error", lastErr)

		if opts.MaxRetries > 0 && attempts >= opts.MaxRetries {
			return fail(attempts, util.ErrRetriesExhausted, lastErr)
		}
		if p.clock.Now().Sub(start) >= timeout {
			return fail(attempts, util.ErrHealthTimeout, lastErr)
		}
		if err := p.clock.Sleep(ctx, interval); err != nil {
			return fail(attempts, util.ErrHealthTimeout, err)
		}
	}
}

// attempt runs one check bounded by the probe timeout and by what is left
// of the overall budget.
func (p *Prober) attempt(ctx context.Context, svc *service.Descriptor, check drivers.Check, remaining time.Duration) error {
	limit := p.probeTimeout
	if remaining > 0 && remaining < limit {
		limit = remaining
	}
	ctx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	return p.Check(ctx, svc, check)
}

// Check performs one readiness check.
func (p *Prober) Check(ctx context.Context, svc *service.Descriptor, check drivers.Check) error {
	switch check.Kind {
	case drivers.CheckExec:
		return p.checkExec(ctx, svc, check)
	case drivers.CheckHTTP:
		return p.checkHTTP(ctx, svc, check)
	default:
		return p.checkTCP(ctx, svc)
	}
}

func (p *Prober) checkExec(ctx context.Context, svc *service.Descriptor, check drivers.Check) error {
	if len(check.Argv) == 0 {
		return fmt.Errorf("exec health check for %s has no command", svc.Name)
	}
	res, err := p.engine.Exec(ctx, svc.Container, check.Argv)
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%s exited %d: %s", check.Argv[0], res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	if check.Expect != "" && !strings.Contains(res.Stdout, check.Expect) {
		return fmt.Errorf("%s: expected %q in output, got %q", check.Argv[0], check.Expect, strings.TrimSpace(res.Stdout))
	}
	return nil
}

func (p *Prober) checkHTTP(ctx context.Context, svc *service.Descriptor, check drivers.Check) error {
	path := check.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	url := "http://" + address(svc) + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if len(check.Statuses) > 0 {
		if slices.Contains(check.Statuses, resp.StatusCode) {
			return nil
		}
		return fmt.Errorf("GET %s: status %d not in %v", path, resp.StatusCode, check.Statuses)
	}
	if resp.StatusCode < 500 {
		return nil
	}
	return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
}

func (p *Prober) checkTCP(ctx context.Context, svc *service.Descriptor) error {
	conn, err := p.dialer.DialContext(ctx, "tcp", address(svc))
	if err != nil {
		return err
	}
	return conn.Close()
}

// address is the host-side endpoint of svc's primary port.
func address(svc *service.Descriptor) string {
	host := svc.Host
	switch host {
	case "", "0.0.0.0", "*", "localhost":
		host = "127.0.0.1"
	case "::":
		host = "::1"
	}
	return net.JoinHostPort(host, strconv.Itoa(svc.Port))
}
