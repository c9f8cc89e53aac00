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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jinterlante1206/helm/cmd/helm/internal/infra/process"
	"github.com/jinterlante1206/helm/cmd/helm/internal/util"
	"github.com/jinterlante1206/helm/pkg/logging"
)

// =============================================================================
// CLI Engine
// =============================================================================

// CLI implements Engine by invoking the docker or podman binary.
//
// # Description
//
// Each method renders an argument list and runs it through a
// process.Manager. Non-zero exits become *util.CommandError carrying the
// redacted command line and the engine's stderr.
//
// # Thread Safety
//
// Safe for concurrent use.
type CLI struct {
	binary  string
	proc    process.Manager
	dryRun  bool
	out     io.Writer
	logger  *slog.Logger
	timeout time.Duration
}

// Option configures a CLI.
type Option func(*CLI)

// WithDryRun prints command lines to out instead of executing them.
func WithDryRun(dryRun bool, out io.Writer) Option {
	return func(c *CLI) {
		c.dryRun = dryRun
		if out != nil {
			c.out = out
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *CLI) { c.logger = logger }
}

// WithTimeout bounds every engine call.
func WithTimeout(d time.Duration) Option {
	return func(c *CLI) { c.timeout = d }
}

// NewCLI creates an engine for binary.
func NewCLI(binary string, proc process.Manager, opts ...Option) *CLI {
	c := &CLI{
		binary:  binary,
		proc:    proc,
		out:     os.Stdout,
		logger:  slog.Default(),
		timeout: util.DefaultEngineTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Binary implements Engine.
func (c *CLI) Binary() string { return c.binary }

// DryRun implements Engine.
func (c *CLI) DryRun() bool { return c.dryRun }

// Inspect implements Engine.
func (c *CLI) Inspect(ctx context.Context, container string) (State, error) {
	out, err := c.exec(ctx, "inspect", "--type", "container", "--format", "{{.State.Status}}", container)
	if err != nil {
		if isNotFound(err) {
			return StateAbsent, nil
		}
		return "", err
	}
	if c.dryRun {
		return StateAbsent, nil
	}
	return parseState(out), nil
}

// Published implements Engine. HostConfig.PortBindings is read instead of
// NetworkSettings.Ports so stopped containers report their mapping too.
func (c *CLI) Published(ctx context.Context, container string) (map[int]int, error) {
	if c.dryRun {
		return nil, nil
	}
	out, err := c.exec(ctx, "inspect", "--type", "container", "--format", "{{json .HostConfig.PortBindings}}", container)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return parsePortBindings(out)
}

// portBinding is one entry of HostConfig.PortBindings.
type portBinding struct {
	HostIP   string `json:"HostIp"`
	HostPort string `json:"HostPort"`
}

// parsePortBindings reads {"5432/tcp":[{"HostIp":"127.0.0.1","HostPort":"25432"}]}.
// Non-TCP entries and bindings without a host port are skipped.
func parsePortBindings(raw string) (map[int]int, error) {
	raw = strings.TrimSpace(raw)
	out := make(map[int]int)
	if raw == "" || raw == "null" {
		return out, nil
	}
	var bindings map[string][]portBinding
	if err := json.Unmarshal([]byte(raw), &bindings); err != nil {
		return nil, fmt.Errorf("parse port bindings: %w", err)
	}
	for key, list := range bindings {
		port, proto, _ := strings.Cut(key, "/")
		if proto != "" && proto != "tcp" {
			continue
		}
		containerPort, err := strconv.Atoi(port)
		if err != nil {
			continue
		}
		for _, b := range list {
			if hostPort, err := strconv.Atoi(b.HostPort); err == nil && hostPort > 0 {
				out[containerPort] = hostPort
				break
			}
		}
	}
	return out, nil
}

// ImageExists implements Engine.
func (c *CLI) ImageExists(ctx context.Context, image string) (bool, error) {
	_, err := c.exec(ctx, "image", "inspect", "--format", "{{.Id}}", image)
	if err != nil {
		var cmdErr *util.CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode > 0 {
			return false, nil
		}
		return false, err
	}
	return !c.dryRun, nil
}

// Pull implements Engine.
func (c *CLI) Pull(ctx context.Context, image string) error {
	_, err := c.exec(ctx, "pull", image)
	return err
}

// Build implements Engine.
func (c *CLI) Build(ctx context.Context, spec BuildSpec) error {
	_, err := c.exec(ctx, spec.Argv()...)
	return err
}

// Run implements Engine.
func (c *CLI) Run(ctx context.Context, spec RunSpec) error {
	_, err := c.exec(ctx, spec.Argv()...)
	return err
}

// Start implements Engine.
func (c *CLI) Start(ctx context.Context, container string) error {
	_, err := c.exec(ctx, "start", container)
	return err
}

// Stop implements Engine.
func (c *CLI) Stop(ctx context.Context, container string) error {
	_, err := c.exec(ctx, "stop", container)
	if isNotFound(err) {
		return nil
	}
	return err
}

// Remove implements Engine.
func (c *CLI) Remove(ctx context.Context, container string, volumes bool) error {
	args := []string{"rm", "-f"}
	if volumes {
		args = append(args, "-v")
	}
	_, err := c.exec(ctx, append(args, container)...)
	if isNotFound(err) {
		return nil
	}
	return err
}

// RemoveVolume implements Engine.
func (c *CLI) RemoveVolume(ctx context.Context, name string) error {
	_, err := c.exec(ctx, "volume", "rm", "-f", name)
	if isNotFound(err) {
		return nil
	}
	return err
}

// Exec implements Engine.
//
// # Outputs
//
//   - ExecResult: Always populated with whatever the process produced.
//   - error: *util.CommandError when argv exits non-zero.
func (c *CLI) Exec(ctx context.Context, container string, argv []string) (ExecResult, error) {
	args := append([]string{"exec", container}, argv...)
	if c.dryRun {
		c.print(args)
		return ExecResult{}, nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stdout, stderr, code, err := c.proc.Run(ctx, c.binary, args...)
	res := ExecResult{Stdout: stdout, Stderr: stderr, ExitCode: code}
	if err != nil {
		return res, util.NewCommandError(c.render(args), code, stderr, err)
	}
	return res, nil
}

// List implements Engine.
func (c *CLI) List(ctx context.Context, labels map[string]string) ([]Summary, error) {
	args := []string{"ps", "-a"}
	for k, v := range labels {
		args = append(args, "--filter", "label="+k+"="+v)
	}
	args = append(args, "--format", "{{.Names}}\t{{.State}}\t{{.Image}}\t{{.Status}}")

	out, err := c.exec(ctx, args...)
	if err != nil {
		return nil, err
	}

	var rows []Summary
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 4)
		for len(fields) < 4 {
			fields = append(fields, "")
		}
		rows = append(rows, Summary{
			Name:   fields[0],
			State:  parseState(fields[1]),
			Image:  fields[2],
			Status: fields[3],
		})
	}
	return rows, nil
}

// Version implements Engine.
func (c *CLI) Version(ctx context.Context) (string, error) {
	out, err := c.exec(ctx, "version", "--format", "{{.Client.Version}}")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// exec runs one engine command, or prints it in dry-run mode.
func (c *CLI) exec(ctx context.Context, args ...string) (string, error) {
	if c.dryRun {
		c.print(args)
		return "", nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	line := c.render(args)
	start := time.Now()
	stdout, stderr, code, err := c.proc.Run(ctx, c.binary, args...)
	c.logger.Debug("engine command", "command", line, "exit_code", code, "duration", time.Since(start))
	if err != nil {
		return stdout, util.NewCommandError(line, code, stderr, err)
	}
	return stdout, nil
}

func (c *CLI) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *CLI) print(args []string) {
	fmt.Fprintf(c.out, "[dry-run] %s\n", c.render(args))
}

// render joins the command line, masking credential-looking -e values.
func (c *CLI) render(args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, c.binary)
	for i, a := range args {
		if i > 0 && (args[i-1] == "-e" || args[i-1] == "--build-arg") {
			a = RedactAssignment(a)
		}
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

// RedactAssignment masks the value of KEY=VALUE when KEY names a credential.
func RedactAssignment(kv string) string {
	key, _, ok := strings.Cut(kv, "=")
	if ok && logging.IsSensitiveKey(key) {
		return key + "=[REDACTED]"
	}
	return kv
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n'\"\\$`|&;<>(){}*?!#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	stderr := strings.ToLower(util.ExtractStderr(err))
	return strings.Contains(stderr, "no such") || strings.Contains(stderr, "no container with name")
}

var _ Engine = (*CLI)(nil)
