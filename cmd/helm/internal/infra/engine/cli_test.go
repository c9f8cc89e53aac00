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
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/helm/cmd/helm/internal/infra/process"
	"github.com/jinterlante1206/helm/cmd/helm/internal/util"
)

// =============================================================================
// Test Helpers
// =============================================================================

type resp struct {
	stdout, stderr string
	code           int
}

// scripted answers engine calls whose argument line starts with a key.
func scripted(responses map[string]resp) *process.MockManager {
	return &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
			key := strings.Join(args, " ")
			for prefix, r := range responses {
				if strings.HasPrefix(key, prefix) {
					var err error
					if r.code != 0 {
						err = errors.New("exit status " + strconv.Itoa(r.code))
					}
					return r.stdout, r.stderr, r.code, err
				}
			}
			return "", "", 0, nil
		},
	}
}

// =============================================================================
// RunSpec Tests
// =============================================================================

func TestRunSpec_ArgvOrder(t *testing.T) {
	spec := RunSpec{
		Name: "acme-mailpit",
		Publish: []PortMapping{
			{Host: "127.0.0.1", HostPort: 41025, ContainerPort: 8025},
			{Host: "127.0.0.1", HostPort: 41026, ContainerPort: 1025},
		},
		Volumes: []string{"acme-mailpit-data:/data"},
		Env:     map[string]string{"MP_MAX_MESSAGES": "500", "MP_DATABASE": "/data/mailpit.db"},
		Labels:  map[string]string{LabelService: "mailpit", LabelManaged: "true"},
		Image:   "axllent/mailpit:latest",
		Command: []string{"--verbose"},
	}

	assert.Equal(t, []string{
		"run", "-d", "--name", "acme-mailpit",
		"-p", "127.0.0.1:41025:8025",
		"-p", "127.0.0.1:41026:1025",
		"-v", "acme-mailpit-data:/data",
		"-e", "MP_DATABASE=/data/mailpit.db",
		"-e", "MP_MAX_MESSAGES=500",
		"--label", "dev.helm.managed=true",
		"--label", "dev.helm.service=mailpit",
		"axllent/mailpit:latest",
		"--verbose",
	}, spec.Argv())
}

func TestBuildSpec_Argv(t *testing.T) {
	spec := BuildSpec{Image: "acme/app:dev", Context: "/ws/docker", Dockerfile: "/ws/docker/Dockerfile.dev", Args: map[string]string{"PHP": "8.3"}}
	assert.Equal(t, []string{"build", "-t", "acme/app:dev", "-f", "/ws/docker/Dockerfile.dev", "--build-arg", "PHP=8.3", "/ws/docker"}, spec.Argv())
}

func TestPortMapping_DefaultHost(t *testing.T) {
	assert.Equal(t, "127.0.0.1:5432:5432", PortMapping{HostPort: 5432, ContainerPort: 5432}.String())
}

// =============================================================================
// CLI Tests
// =============================================================================

func TestCLI_Inspect_States(t *testing.T) {
	proc := scripted(map[string]resp{
		"inspect --type container --format {{.State.Status}} acme-pg":    {stdout: "running\n"},
		"inspect --type container --format {{.State.Status}} acme-redis": {stdout: "exited\n"},
		"inspect --type container --format {{.State.Status}} acme-none":  {stderr: "Error: No such container: acme-none", code: 1},
		"inspect --type container --format {{.State.Status}} acme-pod":   {stdout: "configured\n"},
	})
	cli := NewCLI(Docker, proc)

	s, err := cli.Inspect(context.Background(), "acme-pg")
	require.NoError(t, err)
	assert.Equal(t, StateRunning, s)

	s, err = cli.Inspect(context.Background(), "acme-redis")
	require.NoError(t, err)
	assert.Equal(t, StateExited, s)
	assert.True(t, s.Startable())

	s, err = cli.Inspect(context.Background(), "acme-none")
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, s)

	s, err = cli.Inspect(context.Background(), "acme-pod")
	require.NoError(t, err)
	assert.Equal(t, StateCreated, s)
}

func TestCLI_Published(t *testing.T) {
	proc := scripted(map[string]resp{
		"inspect --type container --format {{json .HostConfig.PortBindings}} acme-mail": {
			stdout: `{"1025/tcp":[{"HostIp":"127.0.0.1","HostPort":"41001"}],"8025/tcp":[{"HostIp":"127.0.0.1","HostPort":"41000"}],"53/udp":[{"HostIp":"","HostPort":"5353"}]}` + "\n",
		},
		"inspect --type container --format {{json .HostConfig.PortBindings}} acme-bare": {stdout: "{}\n"},
		"inspect --type container --format {{json .HostConfig.PortBindings}} acme-none": {stderr: "Error: No such container: acme-none", code: 1},
	})
	cli := NewCLI(Docker, proc)

	ports, err := cli.Published(context.Background(), "acme-mail")
	require.NoError(t, err)
	assert.Equal(t, map[int]int{8025: 41000, 1025: 41001}, ports)

	ports, err = cli.Published(context.Background(), "acme-bare")
	require.NoError(t, err)
	assert.Empty(t, ports)

	ports, err = cli.Published(context.Background(), "acme-none")
	require.NoError(t, err)
	assert.Nil(t, ports)

	_, err = parsePortBindings("not json")
	assert.Error(t, err)
}

func TestCLI_Inspect_EngineFailureSurfacesStderr(t *testing.T) {
	proc := scripted(map[string]resp{
		"inspect": {stderr: "Cannot connect to the Docker daemon", code: 1},
	})

	_, err := NewCLI(Docker, proc).Inspect(context.Background(), "acme-pg")

	require.Error(t, err)
	var cmdErr *util.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "Cannot connect to the Docker daemon", cmdErr.Stderr)
	assert.Contains(t, cmdErr.Command, "docker inspect")
}

func TestCLI_ImageExists(t *testing.T) {
	proc := scripted(map[string]resp{
		"image inspect --format {{.Id}} postgres:16": {stdout: "sha256:1"},
		"image inspect --format {{.Id}} missing:1":   {stderr: "Error: No such image", code: 1},
	})
	cli := NewCLI(Podman, proc)

	ok, err := cli.ImageExists(context.Background(), "postgres:16")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = cli.ImageExists(context.Background(), "missing:1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCLI_RemoveAbsentIsNotAnError(t *testing.T) {
	proc := scripted(map[string]resp{
		"rm -f -v acme-gone": {stderr: "Error: No such container: acme-gone", code: 1},
	})

	err := NewCLI(Docker, proc).Remove(context.Background(), "acme-gone", true)

	assert.NoError(t, err)
	assert.Equal(t, []string{"docker rm -f -v acme-gone"}, proc.Lines())
}

func TestCLI_ExecReturnsResultAndError(t *testing.T) {
	proc := scripted(map[string]resp{
		"exec acme-redis redis-cli PING": {stdout: "PONG\n"},
		"exec acme-pg pg_isready":        {stdout: "no response", code: 2},
	})
	cli := NewCLI(Docker, proc)

	res, err := cli.Exec(context.Background(), "acme-redis", []string{"redis-cli", "PING"})
	require.NoError(t, err)
	assert.Equal(t, "PONG\n", res.Stdout)

	res, err = cli.Exec(context.Background(), "acme-pg", []string{"pg_isready"})
	require.Error(t, err)
	assert.Equal(t, 2, res.ExitCode)
}

func TestCLI_List(t *testing.T) {
	proc := scripted(map[string]resp{
		"ps -a": {stdout: "acme-pg\trunning\tpostgres:16\tUp 3 minutes\nacme-redis\texited\tredis:7\tExited (0) 1 hour ago\n"},
	})

	rows, err := NewCLI(Docker, proc).List(context.Background(), map[string]string{LabelWorkspace: "/ws"})

	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, Summary{Name: "acme-pg", State: StateRunning, Image: "postgres:16", Status: "Up 3 minutes"}, rows[0])
	assert.Equal(t, StateExited, rows[1].State)
	assert.Contains(t, proc.Lines()[0], "--filter label=dev.helm.workspace=/ws")
}

func TestCLI_DryRunPrintsAndNeverExecutes(t *testing.T) {
	proc := &process.MockManager{}
	var out bytes.Buffer
	cli := NewCLI(Docker, proc, WithDryRun(true, &out))

	state, err := cli.Inspect(context.Background(), "acme-pg")
	require.NoError(t, err)
	assert.Equal(t, StateAbsent, state)

	err = cli.Run(context.Background(), RunSpec{
		Name:  "acme-pg",
		Env:   map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_DB": "app"},
		Image: "postgres:16",
	})
	require.NoError(t, err)

	assert.Empty(t, proc.Calls())
	printed := out.String()
	assert.Contains(t, printed, "[dry-run] docker inspect")
	assert.Contains(t, printed, "[dry-run] docker run -d --name acme-pg -e POSTGRES_DB=app -e POSTGRES_PASSWORD=[REDACTED] postgres:16")
	assert.NotContains(t, printed, "secret")
}

func TestCLI_CommandErrorRedactsSecrets(t *testing.T) {
	proc := &process.MockManager{
		RunInDirFunc: func(ctx context.Context, dir string, env []string, name string, args ...string) (string, string, int, error) {
			return "", "port is already allocated", 125, errors.New("exit status 125")
		},
	}

	err := NewCLI(Docker, proc).Run(context.Background(), RunSpec{
		Name:  "acme-minio",
		Env:   map[string]string{"MINIO_ROOT_PASSWORD": "hunter22"},
		Image: "minio/minio",
	})

	require.Error(t, err)
	assert.NotContains(t, err.Error(), "hunter22")
	assert.Contains(t, err.Error(), "port is already allocated")
	assert.Contains(t, err.Error(), "(exit 125)")
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "plain", shellQuote("plain"))
	assert.Equal(t, "''", shellQuote(""))
	assert.Equal(t, "'{{.State.Status}}'", shellQuote("{{.State.Status}}"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
}

// =============================================================================
// Detection and Version Tests
// =============================================================================

func TestDetect(t *testing.T) {
	onlyPodman := &process.MockManager{
		LookPathFunc: func(name string) (string, error) {
			if name == Podman {
				return "/usr/bin/podman", nil
			}
			return "", exec.ErrNotFound
		},
	}

	bin, err := Detect(onlyPodman, "")
	require.NoError(t, err)
	assert.Equal(t, Podman, bin)

	_, err = Detect(onlyPodman, Docker)
	assert.Error(t, err)

	_, err = Detect(onlyPodman, "nerdctl")
	assert.Error(t, err)
}

func TestNormalizeVersion(t *testing.T) {
	assert.Equal(t, "v24.0.7", NormalizeVersion("24.0.7"))
	assert.Equal(t, "v4.9.4-rhel", NormalizeVersion("4.9.4-rhel"))
	assert.Equal(t, "v20.10.24", NormalizeVersion("20.10.24+dfsg1"))
	assert.Equal(t, "v19.3.1", NormalizeVersion("19.03.1"))
	assert.Equal(t, "v18.9.0", NormalizeVersion("18.09.0"))
	assert.Equal(t, "v18.9.7-ce", NormalizeVersion("18.09.7-ce"))
	assert.Equal(t, "", NormalizeVersion("dev"))
}

func TestCheckVersion(t *testing.T) {
	tooOld := scripted(map[string]resp{"version": {stdout: "19.03.1\n"}})
	_, err := CheckVersion(context.Background(), NewCLI(Docker, tooOld))
	assert.Error(t, err)

	fine := scripted(map[string]resp{"version": {stdout: "4.9.4\n"}})
	v, err := CheckVersion(context.Background(), NewCLI(Podman, fine))
	require.NoError(t, err)
	assert.Equal(t, "4.9.4", v)

	padded := scripted(map[string]resp{"version": {stdout: "18.09.7\n"}})
	_, err = CheckVersion(context.Background(), NewCLI(Docker, padded))
	assert.ErrorContains(t, err, "older than the supported minimum")

	weird := scripted(map[string]resp{"version": {stdout: "master-dev\n"}})
	_, err = CheckVersion(context.Background(), NewCLI(Docker, weird))
	assert.NoError(t, err)
}
