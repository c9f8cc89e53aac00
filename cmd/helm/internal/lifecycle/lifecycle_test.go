// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lifecycle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinterlante1206/helm/cmd/helm/internal/drivers"
	"github.com/jinterlante1206/helm/cmd/helm/internal/infra/engine"
	"github.com/jinterlante1206/helm/cmd/helm/internal/scheduler"
	"github.com/jinterlante1206/helm/cmd/helm/internal/service"
	"github.com/jinterlante1206/helm/cmd/helm/internal/util"
)

func newTestDriver(t *testing.T, eng engine.Engine) (*Driver, *scheduler.FileLocker) {
	t.Helper()
	locker := scheduler.NewFileLocker(t.TempDir(), scheduler.WithPollInterval(time.Millisecond))
	sched := scheduler.New(locker, scheduler.DefaultPolicy(), scheduler.WithBackoff(time.Millisecond))
	return New(eng, sched, drivers.Default(), WithWorkspace("/work/shop")), locker
}

func postgres() *service.Descriptor {
	return &service.Descriptor{
		Name:      "postgres",
		Kind:      service.KindDatabase,
		Driver:    "postgres",
		Host:      "127.0.0.1",
		Port:      25432,
		Container: "shop-postgres",
	}
}

func TestEnsureRunning_CreatesAbsentContainer(t *testing.T) {
	eng := engine.NewMock()
	d, _ := newTestDriver(t, eng)

	action, err := d.EnsureRunning(context.Background(), postgres(), EnsureOptions{PullPolicy: service.PullMissing})
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, action)
	assert.True(t, action.Created())

	assert.Equal(t, []string{
		"inspect shop-postgres",
		"image-inspect postgres:16-alpine",
		"pull postgres:16-alpine",
		"run shop-postgres",
	}, eng.Calls())

	runs := eng.Runs()
	require.Len(t, runs, 1)
	spec := runs[0]
	assert.Equal(t, []engine.PortMapping{{Host: "127.0.0.1", HostPort: 25432, ContainerPort: 5432}}, spec.Publish)
	assert.Equal(t, []string{"shop-postgres-data:/var/lib/postgresql/data"}, spec.Volumes)
	assert.Equal(t, "postgres:16-alpine", spec.Image)
	assert.Equal(t, "true", spec.Labels[engine.LabelManaged])
	assert.Equal(t, "postgres", spec.Labels[engine.LabelService])
	assert.Equal(t, "/work/shop", spec.Labels[engine.LabelWorkspace])
	assert.Equal(t, drivers.DefaultPassword, spec.Env["POSTGRES_PASSWORD"])
}

func TestEnsureRunning_IdempotentWhenRunning(t *testing.T) {
	eng := engine.NewMock()
	d, _ := newTestDriver(t, eng)
	svc := postgres()

	_, err := d.EnsureRunning(context.Background(), svc, EnsureOptions{})
	require.NoError(t, err)
	before := len(eng.CallsWithPrefix("run "))

	action, err := d.EnsureRunning(context.Background(), svc, EnsureOptions{})
	require.NoError(t, err)
	assert.Equal(t, ActionReused, action)
	assert.Equal(t, before, len(eng.CallsWithPrefix("run ")))
	assert.Equal(t, "inspect shop-postgres", eng.Calls()[len(eng.Calls())-1])
}

func TestEnsureRunning_StartsStoppedContainer(t *testing.T) {
	for _, state := range []engine.State{engine.StateExited, engine.StateCreated} {
		t.Run(string(state), func(t *testing.T) {
			eng := engine.NewMock()
			eng.SetState("shop-postgres", state)
			d, _ := newTestDriver(t, eng)

			action, err := d.EnsureRunning(context.Background(), postgres(), EnsureOptions{})
			require.NoError(t, err)
			assert.Equal(t, ActionStarted, action)
			assert.Equal(t, []string{"inspect shop-postgres", "start shop-postgres"}, eng.Calls())
		})
	}
}

func TestEnsureRunning_RemovesUnusableContainer(t *testing.T) {
	eng := engine.NewMock()
	eng.SetState("shop-postgres", engine.StateDead)
	eng.AddImage("postgres:16-alpine")
	d, _ := newTestDriver(t, eng)

	action, err := d.EnsureRunning(context.Background(), postgres(), EnsureOptions{})
	require.NoError(t, err)
	assert.Equal(t, ActionRecreated, action)
	assert.Equal(t, []string{
		"inspect shop-postgres",
		"rm shop-postgres",
		"image-inspect postgres:16-alpine",
		"run shop-postgres",
	}, eng.Calls())
}

func TestEnsureRunning_RecreateForcesRemoval(t *testing.T) {
	eng := engine.NewMock()
	eng.SetState("shop-postgres", engine.StateRunning)
	d, _ := newTestDriver(t, eng)

	action, err := d.EnsureRunning(context.Background(), postgres(), EnsureOptions{Recreate: true, PullPolicy: service.PullNever})
	require.NoError(t, err)
	assert.Equal(t, ActionRecreated, action)
	assert.Equal(t, []string{"rm shop-postgres", "run shop-postgres"}, eng.Calls())

	runs := eng.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, []string{"shop-postgres-data:/var/lib/postgresql/data"}, runs[0].Volumes, "default volume name survives recreation")
}

func TestEnsureRunning_PullPolicies(t *testing.T) {
	t.Run("always pulls even when present", func(t *testing.T) {
		eng := engine.NewMock()
		eng.AddImage("postgres:16-alpine")
		d, _ := newTestDriver(t, eng)
		_, err := d.EnsureRunning(context.Background(), postgres(), EnsureOptions{PullPolicy: service.PullAlways})
		require.NoError(t, err)
		assert.Len(t, eng.CallsWithPrefix("pull "), 1)
		assert.Empty(t, eng.CallsWithPrefix("image-inspect "))
	})

	t.Run("missing skips present image", func(t *testing.T) {
		eng := engine.NewMock()
		eng.AddImage("postgres:16-alpine")
		d, _ := newTestDriver(t, eng)
		_, err := d.EnsureRunning(context.Background(), postgres(), EnsureOptions{PullPolicy: service.PullMissing})
		require.NoError(t, err)
		assert.Empty(t, eng.CallsWithPrefix("pull "))
	})

	t.Run("never does not inspect or pull", func(t *testing.T) {
		eng := engine.NewMock()
		d, _ := newTestDriver(t, eng)
		_, err := d.EnsureRunning(context.Background(), postgres(), EnsureOptions{PullPolicy: service.PullNever})
		require.NoError(t, err)
		assert.Empty(t, eng.CallsWithPrefix("pull "))
		assert.Empty(t, eng.CallsWithPrefix("image-inspect "))
	})
}

func TestEnsureRunning_RunFailureSurfacesCommandError(t *testing.T) {
	eng := engine.NewMock()
	eng.RunFunc = func(ctx context.Context, spec engine.RunSpec) error {
		return util.NewCommandError("docker run --name shop-postgres", 125, "port is already allocated", nil)
	}
	d, _ := newTestDriver(t, eng)

	_, err := d.EnsureRunning(context.Background(), postgres(), EnsureOptions{PullPolicy: service.PullNever})
	require.Error(t, err)
	var cmdErr *util.CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, "port is already allocated", cmdErr.Stderr)
}

func TestEnsureRunning_ReleasesSlotAfterRun(t *testing.T) {
	eng := engine.NewMock()
	d, locker := newTestDriver(t, eng)

	var observed []string
	eng.RunFunc = func(ctx context.Context, spec engine.RunSpec) error {
		entries, _ := os.ReadDir(locker.ClassDir(scheduler.ClassHeavy))
		for _, e := range entries {
			observed = append(observed, e.Name())
		}
		return nil
	}

	_, err := d.EnsureRunning(context.Background(), postgres(), EnsureOptions{PullPolicy: service.PullNever})
	require.NoError(t, err)
	assert.Equal(t, []string{"slot-0.lock"}, observed, "run holds a heavy slot")

	entries, err := os.ReadDir(locker.ClassDir(scheduler.ClassHeavy))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEnsureRunning_SecondaryPortAndCommand(t *testing.T) {
	eng := engine.NewMock()
	d, _ := newTestDriver(t, eng)
	svc := &service.Descriptor{
		Name: "mail", Kind: service.KindMail, Driver: "mailpit",
		Port: 28025, SecondaryPort: 21025, Container: "shop-mail",
		Command: []string{"--smtp-auth-accept-any"},
	}

	_, err := d.EnsureRunning(context.Background(), svc, EnsureOptions{PullPolicy: service.PullNever})
	require.NoError(t, err)

	spec := eng.Runs()[0]
	assert.Equal(t, []engine.PortMapping{
		{HostPort: 28025, ContainerPort: 8025},
		{HostPort: 21025, ContainerPort: 1025},
	}, spec.Publish)
	assert.Equal(t, []string{"--smtp-auth-accept-any"}, spec.Command)
}

func TestEnsureRunning_ExplicitVolumesReplaceDefault(t *testing.T) {
	eng := engine.NewMock()
	d, _ := newTestDriver(t, eng)
	svc := postgres()
	svc.Volumes = []string{"./pgdata:/var/lib/postgresql/data"}

	_, err := d.EnsureRunning(context.Background(), svc, EnsureOptions{PullPolicy: service.PullNever})
	require.NoError(t, err)
	assert.Equal(t, []string{"./pgdata:/var/lib/postgresql/data"}, eng.Runs()[0].Volumes)
}

func TestEnsureRunning_InjectedEnvAndDowngradeProtection(t *testing.T) {
	eng := engine.NewMock()
	d, _ := newTestDriver(t, eng)
	svc := &service.Descriptor{
		Name: "app", Kind: service.KindApp, Driver: "frankenphp", Port: 28080, Container: "shop-app",
		Env: map[string]string{"DB_SSLMODE": "disable", "APP_DEBUG": "true"},
	}

	_, err := d.EnsureRunning(context.Background(), svc, EnsureOptions{
		PullPolicy: service.PullNever,
		Env:        map[string]string{"DB_PORT": "25432", "DB_SSLMODE": "require"},
	})
	require.NoError(t, err)

	env := eng.Runs()[0].Env
	assert.Equal(t, "25432", env["DB_PORT"])
	assert.Equal(t, "require", env["DB_SSLMODE"])
	assert.Equal(t, "true", env["APP_DEBUG"])
}

func TestEnsureRunning_BuildsInsteadOfPulling(t *testing.T) {
	eng := engine.NewMock()
	d, _ := newTestDriver(t, eng)
	svc := &service.Descriptor{
		Name: "app", Kind: service.KindApp, Driver: "generic", Image: "shop-app:dev",
		Port: 28080, Container: "shop-app",
		Build: &service.Build{Context: "docker/app"},
	}

	_, err := d.EnsureRunning(context.Background(), svc, EnsureOptions{PullPolicy: service.PullAlways})
	require.NoError(t, err)
	assert.Equal(t, []string{"inspect shop-app", "build shop-app:dev", "run shop-app"}, eng.Calls())
}

func TestEnsureRunning_MissingImage(t *testing.T) {
	eng := engine.NewMock()
	d, _ := newTestDriver(t, eng)
	svc := &service.Descriptor{Name: "app", Kind: service.KindApp, Driver: "generic", Container: "shop-app"}

	_, err := d.EnsureRunning(context.Background(), svc, EnsureOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, util.ErrInvalidConfig))
}

func TestEnsureRunning_ConcurrentPullsDeduplicated(t *testing.T) {
	eng := engine.NewMock()
	release := make(chan struct{})
	var once sync.Once
	started := make(chan struct{})
	eng.PullFunc = func(ctx context.Context, image string) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}
	d, _ := newTestDriver(t, eng)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, name := range []string{"a", "b"} {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			svc := postgres()
			svc.Name, svc.Container = name, "shop-"+name
			_, errs[i] = d.EnsureRunning(context.Background(), svc, EnsureOptions{PullPolicy: service.PullAlways})
		}(i, name)
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Len(t, eng.CallsWithPrefix("pull "), 1)
}

func TestRemove(t *testing.T) {
	eng := engine.NewMock()
	eng.SetState("shop-postgres", engine.StateRunning)
	d, _ := newTestDriver(t, eng)

	require.NoError(t, d.Remove(context.Background(), postgres(), false))
	assert.Equal(t, []string{"rm shop-postgres"}, eng.Calls())

	require.NoError(t, d.Remove(context.Background(), postgres(), true))
	assert.Equal(t, []string{"rm shop-postgres", "rm shop-postgres", "volume-rm shop-postgres-data"}, eng.Calls())
}

func TestBuildContextResolvedAgainstWorkspace(t *testing.T) {
	eng := &buildRecorder{Mock: engine.NewMock()}
	locker := scheduler.NewFileLocker(t.TempDir())
	sched := scheduler.New(locker, scheduler.DefaultPolicy())
	d := New(eng, sched, drivers.Default(), WithWorkspace("/work/shop"))

	svc := &service.Descriptor{Name: "app", Driver: "generic", Image: "x:dev", Container: "c", Build: &service.Build{Context: "app", Dockerfile: "Dockerfile.dev"}}
	_, err := d.EnsureRunning(context.Background(), svc, EnsureOptions{})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/work/shop", "app"), eng.spec.Context)
	assert.Equal(t, "Dockerfile.dev", eng.spec.Dockerfile)
}

type buildRecorder struct {
	*engine.Mock
	spec engine.BuildSpec
}

func (b *buildRecorder) Build(ctx context.Context, spec engine.BuildSpec) error {
	b.spec = spec
	return b.Mock.Build(ctx, spec)
}
