// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"context"

	"github.com/sourcegraph/conc/pool"
	"golang.org/x/sync/errgroup"

	"github.com/jinterlante1206/helm/cmd/helm/internal/service"
)

// clampParallel bounds a requested pool size to [1, MaxParallel].
func clampParallel(n int) int {
	switch {
	case n <= 0:
		return DefaultParallel
	case n > MaxParallel:
		return MaxParallel
	default:
		return n
	}
}

// runWave runs fn for every service in wave with at most parallel in flight
// and returns once all have finished.
//
// # Description
//
// With failFast the first error cancels the context handed to the other
// calls and is the one returned. Otherwise every call runs to completion on
// the caller's context and all errors are joined.
func runWave(ctx context.Context, wave []*service.Descriptor, parallel int, failFast bool, fn func(context.Context, *service.Descriptor) error) error {
	parallel = clampParallel(parallel)

	if failFast {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallel)
		for _, svc := range wave {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return fn(gctx, svc)
			})
		}
		return g.Wait()
	}

	p := pool.New().WithErrors().WithMaxGoroutines(parallel)
	for _, svc := range wave {
		p.Go(func() error {
			return fn(ctx, svc)
		})
	}
	return p.Wait()
}
