// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package resilience provides recovery and rollback patterns.
//
// # Components
//
//   - Saga: records compensations as work completes and runs them in
//     reverse order when the overall operation fails
//   - BackupManager: copies a file aside before it is rewritten
//
// # Example - Saga
//
//	saga := resilience.NewSaga(resilience.DefaultSagaConfig())
//	// after each container this run created:
//	saga.Record(resilience.Step{
//	    Name:       "shop-postgres",
//	    Compensate: func(ctx context.Context) error { return driver.Remove(ctx, svc, false) },
//	})
//	if err != nil {
//	    result := saga.Compensate(ctx)
//	}
//
// # Example - Backup Management
//
//	mgr := resilience.NewBackupManager(fs, resilience.DefaultBackupConfig())
//	backupPath, err := mgr.BackupBeforeOverwrite("helm.toml")
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package resilience
