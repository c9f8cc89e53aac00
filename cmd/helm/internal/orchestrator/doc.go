// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator brings a selected set of services up and down.
//
// # Up
//
//  1. Read the ports published by selected containers that already exist.
//     Unpinned fields keep those ports unless Force is set.
//  2. Plan ports for selected services that are not pinned in config,
//     sequentially, against one used-port set seeded with every binding
//     that is not being reassigned. An existing container whose published
//     ports differ from the plan is recreated.
//  3. Infer connection variables from the final bindings.
//  4. Start wave 1 (every non-app service) and then wave 2 (app services).
//     Each service is started and, when requested, waited on for health
//     inside its wave, so apps only boot once their backends answer.
//  5. Run post_up hooks for the selection.
//  6. Write changed bindings back to helm.toml, and the inferred variables
//     to the dotenv file, in one batch under the workspace lock.
//
// # Down
//
// pre_down hooks, app containers, backend containers, optional volumes,
// then post_down hooks.
//
// All dependencies arrive through a Context built once per command, so
// tests substitute an engine.Mock and a temp-dir scheduler without global
// state.
package orchestrator
