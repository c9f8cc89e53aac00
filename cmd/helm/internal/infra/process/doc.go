// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package process abstracts external process execution for helm.

Every docker/podman invocation and every host-side hook script goes through
Manager, so unit tests can substitute MockManager and never spawn real
processes.

# Synchronous Commands

Run and RunInDir capture stdout and stderr separately and report the exit
code. A non-zero exit is returned as an *exec.ExitError alongside the exit
code; callers turn that into a util.CommandError with the captured stderr.

# Background Processes

Start launches a process in its own process group and returns a Process
handle. The handle supports a non-blocking Exited poll and Kill, which
signals the whole group so child processes spawned by a hook script do not
outlive it.

# Workspace Lock

WorkspaceLock is an flock(2)-based advisory lock on a file in the
workspace. helm holds it while rewriting the project config and .env, so two
concurrent `helm up` invocations in one checkout never interleave writes.
*/
package process
