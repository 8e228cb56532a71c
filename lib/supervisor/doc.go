// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor launches the annotation tool's processes, tracks
// them until they exit or are destroyed, and reclaims the descendants
// they leave behind.
//
// The annotation tool forks worker children. Killing the top-level
// process does not kill those workers; in a container without an init
// process they are reparented to this process (see [BecomeSubreaper])
// and nothing else will ever wait for them. A background reclamation
// loop handles them. On each pass, under the same lock that serializes
// [Supervisor.Launch] and [Supervisor.Destroy], it:
//
//  1. drops tracked processes that exited on their own,
//  2. surveys the process table and reaps zombie children of this
//     process (excluding tracked ones, which os/exec waits for),
//  3. resolves the pid of every tracked process, abandoning the pass if
//     any is not yet known,
//  4. kills sleeping children of this process that run the tool's
//     interpreter and are not tracked.
//
// Each host capability the pass depends on (the inventory command, the
// kill command, the reap primitive, and pid resolution) is probed once
// and memoized. A missing capability degrades the supervisor to "track
// and destroy only" for the rest of the process lifetime.
package supervisor
