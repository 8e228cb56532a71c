// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

// Package procsurvey takes a snapshot of every process on the host by
// running the system inventory command (`ps axo pid,ppid,state,comm`)
// in a child process and parsing its output into [Item] records.
//
// Rows that are not process rows (the header, blank lines, truncated or
// malformed output) are skipped silently; only a failure of the command
// itself is an error, reported as [ErrInventoryUnavailable]. Items are
// immutable snapshots: the supervisor takes a fresh survey on every
// reclamation pass and discards it afterwards.
package procsurvey
