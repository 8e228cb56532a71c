// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

// Package toolrun runs one invocation of the annotation tool under a
// deadline and streams its output.
//
// [Runner.Run] launches the tool through the supervisor, relays stdout
// through a [linestream.LineBuffer] to the caller's line sink and
// stderr to the log, and waits for exit in short polls against the
// deadline. On timeout the process is destroyed, both relays are
// stopped with a grace period, and any half-written line is purged.
// [Runner.RunJSON] additionally closes a [linestream.JSONList] so that a
// truncated run still yields a valid array.
package toolrun
