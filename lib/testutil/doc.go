// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive], [RequireClosed], and [RequireValue] wrap the
// select-with-timeout pattern so individual tests never call time.After
// themselves. They are the only wall-clock timeouts in the test suite;
// everything else runs on a fake clock.
//
// [ShellTool] writes an executable shell script into a test temporary
// directory and returns its path, for end-to-end tests that need a
// stand-in for the annotation tool.
//
// All helpers call t.Fatalf on failure rather than returning errors.
package testutil
