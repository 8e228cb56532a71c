// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies I/O errors seen while streaming tool
// output to HTTP clients.
//
// A client that disconnects mid-response makes the next write fail
// with a broken pipe or connection reset. That is a normal end of the
// request, not a server fault, and [IsExpectedCloseError] lets callers
// log it quietly.
package netutil
