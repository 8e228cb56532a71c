// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the HTTP server lifecycle for vepwrap.
//
// [HTTPServer] binds a TCP listener, signals readiness, serves until
// its context is cancelled, and drains in-flight requests within a
// shutdown timeout. Responses stream for as long as the annotation tool
// runs, so the server sets no write timeout; request deadlines are
// enforced by the tool runner instead. Optional gzip compression is
// flush-aware, so streamed array elements still reach the client as
// they are produced.
package service
