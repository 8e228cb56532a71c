// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

// Package linestream moves a subprocess's line-oriented output to an
// HTTP response (or a log) without ever emitting half a line.
//
// The pieces compose as io.Writers:
//
//	stdout pipe ──Relay──▶ LineBuffer ──▶ JSONList ──▶ http.ResponseWriter
//	stderr pipe ──Relay──▶ LogWriter  ──▶ *slog.Logger
//
// [LineBuffer] forwards only newline-terminated lines and holds back
// any trailing fragment; [LineBuffer.Purge] drops that fragment when
// the producer is killed mid-record. [JSONList] turns one JSON value
// per line into a single JSON array and can be closed independently of
// the transport, so a truncated run still yields a well-formed array.
// [Relay] is the copy loop that drains a pipe on its own goroutine with
// a cooperative stop signal and a forced interrupt.
package linestream
