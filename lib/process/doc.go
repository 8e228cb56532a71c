// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides the binary entrypoint error handler used
// before the structured logger exists (or after it is gone).
package process
