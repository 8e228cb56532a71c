// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package supervisor

const nativePIDSupported = false

func nativePID(*Process) (int, bool) {
	return 0, false
}
