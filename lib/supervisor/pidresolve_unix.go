// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package supervisor

const nativePIDSupported = true

func nativePID(process *Process) (int, bool) {
	pid := process.pid()
	return pid, pid > 0
}
