// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package supervisor

import (
	"log/slog"
	"runtime"

	"golang.org/x/sys/unix"
)

// lowestNiceness is the weakest scheduling priority on Linux.
const lowestNiceness = 19

// lowerPriority pins the calling goroutine to its OS thread and drops
// that thread to the lowest scheduling priority. On Linux the nice
// value of PRIO_PROCESS with who=0 applies to the calling thread only.
// The goroutine never unlocks, so the thread exits with it.
func lowerPriority(logger *slog.Logger) {
	runtime.LockOSThread()
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, lowestNiceness); err != nil {
		logger.Debug("cannot lower reclaimer priority", "error", err)
	}
}
