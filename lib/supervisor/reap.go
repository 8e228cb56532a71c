// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import "errors"

// ErrReapUnsupported is returned by the reap primitive on platforms
// without one.
var ErrReapUnsupported = errors.New("reaping arbitrary children is not supported on this platform")

// Reaper collects the exit status of a zombie child that no one else is
// waiting for.
type Reaper interface {
	// Available reports whether Reap can work on this platform.
	Available() bool

	// Reap collects pid's exit status without blocking.
	Reap(pid int) error
}

// SystemReaper returns the platform's reap primitive.
func SystemReaper() Reaper {
	return systemReaper{}
}
