// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package supervisor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// BecomeSubreaper marks this process as a child subreaper, so orphaned
// descendants are reparented to it instead of to init. Without it the
// reclamation loop only sees descendants when this process is pid 1.
func BecomeSubreaper() error {
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_CHILD_SUBREAPER): %w", err)
	}
	return nil
}
