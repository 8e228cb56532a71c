// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package supervisor

import (
	"errors"

	"golang.org/x/sys/unix"
)

type systemReaper struct{}

func (systemReaper) Available() bool { return true }

func (systemReaper) Reap(pid int) error {
	var status unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &status, unix.WNOHANG, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.ENOSYS) {
			return ErrReapUnsupported
		}
		return err
	}
}
