// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package supervisor

import "errors"

// BecomeSubreaper is only supported on Linux.
func BecomeSubreaper() error {
	return errors.New("child subreaper is only supported on linux")
}
