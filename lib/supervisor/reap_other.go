// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package supervisor

type systemReaper struct{}

func (systemReaper) Available() bool { return false }

func (systemReaper) Reap(int) error { return ErrReapUnsupported }
