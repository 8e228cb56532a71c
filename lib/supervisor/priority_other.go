// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package supervisor

import "log/slog"

func lowerPriority(*slog.Logger) {}
