// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package toolrun

import (
	"errors"
	"fmt"
)

// ErrAbnormalExit matches every *ExitError.
var ErrAbnormalExit = errors.New("annotation tool exited abnormally")

// ExitError reports a tool run that finished with a non-zero status.
type ExitError struct {
	// Name is the launched tool's name.
	Name string

	// ExitCode is the exit status, or 128+signal.
	ExitCode int

	// Diagnostics holds the last lines the tool wrote to stderr.
	Diagnostics string
}

func (e *ExitError) Error() string {
	if e.Diagnostics == "" {
		return fmt.Sprintf("%s exited with status %d", e.Name, e.ExitCode)
	}
	return fmt.Sprintf("%s exited with status %d: %s", e.Name, e.ExitCode, e.Diagnostics)
}

// Is makes errors.Is(err, ErrAbnormalExit) true for any ExitError.
func (e *ExitError) Is(target error) bool {
	return target == ErrAbnormalExit
}
