// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package procsurvey

import "fmt"

// Item is one row of a process survey.
type Item struct {
	PID       int
	ParentPID int

	// State is the single-character process state code reported by ps
	// ('R' running, 'S' interruptible sleep, 'Z' zombie, ...).
	State byte

	// Command is the executable name (ps "comm"), not the full argv.
	Command string
}

// IsZombie reports whether the process has exited but has not yet been
// waited on by its parent.
func (i Item) IsZombie() bool {
	return i.State == 'Z' || i.State == 'z'
}

// IsSleeping reports whether the process is in interruptible sleep.
func (i Item) IsSleeping() bool {
	return i.State == 'S' || i.State == 's'
}

func (i Item) String() string {
	return fmt.Sprintf("pid=%d ppid=%d state=%c comm=%s", i.PID, i.ParentPID, i.State, i.Command)
}
