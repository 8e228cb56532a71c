// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the time operations used by the supervisor's
// reclamation loop and the tool runner's deadline polling.
//
// Production code holds a [Clock] field set to [Real]. Tests construct
// a [FakeClock] with [Fake] and move time forward explicitly:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	sup := supervisor.New(supervisor.Config{Clock: fake, ...})
//	fake.WaitForTimers(1)          // reclaimer registered its ticker
//	fake.Advance(2 * time.Second)  // run exactly one reclamation pass
//
// WaitForTimers closes the race between a goroutine registering a timer
// and the test advancing past it.
package clock
