// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"strconv"
	"time"

	"github.com/genome-nexus/vepwrap/lib/procsurvey"
)

// Killer forcibly terminates processes the supervisor did not launch.
type Killer interface {
	// Available reports whether Kill can work on this host.
	Available(ctx context.Context) bool

	// Kill forcibly terminates pid.
	Kill(ctx context.Context, pid int) error
}

var (
	defaultKillCommand = []string{"kill", "-9"}
	defaultKillProbe   = []string{"kill", "-l"}
	defaultKillTimeout = 4096 * time.Millisecond
)

// CommandKiller runs the system kill command. Orphans are killed
// through the command rather than a direct signal so that the
// availability probe and the kill itself go through the same tool.
type CommandKiller struct {
	command []string
	probe   []string
	exec    procsurvey.ExecFunc
	timeout time.Duration
}

// KillerOption configures a CommandKiller.
type KillerOption func(*CommandKiller)

// WithKillCommand replaces the kill command. The target pid is
// appended as the final argument.
func WithKillCommand(argv ...string) KillerOption {
	return func(k *CommandKiller) { k.command = argv }
}

// WithKillProbe replaces the command run by Available.
func WithKillProbe(argv ...string) KillerOption {
	return func(k *CommandKiller) { k.probe = argv }
}

// WithKillExec replaces the function used to run commands.
func WithKillExec(fn procsurvey.ExecFunc) KillerOption {
	return func(k *CommandKiller) { k.exec = fn }
}

// NewCommandKiller returns a Killer running "kill -9 <pid>" and probing
// with "kill -l".
func NewCommandKiller(opts ...KillerOption) *CommandKiller {
	k := &CommandKiller{
		command: defaultKillCommand,
		probe:   defaultKillProbe,
		exec:    procsurvey.RunCommand,
		timeout: defaultKillTimeout,
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Available implements Killer.
func (k *CommandKiller) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	_, err := k.exec(ctx, k.probe)
	return err == nil
}

// Kill implements Killer.
func (k *CommandKiller) Kill(ctx context.Context, pid int) error {
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	argv := append(append([]string(nil), k.command...), strconv.Itoa(pid))
	_, err := k.exec(ctx, argv)
	return err
}
