// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package procsurvey

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// ErrInventoryUnavailable is returned when the inventory command cannot
// be run or exits unsuccessfully.
var ErrInventoryUnavailable = errors.New("process inventory unavailable")

// DefaultCommand lists every process with exactly the four columns
// ParseLine expects.
var DefaultCommand = []string{"ps", "axo", "pid,ppid,state,comm"}

// DefaultTimeout bounds a single inventory run.
const DefaultTimeout = 4096 * time.Millisecond

// ExecFunc runs argv to completion and returns its standard output. A
// non-nil error means the command could not run or exited non-zero.
type ExecFunc func(ctx context.Context, argv []string) ([]byte, error)

// Surveyor runs the inventory command and parses its output. The zero
// value is not usable; construct with New.
type Surveyor struct {
	command []string
	exec    ExecFunc
	timeout time.Duration
}

// Option configures a Surveyor.
type Option func(*Surveyor)

// WithCommand replaces the inventory command. The command must print
// pid, ppid, state, and command columns in that order.
func WithCommand(argv ...string) Option {
	return func(s *Surveyor) {
		s.command = argv
	}
}

// WithExec replaces the function used to run the inventory command.
// Tests use this to feed canned ps output.
func WithExec(fn ExecFunc) Option {
	return func(s *Surveyor) {
		s.exec = fn
	}
}

// WithTimeout bounds each inventory run.
func WithTimeout(d time.Duration) Option {
	return func(s *Surveyor) {
		s.timeout = d
	}
}

// New returns a Surveyor using DefaultCommand.
func New(opts ...Option) *Surveyor {
	s := &Surveyor{
		command: DefaultCommand,
		exec:    RunCommand,
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Survey runs the inventory command once and returns a snapshot of
// every process row it printed.
func (s *Surveyor) Survey(ctx context.Context) ([]Item, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	output, err := s.exec(ctx, s.command)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
	}
	return Parse(output), nil
}

// Available reports whether the inventory command can be run on this
// host. It runs the bare command name (plain `ps`, which exits 0 on
// every POSIX system that has it).
func (s *Surveyor) Available(ctx context.Context) bool {
	if len(s.command) == 0 {
		return false
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	_, err := s.exec(ctx, s.command[:1])
	return err == nil
}

// RunCommand is the default ExecFunc: it runs argv with stderr
// discarded and returns stdout.
func RunCommand(ctx context.Context, argv []string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stderr = io.Discard
	return cmd.Output()
}
