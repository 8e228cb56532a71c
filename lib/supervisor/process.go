// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// Process is a launched process owned by a Supervisor. It is safe for
// concurrent use.
type Process struct {
	// ID is a unique identifier assigned at launch, used in logs.
	ID string

	// Name is the LaunchSpec name, or the executable base name.
	Name string

	// Stdout is the read end of the process's standard output when
	// LaunchSpec.Stdout is RedirectPipe, nil otherwise. The caller owns
	// it and must close it.
	Stdout *os.File

	// Stderr is the read end of the process's standard error when
	// LaunchSpec.Stderr is RedirectPipe, nil otherwise. The caller owns
	// it and must close it.
	Stderr *os.File

	// Started is when the process was started.
	Started time.Time

	cmd  *exec.Cmd
	done chan struct{}

	// exitCode is -1 until the process exits. A process killed by a
	// signal reports 128+signal.
	exitCode atomic.Int32
	signaled atomic.Bool

	mu      sync.Mutex
	waitErr error
}

func newProcess(id, name string, cmd *exec.Cmd) *Process {
	process := &Process{
		ID:   id,
		Name: name,
		cmd:  cmd,
		done: make(chan struct{}),
	}
	process.exitCode.Store(-1)
	return process
}

// String describes the process as "process[id=..., name=..., pid=N]".
// The pid field reads "unassigned" before the OS has assigned one.
func (p *Process) String() string {
	pid := "unassigned"
	if raw := p.pid(); raw > 0 {
		pid = strconv.Itoa(raw)
	}
	return fmt.Sprintf("process[id=%s, name=%s, pid=%s]", p.ID, p.Name, pid)
}

// pid returns the OS pid, or 0 if the process has not been started.
func (p *Process) pid() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and been waited for.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// ExitCode returns the exit status, 128+signal for a process killed by
// a signal, or -1 if the process has not exited.
func (p *Process) ExitCode() int {
	return int(p.exitCode.Load())
}

// Signaled reports whether the process was terminated by a signal.
func (p *Process) Signaled() bool {
	return p.signaled.Load()
}

// WaitError returns the error from waiting on the process, if any. An
// unsuccessful exit status is an *exec.ExitError.
func (p *Process) WaitError() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitErr
}

// Wait blocks until the process exits or ctx is done.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// kill sends SIGKILL. Killing a process that already exited is not an
// error.
func (p *Process) kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	return nil
}

// waitLoop waits for the process and records how it exited.
func (p *Process) waitLoop() {
	err := p.cmd.Wait()

	exitCode := 0
	if err != nil {
		exitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				exitCode = 128 + int(status.Signal())
				p.signaled.Store(true)
			}
		}
	}

	p.mu.Lock()
	p.waitErr = err
	p.mu.Unlock()

	p.exitCode.Store(int32(exitCode))
	close(p.done)
}

// closePipes closes the parent's read ends. Used when a launch fails
// after the pipes were created.
func (p *Process) closePipes() {
	if p.Stdout != nil {
		p.Stdout.Close()
	}
	if p.Stderr != nil {
		p.Stderr.Close()
	}
}
