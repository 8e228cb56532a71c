// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/genome-nexus/vepwrap/lib/clock"
	"github.com/genome-nexus/vepwrap/lib/procsurvey"
)

var (
	// ErrLaunchFailed wraps every failure to start a process. Callers
	// treat it as "could not service the request".
	ErrLaunchFailed = errors.New("process launch failed")

	// ErrSupervisorClosed is returned by Launch after Shutdown.
	ErrSupervisorClosed = errors.New("supervisor is shut down")
)

// Defaults for Config fields left zero.
const (
	DefaultReclaimInterval = 2 * time.Second
	DefaultPIDProbeWait    = 250 * time.Millisecond
	DefaultDestroyWait     = 10 * time.Second
	DefaultInterpreterName = "perl"
)

// Surveyor lists the host's processes.
type Surveyor interface {
	Available(ctx context.Context) bool
	Survey(ctx context.Context) ([]procsurvey.Item, error)
}

// Config holds the supervisor's collaborators and tuning. Zero fields
// take the documented defaults.
type Config struct {
	// Logger receives lifecycle and reclamation messages. Defaults to
	// slog.Default().
	Logger *slog.Logger

	// Clock drives the reclamation period and pid probe waits.
	// Defaults to clock.Real().
	Clock clock.Clock

	// Surveyor lists processes. Defaults to procsurvey.New().
	Surveyor Surveyor

	// Killer kills orphans. Defaults to NewCommandKiller().
	Killer Killer

	// Reaper collects zombie children. Defaults to SystemReaper().
	Reaper Reaper

	// Resolver reads pids of tracked processes. Defaults to
	// DefaultPIDResolver().
	Resolver *PIDResolver

	// SelfPID is the pid whose children are reclaimed. Defaults to
	// os.Getpid().
	SelfPID int

	// InterpreterName is matched against the command column of
	// sleeping children to recognize orphaned tool workers.
	InterpreterName string

	// ReclaimInterval is the period of the reclamation loop.
	ReclaimInterval time.Duration

	// PIDProbeWait is how long a pass waits before retrying a tracked
	// process whose pid is not assigned yet.
	PIDProbeWait time.Duration

	// DestroyWait bounds how long Destroy waits for a killed process
	// to exit.
	DestroyWait time.Duration

	// AfterPass, if set, is called with the report of every
	// reclamation pass run by the background loop, outside the lock.
	AfterPass func(PassReport)
}

// Supervisor launches processes, tracks them, and runs the reclamation
// loop. Construct with New; the zero value is not usable.
type Supervisor struct {
	logger          *slog.Logger
	clock           clock.Clock
	surveyor        Surveyor
	killer          Killer
	reaper          Reaper
	resolver        *PIDResolver
	selfPID         int
	interpreterName string
	reclaimInterval time.Duration
	pidProbeWait    time.Duration
	destroyWait     time.Duration
	afterPass       func(PassReport)

	inventory capabilityFlag
	kill      capabilityFlag
	reap      capabilityFlag

	// mu serializes Launch, Destroy, and whole reclamation passes.
	mu      sync.Mutex
	tracked map[string]*Process
	closed  bool

	// Reclamation loop state, guarded by mu. stopRequested is closed
	// to ask the current loop to exit; stopped is closed when it has.
	loopRunning   bool
	stopRequested chan struct{}
	stopped       chan struct{}
}

// New returns a Supervisor. The reclamation loop is not started until
// the first Launch or an explicit EnsureReclaimer.
func New(config Config) *Supervisor {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Surveyor == nil {
		config.Surveyor = procsurvey.New()
	}
	if config.Killer == nil {
		config.Killer = NewCommandKiller()
	}
	if config.Reaper == nil {
		config.Reaper = SystemReaper()
	}
	if config.Resolver == nil {
		config.Resolver = DefaultPIDResolver()
	}
	if config.SelfPID == 0 {
		config.SelfPID = os.Getpid()
	}
	if config.InterpreterName == "" {
		config.InterpreterName = DefaultInterpreterName
	}
	if config.ReclaimInterval <= 0 {
		config.ReclaimInterval = DefaultReclaimInterval
	}
	if config.PIDProbeWait <= 0 {
		config.PIDProbeWait = DefaultPIDProbeWait
	}
	if config.DestroyWait <= 0 {
		config.DestroyWait = DefaultDestroyWait
	}

	stopped := make(chan struct{})
	close(stopped)

	return &Supervisor{
		logger:          config.Logger,
		clock:           config.Clock,
		surveyor:        config.Surveyor,
		killer:          config.Killer,
		reaper:          config.Reaper,
		resolver:        config.Resolver,
		selfPID:         config.SelfPID,
		interpreterName: config.InterpreterName,
		reclaimInterval: config.ReclaimInterval,
		pidProbeWait:    config.PIDProbeWait,
		destroyWait:     config.DestroyWait,
		afterPass:       config.AfterPass,
		tracked:         make(map[string]*Process),
		stopped:         stopped,
	}
}

// Redirect selects what a launched process's output stream is
// connected to.
type Redirect int

const (
	// RedirectPipe connects the stream to a pipe whose read end is
	// returned on the Process.
	RedirectPipe Redirect = iota

	// RedirectDiscard connects the stream to the null device.
	RedirectDiscard

	// RedirectInherit connects the stream to this process's own.
	RedirectInherit
)

// LaunchSpec is a fully constructed command.
type LaunchSpec struct {
	// Name labels the process in logs. Defaults to the base name of
	// Path.
	Name string

	// Path is the executable. It is resolved with exec.LookPath when
	// it contains no path separator.
	Path string

	// Args are the arguments after the program name.
	Args []string

	// Dir is the working directory. Empty means this process's.
	Dir string

	// Env is the environment. Nil means this process's.
	Env []string

	Stdout Redirect
	Stderr Redirect
}

// Launch starts a process and tracks it. Every failure is wrapped in
// ErrLaunchFailed (or is ErrSupervisorClosed). The caller must close the
// returned Process's Stdout and Stderr pipes.
//
// Output pipes are created with os.Pipe rather than exec.Cmd's pipe
// helpers so that waiting for the process does not also wait for
// grandchildren that inherited the write end.
func (s *Supervisor) Launch(spec LaunchSpec) (*Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSupervisorClosed
	}
	if spec.Path == "" {
		return nil, fmt.Errorf("%w: empty executable path", ErrLaunchFailed)
	}

	name := spec.Name
	if name == "" {
		name = filepath.Base(spec.Path)
	}

	cmd := exec.Command(spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	process := newProcess(uuid.NewString(), name, cmd)

	var childEnds []*os.File
	closeChildEnds := func() {
		for _, file := range childEnds {
			file.Close()
		}
	}

	stdout, err := s.connect(spec.Stdout, os.Stdout, &process.Stdout, &childEnds)
	if err != nil {
		closeChildEnds()
		process.closePipes()
		return nil, fmt.Errorf("%w: %s: stdout: %v", ErrLaunchFailed, name, err)
	}
	cmd.Stdout = stdout

	stderr, err := s.connect(spec.Stderr, os.Stderr, &process.Stderr, &childEnds)
	if err != nil {
		closeChildEnds()
		process.closePipes()
		return nil, fmt.Errorf("%w: %s: stderr: %v", ErrLaunchFailed, name, err)
	}
	cmd.Stderr = stderr

	startErr := cmd.Start()
	closeChildEnds()
	if startErr != nil {
		process.closePipes()
		s.logger.Warn("process launch failed", "name", name, "path", spec.Path, "error", startErr)
		return nil, fmt.Errorf("%w: %s: %v", ErrLaunchFailed, name, startErr)
	}

	process.Started = s.clock.Now()
	go process.waitLoop()

	s.tracked[process.ID] = process
	s.ensureReclaimerLocked()

	s.logger.Debug("process launched",
		"name", name,
		"process_id", process.ID,
		"pid", process.pid(),
	)
	return process, nil
}

// connect returns the writer for one output stream. For a pipe, the
// parent's read end is stored in *readEnd and the child's write end is
// added to childEnds, to be closed after Start.
func (s *Supervisor) connect(redirect Redirect, inherit *os.File, readEnd **os.File, childEnds *[]*os.File) (io.Writer, error) {
	switch redirect {
	case RedirectPipe:
		reader, writer, err := os.Pipe()
		if err != nil {
			return nil, err
		}
		*readEnd = reader
		*childEnds = append(*childEnds, writer)
		return writer, nil
	case RedirectDiscard:
		return nil, nil
	case RedirectInherit:
		return inherit, nil
	default:
		return nil, fmt.Errorf("unknown redirect %d", redirect)
	}
}

// Destroy kills process and waits for it to exit, bounded by ctx and
// Config.DestroyWait, then stops tracking it. A process that does not
// exit in time stays tracked and is dropped by a later reclamation pass
// once it does.
func (s *Supervisor) Destroy(ctx context.Context, process *Process) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := process.kill(); err != nil {
		s.logger.Warn("killing process failed",
			"name", process.Name,
			"process_id", process.ID,
			"error", err,
		)
	}

	select {
	case <-process.Done():
	case <-ctx.Done():
		return fmt.Errorf("waiting for %s to exit: %w", process, ctx.Err())
	case <-s.clock.After(s.destroyWait):
		return fmt.Errorf("%s did not exit within %s of SIGKILL", process, s.destroyWait)
	}

	delete(s.tracked, process.ID)
	s.logger.Debug("process destroyed",
		"name", process.Name,
		"process_id", process.ID,
		"exit_code", process.ExitCode(),
	)
	return nil
}

// Tracked returns a snapshot of the tracked processes.
func (s *Supervisor) Tracked() []*Process {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]*Process, 0, len(s.tracked))
	for _, process := range s.tracked {
		result = append(result, process)
	}
	return result
}

// EnsureReclaimer starts the reclamation loop if it is not running.
func (s *Supervisor) EnsureReclaimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureReclaimerLocked()
}

func (s *Supervisor) ensureReclaimerLocked() {
	if s.loopRunning || s.closed {
		return
	}
	s.loopRunning = true
	s.stopRequested = make(chan struct{})
	s.stopped = make(chan struct{})
	go s.reclaimLoop(s.stopRequested, s.stopped)
}

// RequestShutdown asks the reclamation loop to exit after its current
// pass. A later Launch starts a new loop unless Shutdown was called.
func (s *Supervisor) RequestShutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopRunning {
		s.loopRunning = false
		close(s.stopRequested)
	}
}

// IsRunning reports whether the reclamation loop is running.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	select {
	case <-stopped:
		return false
	default:
		return true
	}
}

// WaitStopped blocks until the reclamation loop has exited or ctx is
// done.
func (s *Supervisor) WaitStopped(ctx context.Context) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for reclamation loop to stop: %w", ctx.Err())
	}
}

// Shutdown refuses further launches, destroys every tracked process,
// stops the reclamation loop, and waits for it within ctx.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	var errs []error
	for _, process := range s.Tracked() {
		if err := s.Destroy(ctx, process); err != nil {
			errs = append(errs, err)
		}
	}

	s.RequestShutdown()
	if err := s.WaitStopped(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
