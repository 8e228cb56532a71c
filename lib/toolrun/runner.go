// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package toolrun

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/genome-nexus/vepwrap/lib/clock"
	"github.com/genome-nexus/vepwrap/lib/linestream"
	"github.com/genome-nexus/vepwrap/lib/supervisor"
)

// Defaults for Config fields left zero.
const (
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultRelayGrace      = 2 * time.Second
	DefaultDiagnosticLines = 20
	DefaultDestroyTimeout  = 15 * time.Second
)

// Launcher starts and destroys tracked processes. *supervisor.Supervisor
// implements it.
type Launcher interface {
	Launch(spec supervisor.LaunchSpec) (*supervisor.Process, error)
	Destroy(ctx context.Context, process *supervisor.Process) error
}

// Config configures a Runner.
type Config struct {
	Launcher Launcher

	// Clock drives the exit poll and relay grace period. Defaults to
	// clock.Real().
	Clock clock.Clock

	// Logger receives run summaries and, at warn level, every line
	// the tool writes to stderr. Defaults to slog.Default().
	Logger *slog.Logger

	// LineBufferSize bounds one output record. Defaults to
	// linestream.DefaultLineBufferSize.
	LineBufferSize int

	// RelayBufferSize is the pipe read chunk size. Defaults to
	// linestream.DefaultRelayBufferSize.
	RelayBufferSize int

	// PollInterval is the longest single wait between exit checks.
	PollInterval time.Duration

	// RelayGrace is how long relays may keep draining after the tool
	// exits or is destroyed before their pipes are closed under them.
	RelayGrace time.Duration

	// DiagnosticLines is how many trailing stderr lines are kept for
	// error reports.
	DiagnosticLines int
}

// Runner runs tool invocations. It is safe for concurrent use.
type Runner struct {
	launcher        Launcher
	clock           clock.Clock
	logger          *slog.Logger
	lineBufferSize  int
	relayBufferSize int
	pollInterval    time.Duration
	relayGrace      time.Duration
	diagnosticLines int
}

// New returns a Runner.
func New(config Config) *Runner {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RelayGrace <= 0 {
		config.RelayGrace = DefaultRelayGrace
	}
	if config.DiagnosticLines <= 0 {
		config.DiagnosticLines = DefaultDiagnosticLines
	}
	return &Runner{
		launcher:        config.Launcher,
		clock:           config.Clock,
		logger:          config.Logger,
		lineBufferSize:  config.LineBufferSize,
		relayBufferSize: config.RelayBufferSize,
		pollInterval:    config.PollInterval,
		relayGrace:      config.RelayGrace,
		diagnosticLines: config.DiagnosticLines,
	}
}

// Request is one tool invocation.
type Request struct {
	// Spec is the command to launch. Its Stdout and Stderr redirects
	// are overridden with pipes.
	Spec supervisor.LaunchSpec

	// Timeout bounds the whole run. Zero means no limit.
	Timeout time.Duration
}

// Result describes a finished run.
type Result struct {
	// ExitCode is the tool's exit status, 128+signal if it was killed,
	// or -1 if it never started.
	ExitCode int

	// TimedOut is true when the deadline elapsed and the tool was
	// destroyed. The output is truncated at a line boundary.
	TimedOut bool

	// Diagnostics holds the last lines the tool wrote to stderr.
	Diagnostics string

	Duration time.Duration
}

// outcome is how waiting for the tool ended.
type outcome int

const (
	outcomeExited outcome = iota
	outcomeTimedOut
	outcomeCanceled
)

// Run launches the tool and writes its stdout, whole lines only, to
// lines. It returns:
//
//   - a supervisor.ErrLaunchFailed error if the tool could not start,
//   - a nil error with Result.TimedOut set if the deadline elapsed,
//   - ctx.Err() if ctx was canceled first (the tool is destroyed),
//   - an *ExitError for a non-zero exit status,
//   - a linestream.ErrLineTooLong error if one output record exceeded
//     the line buffer.
//
// When the deadline elapses or ctx is canceled, output the tool wrote
// but the relay had not yet read is discarded along with any partial
// line, even complete lines already sitting in the pipe. The written
// output then ends at the last line relayed before the tool was
// destroyed.
func (r *Runner) Run(ctx context.Context, request Request, lines io.Writer) (Result, error) {
	start := r.clock.Now()

	spec := request.Spec
	spec.Stdout = supervisor.RedirectPipe
	spec.Stderr = supervisor.RedirectPipe
	process, err := r.launcher.Launch(spec)
	if err != nil {
		return Result{ExitCode: -1}, err
	}
	defer process.Stdout.Close()
	defer process.Stderr.Close()

	logger := r.logger.With("tool", process.Name, "process_id", process.ID)

	lineBuffer := linestream.NewLineBuffer(lines, r.lineBufferSize)
	diagnostics := linestream.NewLogWriter(logger, slog.LevelWarn, r.diagnosticLines, r.lineBufferSize)

	stdoutRelay := linestream.NewRelay(linestream.RelayConfig{
		Name:       "stdout",
		Source:     process.Stdout,
		Sink:       lineBuffer,
		BufferSize: r.relayBufferSize,
		Logger:     logger,
	})
	stderrRelay := linestream.NewRelay(linestream.RelayConfig{
		Name:       "stderr",
		Source:     process.Stderr,
		Sink:       diagnostics,
		BufferSize: r.relayBufferSize,
		Logger:     logger,
	})
	stdoutRelay.Start()
	stderrRelay.Start()

	result := Result{}
	switch r.awaitExit(ctx, process, request.Timeout) {
	case outcomeExited:
		r.drain(stdoutRelay)
		r.drain(stderrRelay)
	case outcomeTimedOut, outcomeCanceled:
		result.TimedOut = ctx.Err() == nil
		destroyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), DefaultDestroyTimeout)
		if err := r.launcher.Destroy(destroyCtx, process); err != nil {
			logger.Error("destroying timed out tool failed", "error", err)
		}
		cancel()
		stdoutRelay.Stop(r.clock, r.relayGrace)
		stderrRelay.Stop(r.clock, r.relayGrace)
	}

	if pending := lineBuffer.Pending(); pending > 0 {
		if !result.TimedOut {
			logger.Warn("discarding unterminated output line", "bytes", pending)
		}
		lineBuffer.Purge()
	}
	diagnostics.Close()

	result.ExitCode = process.ExitCode()
	result.Diagnostics = diagnostics.TailText()
	result.Duration = r.clock.Now().Sub(start)

	logger.Info("tool run finished",
		"exit_code", result.ExitCode,
		"timed_out", result.TimedOut,
		"stdout_bytes", stdoutRelay.BytesRead(),
		"duration", result.Duration,
	)

	switch {
	case ctx.Err() != nil && !result.TimedOut:
		return result, ctx.Err()
	case result.TimedOut:
		return result, nil
	}
	if err := stdoutRelay.Err(); err != nil {
		return result, fmt.Errorf("relaying %s output: %w", process.Name, err)
	}
	if result.ExitCode != 0 {
		return result, &ExitError{
			Name:        process.Name,
			ExitCode:    result.ExitCode,
			Diagnostics: result.Diagnostics,
		}
	}
	return result, nil
}

// RunJSON runs the tool with its stdout lines wrapped as elements of
// list. The list is closed when the run succeeds or times out, and also
// after a failure once it has started, since the array is then already
// partly written. It is left open only when a failure happened before
// any element was written, so the caller can still answer with an
// error instead of an array.
func (r *Runner) RunJSON(ctx context.Context, request Request, list *linestream.JSONList) (Result, error) {
	result, err := r.Run(ctx, request, list)
	if err == nil || list.Started() {
		if closeErr := list.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing output array: %w", closeErr)
		}
	}
	return result, err
}

// awaitExit waits for the process to exit in slices of at most the
// poll interval, checking the deadline between slices. A zero timeout
// means no deadline.
func (r *Runner) awaitExit(ctx context.Context, process *supervisor.Process, timeout time.Duration) outcome {
	var deadline time.Time
	if timeout > 0 {
		deadline = r.clock.Now().Add(timeout)
	}
	for {
		wait := r.pollInterval
		if timeout > 0 {
			remaining := deadline.Sub(r.clock.Now())
			if remaining <= 0 {
				return outcomeTimedOut
			}
			wait = min(wait, remaining)
		}
		select {
		case <-process.Done():
			return outcomeExited
		case <-ctx.Done():
			return outcomeCanceled
		case <-r.clock.After(wait):
		}
	}
}

// drain waits for a relay to reach end of input after the tool exited.
// Descendants that inherited the pipe can hold it open; after the grace
// period the pipe is closed under the relay.
func (r *Runner) drain(relay *linestream.Relay) {
	select {
	case <-relay.Done():
		return
	case <-r.clock.After(r.relayGrace):
	}
	r.logger.Debug("output pipe still open after tool exit, interrupting relay")
	relay.Interrupt()
	<-relay.Done()
}
