// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package toolrun

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/genome-nexus/vepwrap/lib/linestream"
	"github.com/genome-nexus/vepwrap/lib/supervisor"
	"github.com/genome-nexus/vepwrap/lib/testutil"
)

func newTestRunner(t *testing.T) (*Runner, *supervisor.Supervisor) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sup := supervisor.New(supervisor.Config{Logger: logger})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := sup.Shutdown(ctx); err != nil {
			t.Errorf("supervisor Shutdown: %v", err)
		}
	})
	runner := New(Config{
		Launcher:     sup,
		Logger:       logger,
		PollInterval: 20 * time.Millisecond,
		RelayGrace:   200 * time.Millisecond,
	})
	return runner, sup
}

func runJSON(t *testing.T, runner *Runner, body string, timeout time.Duration) (string, Result, error) {
	t.Helper()
	path := testutil.ShellTool(t, "vep", body)
	var out bytes.Buffer
	list := linestream.NewJSONList(&out)
	result, err := runner.RunJSON(context.Background(), Request{
		Spec:    supervisor.LaunchSpec{Path: path},
		Timeout: timeout,
	}, list)
	return out.String(), result, err
}

func TestRunJSONWrapsCompleteOutput(t *testing.T) {
	runner, _ := newTestRunner(t)

	output, result, err := runJSON(t, runner, `printf '{"a":1}\n{"b":2}\n'`, 10*time.Second)
	if err != nil {
		t.Fatalf("RunJSON: %v", err)
	}
	if want := "[\n{\"a\":1},\n{\"b\":2}]\n"; output != want {
		t.Errorf("output %q, want %q", output, want)
	}
	if result.ExitCode != 0 || result.TimedOut {
		t.Errorf("result = %+v", result)
	}
}

func TestRunJSONTimeoutTruncatesAtLineBoundary(t *testing.T) {
	runner, sup := newTestRunner(t)

	started := time.Now()
	output, result, err := runJSON(t, runner,
		`printf '{"a":1}\n'; printf '{"b":'; exec sleep 30`, time.Second)
	if err != nil {
		t.Fatalf("RunJSON: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 10*time.Second {
		t.Errorf("run took %v, deadline not enforced", elapsed)
	}
	if want := "[\n{\"a\":1}]\n"; output != want {
		t.Errorf("output %q, want %q", output, want)
	}
	if !result.TimedOut {
		t.Error("TimedOut = false")
	}
	if result.ExitCode != 137 {
		t.Errorf("ExitCode = %d, want 137 (SIGKILL)", result.ExitCode)
	}
	if tracked := sup.Tracked(); len(tracked) != 0 {
		t.Errorf("timed out process still tracked: %v", tracked)
	}
}

func TestRunJSONEmptyOutput(t *testing.T) {
	runner, _ := newTestRunner(t)

	output, _, err := runJSON(t, runner, `printf '\n\n'`, 0)
	if err != nil {
		t.Fatalf("RunJSON: %v", err)
	}
	if output != "[\n]\n" {
		t.Errorf("output %q, want empty array", output)
	}
}

func TestRunZeroTimeoutMeansNoLimit(t *testing.T) {
	runner, _ := newTestRunner(t)

	output, result, err := runJSON(t, runner, `sleep 0.3; printf '{"late":true}\n'`, 0)
	if err != nil {
		t.Fatalf("RunJSON: %v", err)
	}
	if result.TimedOut || output != "[\n{\"late\":true}]\n" {
		t.Errorf("output %q, result %+v", output, result)
	}
}

func TestRunAbnormalExit(t *testing.T) {
	runner, _ := newTestRunner(t)

	output, result, err := runJSON(t, runner, `echo "ERROR: no such database" >&2; exit 2`, 10*time.Second)

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("RunJSON error = %v, want *ExitError", err)
	}
	if !errors.Is(err, ErrAbnormalExit) {
		t.Error("errors.Is(err, ErrAbnormalExit) = false")
	}
	if exitErr.ExitCode != 2 || result.ExitCode != 2 {
		t.Errorf("exit code = %d / %d, want 2", exitErr.ExitCode, result.ExitCode)
	}
	if !strings.Contains(exitErr.Diagnostics, "no such database") {
		t.Errorf("Diagnostics = %q", exitErr.Diagnostics)
	}
	if output != "" {
		t.Errorf("output %q, want nothing written before any element", output)
	}
}

func TestRunAbnormalExitAfterOutputClosesArray(t *testing.T) {
	runner, _ := newTestRunner(t)

	output, _, err := runJSON(t, runner, `printf '{"a":1}\n'; exit 1`, 10*time.Second)
	if !errors.Is(err, ErrAbnormalExit) {
		t.Fatalf("RunJSON error = %v, want ErrAbnormalExit", err)
	}
	if output != "[\n{\"a\":1}]\n" {
		t.Errorf("output %q, want a closed array", output)
	}
}

func TestRunLaunchFailure(t *testing.T) {
	runner, _ := newTestRunner(t)

	var out bytes.Buffer
	result, err := runner.Run(context.Background(), Request{
		Spec: supervisor.LaunchSpec{Path: "/nonexistent/vep"},
	}, &out)
	if !errors.Is(err, supervisor.ErrLaunchFailed) {
		t.Fatalf("Run error = %v, want ErrLaunchFailed", err)
	}
	if result.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1", result.ExitCode)
	}
}

func TestRunCanceledContextDestroysTool(t *testing.T) {
	runner, sup := newTestRunner(t)
	path := testutil.ShellTool(t, "vep", `exec sleep 30`)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := runner.Run(ctx, Request{Spec: supervisor.LaunchSpec{Path: path}}, io.Discard)
		errs <- err
	}()

	testutil.RequireEventually(t, 5*time.Second, func() bool {
		return len(sup.Tracked()) == 1
	}, "tool launched")
	cancel()

	err := testutil.RequireReceive(t, errs, 10*time.Second, "run returns after cancel")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v, want context.Canceled", err)
	}
	if tracked := sup.Tracked(); len(tracked) != 0 {
		t.Errorf("canceled tool still tracked: %v", tracked)
	}
}

func TestRunDoesNotWaitForDescendantsHoldingStdout(t *testing.T) {
	runner, _ := newTestRunner(t)

	started := time.Now()
	output, result, err := runJSON(t, runner, `sleep 3 & printf '{"a":1}\n'`, 10*time.Second)
	if err != nil {
		t.Fatalf("RunJSON: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 2*time.Second {
		t.Errorf("run took %v, blocked on a descendant's copy of stdout", elapsed)
	}
	if result.TimedOut || output != "[\n{\"a\":1}]\n" {
		t.Errorf("output %q, result %+v", output, result)
	}
}

func TestRunLineTooLong(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	sup := supervisor.New(supervisor.Config{Logger: logger})
	defer sup.Shutdown(context.Background())
	runner := New(Config{Launcher: sup, Logger: logger, LineBufferSize: 16})

	path := testutil.ShellTool(t, "vep", `printf '{"ok":1}\n'; printf '%040d' 0`)
	var out bytes.Buffer
	_, err := runner.Run(context.Background(), Request{Spec: supervisor.LaunchSpec{Path: path}}, &out)
	if !errors.Is(err, linestream.ErrLineTooLong) {
		t.Fatalf("Run error = %v, want ErrLineTooLong", err)
	}
	if out.String() != "{\"ok\":1}\n" {
		t.Errorf("forwarded %q, want only the line before the overflow", out.String())
	}
}
