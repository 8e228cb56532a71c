// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/genome-nexus/vepwrap/lib/clock"
	"github.com/genome-nexus/vepwrap/lib/procsurvey"
	"github.com/genome-nexus/vepwrap/lib/testutil"
)

const testSelfPID = 4242

type fakeSurveyor struct {
	mu             sync.Mutex
	available      bool
	items          []procsurvey.Item
	err            error
	availableCalls int
	surveys        int
}

func (f *fakeSurveyor) Available(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.availableCalls++
	return f.available
}

func (f *fakeSurveyor) Survey(context.Context) ([]procsurvey.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.surveys++
	if f.err != nil {
		return nil, f.err
	}
	return slices.Clone(f.items), nil
}

func (f *fakeSurveyor) setItems(items ...procsurvey.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
}

type fakeKiller struct {
	mu        sync.Mutex
	available bool
	probes    int
	killed    []int
}

func (f *fakeKiller) Available(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	return f.available
}

func (f *fakeKiller) Kill(_ context.Context, pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, pid)
	return nil
}

func (f *fakeKiller) killedPIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.killed)
}

type fakeReaper struct {
	mu        sync.Mutex
	available bool
	reaped    []int
}

func (f *fakeReaper) Available() bool { return f.available }

func (f *fakeReaper) Reap(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reaped = append(f.reaped, pid)
	return nil
}

func (f *fakeReaper) reapedPIDs() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.reaped)
}

type fakeStrategy struct {
	name      string
	available bool
	pid       int
	probes    atomic.Int32
	lookups   atomic.Int32
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Probe() bool {
	f.probes.Add(1)
	return f.available
}

func (f *fakeStrategy) PID(*Process) (int, bool) {
	f.lookups.Add(1)
	return f.pid, f.pid > 0
}

type testRig struct {
	supervisor *Supervisor
	clock      *clock.FakeClock
	surveyor   *fakeSurveyor
	killer     *fakeKiller
	reaper     *fakeReaper
	reports    chan PassReport
}

func newTestRig(t *testing.T, modify func(*Config)) *testRig {
	t.Helper()
	rig := &testRig{
		clock:    clock.Fake(time.Unix(1_700_000_000, 0)),
		surveyor: &fakeSurveyor{available: true},
		killer:   &fakeKiller{available: true},
		reaper:   &fakeReaper{available: true},
		reports:  make(chan PassReport, 16),
	}
	config := Config{
		Logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:           rig.clock,
		Surveyor:        rig.surveyor,
		Killer:          rig.killer,
		Reaper:          rig.reaper,
		SelfPID:         testSelfPID,
		InterpreterName: "perl",
		AfterPass: func(report PassReport) {
			rig.reports <- report
		},
	}
	if modify != nil {
		modify(&config)
	}
	rig.supervisor = New(config)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := rig.supervisor.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
	})
	return rig
}

func launchScript(t *testing.T, rig *testRig, body string) *Process {
	t.Helper()
	path := testutil.ShellTool(t, "tool.sh", body)
	process, err := rig.supervisor.Launch(LaunchSpec{
		Path:   path,
		Stdout: RedirectDiscard,
		Stderr: RedirectDiscard,
	})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	return process
}

func TestReclaimReapsZombiesAndKillsUntrackedSleepers(t *testing.T) {
	rig := newTestRig(t, nil)
	tracked := launchScript(t, rig, "exec sleep 30")

	rig.surveyor.setItems(
		procsurvey.Item{PID: 900001, ParentPID: testSelfPID, State: 'Z', Command: "perl"},
		procsurvey.Item{PID: 900002, ParentPID: testSelfPID, State: 'S', Command: "perl"},
		procsurvey.Item{PID: tracked.pid(), ParentPID: testSelfPID, State: 'S', Command: "perl"},
		procsurvey.Item{PID: 900003, ParentPID: 1, State: 'S', Command: "perl"},
		procsurvey.Item{PID: 900004, ParentPID: testSelfPID, State: 'S', Command: "bash"},
		procsurvey.Item{PID: 900005, ParentPID: testSelfPID, State: 'R', Command: "perl"},
		procsurvey.Item{PID: 900006, ParentPID: 1, State: 'Z', Command: "perl"},
	)

	report := rig.supervisor.ReclaimOnce(context.Background())

	if !report.OrphanScan {
		t.Fatalf("OrphanScan = false, SkipReason = %q", report.SkipReason)
	}
	if got := rig.reaper.reapedPIDs(); !slices.Equal(got, []int{900001}) {
		t.Errorf("reaped %v, want [900001]", got)
	}
	if got := rig.killer.killedPIDs(); !slices.Equal(got, []int{900002}) {
		t.Errorf("killed %v, want [900002]", got)
	}
	if !slices.Equal(report.Killed, []int{900002}) || !slices.Equal(report.Reaped, []int{900001}) {
		t.Errorf("report = %+v", report)
	}
	if tracked.Exited() {
		t.Error("tracked process was terminated by reclamation")
	}
	if got := rig.supervisor.Tracked(); len(got) != 1 || got[0] != tracked {
		t.Errorf("Tracked() = %v, want only the tracked sleeper", got)
	}
}

func TestReclaimNeverReapsTrackedZombie(t *testing.T) {
	rig := newTestRig(t, nil)
	tracked := launchScript(t, rig, "exec sleep 30")

	rig.surveyor.setItems(
		procsurvey.Item{PID: tracked.pid(), ParentPID: testSelfPID, State: 'Z', Command: "perl"},
	)
	rig.supervisor.ReclaimOnce(context.Background())

	if got := rig.reaper.reapedPIDs(); len(got) != 0 {
		t.Errorf("reaped %v, want tracked pid left to os/exec", got)
	}
}

func TestReclaimUntracksExitedProcesses(t *testing.T) {
	rig := newTestRig(t, nil)
	process := launchScript(t, rig, "exit 3")
	testutil.RequireClosed(t, process.Done(), 10*time.Second, "short-lived process exits")

	report := rig.supervisor.ReclaimOnce(context.Background())

	if !slices.Equal(report.Untracked, []string{process.ID}) {
		t.Errorf("Untracked = %v, want [%s]", report.Untracked, process.ID)
	}
	if got := rig.supervisor.Tracked(); len(got) != 0 {
		t.Errorf("Tracked() = %v after exit", got)
	}
	if got := process.ExitCode(); got != 3 {
		t.Errorf("ExitCode() = %d, want 3", got)
	}
}

func TestReclaimStopsOrphanScanWhenPIDResolutionImpossible(t *testing.T) {
	text := &fakeStrategy{name: "text"}
	native := &fakeStrategy{name: "native"}
	rig := newTestRig(t, func(config *Config) {
		config.Resolver = NewPIDResolver(text, native)
	})
	process := launchScript(t, rig, "exit 0")
	testutil.RequireClosed(t, process.Done(), 10*time.Second, "process exits")

	rig.surveyor.setItems(
		procsurvey.Item{PID: 900002, ParentPID: testSelfPID, State: 'S', Command: "perl"},
		procsurvey.Item{PID: 900001, ParentPID: testSelfPID, State: 'Z', Command: "perl"},
	)

	for pass := range 3 {
		report := rig.supervisor.ReclaimOnce(context.Background())
		if report.OrphanScan {
			t.Fatalf("pass %d: orphan scan ran with pid resolution impossible", pass)
		}
		if report.SkipReason != "pid resolution unavailable" {
			t.Errorf("pass %d: SkipReason = %q", pass, report.SkipReason)
		}
		if pass == 0 && !slices.Equal(report.Untracked, []string{process.ID}) {
			t.Errorf("pass 0: Untracked = %v, natural exit cleanup must continue", report.Untracked)
		}
	}

	if got := rig.killer.killedPIDs(); len(got) != 0 {
		t.Errorf("killed %v with pid resolution impossible", got)
	}
	if text.probes.Load() != 1 || native.probes.Load() != 1 {
		t.Errorf("probes = text %d, native %d, want each probed exactly once",
			text.probes.Load(), native.probes.Load())
	}
	if got := rig.supervisor.Capabilities()["pid_text"]; got != CapabilityUnavailable {
		t.Errorf("pid_text capability = %v", got)
	}
}

func TestReclaimRetriesUnassignedPIDThenSkips(t *testing.T) {
	unassigned := &fakeStrategy{name: "text", available: true}
	rig := newTestRig(t, func(config *Config) {
		config.Resolver = NewPIDResolver(unassigned)
		config.PIDProbeWait = 250 * time.Millisecond
	})
	tracked := launchScript(t, rig, "exec sleep 30")

	rig.surveyor.setItems(
		procsurvey.Item{PID: 900002, ParentPID: testSelfPID, State: 'S', Command: "perl"},
	)

	reports := make(chan PassReport, 1)
	go func() {
		reports <- rig.supervisor.ReclaimOnce(context.Background())
	}()

	// The reclamation loop's ticker plus the pass's pid retry wait.
	rig.clock.WaitForTimers(2)
	select {
	case report := <-reports:
		t.Fatalf("pass finished before the pid retry wait elapsed: %+v", report)
	default:
	}
	rig.clock.Advance(250 * time.Millisecond)
	report := testutil.RequireReceive(t, reports, 10*time.Second, "pass after pid retry wait")

	if report.OrphanScan {
		t.Error("orphan scan ran while a tracked pid was unassigned")
	}
	if report.SkipReason != "tracked process pid not yet assigned" {
		t.Errorf("SkipReason = %q", report.SkipReason)
	}
	if got := unassigned.lookups.Load(); got != 2 {
		t.Errorf("pid looked up %d times, want one retry after the wait", got)
	}
	if got := rig.killer.killedPIDs(); len(got) != 0 {
		t.Errorf("killed %v while a tracked pid was unassigned", got)
	}
	if tracked.Exited() {
		t.Error("tracked process was terminated")
	}
}

func TestReclaimEmptySurveyStillScans(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.surveyor.setItems()

	report := rig.supervisor.ReclaimOnce(context.Background())
	if !report.OrphanScan || report.SkipReason != "" {
		t.Errorf("report = %+v, want an orphan scan over an empty survey", report)
	}
}

func TestReclaimDegradesWithoutKillCommand(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.killer.available = false
	rig.surveyor.setItems(
		procsurvey.Item{PID: 900001, ParentPID: testSelfPID, State: 'Z', Command: "perl"},
		procsurvey.Item{PID: 900002, ParentPID: testSelfPID, State: 'S', Command: "perl"},
	)

	for range 3 {
		report := rig.supervisor.ReclaimOnce(context.Background())
		if report.OrphanScan {
			t.Fatal("orphan scan ran without a kill command")
		}
	}

	if rig.killer.probes != 1 {
		t.Errorf("kill probed %d times, want 1", rig.killer.probes)
	}
	if got := rig.reaper.reapedPIDs(); !slices.Equal(got, []int{900001, 900001, 900001}) {
		t.Errorf("reaped %v, want zombie reaping to continue each pass", got)
	}
	if got := rig.supervisor.Capabilities()["kill"]; got != CapabilityUnavailable {
		t.Errorf("kill capability = %v", got)
	}
}

func TestReclaimWithoutInventorySkipsEverything(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.surveyor.available = false

	for range 2 {
		rig.supervisor.ReclaimOnce(context.Background())
	}

	if rig.surveyor.availableCalls != 1 {
		t.Errorf("inventory probed %d times, want 1", rig.surveyor.availableCalls)
	}
	if rig.surveyor.surveys != 0 {
		t.Errorf("surveyed %d times without an inventory command", rig.surveyor.surveys)
	}
}

func TestReclaimSurveyFailureSkipsOrphanScan(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.surveyor.err = errors.New("ps exploded")

	report := rig.supervisor.ReclaimOnce(context.Background())
	if report.OrphanScan || report.SkipReason != "process survey failed" {
		t.Errorf("report = %+v", report)
	}
}

func TestReclaimLoopRunsEveryInterval(t *testing.T) {
	rig := newTestRig(t, func(config *Config) {
		config.ReclaimInterval = 2 * time.Second
	})
	rig.surveyor.setItems(
		procsurvey.Item{PID: 900002, ParentPID: testSelfPID, State: 'S', Command: "/usr/bin/perl"},
	)

	if rig.supervisor.IsRunning() {
		t.Fatal("reclamation loop running before first use")
	}
	rig.supervisor.EnsureReclaimer()
	rig.supervisor.EnsureReclaimer()
	if !rig.supervisor.IsRunning() {
		t.Fatal("reclamation loop not running after EnsureReclaimer")
	}

	rig.clock.WaitForTimers(1)
	rig.clock.Advance(2 * time.Second)
	report := testutil.RequireReceive(t, rig.reports, 10*time.Second, "first pass")
	if !slices.Equal(report.Killed, []int{900002}) {
		t.Errorf("first pass killed %v", report.Killed)
	}

	rig.clock.Advance(2 * time.Second)
	testutil.RequireReceive(t, rig.reports, 10*time.Second, "second pass")

	rig.supervisor.RequestShutdown()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rig.supervisor.WaitStopped(ctx); err != nil {
		t.Fatalf("WaitStopped: %v", err)
	}
	if rig.supervisor.IsRunning() {
		t.Error("IsRunning() = true after stop")
	}
}

func TestLaunchPipesOutput(t *testing.T) {
	rig := newTestRig(t, nil)
	path := testutil.ShellTool(t, "tool.sh", `echo hello; echo oops >&2`)

	process, err := rig.supervisor.Launch(LaunchSpec{Path: path, Stdout: RedirectPipe, Stderr: RedirectPipe})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	defer process.Stdout.Close()
	defer process.Stderr.Close()

	stdout, err := io.ReadAll(process.Stdout)
	if err != nil {
		t.Fatalf("reading stdout: %v", err)
	}
	stderr, err := io.ReadAll(process.Stderr)
	if err != nil {
		t.Fatalf("reading stderr: %v", err)
	}
	if string(stdout) != "hello\n" || string(stderr) != "oops\n" {
		t.Errorf("stdout %q, stderr %q", stdout, stderr)
	}

	testutil.RequireClosed(t, process.Done(), 10*time.Second, "process exits")
	if process.ExitCode() != 0 || process.WaitError() != nil {
		t.Errorf("ExitCode() = %d, WaitError() = %v", process.ExitCode(), process.WaitError())
	}
	if !rig.supervisor.IsRunning() {
		t.Error("Launch did not start the reclamation loop")
	}
}

func TestLaunchFailure(t *testing.T) {
	rig := newTestRig(t, nil)

	_, err := rig.supervisor.Launch(LaunchSpec{Path: "/nonexistent/annotation-tool", Stdout: RedirectPipe})
	if !errors.Is(err, ErrLaunchFailed) {
		t.Fatalf("Launch error = %v, want ErrLaunchFailed", err)
	}
	if got := rig.supervisor.Tracked(); len(got) != 0 {
		t.Errorf("Tracked() = %v after failed launch", got)
	}
}

func TestLaunchAfterShutdown(t *testing.T) {
	rig := newTestRig(t, nil)
	if err := rig.supervisor.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	_, err := rig.supervisor.Launch(LaunchSpec{Path: "/bin/true"})
	if !errors.Is(err, ErrSupervisorClosed) {
		t.Errorf("Launch after Shutdown error = %v, want ErrSupervisorClosed", err)
	}
}

func TestDestroyKillsAndUntracks(t *testing.T) {
	rig := newTestRig(t, nil)
	process := launchScript(t, rig, "exec sleep 30")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := rig.supervisor.Destroy(ctx, process); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	if !process.Exited() {
		t.Fatal("process still running after Destroy")
	}
	if !process.Signaled() || process.ExitCode() != 137 {
		t.Errorf("Signaled() = %v, ExitCode() = %d, want SIGKILL exit 137", process.Signaled(), process.ExitCode())
	}
	if got := rig.supervisor.Tracked(); len(got) != 0 {
		t.Errorf("Tracked() = %v after Destroy", got)
	}

	// Destroying an exited process is harmless.
	if err := rig.supervisor.Destroy(ctx, process); err != nil {
		t.Errorf("second Destroy: %v", err)
	}
}
