// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"context"
	"errors"
	"strings"

	"github.com/genome-nexus/vepwrap/lib/procsurvey"
)

// PassReport summarizes one reclamation pass.
type PassReport struct {
	// Untracked lists the IDs of tracked processes found to have
	// exited on their own.
	Untracked []string

	// Reaped lists zombie pids whose status was collected.
	Reaped []int

	// Killed lists orphan pids the kill command succeeded on.
	Killed []int

	// OrphanScan is true when the pass reached the orphan-kill step.
	OrphanScan bool

	// SkipReason says why the pass stopped before the orphan-kill
	// step. Empty when OrphanScan is true.
	SkipReason string
}

func (s *Supervisor) reclaimLoop(stopRequested <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	lowerPriority(s.logger)
	s.logger.Debug("reclamation loop started", "interval", s.reclaimInterval)

	ticker := s.clock.NewTicker(s.reclaimInterval)
	defer ticker.Stop()

	ctx := context.Background()
	for {
		select {
		case <-stopRequested:
			s.logger.Debug("reclamation loop stopped")
			return
		case <-ticker.C:
		}

		report := s.ReclaimOnce(ctx)
		if len(report.Reaped) > 0 || len(report.Killed) > 0 {
			s.logger.Info("reclaimed orphaned processes",
				"reaped", report.Reaped,
				"killed", report.Killed,
			)
		}
		if s.afterPass != nil {
			s.afterPass(report)
		}
	}
}

// ReclaimOnce runs one reclamation pass synchronously. It holds the
// supervisor lock for the whole pass, including the pid probe wait.
func (s *Supervisor) ReclaimOnce(ctx context.Context) PassReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report PassReport

	// Processes that exited on their own.
	for id, process := range s.tracked {
		if process.Exited() {
			delete(s.tracked, id)
			report.Untracked = append(report.Untracked, id)
		}
	}

	inventoryAvailable := s.inventory.Resolve(func() bool {
		available := s.surveyor.Available(ctx)
		if !available {
			s.logger.Warn("process inventory command unavailable, orphan reclamation disabled")
		}
		return available
	}) == CapabilityAvailable
	killAvailable := s.kill.Resolve(func() bool {
		available := s.killer.Available(ctx)
		if !available {
			s.logger.Warn("kill command unavailable, orphan reclamation disabled")
		}
		return available
	}) == CapabilityAvailable
	reapAvailable := s.reap.Resolve(s.reaper.Available) == CapabilityAvailable
	s.resolver.Probe()

	var survey []procsurvey.Item
	surveyed := false
	if inventoryAvailable {
		items, err := s.surveyor.Survey(ctx)
		if err != nil {
			s.logger.Debug("process survey failed", "error", err)
		} else {
			survey = items
			surveyed = true
		}
	}

	// Zombie children nobody else will wait for. Tracked processes are
	// skipped: os/exec is waiting for them and a foreign wait would
	// steal their exit status.
	if reapAvailable && surveyed {
		trackedPIDs := s.rawTrackedPIDs()
		for _, item := range survey {
			if item.ParentPID != s.selfPID || !item.IsZombie() {
				continue
			}
			if _, ok := trackedPIDs[item.PID]; ok {
				continue
			}
			err := s.reaper.Reap(item.PID)
			if errors.Is(err, ErrReapUnsupported) {
				s.reap.MarkUnavailable()
				s.logger.Warn("reap primitive unavailable, zombie reaping disabled", "error", err)
				break
			}
			if err != nil {
				s.logger.Debug("reaping zombie failed", "pid", item.PID, "error", err)
				continue
			}
			report.Reaped = append(report.Reaped, item.PID)
		}
	}

	switch {
	case !inventoryAvailable || !killAvailable:
		report.SkipReason = "process control commands unavailable"
		return report
	case s.resolver.Impossible():
		report.SkipReason = "pid resolution unavailable"
		return report
	}

	wanted, ok := s.resolveTrackedLocked(ctx)
	if !ok {
		report.SkipReason = "tracked process pid not yet assigned"
		return report
	}

	if !surveyed {
		report.SkipReason = "process survey failed"
		return report
	}

	report.OrphanScan = true
	for _, item := range survey {
		if !s.isOrphan(item, wanted) {
			continue
		}
		if err := s.killer.Kill(ctx, item.PID); err != nil {
			s.logger.Warn("killing orphaned process failed",
				"pid", item.PID,
				"command", item.Command,
				"error", err,
			)
			continue
		}
		report.Killed = append(report.Killed, item.PID)
	}
	return report
}

// isOrphan reports whether item is a sleeping interpreter child of this
// process that no tracked launch accounts for.
func (s *Supervisor) isOrphan(item procsurvey.Item, wanted map[int]struct{}) bool {
	if item.ParentPID != s.selfPID || !item.IsSleeping() {
		return false
	}
	if !strings.Contains(item.Command, s.interpreterName) {
		return false
	}
	_, tracked := wanted[item.PID]
	return !tracked
}

// resolveTrackedLocked resolves the pid of every tracked process,
// retrying once after the probe wait. It returns false if any pid is
// still unknown.
func (s *Supervisor) resolveTrackedLocked(ctx context.Context) (map[int]struct{}, bool) {
	wanted := make(map[int]struct{}, len(s.tracked))
	for _, process := range s.tracked {
		pid, err := s.resolver.Resolve(process)
		if errors.Is(err, ErrPIDNotAssigned) {
			select {
			case <-ctx.Done():
				return nil, false
			case <-s.clock.After(s.pidProbeWait):
			}
			pid, err = s.resolver.Resolve(process)
		}
		if err != nil {
			s.logger.Debug("tracked process pid unavailable, skipping orphan scan",
				"process_id", process.ID,
				"error", err,
			)
			return nil, false
		}
		wanted[pid] = struct{}{}
	}
	return wanted, true
}

// rawTrackedPIDs returns the OS pids of tracked processes straight from
// their handles.
func (s *Supervisor) rawTrackedPIDs() map[int]struct{} {
	pids := make(map[int]struct{}, len(s.tracked))
	for _, process := range s.tracked {
		if pid := process.pid(); pid > 0 {
			pids[pid] = struct{}{}
		}
	}
	return pids
}

// Capabilities returns the memoized capability of each host facility
// without probing.
func (s *Supervisor) Capabilities() map[string]Capability {
	result := map[string]Capability{
		"inventory": s.inventory.Load(),
		"kill":      s.kill.Load(),
		"reap":      s.reap.Load(),
	}
	for name, capability := range s.resolver.Capabilities() {
		result["pid_"+name] = capability
	}
	return result
}
