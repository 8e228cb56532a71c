// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"errors"
	"regexp"
	"strconv"
	"sync"
)

var (
	// ErrPIDNotAssigned means a strategy is available but the process
	// has no pid yet. Callers retry once after a short wait.
	ErrPIDNotAssigned = errors.New("process has no pid yet")

	// ErrPIDUnavailable means no strategy can resolve pids on this
	// host. It is permanent for the life of the resolver.
	ErrPIDUnavailable = errors.New("pid resolution unavailable")
)

// PIDStrategy is one way of reading the OS pid of a Process.
type PIDStrategy interface {
	// Name identifies the strategy in log output.
	Name() string

	// Probe reports whether the strategy works on this host. It is
	// called at most once per resolver.
	Probe() bool

	// PID returns the process's pid, or false if the process has not
	// been assigned one yet.
	PID(process *Process) (int, bool)
}

// PIDResolver tries a fixed list of strategies in order, probing each
// once and remembering the outcome.
type PIDResolver struct {
	strategies []PIDStrategy
	flags      []capabilityFlag

	// probeMutex serializes first probes so each strategy is probed
	// exactly once even under concurrent Resolve calls.
	probeMutex sync.Mutex
}

// NewPIDResolver returns a resolver over the given strategies.
func NewPIDResolver(strategies ...PIDStrategy) *PIDResolver {
	return &PIDResolver{
		strategies: strategies,
		flags:      make([]capabilityFlag, len(strategies)),
	}
}

// DefaultPIDResolver parses the pid from a Process's text form first
// and falls back to the platform's native handle.
func DefaultPIDResolver() *PIDResolver {
	return NewPIDResolver(TextPIDStrategy{}, NativePIDStrategy{})
}

// Probe resolves every strategy's capability that is still unknown.
func (r *PIDResolver) Probe() {
	for index := range r.strategies {
		r.capability(index)
	}
}

func (r *PIDResolver) capability(index int) Capability {
	if known := r.flags[index].Load(); known != CapabilityUnknown {
		return known
	}
	r.probeMutex.Lock()
	defer r.probeMutex.Unlock()
	return r.flags[index].Resolve(r.strategies[index].Probe)
}

// Capabilities returns the current capability of each strategy, keyed
// by strategy name, without probing.
func (r *PIDResolver) Capabilities() map[string]Capability {
	result := make(map[string]Capability, len(r.strategies))
	for index, strategy := range r.strategies {
		result[strategy.Name()] = r.flags[index].Load()
	}
	return result
}

// Impossible reports whether every strategy is known to be
// unavailable. Once true it stays true.
func (r *PIDResolver) Impossible() bool {
	for index := range r.strategies {
		if r.flags[index].Load() != CapabilityUnavailable {
			return false
		}
	}
	return true
}

// Resolve returns the pid of process using the first available
// strategy. It returns ErrPIDUnavailable when no strategy works on this
// host and ErrPIDNotAssigned when the process has no pid yet.
func (r *PIDResolver) Resolve(process *Process) (int, error) {
	anyAvailable := false
	for index, strategy := range r.strategies {
		if r.capability(index) != CapabilityAvailable {
			continue
		}
		anyAvailable = true
		if pid, ok := strategy.PID(process); ok {
			return pid, nil
		}
	}
	if !anyAvailable {
		return 0, ErrPIDUnavailable
	}
	return 0, ErrPIDNotAssigned
}

// textPIDPattern matches the pid field of Process.String.
var textPIDPattern = regexp.MustCompile(`\bpid=(\w+)`)

// TextPIDStrategy parses the pid out of a Process's String form.
type TextPIDStrategy struct{}

// Name implements PIDStrategy.
func (TextPIDStrategy) Name() string { return "text" }

// Probe checks that the handle's text form carries a pid field.
func (TextPIDStrategy) Probe() bool {
	return textPIDPattern.MatchString((&Process{}).String())
}

// PID implements PIDStrategy.
func (TextPIDStrategy) PID(process *Process) (int, bool) {
	match := textPIDPattern.FindStringSubmatch(process.String())
	if match == nil {
		return 0, false
	}
	pid, err := strconv.Atoi(match[1])
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// NativePIDStrategy reads the pid from the os.Process handle. It is
// available on platforms with POSIX process semantics.
type NativePIDStrategy struct{}

// Name implements PIDStrategy.
func (NativePIDStrategy) Name() string { return "native" }

// Probe implements PIDStrategy.
func (NativePIDStrategy) Probe() bool { return nativePIDSupported }

// PID implements PIDStrategy.
func (NativePIDStrategy) PID(process *Process) (int, bool) {
	return nativePID(process)
}
