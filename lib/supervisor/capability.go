// Copyright 2026 The Vepwrap Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import "sync/atomic"

// Capability is the memoized result of probing the host for one
// facility the supervisor depends on.
type Capability int32

const (
	// CapabilityUnknown means the facility has not been probed yet.
	CapabilityUnknown Capability = iota

	// CapabilityAvailable means the probe succeeded.
	CapabilityAvailable

	// CapabilityUnavailable means the probe failed. It is never
	// re-probed.
	CapabilityUnavailable
)

// String returns the capability name used in log output.
func (c Capability) String() string {
	switch c {
	case CapabilityAvailable:
		return "available"
	case CapabilityUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// capabilityFlag holds a Capability that moves from unknown to a known
// value at most once.
type capabilityFlag struct {
	value atomic.Int32
}

// Load returns the current value without probing.
func (f *capabilityFlag) Load() Capability {
	return Capability(f.value.Load())
}

// Resolve returns the memoized value, running probe first if the flag
// is still unknown. Concurrent first calls may each run probe; only the
// first result is kept.
func (f *capabilityFlag) Resolve(probe func() bool) Capability {
	if current := f.Load(); current != CapabilityUnknown {
		return current
	}
	result := CapabilityUnavailable
	if probe() {
		result = CapabilityAvailable
	}
	f.value.CompareAndSwap(int32(CapabilityUnknown), int32(result))
	return f.Load()
}

// MarkUnavailable records that the facility failed in use.
func (f *capabilityFlag) MarkUnavailable() {
	f.value.CompareAndSwap(int32(CapabilityUnknown), int32(CapabilityUnavailable))
	f.value.CompareAndSwap(int32(CapabilityAvailable), int32(CapabilityUnavailable))
}
