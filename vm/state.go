// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package vm

// State is the lifecycle state of an environment as Warden reports
// it. Transitions are backend-driven: apart from the Provisioning and
// Booting states reported immediately after a structural call, every
// state comes from inspecting the backend.
type State string

const (
	// StateUnknown is the default before the first successful backend
	// inspection, and the state assigned when a backend call times
	// out. It is never reachable once an inspection has succeeded.
	StateUnknown State = "unknown"

	// StateProvisioning is reported immediately after a successful
	// domain definition, before the first state poll.
	StateProvisioning State = "provisioning"

	// StateBooting is reported after a cold start until inspection
	// shows the guest running.
	StateBooting State = "booting"

	// StateRunning means the guest is executing.
	StateRunning State = "running"

	// StateSuspended means the guest is paused, blocked, or
	// power-management suspended. Resume restores it to Running.
	StateSuspended State = "suspended"

	// StateTerminated means shutdown is in progress or the domain was
	// force-stopped.
	StateTerminated State = "terminated"

	// StateStopped means the domain is defined but shut off. Resume
	// performs a cold boot.
	StateStopped State = "stopped"

	// StateError means the backend reported a failure; the detail
	// accompanies the state wherever it is surfaced.
	StateError State = "error"
)

// DomainState is the hypervisor's native domain state code. The
// values follow libvirt's virDomainState numbering; the virsh backend
// translates state strings into these codes.
type DomainState int

const (
	// DomainNoState means the backend reported no state.
	DomainNoState DomainState = iota
	// DomainRunning means the domain is executing.
	DomainRunning
	// DomainBlocked means the domain is blocked on a resource.
	DomainBlocked
	// DomainPaused means the domain is paused by the operator.
	DomainPaused
	// DomainShutdown means the domain is shutting down.
	DomainShutdown
	// DomainShutoff means the domain is defined but not running.
	DomainShutoff
	// DomainCrashed means the domain crashed.
	DomainCrashed
	// DomainPMSuspended means the guest suspended itself via power
	// management.
	DomainPMSuspended
)

// String returns the libvirt-style name of the state code.
func (s DomainState) String() string {
	switch s {
	case DomainNoState:
		return "no state"
	case DomainRunning:
		return "running"
	case DomainBlocked:
		return "blocked"
	case DomainPaused:
		return "paused"
	case DomainShutdown:
		return "in shutdown"
	case DomainShutoff:
		return "shut off"
	case DomainCrashed:
		return "crashed"
	case DomainPMSuspended:
		return "pmsuspended"
	default:
		return "unknown"
	}
}

// MapDomainState maps a backend state code onto Warden's state enum.
// The table is fixed: every defined code maps to exactly one State,
// and an unrecognized code maps to StateUnknown — never to
// StateRunning. The second return value is the state detail (only
// non-empty for StateError).
func MapDomainState(code DomainState) (State, string) {
	switch code {
	case DomainRunning:
		return StateRunning, ""
	case DomainBlocked, DomainPaused, DomainPMSuspended:
		return StateSuspended, ""
	case DomainShutdown:
		return StateTerminated, ""
	case DomainShutoff:
		return StateStopped, ""
	case DomainCrashed:
		return StateError, "Crashed"
	default:
		return StateUnknown, ""
	}
}
