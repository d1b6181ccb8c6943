// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrBackendUnavailable means the hypervisor connection is absent or
// unreachable. Fatal to the call, not to the process; retry policy
// belongs to the caller.
var ErrBackendUnavailable = errors.New("hypervisor backend unavailable")

// ErrNotFound means the operation targeted an unknown instance.
var ErrNotFound = errors.New("instance not found")

// ErrAlreadyExists means a create reused an existing instance ID.
var ErrAlreadyExists = errors.New("instance already exists")

// DescriptorError reports malformed create parameters. The request
// never reaches the backend.
type DescriptorError struct {
	// Field is the offending create-request field.
	Field string
	// Reason says what is wrong with it.
	Reason string
}

func (e *DescriptorError) Error() string {
	return fmt.Sprintf("environment descriptor: %s: %s", e.Field, e.Reason)
}

// InvalidStateError reports a lifecycle operation issued against an
// instance in a state that does not permit it.
type InvalidStateError struct {
	InstanceID string
	Operation  string
	State      State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s instance %q from state %q", e.Operation, e.InstanceID, e.State)
}

// DomainInfo is the backend's view of one domain.
type DomainInfo struct {
	// UUID is the hypervisor-assigned domain UUID.
	UUID string

	// Name is the domain name; Warden uses the instance ID.
	Name string

	// State is the native state code.
	State DomainState

	// Active reports whether the domain is running or suspended (as
	// opposed to defined-but-inactive).
	Active bool

	// Persistent reports whether the domain has a durable definition.
	Persistent bool

	CPUCount     uint
	MemoryMaxKB  uint64
	MemoryUsedKB uint64
}

// Environment is Warden's view of one sandboxed instance: the
// backend's live domain state merged with the registry metadata
// recorded at creation.
type Environment struct {
	// InstanceID is the caller-chosen, stable identity. It doubles as
	// the backend domain name.
	InstanceID string

	// UUID is the hypervisor-assigned domain UUID, set once created.
	UUID string

	Name        string
	State       State
	StateDetail string

	CPUCoresUsed uint
	MemoryMaxKB  uint64
	MemoryUsedKB uint64

	BaseImage      string
	NetworkPolicy  string
	SecurityPolicy string
	Labels         map[string]string

	CreatedAt time.Time
}

// Backend is the capability interface over hypervisor domain
// primitives. All methods are blocking I/O bounded by ctx; they are
// only called from the Driver's single operation goroutine.
//
// Implementations translate their native errors into the package
// sentinels: ErrBackendUnavailable, ErrNotFound, ErrAlreadyExists.
type Backend interface {
	// DefineDomain creates a durable domain definition from the
	// descriptor and returns the hypervisor-assigned UUID.
	DefineDomain(ctx context.Context, name, descriptor string) (uuid string, err error)

	// StartDomain boots a defined domain.
	StartDomain(ctx context.Context, name string) error

	// StopDomain stops a running domain. force skips the guest's
	// shutdown sequence.
	StopDomain(ctx context.Context, name string, force bool) error

	// ResumeDomain unpauses a suspended domain.
	ResumeDomain(ctx context.Context, name string) error

	// UndefineDomain removes a domain's durable definition.
	UndefineDomain(ctx context.Context, name string) error

	// DomainInfo inspects one domain by name.
	DomainInfo(ctx context.Context, name string) (DomainInfo, error)

	// ListDomains enumerates all domains visible to the connection,
	// active and defined-but-inactive alike. An empty list is not an
	// error: a reachable backend with no visible domains returns nil.
	ListDomains(ctx context.Context) ([]DomainInfo, error)

	// RemoveVolume deletes a disk artifact created for an instance.
	// Removing an absent volume is not an error.
	RemoveVolume(ctx context.Context, path string) error
}
