// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package vm drives the lifecycle of sandboxed virtual machine
// environments against a hypervisor backend.
//
// The package separates three concerns:
//
//   - [Backend] is the capability interface over the hypervisor's
//     domain primitives (define/start/stop/resume/undefine/inspect).
//     [VirshBackend] drives a libvirt hypervisor through the virsh
//     CLI; [NullBackend] is the disabled implementation whose every
//     structural call fails with [ErrBackendUnavailable];
//     [FakeBackend] is the in-memory implementation for tests and
//     development. The backend is selected once at process startup.
//   - [Driver] owns the backend handle and serializes all structural
//     operations through a single goroutine, because hypervisors do
//     not guarantee atomicity across concurrent define/undefine calls
//     on related objects. Callers bound each operation with a
//     context; a timed-out instance is marked [StateUnknown] pending
//     re-inspection.
//   - [Registry] durably records instance metadata (image, policy
//     references, labels) in SQLite so a restarted daemon can
//     correlate backend domains with the requests that created them.
//
// Lifecycle state is backend-driven: Create reports Provisioning
// immediately after a successful domain definition, and all later
// states come from mapping the backend's live domain state through
// the fixed table in [MapDomainState].
package vm
