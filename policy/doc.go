// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy loads Warden's policy document and evaluates
// permission and network-access decisions against it.
//
// The document is operator-authored JSONC (JSON extended with
// comments and trailing commas). [Load] parses and validates it into
// an immutable [Store]; [Engine] answers three questions:
//
//   - Resolve: which role, with which (possibly overridden)
//     capabilities, applies to this agent?
//   - Check: is this action allowed, and must the decision be
//     audited?
//   - EvaluateNetwork: may this session type reach this network
//     target?
//
// Evaluation is pure computation over the loaded document: it never
// blocks, never touches the hypervisor, and never writes. Undetermined
// identity is a hard error, not a default role, and actions without a
// governing rule are denied — "not yet specified" never means
// "allowed".
package policy
