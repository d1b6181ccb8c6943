// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package session coordinates policy, lifecycle, and audit.
//
// The Orchestrator is the only component that issues environment
// lifecycle operations. Every mutating request runs the same
// pipeline: check the policy engine, record the decision, and only
// then touch the driver — the ledger never shows an effect without
// the decision that gated it. Per-instance operations are totally
// ordered by a keyed lock, so a destroy can never race a create of
// the same identifier.
//
// Sessions whose effective role is marked for recording get a
// Recorder: transcript bytes are redacted, compression-tagged, and
// optionally encrypted before they reach disk.
package session
