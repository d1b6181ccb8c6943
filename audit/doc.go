// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package audit records security-relevant events to append-only logs.
//
// The central artifact is the audit ledger: a JSON-Lines file in which
// every record carries the BLAKE3 keyed hash of the previous record's
// serialized bytes. The first record chains to a fixed genesis seed.
// Any retroactive edit or deletion is detectable by a linear pass that
// recomputes the chain ([VerifyFile]).
//
// Writes to a ledger are serialized through a single writer goroutine
// so chain order matches event order even with concurrent producers.
// A write failure is reported to the caller as a [WriteError], never
// retried silently.
//
// Alongside the ledger, [Logs] manages the per-category log files
// (system log, per-instance lifecycle logs, session recording
// metadata) under a common base directory. Category logs are plain
// JSONL without a hash chain.
package audit
