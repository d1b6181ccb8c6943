// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool provides pooled SQLite connections with
// Warden-standard pragmas (WAL journaling, NORMAL sync, busy
// timeout). The instance registry in package vm is its consumer.
package sqlitepool
