// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package version exposes build identity for Warden binaries.
package version

import "fmt"

// These are set at link time via -ldflags:
//
//	-X github.com/warden-foundation/warden/lib/version.version=v0.3.0
//	-X github.com/warden-foundation/warden/lib/version.commit=abc1234
var (
	version = "dev"
	commit  = "unknown"
)

// Info returns the human-readable version string printed by
// "<binary> version".
func Info() string {
	return fmt.Sprintf("%s (%s)", version, commit)
}
