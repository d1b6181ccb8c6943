// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Components that read the clock (event timestamps, instance
// creation times) take a [Clock] field in their Config so tests can
// substitute [Fake] and control time deterministically with
// [FakeClock.Advance].
package clock
