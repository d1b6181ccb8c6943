// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides Warden's standard binary serialization:
// CBOR with Core Deterministic Encoding.
//
// Deterministic encoding matters because instance registry records
// are compared and hashed by their serialized bytes. Consumers import
// only this package, not the CBOR library directly.
package codec
