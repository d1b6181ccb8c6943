// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"context"
	"fmt"
)

// NullBackend is the disabled hypervisor backend. Every structural
// call fails with ErrBackendUnavailable. It is selected at startup on
// hosts without a hypervisor, so the rest of Warden (policy
// evaluation, audit, log inspection) keeps working while environment
// operations fail explicitly instead of silently returning empty
// success.
type NullBackend struct{}

func (NullBackend) DefineDomain(context.Context, string, string) (string, error) {
	return "", nullErr("define domain")
}

func (NullBackend) StartDomain(context.Context, string) error { return nullErr("start domain") }

func (NullBackend) StopDomain(context.Context, string, bool) error { return nullErr("stop domain") }

func (NullBackend) ResumeDomain(context.Context, string) error { return nullErr("resume domain") }

func (NullBackend) UndefineDomain(context.Context, string) error { return nullErr("undefine domain") }

func (NullBackend) DomainInfo(context.Context, string) (DomainInfo, error) {
	return DomainInfo{}, nullErr("inspect domain")
}

func (NullBackend) ListDomains(context.Context) ([]DomainInfo, error) {
	return nil, nullErr("list domains")
}

func (NullBackend) RemoveVolume(context.Context, string) error { return nullErr("remove volume") }

func nullErr(op string) error {
	return fmt.Errorf("%s: backend disabled: %w", op, ErrBackendUnavailable)
}
