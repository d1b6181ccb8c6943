// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import "testing"

// Every defined backend state code maps to exactly one State; an
// unrecognized code maps to Unknown, never to Running.
func TestMapDomainStateTable(t *testing.T) {
	cases := []struct {
		code       DomainState
		wantState  State
		wantDetail string
	}{
		{DomainRunning, StateRunning, ""},
		{DomainBlocked, StateSuspended, ""},
		{DomainPaused, StateSuspended, ""},
		{DomainPMSuspended, StateSuspended, ""},
		{DomainShutdown, StateTerminated, ""},
		{DomainShutoff, StateStopped, ""},
		{DomainCrashed, StateError, "Crashed"},
		{DomainNoState, StateUnknown, ""},
		{DomainState(99), StateUnknown, ""},
		{DomainState(-1), StateUnknown, ""},
	}
	for _, c := range cases {
		state, detail := MapDomainState(c.code)
		if state != c.wantState {
			t.Errorf("MapDomainState(%v) = %q, want %q", c.code, state, c.wantState)
		}
		if detail != c.wantDetail {
			t.Errorf("MapDomainState(%v) detail = %q, want %q", c.code, detail, c.wantDetail)
		}
		if c.code != DomainRunning && state == StateRunning {
			t.Errorf("MapDomainState(%v) = running for a non-running code", c.code)
		}
	}
}

func TestDomainStateString(t *testing.T) {
	if DomainShutoff.String() != "shut off" {
		t.Errorf("DomainShutoff = %q", DomainShutoff.String())
	}
	if DomainState(42).String() != "unknown" {
		t.Errorf("out-of-range code = %q, want unknown", DomainState(42).String())
	}
}
