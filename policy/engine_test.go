// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"errors"
	"strings"
	"testing"
)

// testEngine builds an engine over a standard scenario:
//
//   - role "sandboxed": cannot create, can attach, audited
//   - role "operator": full capabilities, not audited
//   - agent "a1": sandboxed base with can_create patched to true
//   - agent "a2": operator, no patch
//   - denied decisions are logged; approved operator decisions are logged
func testEngine(t *testing.T) *Engine {
	t.Helper()
	store, err := Parse([]byte(`{
		"roles": {
			"sandboxed": {"can_create": false, "can_attach_terminal": true, "audited": true},
			"operator": {"can_create": true, "can_attach_terminal": true, "audited": false}
		},
		"permissions": {
			"agent::a1": {"role": "sandboxed", "override": {"can_create": true}},
			"agent::a2": {"role": "operator"}
		},
		"audit": {
			"log_denied": true,
			"log_approved_for_roles": ["operator"]
		}
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return NewEngine(store)
}

func TestResolveOverrideKeepsBaseRoleName(t *testing.T) {
	engine := testEngine(t)

	name, def, err := engine.Resolve("a1", "")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// The returned name is the nominal base role, not a synthetic one.
	if name != "sandboxed" {
		t.Errorf("effective role name = %q, want sandboxed", name)
	}
	// Patched field reflects the override; unset fields inherit.
	if !def.CanCreate {
		t.Error("can_create = false, want patched true")
	}
	if !def.CanAttachTerminal {
		t.Error("can_attach_terminal = false, want inherited true")
	}
	if !def.Audited {
		t.Error("audited = false, want inherited true")
	}
}

func TestResolveHintVerbatim(t *testing.T) {
	engine := testEngine(t)

	name, def, err := engine.Resolve("unlisted", "operator")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if name != "operator" {
		t.Errorf("effective role name = %q, want operator", name)
	}
	if !def.CanCreate || !def.CanAttachTerminal || def.Audited {
		t.Errorf("definition = %+v, want operator base unmodified", def)
	}
}

func TestResolveOverrideBeatsHint(t *testing.T) {
	engine := testEngine(t)

	// a1 has a permissions entry; the hint must be ignored.
	name, _, err := engine.Resolve("a1", "operator")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if name != "sandboxed" {
		t.Errorf("effective role name = %q, want sandboxed from override", name)
	}
}

func TestResolveUnknownHintFails(t *testing.T) {
	engine := testEngine(t)

	_, _, err := engine.Resolve("unlisted", "ghost")
	if !errors.Is(err, ErrRoleNotFound) {
		t.Fatalf("err = %v, want ErrRoleNotFound", err)
	}
	var policyErr *Error
	if !errors.As(err, &policyErr) {
		t.Fatalf("err = %T, want *Error", err)
	}
	if policyErr.AgentID != "unlisted" {
		t.Errorf("error agent = %q", policyErr.AgentID)
	}
}

func TestResolveNoIdentityFails(t *testing.T) {
	engine := testEngine(t)

	_, _, err := engine.Resolve("unlisted", "")
	if !errors.Is(err, ErrNoEffectiveRole) {
		t.Fatalf("err = %v, want ErrNoEffectiveRole", err)
	}
}

func TestCheckUnresolvableAgentReturnsErrorNotDecision(t *testing.T) {
	engine := testEngine(t)

	decision, err := engine.Check(AuthRequest{AgentID: "unlisted", Action: CreateEnvironment()})
	if err == nil {
		t.Fatalf("want policy error, got decision %+v", decision)
	}
}

// End-to-end scenario: the override flips can_create for a1, the base
// role's audited flag still forces the decision into the ledger.
func TestCheckOverrideScenario(t *testing.T) {
	engine := testEngine(t)

	decision, err := engine.Check(AuthRequest{AgentID: "a1", Action: CreateEnvironment()})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("allowed = false, want true (patched can_create)")
	}
	if decision.EffectiveRole != "sandboxed" {
		t.Errorf("effective role = %q, want sandboxed", decision.EffectiveRole)
	}
	if !decision.ShouldAudit {
		t.Error("should_audit = false, want true (role is audited)")
	}
	if decision.Reason == "" {
		t.Error("reason is empty")
	}
}

func TestCheckDeniedCarriesReason(t *testing.T) {
	engine := testEngine(t)

	decision, err := engine.Check(AuthRequest{
		AgentID: "anonymous", RoleHint: "sandboxed", Action: CreateEnvironment(),
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if decision.Allowed {
		t.Error("allowed = true, want false (sandboxed cannot create)")
	}
	if !strings.Contains(decision.Reason, "can_create") {
		t.Errorf("reason = %q, want the deciding rule named", decision.Reason)
	}
}

func TestCheckUngovernedActionsDenyByDefault(t *testing.T) {
	engine := testEngine(t)

	// Even the most privileged role gets denied for actions without a
	// governing rule.
	actions := []Action{
		ExecuteCommand("ls"),
		AccessControlEndpoint("snapshots"),
		ViewLogs(),
		DeleteEnvironment(),
		Generic("export_disk"),
	}
	for _, action := range actions {
		decision, err := engine.Check(AuthRequest{AgentID: "a2", Action: action})
		if err != nil {
			t.Fatalf("Check(%s): %v", action, err)
		}
		if decision.Allowed {
			t.Errorf("%s: allowed = true, want deny-by-default", action)
		}
		if !strings.Contains(decision.Reason, "no governing rule") {
			t.Errorf("%s: reason = %q", action, decision.Reason)
		}
	}
}

// should_audit is true whenever the role's audited flag is true,
// regardless of the allow/deny outcome.
func TestShouldAuditFollowsRoleFlag(t *testing.T) {
	store, err := Parse([]byte(`{
		"roles": {"watched": {"can_create": false, "audited": true}},
		"audit": {"log_denied": false}
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	engine := NewEngine(store)

	decision, err := engine.Check(AuthRequest{
		AgentID: "x", RoleHint: "watched", Action: CreateEnvironment(),
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if decision.Allowed {
		t.Error("allowed = true, want false")
	}
	if !decision.ShouldAudit {
		t.Error("should_audit = false, want true from the role's audited flag")
	}
}

func TestShouldAuditLogDeniedDefaultsTrue(t *testing.T) {
	store, err := Parse([]byte(`{
		"roles": {"quiet": {"can_create": false}}
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	engine := NewEngine(store)

	decision, err := engine.Check(AuthRequest{
		AgentID: "x", RoleHint: "quiet", Action: CreateEnvironment(),
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !decision.ShouldAudit {
		t.Error("should_audit = false, want true (log_denied defaults to true)")
	}
}

func TestShouldAuditApprovedRoleList(t *testing.T) {
	engine := testEngine(t)

	decision, err := engine.Check(AuthRequest{AgentID: "a2", Action: CreateEnvironment()})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !decision.Allowed {
		t.Fatal("allowed = false, want true")
	}
	if !decision.ShouldAudit {
		t.Error("should_audit = false, want true (operator in log_approved_for_roles)")
	}
}

func TestCheckVMContextNarrowing(t *testing.T) {
	engine := testEngine(t)

	// Untrusted environment with an allowed-agents list that excludes a2.
	decision, err := engine.Check(AuthRequest{
		AgentID:    "a2",
		Action:     AttachTerminal("observer"),
		ResourceID: "vm-7",
		VMContext:  &VMPolicyContext{IsTrusted: false, AllowedAgents: []string{"a1"}},
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if decision.Allowed {
		t.Error("allowed = true, want false (not in allowed_agents)")
	}
	if !strings.Contains(decision.Reason, "allowed_agents") {
		t.Errorf("reason = %q, want the narrowing rule named", decision.Reason)
	}

	// A trusted environment does not narrow.
	decision, err = engine.Check(AuthRequest{
		AgentID:   "a2",
		Action:    AttachTerminal("observer"),
		VMContext: &VMPolicyContext{IsTrusted: true, AllowedAgents: []string{"a1"}},
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !decision.Allowed {
		t.Error("allowed = false, want true (trusted environment)")
	}

	// A listed agent passes the narrowing check.
	decision, err = engine.Check(AuthRequest{
		AgentID:   "a1",
		Action:    AttachTerminal("observer"),
		VMContext: &VMPolicyContext{IsTrusted: false, AllowedAgents: []string{"a1"}},
	})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !decision.Allowed {
		t.Errorf("allowed = false, want true (listed agent): %s", decision.Reason)
	}
}
