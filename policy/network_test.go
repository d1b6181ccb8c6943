// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"strings"
	"testing"
)

func networkEngine(t *testing.T, document string) *Engine {
	t.Helper()
	store, err := Parse([]byte(document))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return NewEngine(store)
}

// A specific rule overrides a permissive global default.
func TestEvaluateNetworkSpecificRuleBeatsDefault(t *testing.T) {
	engine := networkEngine(t, `{
		"roles": {},
		"default_network_access_policy": true,
		"session_type_policies": {
			"isolated": {"network_access": [{"allow": false}]}
		}
	}`)

	allow, reason := engine.EvaluateNetwork("isolated", "example.com:443")
	if allow {
		t.Errorf("allow = true, want false (explicit rule): %s", reason)
	}
	if !strings.Contains(reason, "rule 0") {
		t.Errorf("reason = %q, want the firing rule named", reason)
	}
}

func TestEvaluateNetworkFirstMatchWins(t *testing.T) {
	engine := networkEngine(t, `{
		"roles": {},
		"session_type_policies": {
			"research": {"network_access": [
				{"allow": true, "target": "*.internal"},
				{"allow": false}
			]}
		}
	}`)

	allow, _ := engine.EvaluateNetwork("research", "cache.internal")
	if !allow {
		t.Error("cache.internal: allow = false, want first rule to fire")
	}

	allow, _ = engine.EvaluateNetwork("research", "example.com")
	if allow {
		t.Error("example.com: allow = true, want catch-all deny")
	}
}

func TestEvaluateNetworkAllowAllFallback(t *testing.T) {
	engine := networkEngine(t, `{
		"roles": {},
		"default_network_access_policy": false,
		"session_type_policies": {
			"open": {
				"network_access": [{"allow": false, "target": "*.blocked"}],
				"allow_all_network": true
			}
		}
	}`)

	// No rule matches: the session type's allow_all governs.
	allow, reason := engine.EvaluateNetwork("open", "example.com")
	if !allow {
		t.Errorf("allow = false, want allow_all_network: %s", reason)
	}

	// A matching rule still wins over allow_all.
	allow, _ = engine.EvaluateNetwork("open", "ads.blocked")
	if allow {
		t.Error("ads.blocked: allow = true, want rule deny")
	}
}

func TestEvaluateNetworkGlobalDefault(t *testing.T) {
	engine := networkEngine(t, `{
		"roles": {},
		"default_network_access_policy": true
	}`)

	allow, reason := engine.EvaluateNetwork("unknown-type", "example.com")
	if !allow {
		t.Errorf("allow = false, want global default: %s", reason)
	}
}

// The global default is deny when unset.
func TestEvaluateNetworkUnsetDefaultDenies(t *testing.T) {
	engine := networkEngine(t, `{"roles": {}}`)

	allow, reason := engine.EvaluateNetwork("any", "example.com")
	if allow {
		t.Errorf("allow = true, want deny when default unset: %s", reason)
	}
	if !strings.Contains(reason, "default_network_access_policy") {
		t.Errorf("reason = %q", reason)
	}
}

func TestEvaluateNetworkMalformedGlobMatchesNothing(t *testing.T) {
	engine := networkEngine(t, `{
		"roles": {},
		"session_type_policies": {
			"s": {"network_access": [{"allow": true, "target": "[unclosed"}]}
		}
	}`)

	// The malformed glob must not widen access; fall to default deny.
	allow, _ := engine.EvaluateNetwork("s", "example.com")
	if allow {
		t.Error("allow = true, want malformed glob to match nothing")
	}
}
