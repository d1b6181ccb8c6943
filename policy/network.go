// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"fmt"
	"path"
)

// EvaluateNetwork decides whether a session of the given type may
// reach target ("host" or "host:port").
//
// Precedence, first match wins:
//  1. The session type's ordered network_access rules. The first rule
//     matching the target governs.
//  2. The session type's allow_all_network flag, if set.
//  3. The global default_network_access_policy, deny if unset.
//
// This ordered fallback is how a narrowly-scoped sandbox is
// selectively opened without weakening the global default, so its
// order is load-bearing. The returned reason names the level that
// fired.
func (e *Engine) EvaluateNetwork(sessionType, target string) (bool, string) {
	store := e.handle.Current()

	stp, ok := store.SessionTypePolicy(sessionType)
	if ok {
		for i, rule := range stp.NetworkAccess {
			if !rule.matches(target) {
				continue
			}
			return rule.Allow, fmt.Sprintf(
				"session type %q network_access rule %d (%s) %s target %q",
				sessionType, i, rule.describeTarget(), verdict(rule.Allow), target)
		}
		if stp.AllowAllNetwork != nil {
			return *stp.AllowAllNetwork, fmt.Sprintf(
				"session type %q allow_all_network=%v", sessionType, *stp.AllowAllNetwork)
		}
	}

	allow := store.DefaultNetworkAccess()
	return allow, fmt.Sprintf("default_network_access_policy=%v", allow)
}

// matches reports whether the rule applies to target. An empty rule
// target matches everything; otherwise the rule target is a glob over
// the full "host" or "host:port" string.
func (r NetworkRule) matches(target string) bool {
	if r.Target == "" {
		return true
	}
	matched, err := path.Match(r.Target, target)
	if err != nil {
		// A malformed glob matches nothing; it must not widen access.
		return false
	}
	return matched
}

func (r NetworkRule) describeTarget() string {
	if r.Target == "" {
		return "any target"
	}
	return fmt.Sprintf("target %q", r.Target)
}

func verdict(allow bool) string {
	if allow {
		return "allows"
	}
	return "denies"
}
