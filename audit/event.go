// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import "time"

// EventType identifies the category of an audit event. The set is
// closed: the ledger rejects events whose type it does not know, so a
// typo cannot silently create a new category.
type EventType string

const (
	// EventLifecycle records an environment lifecycle transition
	// (created, destroyed, resumed, state change).
	EventLifecycle EventType = "lifecycle"

	// EventPolicyDecision records the outcome of a policy check,
	// allowed or denied.
	EventPolicyDecision EventType = "policy_decision"

	// EventPolicyViolation records a policy check that could not be
	// completed: an unresolvable role, a missing referenced role.
	EventPolicyViolation EventType = "policy_violation"

	// EventSessionStart and EventSessionEnd bracket a recorded
	// session.
	EventSessionStart EventType = "session_start"
	EventSessionEnd   EventType = "session_end"

	// EventAuthFailure records a failed authentication or
	// authorization attempt.
	EventAuthFailure EventType = "auth_failure"

	// EventAnomaly records behavior flagged as suspicious by a
	// monitoring layer.
	EventAnomaly EventType = "anomaly"

	// EventCommand, EventFilesystem, and EventNetwork record
	// individual actions observed inside a recorded session.
	EventCommand    EventType = "command"
	EventFilesystem EventType = "filesystem"
	EventNetwork    EventType = "network"
)

// Valid reports whether t is a member of the closed event type set.
func (t EventType) Valid() bool {
	switch t {
	case EventLifecycle, EventPolicyDecision, EventPolicyViolation,
		EventSessionStart, EventSessionEnd, EventAuthFailure,
		EventAnomaly, EventCommand, EventFilesystem, EventNetwork:
		return true
	default:
		return false
	}
}

// RiskLevel grades an event's security relevance.
type RiskLevel string

const (
	RiskInfo     RiskLevel = "info"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Event is one audit record. On the chained ledger stream PrevHash is
// filled in by the writer; category logs leave it empty.
//
// Once appended, a record's serialized bytes and its position are
// immutable: the ledger is write-once, read-many.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Type      EventType      `json:"event_type"`
	Details   map[string]any `json:"details,omitempty"`
	RiskLevel RiskLevel      `json:"risk_level,omitempty"`
	PrevHash  string         `json:"prev_hash,omitempty"`
}
