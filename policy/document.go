// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package policy

// agentKeyPrefix namespaces agent entries in the permissions map so
// the same map can later hold other principal kinds without ambiguity.
const agentKeyPrefix = "agent::"

// AgentKey returns the permissions-map key for an agent ID.
func AgentKey(agentID string) string {
	return agentKeyPrefix + agentID
}

// Document is the parsed policy document. It is plain validated data;
// all behavior lives in Engine.
type Document struct {
	// Roles defines the named capability sets agents can hold.
	Roles map[string]RoleDefinition `json:"roles"`

	// Permissions maps principal keys ("agent::<id>") to per-agent
	// role assignments and sparse capability overrides.
	Permissions map[string]AgentOverride `json:"permissions"`

	// Audit controls which decisions are recorded in the ledger.
	Audit AuditSettings `json:"audit"`

	// Defaults holds resource limits applied to create requests that
	// omit explicit values.
	Defaults Defaults `json:"defaults"`

	// Recording controls session transcript capture.
	Recording RecordingPolicy `json:"recording"`

	// DefaultNetworkAccess is the global network fallback. Unset
	// means deny.
	DefaultNetworkAccess *bool `json:"default_network_access_policy"`

	// SessionTypePolicies holds per-session-type network rules.
	SessionTypePolicies map[string]SessionTypePolicy `json:"session_type_policies"`
}

// RoleDefinition is a named capability set. The decision algorithm
// treats any action not covered by these booleans as deny-by-default.
type RoleDefinition struct {
	CanCreate         bool `json:"can_create"`
	CanAttachTerminal bool `json:"can_attach_terminal"`

	// Audited forces every decision resolved to this role into the
	// audit ledger, allowed or denied.
	Audited bool `json:"audited"`
}

// AgentOverride assigns an agent a base role plus an optional sparse
// patch over that role's capabilities.
type AgentOverride struct {
	// Role names the base role. Must exist in Document.Roles.
	Role string `json:"role"`

	// Override, when present, patches individual capabilities.
	Override *OverrideSettings `json:"override,omitempty"`
}

// OverrideSettings is a field-level patch over a RoleDefinition. A nil
// field preserves the base role's value; a non-nil field replaces it.
// This is deliberately not a partial RoleDefinition: "unset means
// inherit" must stay unambiguous.
type OverrideSettings struct {
	CanCreate         *bool `json:"can_create,omitempty"`
	CanAttachTerminal *bool `json:"can_attach_terminal,omitempty"`
	Audited           *bool `json:"audited,omitempty"`
}

// Apply patches the base definition, returning the effective one.
func (o *OverrideSettings) Apply(base RoleDefinition) RoleDefinition {
	if o == nil {
		return base
	}
	effective := base
	if o.CanCreate != nil {
		effective.CanCreate = *o.CanCreate
	}
	if o.CanAttachTerminal != nil {
		effective.CanAttachTerminal = *o.CanAttachTerminal
	}
	if o.Audited != nil {
		effective.Audited = *o.Audited
	}
	return effective
}

// AuditSettings controls decision recording.
type AuditSettings struct {
	// LogDenied records every denied decision. Unset means true.
	LogDenied *bool `json:"log_denied"`

	// LogApprovedForRoles records allowed decisions whose effective
	// role appears in this list.
	LogApprovedForRoles []string `json:"log_approved_for_roles"`

	// LogPath overrides the default audit ledger location.
	LogPath string `json:"log_path,omitempty"`
}

// LogDeniedEnabled returns the effective log_denied value.
func (a AuditSettings) LogDeniedEnabled() bool {
	return a.LogDenied == nil || *a.LogDenied
}

// Defaults groups default resource limits.
type Defaults struct {
	VM ResourceLimits `json:"vm"`
}

// ResourceLimits bounds what a create request may ask for.
type ResourceLimits struct {
	CPULimit  int `json:"cpu_limit"`
	RAMLimit  int `json:"ram_limit"`  // MB
	DiskLimit int `json:"disk_limit"` // GB

	// Networking grants a network interface by default.
	Networking bool `json:"networking"`
}

// RecordingPolicy controls session transcript capture.
type RecordingPolicy struct {
	// RecordForRoles lists effective roles whose sessions are
	// recorded.
	RecordForRoles []string `json:"record_for_roles"`

	// IncludeModelDialog includes agent/model exchanges in the
	// transcript. Unset means true.
	IncludeModelDialog *bool `json:"include_model_dialog"`

	// LogDir overrides the default recordings directory.
	LogDir string `json:"log_dir,omitempty"`

	// RedactPatterns are regular expressions whose matches are
	// replaced before a transcript byte is persisted.
	RedactPatterns []string `json:"redact_patterns"`

	// EncryptRecipients are age recipient strings. When non-empty,
	// recordings are encrypted at rest to these recipients.
	EncryptRecipients []string `json:"encrypt_recipients"`
}

// IncludeModelDialogEnabled returns the effective include_model_dialog value.
func (r RecordingPolicy) IncludeModelDialogEnabled() bool {
	return r.IncludeModelDialog == nil || *r.IncludeModelDialog
}

// SessionTypePolicy holds network-access rules for one session type.
type SessionTypePolicy struct {
	// NetworkAccess is an ordered rule list; the first rule matching
	// a target governs.
	NetworkAccess []NetworkRule `json:"network_access"`

	// AllowAllNetwork, when set, governs targets no explicit rule
	// matched. Unset falls through to the global default.
	AllowAllNetwork *bool `json:"allow_all_network"`
}

// NetworkRule is one ordered network-access rule.
type NetworkRule struct {
	// Allow is the verdict when this rule matches.
	Allow bool `json:"allow"`

	// Target is a glob over "host" or "host:port" ("*.internal",
	// "10.0.0.*:443"). Empty matches every target.
	Target string `json:"target,omitempty"`
}
