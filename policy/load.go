// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/jsonc"
)

// ConfigError reports a malformed policy document. It is fatal to
// startup: Warden never runs with a policy it could not fully
// validate.
type ConfigError struct {
	// Key is the document key the error concerns ("permissions.agent::a1").
	Key string
	// Reason says what is wrong with it.
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("policy document: %s: %s", e.Key, e.Reason)
}

// Load reads, parses, and validates the policy document at path.
func Load(path string) (*Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy document: %w", err)
	}
	store, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("policy document %s: %w", path, err)
	}
	return store, nil
}

// Parse strips JSONC comments and trailing commas from data, then
// unmarshals and validates the result. The input format is JSON
// extended with // line comments, /* block comments */, and trailing
// commas, since policy documents are operator-authored.
func Parse(data []byte) (*Store, error) {
	stripped := jsonc.ToJSON(data)

	var doc Document
	decoder := json.NewDecoder(strings.NewReader(string(stripped)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing: %w", err)
	}

	if err := validate(&doc); err != nil {
		return nil, err
	}

	redact, err := compileRedactPatterns(doc.Recording.RedactPatterns)
	if err != nil {
		return nil, err
	}

	return &Store{doc: doc, redact: redact}, nil
}

// validate checks every cross-reference in the document. A role
// referenced anywhere must exist in roles — a dangling reference is a
// load-time error, never a silent default.
func validate(doc *Document) error {
	for key, override := range doc.Permissions {
		if !strings.HasPrefix(key, agentKeyPrefix) {
			return &ConfigError{
				Key:    "permissions." + key,
				Reason: fmt.Sprintf("key must start with %q", agentKeyPrefix),
			}
		}
		if override.Role == "" {
			return &ConfigError{Key: "permissions." + key, Reason: "role is required"}
		}
		if _, ok := doc.Roles[override.Role]; !ok {
			return &ConfigError{
				Key:    "permissions." + key,
				Reason: fmt.Sprintf("references undefined role %q", override.Role),
			}
		}
	}

	for _, role := range doc.Audit.LogApprovedForRoles {
		if _, ok := doc.Roles[role]; !ok {
			return &ConfigError{
				Key:    "audit.log_approved_for_roles",
				Reason: fmt.Sprintf("references undefined role %q", role),
			}
		}
	}

	for _, role := range doc.Recording.RecordForRoles {
		if _, ok := doc.Roles[role]; !ok {
			return &ConfigError{
				Key:    "recording.record_for_roles",
				Reason: fmt.Sprintf("references undefined role %q", role),
			}
		}
	}

	return nil
}

// compileRedactPatterns compiles recording.redact_patterns at load
// time so a bad pattern fails startup instead of a live session.
func compileRedactPatterns(patterns []string) ([]*regexp.Regexp, error) {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, &ConfigError{
				Key:    "recording.redact_patterns",
				Reason: fmt.Sprintf("invalid pattern %q: %v", pattern, err),
			}
		}
		compiled = append(compiled, re)
	}
	return compiled, nil
}

// Store holds a validated, immutable policy document. Safe for
// concurrent readers. Policy reload is a whole-store swap behind
// [Handle], never in-place mutation.
type Store struct {
	doc    Document
	redact []*regexp.Regexp
}

// Role returns the definition for a role name.
func (s *Store) Role(name string) (RoleDefinition, bool) {
	def, ok := s.doc.Roles[name]
	return def, ok
}

// RoleNames returns all defined role names, sorted.
func (s *Store) RoleNames() []string {
	names := make([]string, 0, len(s.doc.Roles))
	for name := range s.doc.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Override returns the per-agent override for an agent ID, if any.
func (s *Store) Override(agentID string) (AgentOverride, bool) {
	override, ok := s.doc.Permissions[AgentKey(agentID)]
	return override, ok
}

// Audit returns the audit settings.
func (s *Store) Audit() AuditSettings {
	return s.doc.Audit
}

// VMDefaults returns the default VM resource limits.
func (s *Store) VMDefaults() ResourceLimits {
	return s.doc.Defaults.VM
}

// Recording returns the recording policy.
func (s *Store) Recording() RecordingPolicy {
	return s.doc.Recording
}

// RedactPatterns returns the compiled recording redaction patterns.
func (s *Store) RedactPatterns() []*regexp.Regexp {
	return s.redact
}

// SessionTypePolicy returns the network policy for a session type.
func (s *Store) SessionTypePolicy(sessionType string) (SessionTypePolicy, bool) {
	stp, ok := s.doc.SessionTypePolicies[sessionType]
	return stp, ok
}

// DefaultNetworkAccess returns the global network fallback (deny when
// unset).
func (s *Store) DefaultNetworkAccess() bool {
	return s.doc.DefaultNetworkAccess != nil && *s.doc.DefaultNetworkAccess
}

// Handle is a swappable reference to the current Store. Reload
// replaces the whole store atomically; readers holding the previous
// store keep a consistent view for the decision in flight.
type Handle struct {
	mu    sync.RWMutex
	store *Store
}

// NewHandle wraps an initial store.
func NewHandle(store *Store) *Handle {
	return &Handle{store: store}
}

// Current returns the store in effect.
func (h *Handle) Current() *Store {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.store
}

// Swap installs a new store and returns the previous one.
func (h *Handle) Swap(store *Store) *Store {
	h.mu.Lock()
	defer h.mu.Unlock()
	previous := h.store
	h.store = store
	return previous
}
