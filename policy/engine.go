// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package policy

import (
	"errors"
	"fmt"
	"slices"
)

// ErrRoleNotFound means a permissions entry or role hint referenced a
// role that does not exist in the document.
var ErrRoleNotFound = errors.New("referenced role not found")

// ErrNoEffectiveRole means neither a permissions entry nor a valid
// role hint determined a role for the agent. There is no implicit
// default role — the caller must remediate the identity, not retry.
var ErrNoEffectiveRole = errors.New("no effective role determinable")

// Error is a hard policy failure. It is always surfaced to the
// caller; it is never folded into an allow or deny decision.
type Error struct {
	AgentID string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("policy: agent %q: %v", e.AgentID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ActionKind discriminates the closed set of policed actions.
type ActionKind int

const (
	// ActionCreateEnvironment creates a sandboxed environment.
	ActionCreateEnvironment ActionKind = iota

	// ActionAttachTerminal attaches a terminal to an environment.
	ActionAttachTerminal

	// ActionExecuteCommand runs a command inside an environment.
	ActionExecuteCommand

	// ActionAccessControlEndpoint calls a named control endpoint.
	ActionAccessControlEndpoint

	// ActionViewLogs reads environment or session logs.
	ActionViewLogs

	// ActionDeleteEnvironment destroys an environment.
	ActionDeleteEnvironment

	// ActionGeneric is a named action with no dedicated variant.
	ActionGeneric
)

// Action is one policed action. Detail carries the variant payload:
// the terminal role for AttachTerminal, the command for
// ExecuteCommand, the endpoint or action name for
// AccessControlEndpoint and Generic.
type Action struct {
	Kind   ActionKind
	Detail string
}

// CreateEnvironment is the environment-creation action.
func CreateEnvironment() Action { return Action{Kind: ActionCreateEnvironment} }

// AttachTerminal is the terminal-attach action for the given terminal role.
func AttachTerminal(terminalRole string) Action {
	return Action{Kind: ActionAttachTerminal, Detail: terminalRole}
}

// ExecuteCommand is the command-execution action.
func ExecuteCommand(command string) Action {
	return Action{Kind: ActionExecuteCommand, Detail: command}
}

// AccessControlEndpoint is the control-endpoint access action.
func AccessControlEndpoint(endpoint string) Action {
	return Action{Kind: ActionAccessControlEndpoint, Detail: endpoint}
}

// ViewLogs is the log-read action.
func ViewLogs() Action { return Action{Kind: ActionViewLogs} }

// DeleteEnvironment is the environment-destroy action.
func DeleteEnvironment() Action { return Action{Kind: ActionDeleteEnvironment} }

// Generic is a named action without a dedicated variant.
func Generic(name string) Action { return Action{Kind: ActionGeneric, Detail: name} }

// String names the action for decision reasons and audit records.
func (a Action) String() string {
	switch a.Kind {
	case ActionCreateEnvironment:
		return "create_environment"
	case ActionAttachTerminal:
		if a.Detail == "" {
			return "attach_terminal"
		}
		return "attach_terminal(" + a.Detail + ")"
	case ActionExecuteCommand:
		return "execute_command"
	case ActionAccessControlEndpoint:
		return "access_control_endpoint(" + a.Detail + ")"
	case ActionViewLogs:
		return "view_logs"
	case ActionDeleteEnvironment:
		return "delete_environment"
	case ActionGeneric:
		return "generic(" + a.Detail + ")"
	default:
		return fmt.Sprintf("unknown_action(%d)", int(a.Kind))
	}
}

// VMPolicyContext narrows a decision to a specific environment. An
// untrusted environment with a non-empty allowed-agents list admits
// only the agents on that list, regardless of role capabilities.
type VMPolicyContext struct {
	IsTrusted     bool
	AllowedAgents []string
}

// AuthRequest asks whether an agent may perform an action.
type AuthRequest struct {
	AgentID string

	// RoleHint is consulted only when the agent has no permissions
	// entry. It must name a defined role.
	RoleHint string

	Action Action

	// ResourceID identifies the environment acted on, when relevant.
	ResourceID string

	// VMContext carries per-environment restrictions, when relevant.
	VMContext *VMPolicyContext
}

// AuthDecision is the structured outcome of a permission check.
type AuthDecision struct {
	Allowed bool

	// Reason names the rule that fired, for humans and audit records.
	Reason string

	// EffectiveRole is the role name the decision was made under. For
	// overridden agents this is the base role's name, preserving
	// audit traceability to the nominal role.
	EffectiveRole string

	// ShouldAudit marks the decision for the audit ledger.
	ShouldAudit bool
}

// Engine evaluates requests against a policy store. The zero value is
// not usable; construct with NewEngine.
//
// Evaluation is pure computation — it never blocks and never performs
// I/O, so it is safe to call from any goroutine including the control
// plane's interactive loop.
type Engine struct {
	handle *Handle
}

// NewEngine returns an Engine evaluating against the given store.
func NewEngine(store *Store) *Engine {
	return &Engine{handle: NewHandle(store)}
}

// Store returns the store currently in effect.
func (e *Engine) Store() *Store {
	return e.handle.Current()
}

// Reload swaps in a new validated store. Decisions in flight keep the
// store they started with.
func (e *Engine) Reload(store *Store) {
	e.handle.Swap(store)
}

// Resolve determines the effective role for an agent.
//
// Resolution order:
//  1. A permissions entry for the agent: start from its role's base
//     definition, apply the sparse override patch, and return the
//     base role's name (not a synthetic name) with the patched
//     definition.
//  2. A role hint naming a defined role: returned verbatim.
//  3. Otherwise: *Error wrapping ErrNoEffectiveRole.
func (e *Engine) Resolve(agentID, roleHint string) (string, RoleDefinition, error) {
	store := e.handle.Current()

	if override, ok := store.Override(agentID); ok {
		base, ok := store.Role(override.Role)
		if !ok {
			// Unreachable for documents that passed validation, but a
			// reloaded store must not silently default here either.
			return "", RoleDefinition{}, &Error{
				AgentID: agentID,
				Err:     fmt.Errorf("override role %q: %w", override.Role, ErrRoleNotFound),
			}
		}
		return override.Role, override.Override.Apply(base), nil
	}

	if roleHint != "" {
		if def, ok := store.Role(roleHint); ok {
			return roleHint, def, nil
		}
		return "", RoleDefinition{}, &Error{
			AgentID: agentID,
			Err:     fmt.Errorf("role hint %q: %w", roleHint, ErrRoleNotFound),
		}
	}

	return "", RoleDefinition{}, &Error{AgentID: agentID, Err: ErrNoEffectiveRole}
}

// Check evaluates a permission request. The only error path is role
// resolution failure; every governed evaluation returns a structured
// decision and never raises.
func (e *Engine) Check(request AuthRequest) (AuthDecision, error) {
	roleName, def, err := e.Resolve(request.AgentID, request.RoleHint)
	if err != nil {
		return AuthDecision{}, err
	}

	var allowed bool
	var reason string

	switch request.Action.Kind {
	case ActionCreateEnvironment:
		allowed = def.CanCreate
		if allowed {
			reason = fmt.Sprintf("role %q grants can_create", roleName)
		} else {
			reason = fmt.Sprintf("role %q has can_create=false", roleName)
		}
	case ActionAttachTerminal:
		allowed = def.CanAttachTerminal
		if allowed {
			reason = fmt.Sprintf("role %q grants can_attach_terminal", roleName)
		} else {
			reason = fmt.Sprintf("role %q has can_attach_terminal=false", roleName)
		}
	default:
		// No dedicated rule governs this action yet. "Not yet
		// specified" is never "allowed".
		allowed = false
		reason = fmt.Sprintf("action %s has no governing rule for role %q; denied by default",
			request.Action, roleName)
	}

	// Per-environment narrowing: an untrusted environment with an
	// allowed-agents list admits only listed agents. Evaluated after
	// the capability check so the reason names the narrower rule.
	if allowed && request.VMContext != nil {
		vctx := request.VMContext
		if !vctx.IsTrusted && len(vctx.AllowedAgents) > 0 && !slices.Contains(vctx.AllowedAgents, request.AgentID) {
			allowed = false
			reason = fmt.Sprintf("agent %q is not in the allowed_agents list of resource %q",
				request.AgentID, request.ResourceID)
		}
	}

	return AuthDecision{
		Allowed:       allowed,
		Reason:        reason,
		EffectiveRole: roleName,
		ShouldAudit:   e.shouldAudit(roleName, def, allowed),
	}, nil
}

// shouldAudit implements the audit-worthiness rule: a decision is
// recorded when denials are logged and this one was denied, when the
// effective role is in the approved-logging list and it was allowed,
// or when the resolved role definition itself is marked audited.
func (e *Engine) shouldAudit(roleName string, def RoleDefinition, allowed bool) bool {
	settings := e.handle.Current().Audit()
	if settings.LogDeniedEnabled() && !allowed {
		return true
	}
	if allowed && slices.Contains(settings.LogApprovedForRoles, roleName) {
		return true
	}
	return def.Audited
}
