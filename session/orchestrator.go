// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"github.com/warden-foundation/warden/audit"
	"github.com/warden-foundation/warden/lib/clock"
	"github.com/warden-foundation/warden/policy"
	"github.com/warden-foundation/warden/vm"
)

// ErrResourceLimit means a create request exceeded the policy
// document's resource caps.
var ErrResourceLimit = errors.New("resource limit exceeded")

// DeniedError is an authorization denial. It always carries the
// human-readable reason naming the rule that fired.
type DeniedError struct {
	Action        policy.Action
	EffectiveRole string
	Reason        string
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("action %s denied: %s", e.Action, e.Reason)
}

// Identity names the principal behind a request.
type Identity struct {
	// AgentID identifies a policed agent.
	AgentID string

	// RoleHint is consulted only when the agent has no permissions
	// entry.
	RoleHint string

	// SessionID groups this request's audit records. Optional.
	SessionID string

	// Operator marks the local operator acting through the CLI
	// rather than a policed agent. Operator calls skip capability
	// checks — the operator owns the policy file — but every call is
	// still audited under the "operator" role.
	Operator bool
}

// Config holds the parameters for creating an Orchestrator. Engine,
// Driver, and Logs are required.
type Config struct {
	Engine *policy.Engine
	Driver *vm.Driver
	Logs   *audit.Logs
	Clock  clock.Clock
	Logger *slog.Logger
}

// Orchestrator runs every lifecycle request through the same
// pipeline: authorize, record the decision, act, record the outcome.
// The decision always reaches the ledger before the side effect it
// gated.
type Orchestrator struct {
	engine *policy.Engine
	driver *vm.Driver
	logs   *audit.Logs
	clk    clock.Clock
	logger *slog.Logger
	locks  *instanceLocks
}

// New returns an Orchestrator.
func New(config Config) (*Orchestrator, error) {
	if config.Engine == nil || config.Driver == nil || config.Logs == nil {
		return nil, fmt.Errorf("session: Engine, Driver, and Logs are required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		engine: config.Engine,
		driver: config.Driver,
		logs:   config.Logs,
		clk:    config.Clock,
		logger: config.Logger,
		locks:  newInstanceLocks(),
	}, nil
}

// CreateEnvironment provisions a new environment for the identity.
func (o *Orchestrator) CreateEnvironment(ctx context.Context, id Identity, request vm.CreateRequest) (*vm.Environment, error) {
	unlock := o.locks.lock(request.InstanceID)
	defer unlock()

	if _, err := o.authorize(ctx, id, policy.CreateEnvironment(), request.InstanceID, nil); err != nil {
		return nil, err
	}
	if err := o.enforceLimits(request); err != nil {
		return nil, err
	}

	env, err := o.driver.Create(ctx, request)
	o.auditLifecycle(ctx, id, request.InstanceID, "create", err, map[string]any{
		"cpu_cores": request.CPUCores,
		"memory_mb": request.MemoryMB,
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// DestroyEnvironment tears an environment down. A failed destroy is
// surfaced, never swallowed.
func (o *Orchestrator) DestroyEnvironment(ctx context.Context, id Identity, instanceID string) error {
	unlock := o.locks.lock(instanceID)
	defer unlock()

	if _, err := o.authorize(ctx, id, policy.DeleteEnvironment(), instanceID, nil); err != nil {
		return err
	}

	err := o.driver.Destroy(ctx, instanceID)
	o.auditLifecycle(ctx, id, instanceID, "destroy", err, nil)
	return err
}

// ResumeEnvironment wakes a suspended environment or cold-boots a
// stopped one.
func (o *Orchestrator) ResumeEnvironment(ctx context.Context, id Identity, instanceID string) (*vm.Environment, error) {
	unlock := o.locks.lock(instanceID)
	defer unlock()

	if _, err := o.authorize(ctx, id, policy.Generic("resume_environment"), instanceID, nil); err != nil {
		return nil, err
	}

	env, err := o.driver.Resume(ctx, instanceID)
	o.auditLifecycle(ctx, id, instanceID, "resume", err, nil)
	if err != nil {
		return nil, err
	}
	return env, nil
}

// Session is one authorized terminal attachment. Recorder is non-nil
// when the effective role is marked for recording.
type Session struct {
	ID         string
	AgentID    string
	Role       string
	InstanceID string
	Recorder   *Recorder

	orchestrator *Orchestrator
	identity     Identity
}

// AttachTerminal authorizes a terminal attachment and, when policy
// requires it, starts a recording under logs/sessions/<session-id>/.
func (o *Orchestrator) AttachTerminal(ctx context.Context, id Identity, instanceID, terminalRole string, vmctx *policy.VMPolicyContext) (*Session, error) {
	decision, err := o.authorize(ctx, id, policy.AttachTerminal(terminalRole), instanceID, vmctx)
	if err != nil {
		return nil, err
	}

	sessionID := id.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	id.SessionID = sessionID

	session := &Session{
		ID:           sessionID,
		AgentID:      id.AgentID,
		Role:         decision.EffectiveRole,
		InstanceID:   instanceID,
		orchestrator: o,
		identity:     id,
	}

	store := o.engine.Store()
	recording := store.Recording()
	if slices.Contains(recording.RecordForRoles, decision.EffectiveRole) {
		recorder, err := NewRecorder(RecorderConfig{
			SessionID:  sessionID,
			Dir:        o.logs.Layout().SessionDir(sessionID),
			Redact:     store.RedactPatterns(),
			Recipients: recording.EncryptRecipients,
		})
		if err != nil {
			return nil, fmt.Errorf("starting session recording: %w", err)
		}
		session.Recorder = recorder
	}

	o.appendLedger(ctx, audit.Event{
		SessionID: sessionID,
		AgentID:   id.AgentID,
		Type:      audit.EventSessionStart,
		RiskLevel: audit.RiskInfo,
		Details: map[string]any{
			"instance_id":   instanceID,
			"terminal_role": terminalRole,
			"role":          decision.EffectiveRole,
			"recorded":      session.Recorder != nil,
		},
	})
	return session, nil
}

// Close ends the session: the recording is flushed and a metadata
// entry lands in the sessions category log.
func (s *Session) Close(ctx context.Context) error {
	o := s.orchestrator

	var recordingPath string
	var recorded int64
	var closeErr error
	if s.Recorder != nil {
		recordingPath = s.Recorder.Path()
		recorded = s.Recorder.BytesRecorded()
		closeErr = s.Recorder.Close()
	}

	o.appendLedger(ctx, audit.Event{
		SessionID: s.ID,
		AgentID:   s.AgentID,
		Type:      audit.EventSessionEnd,
		RiskLevel: audit.RiskInfo,
		Details:   map[string]any{"instance_id": s.InstanceID},
	})

	details := map[string]any{
		"instance_id": s.InstanceID,
		"role":        s.Role,
	}
	if recordingPath != "" {
		details["recording_path"] = recordingPath
		details["recorded_bytes"] = recorded
	}
	err := o.logs.Sessions().Append(audit.Event{
		SessionID: s.ID,
		AgentID:   s.AgentID,
		Type:      audit.EventSessionEnd,
		Details:   details,
	})
	if err != nil {
		o.logs.System().Error("sessions log write failed", "session_id", s.ID, "error", err)
	}
	return closeErr
}

// ListEnvironments enumerates environments. The list is an operator
// read path and is not policy-gated. Backend unavailability is an
// explicit error, never rendered as an empty list here — whether to
// degrade is the caller's choice.
func (o *Orchestrator) ListEnvironments(ctx context.Context) ([]vm.Environment, error) {
	environments, err := o.driver.List(ctx)
	if err != nil {
		if errors.Is(err, vm.ErrBackendUnavailable) {
			return nil, fmt.Errorf("sandbox layer is down: %w", err)
		}
		return nil, err
	}
	return environments, nil
}

// authorize runs the policy check and records the decision. The
// returned error is non-nil for both hard policy failures (audited as
// violations) and denials (audited as decisions, *DeniedError).
func (o *Orchestrator) authorize(ctx context.Context, id Identity, action policy.Action, resourceID string, vmctx *policy.VMPolicyContext) (policy.AuthDecision, error) {
	if id.Operator {
		decision := policy.AuthDecision{
			Allowed:       true,
			Reason:        "local operator session",
			EffectiveRole: "operator",
			ShouldAudit:   true,
		}
		o.auditDecision(ctx, id, action, resourceID, decision)
		return decision, nil
	}

	decision, err := o.engine.Check(policy.AuthRequest{
		AgentID:    id.AgentID,
		RoleHint:   id.RoleHint,
		Action:     action,
		ResourceID: resourceID,
		VMContext:  vmctx,
	})
	if err != nil {
		// A policy failure is not a denial: it is audited as a
		// violation and surfaced as-is.
		o.appendLedger(ctx, audit.Event{
			SessionID: id.SessionID,
			AgentID:   id.AgentID,
			Type:      audit.EventPolicyViolation,
			RiskLevel: audit.RiskHigh,
			Details: map[string]any{
				"action":      action.String(),
				"resource_id": resourceID,
				"error":       err.Error(),
			},
		})
		return policy.AuthDecision{}, err
	}

	if decision.ShouldAudit {
		o.auditDecision(ctx, id, action, resourceID, decision)
	}
	if !decision.Allowed {
		return decision, &DeniedError{
			Action:        action,
			EffectiveRole: decision.EffectiveRole,
			Reason:        decision.Reason,
		}
	}
	return decision, nil
}

// auditDecision records one policy decision on the ledger, before any
// side effect it gates.
func (o *Orchestrator) auditDecision(ctx context.Context, id Identity, action policy.Action, resourceID string, decision policy.AuthDecision) {
	risk := audit.RiskInfo
	if !decision.Allowed {
		risk = audit.RiskMedium
	}
	o.appendLedger(ctx, audit.Event{
		SessionID: id.SessionID,
		AgentID:   id.AgentID,
		Type:      audit.EventPolicyDecision,
		RiskLevel: risk,
		Details: map[string]any{
			"action":         action.String(),
			"resource_id":    resourceID,
			"allowed":        decision.Allowed,
			"reason":         decision.Reason,
			"effective_role": decision.EffectiveRole,
		},
	})
}

// auditLifecycle records an operation outcome on the ledger and the
// instance's lifecycle log.
func (o *Orchestrator) auditLifecycle(ctx context.Context, id Identity, instanceID, operation string, opErr error, extra map[string]any) {
	details := map[string]any{
		"instance_id": instanceID,
		"operation":   operation,
		"outcome":     "ok",
	}
	for k, v := range extra {
		details[k] = v
	}
	risk := audit.RiskInfo
	if opErr != nil {
		details["outcome"] = "error"
		details["error"] = opErr.Error()
		risk = audit.RiskLow
	}

	event := audit.Event{
		SessionID: id.SessionID,
		AgentID:   id.AgentID,
		Type:      audit.EventLifecycle,
		RiskLevel: risk,
		Details:   details,
	}
	o.appendLedger(ctx, event)

	lifecycle, err := o.logs.Lifecycle(instanceID)
	if err != nil {
		o.logs.System().Error("opening lifecycle log failed", "instance_id", instanceID, "error", err)
		return
	}
	if err := lifecycle.Append(event); err != nil {
		o.logs.System().Error("lifecycle log write failed", "instance_id", instanceID, "error", err)
	}
}

// appendLedger writes one event to the audit ledger. A write failure
// is made visible in the system log but does not fail the triggering
// action — fatality is this layer's call, and an unavailable ledger
// must not brick destroys.
func (o *Orchestrator) appendLedger(ctx context.Context, event audit.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = o.clk.Now().UTC()
	}
	if err := o.logs.Ledger().Append(ctx, event); err != nil {
		o.logger.Error("audit ledger write failed", "event_type", event.Type, "error", err)
		o.logs.System().Error("audit ledger write failed", "event_type", event.Type, "error", err)
	}
}

// enforceLimits applies the policy document's defaults.vm caps to a
// create request.
func (o *Orchestrator) enforceLimits(request vm.CreateRequest) error {
	limits := o.engine.Store().VMDefaults()
	if limits.CPULimit > 0 && request.CPUCores > limits.CPULimit {
		return fmt.Errorf("cpu_cores %d exceeds policy limit %d: %w", request.CPUCores, limits.CPULimit, ErrResourceLimit)
	}
	if limits.RAMLimit > 0 && request.MemoryMB > limits.RAMLimit {
		return fmt.Errorf("memory_mb %d exceeds policy limit %d: %w", request.MemoryMB, limits.RAMLimit, ErrResourceLimit)
	}
	if limits.DiskLimit > 0 && request.DiskGB > limits.DiskLimit {
		return fmt.Errorf("disk_gb %d exceeds policy limit %d: %w", request.DiskGB, limits.DiskLimit, ErrResourceLimit)
	}
	return nil
}
