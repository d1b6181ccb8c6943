// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/warden-foundation/warden/lib/clock"
)

// DriverConfig holds the parameters for creating a Driver. Backend
// and DiskRoot are required.
type DriverConfig struct {
	// Backend is the hypervisor backend, selected at startup.
	Backend Backend

	// Registry durably records instance metadata. Optional: without
	// it the driver still works, but restarted daemons lose labels
	// and policy references.
	Registry *Registry

	// DiskRoot is the directory holding per-instance copy-on-write
	// disk images.
	DiskRoot string

	// Logger for driver operations. If nil, a no-op logger is used.
	Logger *slog.Logger

	// Clock for instance creation timestamps. If nil, the real clock
	// is used.
	Clock clock.Clock
}

// Driver maps environment lifecycle operations onto hypervisor
// primitives. A single goroutine owns the backend handle and executes
// one structural operation at a time, because the backend does not
// guarantee atomicity across concurrent define/undefine calls on
// related objects. Operations for a given instance are therefore
// totally ordered.
//
// Every public method is bounded by its context. If the context
// expires while the backend call is still in flight, the method
// returns the context error and the instance's cached state becomes
// StateUnknown pending re-inspection — never an assumed Running or
// Stopped.
type Driver struct {
	backend  Backend
	registry *Registry
	diskRoot string
	logger   *slog.Logger
	clk      clock.Clock

	requests chan *operation
	stop     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	cached map[string]State
}

type operation struct {
	ctx  context.Context
	run  func(ctx context.Context) error
	done chan error
}

// NewDriver starts the driver's operation goroutine. The caller must
// Close the driver when done.
func NewDriver(cfg DriverConfig) (*Driver, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("vm: Backend is required")
	}
	if cfg.DiskRoot == "" {
		return nil, fmt.Errorf("vm: DiskRoot is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	d := &Driver{
		backend:  cfg.Backend,
		registry: cfg.Registry,
		diskRoot: cfg.DiskRoot,
		logger:   logger,
		clk:      clk,
		requests: make(chan *operation),
		stop:     make(chan struct{}),
		cached:   make(map[string]State),
	}
	go d.loop()
	return d, nil
}

// Close stops the operation goroutine. In-flight operations run to
// completion; queued ones are rejected.
func (d *Driver) Close() {
	d.stopOnce.Do(func() { close(d.stop) })
}

func (d *Driver) loop() {
	for {
		select {
		case op := <-d.requests:
			op.done <- op.run(op.ctx)
		case <-d.stop:
			return
		}
	}
}

// submit hands an operation to the owner goroutine and waits for its
// result or for ctx to expire. detach runs the operation under a
// context that survives the caller: used by Create, where an issued
// define call runs to completion or failure — "cancel" is a
// subsequent destroy.
func (d *Driver) submit(ctx context.Context, instanceID string, detach bool, run func(context.Context) error) error {
	opCtx := ctx
	if detach {
		opCtx = context.WithoutCancel(ctx)
	}
	op := &operation{ctx: opCtx, run: run, done: make(chan error, 1)}

	select {
	case d.requests <- op:
	case <-ctx.Done():
		return fmt.Errorf("waiting for backend slot: %w", ctx.Err())
	case <-d.stop:
		return fmt.Errorf("driver closed")
	}

	select {
	case err := <-op.done:
		if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)) {
			d.markTimedOut(instanceID)
		}
		return err
	case <-ctx.Done():
		d.markTimedOut(instanceID)
		return fmt.Errorf("backend call did not complete in time: %w", ctx.Err())
	}
}

// markTimedOut records that a bounded backend call expired: the
// instance's true state is unknown until re-inspected.
func (d *Driver) markTimedOut(instanceID string) {
	if instanceID == "" {
		return
	}
	d.setCached(instanceID, StateUnknown)
	d.logger.Warn("backend call timed out, instance state unknown pending re-inspection",
		"instance_id", instanceID)
}

// Create defines and boots a new environment. It returns the
// environment in StateProvisioning immediately after a successful
// definition; the live state is not polled until the next List or
// Inspect. A duplicate instance ID fails with ErrAlreadyExists;
// malformed parameters fail with *DescriptorError before anything
// reaches the backend.
func (d *Driver) Create(ctx context.Context, request CreateRequest) (*Environment, error) {
	descriptor, err := BuildDescriptor(&request, d.diskRoot)
	if err != nil {
		return nil, err
	}
	name := request.Name
	if name == "" {
		name = request.InstanceID
	}

	var env *Environment
	err = d.submit(ctx, request.InstanceID, true, func(ctx context.Context) error {
		if _, err := d.backend.DomainInfo(ctx, request.InstanceID); err == nil {
			return fmt.Errorf("instance %q: %w", request.InstanceID, ErrAlreadyExists)
		} else if !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("checking for existing instance %q: %w", request.InstanceID, err)
		}

		domainUUID, err := d.backend.DefineDomain(ctx, request.InstanceID, descriptor)
		if err != nil {
			return fmt.Errorf("defining domain %q: %w", request.InstanceID, err)
		}

		// Boot. A start failure leaves the definition in place so the
		// instance remains inspectable and destroyable.
		if err := d.backend.StartDomain(ctx, request.InstanceID); err != nil {
			return fmt.Errorf("starting domain %q: %w", request.InstanceID, err)
		}

		createdAt := d.clk.Now()
		if d.registry != nil {
			record := Record{
				InstanceID:     request.InstanceID,
				Name:           name,
				UUID:           domainUUID,
				BaseImage:      request.BaseImage,
				NetworkPolicy:  request.NetworkPolicy,
				SecurityPolicy: request.SecurityPolicy,
				CustomScript:   request.CustomScript,
				Labels:         request.Labels,
				CreatedAt:      createdAt,
			}
			if err := d.registry.Put(ctx, record); err != nil {
				// The domain exists; losing metadata is bad but losing
				// track of a live VM is worse. Surface in logs.
				d.logger.Error("instance created but registry write failed",
					"instance_id", request.InstanceID, "error", err)
			}
		}

		env = &Environment{
			InstanceID:     request.InstanceID,
			UUID:           domainUUID,
			Name:           name,
			State:          StateProvisioning,
			CPUCoresUsed:   uint(request.CPUCores),
			MemoryMaxKB:    uint64(request.MemoryMB) * 1024,
			BaseImage:      request.BaseImage,
			NetworkPolicy:  request.NetworkPolicy,
			SecurityPolicy: request.SecurityPolicy,
			Labels:         request.Labels,
			CreatedAt:      createdAt,
		}
		d.setCached(request.InstanceID, StateProvisioning)
		d.logger.Info("environment created",
			"instance_id", request.InstanceID, "uuid", domainUUID,
			"cpu_cores", request.CPUCores, "memory_mb", request.MemoryMB)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// Destroy force-stops an active instance, removes its durable
// definition and its disk artifacts, and deletes its registry row.
// Destroying an absent instance returns ErrNotFound — idempotent
// absence, never a panic or silent success.
func (d *Driver) Destroy(ctx context.Context, instanceID string) error {
	return d.submit(ctx, instanceID, false, func(ctx context.Context) error {
		info, err := d.backend.DomainInfo(ctx, instanceID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// A half-completed earlier destroy may have left a
				// registry row behind; clear it.
				if d.registry != nil {
					_ = d.registry.Delete(ctx, instanceID)
				}
				return fmt.Errorf("instance %q: %w", instanceID, ErrNotFound)
			}
			return fmt.Errorf("inspecting instance %q: %w", instanceID, err)
		}

		if info.Active {
			if err := d.backend.StopDomain(ctx, instanceID, true); err != nil {
				return fmt.Errorf("stopping instance %q: %w", instanceID, err)
			}
		}
		if err := d.backend.UndefineDomain(ctx, instanceID); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("undefining instance %q: %w", instanceID, err)
		}
		// A dangling disk after destroy is a defect, not a trade-off.
		if err := d.backend.RemoveVolume(ctx, DiskPath(d.diskRoot, instanceID)); err != nil {
			return fmt.Errorf("removing disk for instance %q: %w", instanceID, err)
		}
		if d.registry != nil {
			if err := d.registry.Delete(ctx, instanceID); err != nil {
				d.logger.Error("instance destroyed but registry delete failed",
					"instance_id", instanceID, "error", err)
			}
		}
		d.clearCached(instanceID)
		d.logger.Info("environment destroyed", "instance_id", instanceID)
		return nil
	})
}

// Resume restores a Suspended instance to Running without
// re-provisioning, or cold-boots a Stopped one (reported Booting
// until the next inspection shows Running). Resuming from any other
// state is an *InvalidStateError naming the disallowed source state.
//
// The cold-boot-vs-error split for source states is pending product
// confirmation; see DESIGN.md.
func (d *Driver) Resume(ctx context.Context, instanceID string) (*Environment, error) {
	var env *Environment
	err := d.submit(ctx, instanceID, false, func(ctx context.Context) error {
		info, err := d.backend.DomainInfo(ctx, instanceID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("instance %q: %w", instanceID, ErrNotFound)
			}
			return fmt.Errorf("inspecting instance %q: %w", instanceID, err)
		}

		state, _ := MapDomainState(info.State)
		var next State
		switch state {
		case StateSuspended:
			if err := d.backend.ResumeDomain(ctx, instanceID); err != nil {
				return fmt.Errorf("resuming instance %q: %w", instanceID, err)
			}
			next = StateRunning
		case StateStopped:
			if err := d.backend.StartDomain(ctx, instanceID); err != nil {
				return fmt.Errorf("cold-booting instance %q: %w", instanceID, err)
			}
			next = StateBooting
		default:
			return &InvalidStateError{InstanceID: instanceID, Operation: "resume", State: state}
		}

		env = d.environmentFromInfo(ctx, info)
		env.State = next
		env.StateDetail = ""
		d.setCached(instanceID, next)
		d.logger.Info("environment resumed",
			"instance_id", instanceID, "from", state, "to", next)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// Inspect maps the backend's live view of one instance through the
// state table and merges registry metadata.
func (d *Driver) Inspect(ctx context.Context, instanceID string) (*Environment, error) {
	var env *Environment
	err := d.submit(ctx, instanceID, false, func(ctx context.Context) error {
		info, err := d.backend.DomainInfo(ctx, instanceID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("instance %q: %w", instanceID, ErrNotFound)
			}
			return fmt.Errorf("inspecting instance %q: %w", instanceID, err)
		}
		env = d.environmentFromInfo(ctx, info)
		d.setCached(instanceID, env.State)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

// List enumerates active and defined-but-inactive instances,
// deduplicated by name and ordered by instance ID. A reachable
// backend with nothing visible yields an empty list; an unreachable
// one surfaces ErrBackendUnavailable so callers can tell "sandbox
// layer is down" from "no sandboxes exist".
func (d *Driver) List(ctx context.Context) ([]Environment, error) {
	var environments []Environment
	err := d.submit(ctx, "", false, func(ctx context.Context) error {
		infos, err := d.backend.ListDomains(ctx)
		if err != nil {
			return fmt.Errorf("listing domains: %w", err)
		}

		seen := make(map[string]bool, len(infos))
		for _, info := range infos {
			if seen[info.Name] {
				continue
			}
			seen[info.Name] = true
			env := d.environmentFromInfo(ctx, info)
			environments = append(environments, *env)
			d.setCached(info.Name, env.State)
		}
		sort.Slice(environments, func(i, j int) bool {
			return environments[i].InstanceID < environments[j].InstanceID
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return environments, nil
}

// CachedState returns the last state the driver assigned to an
// instance, or StateUnknown if it has none. A timed-out backend call
// leaves the instance here as StateUnknown until re-inspection.
func (d *Driver) CachedState(instanceID string) State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if state, ok := d.cached[instanceID]; ok {
		return state
	}
	return StateUnknown
}

// environmentFromInfo merges a backend domain view with registry
// metadata. Runs on the owner goroutine.
func (d *Driver) environmentFromInfo(ctx context.Context, info DomainInfo) *Environment {
	state, detail := MapDomainState(info.State)
	env := &Environment{
		InstanceID:   info.Name,
		UUID:         info.UUID,
		Name:         info.Name,
		State:        state,
		StateDetail:  detail,
		CPUCoresUsed: info.CPUCount,
		MemoryMaxKB:  info.MemoryMaxKB,
		MemoryUsedKB: info.MemoryUsedKB,
	}
	if d.registry == nil {
		return env
	}
	record, ok, err := d.registry.Get(ctx, info.Name)
	if err != nil {
		d.logger.Warn("registry read failed during inspection",
			"instance_id", info.Name, "error", err)
		return env
	}
	if ok {
		env.Name = record.Name
		env.BaseImage = record.BaseImage
		env.NetworkPolicy = record.NetworkPolicy
		env.SecurityPolicy = record.SecurityPolicy
		env.Labels = record.Labels
		env.CreatedAt = record.CreatedAt
	}
	return env
}

func (d *Driver) setCached(instanceID string, state State) {
	d.mu.Lock()
	d.cached[instanceID] = state
	d.mu.Unlock()
}

func (d *Driver) clearCached(instanceID string) {
	d.mu.Lock()
	delete(d.cached, instanceID)
	d.mu.Unlock()
}
