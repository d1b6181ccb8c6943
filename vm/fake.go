// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// FakeBackend is an in-memory Backend for tests and development. It
// models domain definitions, state transitions, and volume removal,
// and supports per-method error injection.
//
// FakeBackend is safe for concurrent use.
type FakeBackend struct {
	mu      sync.Mutex
	domains map[string]*fakeDomain
	removed []string

	// Err, when non-nil, is returned by every structural call. Use it
	// to simulate a lost hypervisor connection:
	//
	//	backend.Err = vm.ErrBackendUnavailable
	Err error

	// Hang, when non-nil, is closed to release structural calls that
	// should block until the test decides. Used for timeout tests.
	Hang chan struct{}
}

type fakeDomain struct {
	info DomainInfo
	xml  string
}

// NewFakeBackend returns an empty FakeBackend.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{domains: make(map[string]*fakeDomain)}
}

// gate applies error injection and the hang channel.
func (b *FakeBackend) gate(ctx context.Context) error {
	b.mu.Lock()
	hang := b.Hang
	injected := b.Err
	b.mu.Unlock()

	if hang != nil {
		select {
		case <-hang:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if injected != nil {
		return injected
	}
	return ctx.Err()
}

// DefineDomain records a domain definition in state shut off.
func (b *FakeBackend) DefineDomain(ctx context.Context, name, descriptor string) (string, error) {
	if err := b.gate(ctx); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.domains[name]; ok {
		return "", fmt.Errorf("domain %q: %w", name, ErrAlreadyExists)
	}
	id := uuid.NewString()
	b.domains[name] = &fakeDomain{
		info: DomainInfo{UUID: id, Name: name, State: DomainShutoff, Persistent: true},
		xml:  descriptor,
	}
	return id, nil
}

// StartDomain transitions a defined domain to running.
func (b *FakeBackend) StartDomain(ctx context.Context, name string) error {
	return b.transition(ctx, name, func(d *fakeDomain) {
		d.info.State = DomainRunning
		d.info.Active = true
	})
}

// StopDomain transitions a domain to shutoff (force) or in-shutdown.
func (b *FakeBackend) StopDomain(ctx context.Context, name string, force bool) error {
	return b.transition(ctx, name, func(d *fakeDomain) {
		if force {
			d.info.State = DomainShutoff
			d.info.Active = false
		} else {
			d.info.State = DomainShutdown
		}
	})
}

// ResumeDomain transitions a suspended domain to running.
func (b *FakeBackend) ResumeDomain(ctx context.Context, name string) error {
	return b.transition(ctx, name, func(d *fakeDomain) {
		d.info.State = DomainRunning
		d.info.Active = true
	})
}

// UndefineDomain removes the domain.
func (b *FakeBackend) UndefineDomain(ctx context.Context, name string) error {
	if err := b.gate(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.domains[name]; !ok {
		return fmt.Errorf("domain %q: %w", name, ErrNotFound)
	}
	delete(b.domains, name)
	return nil
}

// DomainInfo returns the domain's current info.
func (b *FakeBackend) DomainInfo(ctx context.Context, name string) (DomainInfo, error) {
	if err := b.gate(ctx); err != nil {
		return DomainInfo{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.domains[name]
	if !ok {
		return DomainInfo{}, fmt.Errorf("domain %q: %w", name, ErrNotFound)
	}
	return d.info, nil
}

// ListDomains returns every defined domain.
func (b *FakeBackend) ListDomains(ctx context.Context) ([]DomainInfo, error) {
	if err := b.gate(ctx); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	infos := make([]DomainInfo, 0, len(b.domains))
	for _, d := range b.domains {
		infos = append(infos, d.info)
	}
	return infos, nil
}

// RemoveVolume records the removal.
func (b *FakeBackend) RemoveVolume(ctx context.Context, path string) error {
	if err := b.gate(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = append(b.removed, path)
	return nil
}

// SetDomainState forces a domain into a state, simulating guest-side
// transitions (crash, suspend) between driver calls.
func (b *FakeBackend) SetDomainState(name string, state DomainState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.domains[name]; ok {
		d.info.State = state
		d.info.Active = state == DomainRunning || state == DomainBlocked ||
			state == DomainPaused || state == DomainPMSuspended
	}
}

// RemovedVolumes returns the paths passed to RemoveVolume, in order.
func (b *FakeBackend) RemovedVolumes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.removed...)
}

// DomainXML returns the descriptor a domain was defined with.
func (b *FakeBackend) DomainXML(name string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.domains[name]
	if !ok {
		return "", false
	}
	return d.xml, true
}

func (b *FakeBackend) transition(ctx context.Context, name string, apply func(*fakeDomain)) error {
	if err := b.gate(ctx); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.domains[name]
	if !ok {
		return fmt.Errorf("domain %q: %w", name, ErrNotFound)
	}
	apply(d)
	return nil
}
