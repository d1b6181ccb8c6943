// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// VirshBackend drives a libvirt hypervisor through the virsh CLI.
// Driving the CLI instead of linking a client library keeps the
// hypervisor dependency a runtime concern: hosts without libvirt
// select NullBackend at startup instead of failing to build.
//
// All methods run on the Driver's owner goroutine, so the backend
// needs no locking of its own.
type VirshBackend struct {
	// URI is the libvirt connection URI (e.g. "qemu:///system").
	URI string

	// Logger for backend command execution. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// NewVirshBackend returns a backend connecting to the given URI.
func NewVirshBackend(uri string, logger *slog.Logger) *VirshBackend {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &VirshBackend{URI: uri, Logger: logger}
}

// run executes one virsh command and classifies its failure modes
// into the package's error taxonomy.
func (b *VirshBackend) run(ctx context.Context, args ...string) (string, error) {
	full := append([]string{"--connect", b.URI, "--quiet"}, args...)
	cmd := exec.CommandContext(ctx, "virsh", full...)
	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	b.logger().Debug("virsh", "args", args)
	err := cmd.Run()
	if err == nil {
		return stdout.String(), nil
	}

	if errors.Is(err, exec.ErrNotFound) {
		return "", fmt.Errorf("virsh not installed: %w", ErrBackendUnavailable)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	message := strings.TrimSpace(stderr.String())
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "failed to connect"),
		strings.Contains(lower, "no connection driver"),
		strings.Contains(lower, "connection refused"):
		return "", fmt.Errorf("%s: %w", message, ErrBackendUnavailable)
	case strings.Contains(lower, "domain not found"),
		strings.Contains(lower, "failed to get domain"):
		return "", fmt.Errorf("%s: %w", message, ErrNotFound)
	case strings.Contains(lower, "already exists"),
		strings.Contains(lower, "already defined"):
		return "", fmt.Errorf("%s: %w", message, ErrAlreadyExists)
	default:
		return "", fmt.Errorf("virsh %s: %s: %w", args[0], message, err)
	}
}

func (b *VirshBackend) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return b.Logger
}

// DefineDomain writes the descriptor to a temp file, defines it, and
// returns the hypervisor-assigned UUID.
func (b *VirshBackend) DefineDomain(ctx context.Context, name, descriptor string) (string, error) {
	file, err := os.CreateTemp("", "warden-domain-*.xml")
	if err != nil {
		return "", fmt.Errorf("writing descriptor: %w", err)
	}
	defer os.Remove(file.Name())
	if _, err := file.WriteString(descriptor); err != nil {
		file.Close()
		return "", fmt.Errorf("writing descriptor: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("writing descriptor: %w", err)
	}

	if _, err := b.run(ctx, "define", file.Name()); err != nil {
		return "", err
	}
	uuid, err := b.run(ctx, "domuuid", name)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(uuid), nil
}

func (b *VirshBackend) StartDomain(ctx context.Context, name string) error {
	_, err := b.run(ctx, "start", name)
	return err
}

func (b *VirshBackend) StopDomain(ctx context.Context, name string, force bool) error {
	verb := "shutdown"
	if force {
		verb = "destroy"
	}
	_, err := b.run(ctx, verb, name)
	return err
}

func (b *VirshBackend) ResumeDomain(ctx context.Context, name string) error {
	_, err := b.run(ctx, "resume", name)
	return err
}

func (b *VirshBackend) UndefineDomain(ctx context.Context, name string) error {
	_, err := b.run(ctx, "undefine", name)
	return err
}

// DomainInfo inspects one domain via "virsh dominfo".
func (b *VirshBackend) DomainInfo(ctx context.Context, name string) (DomainInfo, error) {
	output, err := b.run(ctx, "dominfo", name)
	if err != nil {
		return DomainInfo{}, err
	}
	return parseDomInfo(output)
}

// ListDomains enumerates every domain, active and defined-inactive,
// then inspects each. A domain that disappears between the two calls
// is skipped rather than failing the whole enumeration.
func (b *VirshBackend) ListDomains(ctx context.Context) ([]DomainInfo, error) {
	output, err := b.run(ctx, "list", "--all", "--name")
	if err != nil {
		return nil, err
	}

	var infos []DomainInfo
	for _, line := range strings.Split(output, "\n") {
		name := strings.TrimSpace(line)
		if name == "" {
			continue
		}
		info, err := b.DomainInfo(ctx, name)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// RemoveVolume deletes a local disk artifact. Absent volumes are not
// an error: destroy stays idempotent.
func (b *VirshBackend) RemoveVolume(_ context.Context, path string) error {
	// Refuse suspicious paths; volumes live in the configured disk
	// root and always carry an image extension.
	if filepath.Ext(path) != ".qcow2" && filepath.Ext(path) != ".img" {
		return fmt.Errorf("refusing to remove %q: not a disk image path", path)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing volume %q: %w", path, err)
	}
	return nil
}

// parseDomInfo parses "virsh dominfo" key-value output.
func parseDomInfo(output string) (DomainInfo, error) {
	fields := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	name, ok := fields["Name"]
	if !ok {
		return DomainInfo{}, fmt.Errorf("dominfo output missing Name field")
	}

	info := DomainInfo{
		UUID:       fields["UUID"],
		Name:       name,
		State:      parseDomainState(fields["State"]),
		Persistent: !strings.EqualFold(fields["Persistent"], "no"),
	}
	info.Active = domainStateActive(info.State)

	if v, err := strconv.ParseUint(fields["CPU(s)"], 10, 32); err == nil {
		info.CPUCount = uint(v)
	}
	if kb, ok := parseKiB(fields["Max memory"]); ok {
		info.MemoryMaxKB = kb
	}
	if kb, ok := parseKiB(fields["Used memory"]); ok {
		info.MemoryUsedKB = kb
	}
	return info, nil
}

// parseDomainState maps virsh state strings onto native state codes.
func parseDomainState(s string) DomainState {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "running":
		return DomainRunning
	case "idle", "blocked":
		return DomainBlocked
	case "paused":
		return DomainPaused
	case "in shutdown":
		return DomainShutdown
	case "shut off":
		return DomainShutoff
	case "crashed":
		return DomainCrashed
	case "pmsuspended":
		return DomainPMSuspended
	default:
		return DomainNoState
	}
}

func domainStateActive(s DomainState) bool {
	switch s {
	case DomainRunning, DomainBlocked, DomainPaused, DomainPMSuspended, DomainShutdown:
		return true
	default:
		return false
	}
}

// parseKiB parses "4194304 KiB" style values into KiB.
func parseKiB(s string) (uint64, bool) {
	value, _, _ := strings.Cut(s, " ")
	kb, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, false
	}
	return kb, true
}
