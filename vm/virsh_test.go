// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const sampleDomInfo = `Id:             7
Name:           sbx-01
UUID:           3f1a0c2e-0000-4000-8000-000000000001
OS Type:        hvm
State:          running
CPU(s):         2
Max memory:     2097152 KiB
Used memory:    1048576 KiB
Persistent:     yes
Autostart:      disable
`

func TestParseDomInfo(t *testing.T) {
	info, err := parseDomInfo(sampleDomInfo)
	if err != nil {
		t.Fatalf("parseDomInfo: %v", err)
	}
	if info.Name != "sbx-01" {
		t.Errorf("Name = %q", info.Name)
	}
	if info.UUID != "3f1a0c2e-0000-4000-8000-000000000001" {
		t.Errorf("UUID = %q", info.UUID)
	}
	if info.State != DomainRunning {
		t.Errorf("State = %v", info.State)
	}
	if !info.Active {
		t.Error("running domain reported inactive")
	}
	if !info.Persistent {
		t.Error("persistent domain reported transient")
	}
	if info.CPUCount != 2 {
		t.Errorf("CPUCount = %d", info.CPUCount)
	}
	if info.MemoryMaxKB != 2097152 || info.MemoryUsedKB != 1048576 {
		t.Errorf("memory = %d/%d", info.MemoryUsedKB, info.MemoryMaxKB)
	}
}

func TestParseDomInfoShutOff(t *testing.T) {
	info, err := parseDomInfo("Name:           sbx-02\nState:          shut off\nPersistent:     yes\n")
	if err != nil {
		t.Fatalf("parseDomInfo: %v", err)
	}
	if info.State != DomainShutoff {
		t.Errorf("State = %v", info.State)
	}
	if info.Active {
		t.Error("shut-off domain reported active")
	}
}

func TestParseDomInfoMissingName(t *testing.T) {
	if _, err := parseDomInfo("State: running\n"); err == nil {
		t.Error("parseDomInfo accepted output without a Name field")
	}
}

func TestParseDomainState(t *testing.T) {
	cases := map[string]DomainState{
		"running":      DomainRunning,
		"idle":         DomainBlocked,
		"blocked":      DomainBlocked,
		"paused":       DomainPaused,
		"in shutdown":  DomainShutdown,
		"shut off":     DomainShutoff,
		"crashed":      DomainCrashed,
		"pmsuspended":  DomainPMSuspended,
		"  Running  ":  DomainRunning,
		"no such mode": DomainNoState,
		"":             DomainNoState,
	}
	for input, want := range cases {
		if got := parseDomainState(input); got != want {
			t.Errorf("parseDomainState(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestRemoveVolumeExtensionGuard(t *testing.T) {
	backend := NewVirshBackend("qemu:///system", nil)
	dir := t.TempDir()

	victim := filepath.Join(dir, "not-a-disk.txt")
	if err := os.WriteFile(victim, []byte("keep me"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := backend.RemoveVolume(context.Background(), victim); err == nil {
		t.Error("RemoveVolume accepted a non-image path")
	}
	if _, err := os.Stat(victim); err != nil {
		t.Error("guarded file was removed")
	}

	disk := filepath.Join(dir, "sbx-01.qcow2")
	if err := os.WriteFile(disk, []byte("qcow"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := backend.RemoveVolume(context.Background(), disk); err != nil {
		t.Fatalf("RemoveVolume: %v", err)
	}
	if _, err := os.Stat(disk); !os.IsNotExist(err) {
		t.Error("disk image still present after RemoveVolume")
	}

	// Removing an absent volume is not an error.
	if err := backend.RemoveVolume(context.Background(), disk); err != nil {
		t.Errorf("second RemoveVolume: %v", err)
	}
}
