// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"encoding/xml"
	"fmt"
	"path/filepath"
	"regexp"
)

// CreateRequest describes a new environment. InstanceID, BaseImage,
// CPUCores, MemoryMB, NetworkPolicy, and SecurityPolicy are required.
type CreateRequest struct {
	// InstanceID is the caller-chosen stable identity. It becomes the
	// backend domain name and the disk image basename, so it is
	// restricted to [A-Za-z0-9._-].
	InstanceID string

	// Name is a human-readable label. Defaults to InstanceID.
	Name string

	// BaseImage is the backing image for the instance's
	// copy-on-write primary disk.
	BaseImage string

	// BootISO optionally attaches removable boot media. When set,
	// the boot order places it before the primary disk.
	BootISO string

	CPUCores int
	MemoryMB int

	// DiskGB caps the copy-on-write disk. Zero means the backing
	// image's virtual size.
	DiskGB int

	// NetworkPolicy names the virtual network the single interface
	// binds to. No reachability beyond it is granted at creation.
	NetworkPolicy string

	// SecurityPolicy names the security policy applied to the
	// instance; recorded in the registry and surfaced on inspection.
	SecurityPolicy string

	// CustomScript optionally runs inside the guest on first boot.
	// Recorded in the registry; delivery is the provisioner's
	// concern, not the descriptor's.
	CustomScript string

	Labels map[string]string
}

// instanceIDPattern restricts IDs to characters safe in domain names
// and filesystem paths.
var instanceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Validate rejects malformed create parameters before anything
// reaches the backend.
func (r *CreateRequest) Validate() error {
	if r.InstanceID == "" {
		return &DescriptorError{Field: "instance_id", Reason: "required"}
	}
	if !instanceIDPattern.MatchString(r.InstanceID) {
		return &DescriptorError{
			Field:  "instance_id",
			Reason: fmt.Sprintf("%q contains characters outside [A-Za-z0-9._-]", r.InstanceID),
		}
	}
	if r.BaseImage == "" {
		return &DescriptorError{Field: "base_image", Reason: "required"}
	}
	if r.CPUCores <= 0 {
		return &DescriptorError{Field: "cpu_cores", Reason: fmt.Sprintf("must be > 0, got %d", r.CPUCores)}
	}
	if r.MemoryMB <= 0 {
		return &DescriptorError{Field: "memory_mb", Reason: fmt.Sprintf("must be > 0, got %d", r.MemoryMB)}
	}
	if r.DiskGB < 0 {
		return &DescriptorError{Field: "disk_gb", Reason: fmt.Sprintf("must be >= 0, got %d", r.DiskGB)}
	}
	if r.NetworkPolicy == "" {
		return &DescriptorError{Field: "network_policy", Reason: "required"}
	}
	if r.SecurityPolicy == "" {
		return &DescriptorError{Field: "security_policy", Reason: "required"}
	}
	return nil
}

// DiskPath returns the deterministic per-instance path of the
// copy-on-write primary disk.
func DiskPath(diskRoot, instanceID string) string {
	return filepath.Join(diskRoot, instanceID+".qcow2")
}

// Domain descriptor XML shapes, libvirt vocabulary.
type domainXML struct {
	XMLName xml.Name   `xml:"domain"`
	Type    string     `xml:"type,attr"`
	Name    string     `xml:"name"`
	Memory  memoryXML  `xml:"memory"`
	VCPU    int        `xml:"vcpu"`
	OS      osXML      `xml:"os"`
	Devices devicesXML `xml:"devices"`
}

type memoryXML struct {
	Unit  string `xml:"unit,attr"`
	Value int    `xml:",chardata"`
}

type osXML struct {
	Type osTypeXML `xml:"type"`
	Boot []bootXML `xml:"boot"`
}

type osTypeXML struct {
	Arch  string `xml:"arch,attr"`
	Value string `xml:",chardata"`
}

type bootXML struct {
	Dev string `xml:"dev,attr"`
}

type devicesXML struct {
	Disks      []diskXML      `xml:"disk"`
	Interfaces []interfaceXML `xml:"interface"`
	Graphics   []graphicsXML  `xml:"graphics"`
}

type diskXML struct {
	Type     string        `xml:"type,attr"`
	Device   string        `xml:"device,attr"`
	Driver   diskDriverXML `xml:"driver"`
	Source   diskSourceXML `xml:"source"`
	Backing  *backingXML   `xml:"backingStore,omitempty"`
	Target   diskTargetXML `xml:"target"`
	ReadOnly *struct{}     `xml:"readonly,omitempty"`
}

type diskDriverXML struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

type diskSourceXML struct {
	File string `xml:"file,attr"`
}

type backingXML struct {
	Type   string        `xml:"type,attr"`
	Format diskDriverXML `xml:"format"`
	Source diskSourceXML `xml:"source"`
}

type diskTargetXML struct {
	Dev string `xml:"dev,attr"`
	Bus string `xml:"bus,attr"`
}

type interfaceXML struct {
	Type   string         `xml:"type,attr"`
	Source ifaceSourceXML `xml:"source"`
	Model  ifaceModelXML  `xml:"model"`
}

type ifaceSourceXML struct {
	Network string `xml:"network,attr"`
}

type ifaceModelXML struct {
	Type string `xml:"type,attr"`
}

type graphicsXML struct {
	Type     string `xml:"type,attr"`
	AutoPort string `xml:"autoport,attr"`
	Listen   string `xml:"listen,attr"`
}

// BuildDescriptor synthesizes the backend domain descriptor for a
// validated create request:
//
//   - fixed KVM virtualization type, x86_64 HVM guest
//   - vCPU and memory declaration from the request
//   - boot order placing removable media before the primary disk only
//     when boot media is supplied
//   - qcow2 copy-on-write primary disk at the deterministic
//     per-instance path, backed by the base image
//   - optional read-only ISO secondary disk for boot media
//   - one interface bound to the network policy's virtual network
//   - VNC bound to 127.0.0.1 only, for operator inspection; never
//     exposed beyond localhost
func BuildDescriptor(request *CreateRequest, diskRoot string) (string, error) {
	if err := request.Validate(); err != nil {
		return "", err
	}

	boot := []bootXML{{Dev: "hd"}}
	disks := []diskXML{{
		Type:   "file",
		Device: "disk",
		Driver: diskDriverXML{Name: "qemu", Type: "qcow2"},
		Source: diskSourceXML{File: DiskPath(diskRoot, request.InstanceID)},
		Backing: &backingXML{
			Type:   "file",
			Format: diskDriverXML{Name: "qemu", Type: "qcow2"},
			Source: diskSourceXML{File: request.BaseImage},
		},
		Target: diskTargetXML{Dev: "vda", Bus: "virtio"},
	}}

	if request.BootISO != "" {
		boot = []bootXML{{Dev: "cdrom"}, {Dev: "hd"}}
		disks = append(disks, diskXML{
			Type:     "file",
			Device:   "cdrom",
			Driver:   diskDriverXML{Name: "qemu", Type: "raw"},
			Source:   diskSourceXML{File: request.BootISO},
			Target:   diskTargetXML{Dev: "sda", Bus: "sata"},
			ReadOnly: &struct{}{},
		})
	}

	domain := domainXML{
		Type:   "kvm",
		Name:   request.InstanceID,
		Memory: memoryXML{Unit: "MiB", Value: request.MemoryMB},
		VCPU:   request.CPUCores,
		OS: osXML{
			Type: osTypeXML{Arch: "x86_64", Value: "hvm"},
			Boot: boot,
		},
		Devices: devicesXML{
			Disks: disks,
			Interfaces: []interfaceXML{{
				Type:   "network",
				Source: ifaceSourceXML{Network: request.NetworkPolicy},
				Model:  ifaceModelXML{Type: "virtio"},
			}},
			Graphics: []graphicsXML{{
				Type:     "vnc",
				AutoPort: "yes",
				Listen:   "127.0.0.1",
			}},
		},
	}

	out, err := xml.MarshalIndent(domain, "", "  ")
	if err != nil {
		return "", &DescriptorError{Field: "descriptor", Reason: err.Error()}
	}
	return string(out), nil
}
