// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"errors"
	"strings"
	"testing"
)

func validRequest() CreateRequest {
	return CreateRequest{
		InstanceID:     "sbx-01",
		BaseImage:      "/images/debian-13.qcow2",
		CPUCores:       2,
		MemoryMB:       2048,
		NetworkPolicy:  "warden-isolated",
		SecurityPolicy: "strict",
	}
}

func TestBuildDescriptorShape(t *testing.T) {
	request := validRequest()
	xml, err := BuildDescriptor(&request, "/var/lib/warden/disks")
	if err != nil {
		t.Fatalf("BuildDescriptor: %v", err)
	}

	for _, want := range []string{
		`<domain type="kvm">`,
		`<name>sbx-01</name>`,
		`<memory unit="MiB">2048</memory>`,
		`<vcpu>2</vcpu>`,
		`<source file="/var/lib/warden/disks/sbx-01.qcow2">`,
		`<source file="/images/debian-13.qcow2">`,
		`<source network="warden-isolated">`,
	} {
		if !strings.Contains(xml, want) {
			t.Errorf("descriptor missing %s\n%s", want, xml)
		}
	}
}

// The remote-display surface is loopback-only, never exposed beyond
// localhost.
func TestBuildDescriptorGraphicsLoopbackOnly(t *testing.T) {
	request := validRequest()
	xml, err := BuildDescriptor(&request, "/disks")
	if err != nil {
		t.Fatalf("BuildDescriptor: %v", err)
	}
	if !strings.Contains(xml, `listen="127.0.0.1"`) {
		t.Errorf("graphics not bound to loopback:\n%s", xml)
	}
	if strings.Contains(xml, `listen="0.0.0.0"`) {
		t.Errorf("graphics exposed beyond localhost:\n%s", xml)
	}
}

// Removable boot media precedes the primary disk only when supplied.
func TestBuildDescriptorBootOrder(t *testing.T) {
	request := validRequest()
	xml, err := BuildDescriptor(&request, "/disks")
	if err != nil {
		t.Fatalf("BuildDescriptor: %v", err)
	}
	if strings.Contains(xml, `<boot dev="cdrom">`) {
		t.Error("cdrom boot entry present without boot media")
	}

	request.BootISO = "/images/installer.iso"
	xml, err = BuildDescriptor(&request, "/disks")
	if err != nil {
		t.Fatalf("BuildDescriptor with ISO: %v", err)
	}
	cdrom := strings.Index(xml, `<boot dev="cdrom">`)
	hd := strings.Index(xml, `<boot dev="hd">`)
	if cdrom == -1 || hd == -1 {
		t.Fatalf("boot entries missing:\n%s", xml)
	}
	if cdrom > hd {
		t.Error("cdrom boot entry does not precede hd")
	}
	if !strings.Contains(xml, "<readonly>") {
		t.Error("boot media disk is not read-only")
	}
}

func TestBuildDescriptorValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CreateRequest)
		field  string
	}{
		{"empty id", func(r *CreateRequest) { r.InstanceID = "" }, "instance_id"},
		{"bad id characters", func(r *CreateRequest) { r.InstanceID = "a/b" }, "instance_id"},
		{"id traversal", func(r *CreateRequest) { r.InstanceID = "../escape" }, "instance_id"},
		{"zero cpu", func(r *CreateRequest) { r.CPUCores = 0 }, "cpu_cores"},
		{"negative memory", func(r *CreateRequest) { r.MemoryMB = -1 }, "memory_mb"},
		{"no image", func(r *CreateRequest) { r.BaseImage = "" }, "base_image"},
		{"no network policy", func(r *CreateRequest) { r.NetworkPolicy = "" }, "network_policy"},
		{"no security policy", func(r *CreateRequest) { r.SecurityPolicy = "" }, "security_policy"},
		{"negative disk", func(r *CreateRequest) { r.DiskGB = -5 }, "disk_gb"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			request := validRequest()
			c.mutate(&request)
			_, err := BuildDescriptor(&request, "/disks")
			var descErr *DescriptorError
			if !errors.As(err, &descErr) {
				t.Fatalf("err = %v, want *DescriptorError", err)
			}
			if descErr.Field != c.field {
				t.Errorf("field = %q, want %q", descErr.Field, c.field)
			}
		})
	}
}

func TestDiskPathDeterministic(t *testing.T) {
	if got := DiskPath("/disks", "sbx-01"); got != "/disks/sbx-01.qcow2" {
		t.Errorf("DiskPath = %q", got)
	}
}
