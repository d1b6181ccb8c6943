// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/warden-foundation/warden/lib/clock"
)

func testLogs(t *testing.T) (*Logs, string) {
	t.Helper()
	base := t.TempDir()
	logs, err := OpenLogs(base, LogsConfig{
		Clock: clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("OpenLogs: %v", err)
	}
	t.Cleanup(func() { logs.Close() })
	return logs, base
}

func TestLayoutPaths(t *testing.T) {
	layout := Layout{Base: "/home/u/.local/share/warden"}
	cases := []struct{ got, want string }{
		{layout.SystemLog(), "/home/u/.local/share/warden/logs/system.log"},
		{layout.AuditLedger(), "/home/u/.local/share/warden/logs/audit/audit_ledger.jsonl"},
		{layout.InstanceLifecycle("sbx1"), "/home/u/.local/share/warden/logs/instances/sbx1/lifecycle.log"},
		{layout.SessionDir("sess-1"), "/home/u/.local/share/warden/logs/sessions/sess-1"},
		{layout.SessionsLog(), "/home/u/.local/share/warden/logs/sessions/sessions.log"},
	}
	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("got %q, want %q", c.got, c.want)
		}
	}
}

func TestLifecycleLogUnchained(t *testing.T) {
	logs, base := testLogs(t)

	lifecycle, err := logs.Lifecycle("sbx-01")
	if err != nil {
		t.Fatalf("Lifecycle: %v", err)
	}
	err = lifecycle.Append(Event{
		Type:     EventLifecycle,
		Details:  map[string]any{"transition": "created"},
		PrevHash: "caller-supplied junk",
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(base, "logs", "instances", "sbx-01", "lifecycle.log"))
	if err != nil {
		t.Fatal(err)
	}
	var event Event
	if err := json.Unmarshal(bytes.TrimSpace(data), &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if event.PrevHash != "" {
		t.Errorf("category log record carries prev_hash %q", event.PrevHash)
	}
	if event.Timestamp.IsZero() {
		t.Error("record was not timestamped")
	}
}

func TestLifecycleRejectsTraversal(t *testing.T) {
	logs, _ := testLogs(t)
	for _, id := range []string{"", "..", "a/b", "../escape", ".hidden"} {
		if _, err := logs.Lifecycle(id); err == nil {
			t.Errorf("Lifecycle(%q) accepted an unsafe identifier", id)
		}
	}
}

func TestLifecycleReusesWriter(t *testing.T) {
	logs, _ := testLogs(t)
	first, err := logs.Lifecycle("sbx-01")
	if err != nil {
		t.Fatalf("Lifecycle: %v", err)
	}
	second, err := logs.Lifecycle("sbx-01")
	if err != nil {
		t.Fatalf("Lifecycle: %v", err)
	}
	if first != second {
		t.Error("same instance got two lifecycle writers")
	}
}

func TestSystemLogPlainText(t *testing.T) {
	logs, base := testLogs(t)
	logs.System().Info("daemon started", "backend", "virsh")

	data, err := os.ReadFile(filepath.Join(base, "logs", "system.log"))
	if err != nil {
		t.Fatal(err)
	}
	line := string(data)
	if !strings.Contains(line, "daemon started") || !strings.Contains(line, "backend=virsh") {
		t.Errorf("system log line = %q", line)
	}
	if strings.HasPrefix(strings.TrimSpace(line), "{") {
		t.Error("system log is JSON, want plain text")
	}
}

func TestOpenLogsCreatesLayout(t *testing.T) {
	_, base := testLogs(t)
	for _, dir := range []string{
		filepath.Join(base, "logs"),
		filepath.Join(base, "logs", "audit"),
		filepath.Join(base, "logs", "sessions"),
	} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("missing layout directory %s", dir)
		}
	}
}
