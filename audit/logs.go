// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/warden-foundation/warden/lib/clock"
)

// Layout maps log categories onto a per-user base directory:
//
//	logs/system.log                    plain text
//	logs/instances/<id>/lifecycle.log  JSONL, no chain
//	logs/audit/audit_ledger.jsonl      hash-chained JSONL
//	logs/sessions/                     recordings + sessions.log
type Layout struct {
	Base string
}

func (l Layout) SystemLog() string {
	return filepath.Join(l.Base, "logs", "system.log")
}

func (l Layout) AuditLedger() string {
	return filepath.Join(l.Base, "logs", "audit", "audit_ledger.jsonl")
}

func (l Layout) InstanceLifecycle(instanceID string) string {
	return filepath.Join(l.Base, "logs", "instances", instanceID, "lifecycle.log")
}

func (l Layout) SessionsDir() string {
	return filepath.Join(l.Base, "logs", "sessions")
}

func (l Layout) SessionDir(sessionID string) string {
	return filepath.Join(l.SessionsDir(), sessionID)
}

func (l Layout) SessionsLog() string {
	return filepath.Join(l.SessionsDir(), "sessions.log")
}

// logNamePattern constrains identifiers that become path components
// under the log root.
var logNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// CategoryLog is a single JSONL log file with its own serialized
// writer. Category logs carry plain events: no hash chain, no
// prev_hash field.
type CategoryLog struct {
	path  string
	clock clock.Clock

	mu   sync.Mutex
	file *os.File
}

func openCategoryLog(path string, clk clock.Clock) (*CategoryLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &CategoryLog{path: path, clock: clk, file: file}, nil
}

// Append writes one event as a JSON line. A zero Timestamp is stamped
// with the current time; any PrevHash is cleared — chaining belongs
// to the ledger stream only.
func (c *CategoryLog) Append(event Event) error {
	if !event.Type.Valid() {
		return fmt.Errorf("unknown audit event type %q", event.Type)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = c.clock.Now().UTC()
	}
	event.PrevHash = ""

	line, err := json.Marshal(event)
	if err != nil {
		return &WriteError{Path: c.path, Err: err}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.file.Write(append(line, '\n')); err != nil {
		return &WriteError{Path: c.path, Err: err}
	}
	return nil
}

// Path returns the log's file path.
func (c *CategoryLog) Path() string { return c.path }

func (c *CategoryLog) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.file.Close()
}

// LogsConfig carries optional Logs dependencies.
type LogsConfig struct {
	Clock  clock.Clock
	Logger *slog.Logger
}

// Logs owns every log under one base directory: the system log, the
// chained audit ledger, per-instance lifecycle logs, and the sessions
// metadata log.
type Logs struct {
	layout Layout
	clock  clock.Clock

	system       *os.File
	systemLogger *slog.Logger
	ledger       *Ledger
	sessions     *CategoryLog

	mu        sync.Mutex
	lifecycle map[string]*CategoryLog
}

// OpenLogs creates the log directory layout under base and opens the
// shared streams.
func OpenLogs(base string, config LogsConfig) (*Logs, error) {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	layout := Layout{Base: base}

	if err := os.MkdirAll(layout.SessionsDir(), 0o700); err != nil {
		return nil, fmt.Errorf("creating log layout: %w", err)
	}

	system, err := os.OpenFile(layout.SystemLog(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening system log: %w", err)
	}

	ledger, err := OpenLedger(layout.AuditLedger(), LedgerConfig{Clock: config.Clock, Logger: config.Logger})
	if err != nil {
		system.Close()
		return nil, err
	}

	sessions, err := openCategoryLog(layout.SessionsLog(), config.Clock)
	if err != nil {
		ledger.Close()
		system.Close()
		return nil, err
	}

	return &Logs{
		layout:       layout,
		clock:        config.Clock,
		system:       system,
		systemLogger: slog.New(slog.NewTextHandler(system, nil)),
		ledger:       ledger,
		sessions:     sessions,
		lifecycle:    make(map[string]*CategoryLog),
	}, nil
}

// Layout returns the directory layout the logs live under.
func (l *Logs) Layout() Layout { return l.layout }

// System returns a plain-text structured logger writing to
// logs/system.log.
func (l *Logs) System() *slog.Logger { return l.systemLogger }

// Ledger returns the hash-chained audit ledger.
func (l *Logs) Ledger() *Ledger { return l.ledger }

// Sessions returns the session recording metadata log.
func (l *Logs) Sessions() *CategoryLog { return l.sessions }

// Lifecycle returns the lifecycle log for one instance, opening it on
// first use. The instance identifier becomes a path component, so it
// is validated rather than trusted.
func (l *Logs) Lifecycle(instanceID string) (*CategoryLog, error) {
	if !logNamePattern.MatchString(instanceID) {
		return nil, fmt.Errorf("invalid instance identifier %q", instanceID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if log, ok := l.lifecycle[instanceID]; ok {
		return log, nil
	}
	log, err := openCategoryLog(l.layout.InstanceLifecycle(instanceID), l.clock)
	if err != nil {
		return nil, err
	}
	l.lifecycle[instanceID] = log
	return log, nil
}

// Close closes every open stream. The ledger is closed first so its
// writer goroutine drains before the files go away.
func (l *Logs) Close() error {
	err := l.ledger.Close()
	if e := l.sessions.close(); err == nil {
		err = e
	}
	l.mu.Lock()
	for _, log := range l.lifecycle {
		if e := log.close(); err == nil {
			err = e
		}
	}
	l.mu.Unlock()
	if e := l.system.Close(); err == nil {
		err = e
	}
	return err
}
