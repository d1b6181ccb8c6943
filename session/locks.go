// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package session

import "sync"

// instanceLocks totally orders operations per instance identifier.
// Entries are reference-counted so the map does not grow with every
// identifier ever seen.
type instanceLocks struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newInstanceLocks() *instanceLocks {
	return &instanceLocks{entries: make(map[string]*lockEntry)}
}

// lock acquires the per-instance lock and returns its release func.
func (l *instanceLocks) lock(instanceID string) func() {
	l.mu.Lock()
	entry, ok := l.entries[instanceID]
	if !ok {
		entry = &lockEntry{}
		l.entries[instanceID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.entries, instanceID)
		}
		l.mu.Unlock()
	}
}
