// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/warden-foundation/warden/lib/clock"
)

// Hash is a 32-byte BLAKE3 digest linking consecutive ledger records.
type Hash [32]byte

// domainKey is a 32-byte key for BLAKE3 keyed hashing. Domain
// separation keeps ledger hashes distinct from any other BLAKE3 use
// of the same bytes. The byte values are the ASCII encoding of the
// domain name, zero-padded to 32 bytes, so the keys are inspectable
// in hex dumps without losing any cryptographic property.
type domainKey [32]byte

var (
	// chainDomainKey hashes each record's serialized bytes to form
	// the next record's prev_hash.
	chainDomainKey = domainKey{
		'w', 'a', 'r', 'd', 'e', 'n', '.', 'a', 'u', 'd', 'i', 't', '.',
		'c', 'h', 'a', 'i', 'n', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}

	// genesisDomainKey produces the fixed seed the first record
	// chains to. Changing it invalidates every existing ledger.
	genesisDomainKey = domainKey{
		'w', 'a', 'r', 'd', 'e', 'n', '.', 'a', 'u', 'd', 'i', 't', '.',
		'g', 'e', 'n', 'e', 's', 'i', 's', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

// chainHash computes the chain-domain keyed hash of one serialized
// record (the JSON line without its trailing newline).
func chainHash(record []byte) Hash {
	return keyedHash(chainDomainKey, record)
}

// GenesisHash returns the documented seed value the first ledger
// record chains to: the genesis-domain keyed hash over no input.
func GenesisHash() Hash {
	return keyedHash(genesisDomainKey, nil)
}

func keyedHash(key domainKey, data []byte) Hash {
	// NewKeyed only fails for a wrong key length, which domainKey
	// rules out.
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("audit: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	var hash Hash
	copy(hash[:], hasher.Sum(nil))
	return hash
}

// ErrLedgerClosed is returned by Append after Close.
var ErrLedgerClosed = errors.New("audit ledger is closed")

// WriteError reports a failed ledger write. The record was not
// appended; the caller decides whether that is fatal. The ledger
// never retries silently — losing an audit record silently would
// defeat its purpose.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("appending audit record to %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Ledger is a hash-chained append-only JSONL event log. All writes
// flow through a single writer goroutine so chain order matches the
// order events were accepted, even with concurrent producers.
type Ledger struct {
	path   string
	file   *os.File
	clock  clock.Clock
	logger *slog.Logger

	// prev is the hash of the last record written. Owned by the
	// writer goroutine after Open returns.
	prev Hash

	requests chan *appendRequest
	stop     chan struct{}
	stopped  chan struct{}
}

type appendRequest struct {
	event Event
	done  chan error
}

// LedgerConfig carries optional Ledger dependencies.
type LedgerConfig struct {
	// Clock stamps events that arrive without a timestamp. Defaults
	// to the real clock.
	Clock clock.Clock

	// Logger for operational diagnostics. If nil, logging is
	// disabled.
	Logger *slog.Logger
}

// OpenLedger opens (creating if needed) the chained ledger at path
// and recovers the chain tail from any existing records, so appends
// across process restarts form one continuous chain.
func OpenLedger(path string, config LedgerConfig) (*Ledger, error) {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening audit ledger: %w", err)
	}

	prev, err := readChainTail(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("recovering chain tail of %s: %w", path, err)
	}

	ledger := &Ledger{
		path:     path,
		file:     file,
		clock:    config.Clock,
		logger:   config.Logger,
		prev:     prev,
		requests: make(chan *appendRequest),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go ledger.loop()
	return ledger, nil
}

// readChainTail scans an open ledger file and returns the hash the
// next record must chain to: the hash of the last existing record, or
// the genesis seed for an empty file.
func readChainTail(file *os.File) (Hash, error) {
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return Hash{}, err
	}
	prev := GenesisHash()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		prev = chainHash(line)
	}
	if err := scanner.Err(); err != nil {
		return Hash{}, err
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return Hash{}, err
	}
	return prev, nil
}

// maxRecordBytes bounds a single ledger record. Details maps are
// operator-curated summaries, not payload dumps.
const maxRecordBytes = 4 * 1024 * 1024

// Path returns the ledger's file path.
func (l *Ledger) Path() string { return l.path }

// Append hands the event to the writer goroutine and waits for the
// write result. A zero Timestamp is stamped with the current time.
// The event's PrevHash is set by the writer; any caller-supplied
// value is overwritten.
func (l *Ledger) Append(ctx context.Context, event Event) error {
	request := &appendRequest{event: event, done: make(chan error, 1)}
	select {
	case l.requests <- request:
	case <-l.stop:
		return ErrLedgerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// The write itself is not cancellable: once accepted, the record
	// is written or the error is reported.
	select {
	case err := <-request.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the writer goroutine and closes the underlying file.
// Pending appends that were not yet accepted fail with
// ErrLedgerClosed.
func (l *Ledger) Close() error {
	close(l.stop)
	<-l.stopped
	return l.file.Close()
}

func (l *Ledger) loop() {
	defer close(l.stopped)
	for {
		select {
		case request := <-l.requests:
			request.done <- l.write(request.event)
		case <-l.stop:
			return
		}
	}
}

// write serializes one event, links it to the chain, and appends it.
// Runs only on the writer goroutine.
func (l *Ledger) write(event Event) error {
	if !event.Type.Valid() {
		return fmt.Errorf("unknown audit event type %q", event.Type)
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.clock.Now().UTC()
	}
	event.PrevHash = hex.EncodeToString(l.prev[:])

	line, err := json.Marshal(event)
	if err != nil {
		return &WriteError{Path: l.path, Err: err}
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		// The chain tail is not advanced: a partial line would be
		// caught by verification, and the caller knows the record
		// was lost.
		l.logger.Error("audit write failed", "path", l.path, "error", err)
		return &WriteError{Path: l.path, Err: err}
	}
	l.prev = chainHash(line)
	return nil
}
