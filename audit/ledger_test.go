// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/warden-foundation/warden/lib/clock"
)

func testLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit_ledger.jsonl")
	ledger, err := OpenLedger(path, LedgerConfig{
		Clock: clock.Fake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
	})
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	return ledger, path
}

func appendN(t *testing.T, ledger *Ledger, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		event := Event{
			AgentID: "a1",
			Type:    EventPolicyDecision,
			Details: map[string]any{"sequence": i, "note": "aaaa"},
		}
		if err := ledger.Append(ctx, event); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
}

func TestLedgerChainRoundTrip(t *testing.T) {
	ledger, path := testLedger(t)
	appendN(t, ledger, 10)
	if err := ledger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	n, err := VerifyFile(path)
	if err != nil {
		t.Fatalf("VerifyFile: %v", err)
	}
	if n != 10 {
		t.Errorf("verified %d records, want 10", n)
	}
}

// The first record chains to the genesis seed, and every later record
// chains to its predecessor's serialized bytes.
func TestLedgerRecordShape(t *testing.T) {
	ledger, path := testLedger(t)
	appendN(t, ledger, 2)
	if err := ledger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}

	var first, second Event
	if err := json.Unmarshal(lines[0], &first); err != nil {
		t.Fatalf("unmarshal first record: %v", err)
	}
	if err := json.Unmarshal(lines[1], &second); err != nil {
		t.Fatalf("unmarshal second record: %v", err)
	}

	genesis := GenesisHash()
	if first.PrevHash != hexHash(genesis) {
		t.Errorf("first prev_hash = %s, want genesis seed %s", first.PrevHash, hexHash(genesis))
	}
	if want := hexHash(chainHash(lines[0])); second.PrevHash != want {
		t.Errorf("second prev_hash = %s, want hash of first record %s", second.PrevHash, want)
	}
	if first.Timestamp.IsZero() {
		t.Error("writer did not stamp a timestamp")
	}
}

func hexHash(h Hash) string {
	return hex.EncodeToString(h[:])
}

// Reopening a ledger continues the existing chain instead of starting
// a second one.
func TestLedgerReopenContinuesChain(t *testing.T) {
	ledger, path := testLedger(t)
	appendN(t, ledger, 3)
	if err := ledger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenLedger(path, LedgerConfig{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	appendN(t, reopened, 3)
	if err := reopened.Close(); err != nil {
		t.Fatalf("Close after reopen: %v", err)
	}

	n, err := VerifyFile(path)
	if err != nil {
		t.Fatalf("VerifyFile: %v", err)
	}
	if n != 6 {
		t.Errorf("verified %d records, want 6", n)
	}
}

// Mutating a single byte of a non-final record fails verification at
// that record's position.
func TestVerifyDetectsMutation(t *testing.T) {
	ledger, path := testLedger(t)
	appendN(t, ledger, 5)
	if err := ledger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := bytes.Split(data, []byte("\n"))
	// Flip one payload byte in the second record.
	mutated := bytes.Replace(lines[1], []byte(`"note":"aaaa"`), []byte(`"note":"aaab"`), 1)
	if bytes.Equal(mutated, lines[1]) {
		t.Fatal("mutation did not apply")
	}
	lines[1] = mutated
	if err := os.WriteFile(path, bytes.Join(lines, []byte("\n")), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err = VerifyFile(path)
	var chainErr *ChainError
	if !errors.As(err, &chainErr) {
		t.Fatalf("err = %v, want *ChainError", err)
	}
	if chainErr.Position != 2 {
		t.Errorf("failure at record %d, want 2", chainErr.Position)
	}
}

func TestVerifyDetectsBadGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forged.jsonl")
	record := `{"timestamp":"2026-03-01T09:00:00Z","event_type":"lifecycle","prev_hash":"deadbeef"}` + "\n"
	if err := os.WriteFile(path, []byte(record), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := VerifyFile(path)
	var chainErr *ChainError
	if !errors.As(err, &chainErr) {
		t.Fatalf("err = %v, want *ChainError", err)
	}
	if chainErr.Position != 1 {
		t.Errorf("failure at record %d, want 1", chainErr.Position)
	}
}

func TestVerifyEmptyLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	n, err := VerifyFile(path)
	if err != nil {
		t.Fatalf("VerifyFile: %v", err)
	}
	if n != 0 {
		t.Errorf("verified %d records, want 0", n)
	}
}

func TestLedgerRejectsUnknownEventType(t *testing.T) {
	ledger, _ := testLedger(t)
	defer ledger.Close()

	err := ledger.Append(context.Background(), Event{Type: EventType("made-up")})
	if err == nil {
		t.Error("Append accepted an unknown event type")
	}
}

func TestAppendAfterClose(t *testing.T) {
	ledger, _ := testLedger(t)
	if err := ledger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	err := ledger.Append(context.Background(), Event{Type: EventLifecycle})
	if !errors.Is(err, ErrLedgerClosed) {
		t.Errorf("err = %v, want ErrLedgerClosed", err)
	}
}

func TestAppendConcurrentProducers(t *testing.T) {
	ledger, path := testLedger(t)

	const producers, perProducer = 8, 25
	errs := make(chan error, producers)
	for p := 0; p < producers; p++ {
		go func() {
			ctx := context.Background()
			for i := 0; i < perProducer; i++ {
				if err := ledger.Append(ctx, Event{Type: EventLifecycle}); err != nil {
					errs <- err
					return
				}
			}
			errs <- nil
		}()
	}
	for p := 0; p < producers; p++ {
		if err := <-errs; err != nil {
			t.Fatalf("producer: %v", err)
		}
	}
	if err := ledger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	n, err := VerifyFile(path)
	if err != nil {
		t.Fatalf("VerifyFile: %v", err)
	}
	if n != producers*perProducer {
		t.Errorf("verified %d records, want %d", n, producers*perProducer)
	}
}
