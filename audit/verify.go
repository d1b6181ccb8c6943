// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// ChainError reports where a ledger failed verification. Position is
// the 1-based record number whose bytes no longer authenticate
// against the chain.
type ChainError struct {
	Path     string
	Position int
	Reason   string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("%s: chain broken at record %d: %s", e.Path, e.Position, e.Reason)
}

// VerifyFile replays the hash chain of the ledger at path and returns
// the number of records checked. Verification is a linear pass: each
// record's prev_hash must equal the keyed hash of the previous
// record's exact serialized bytes, and the first record must chain to
// the genesis seed. Any mismatch returns a *ChainError naming the
// offending record.
func VerifyFile(path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("opening audit ledger: %w", err)
	}
	defer file.Close()

	prev := GenesisHash()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordBytes)

	count := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		count++

		var record struct {
			PrevHash string `json:"prev_hash"`
		}
		if err := json.Unmarshal(line, &record); err != nil {
			return count, &ChainError{Path: path, Position: count, Reason: fmt.Sprintf("malformed record: %v", err)}
		}
		if record.PrevHash != hex.EncodeToString(prev[:]) {
			if count == 1 {
				return count, &ChainError{Path: path, Position: 1, Reason: "does not chain to the genesis seed"}
			}
			// The link between this record and its predecessor does
			// not hold. Blame the predecessor: the common tamper case
			// is an edit to a record's payload, which surfaces one
			// link later.
			return count, &ChainError{Path: path, Position: count - 1, Reason: "serialized bytes do not match the hash recorded by the next record"}
		}
		prev = chainHash(line)
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("reading audit ledger: %w", err)
	}
	return count, nil
}
