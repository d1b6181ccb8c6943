// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/warden-foundation/warden/lib/codec"
	"github.com/warden-foundation/warden/lib/sqlitepool"
)

// Record is the durable registry entry for one instance: the request
// metadata the backend does not retain. Serialized as a deterministic
// CBOR blob keyed by instance ID.
type Record struct {
	InstanceID     string            `cbor:"instance_id"`
	Name           string            `cbor:"name"`
	UUID           string            `cbor:"uuid"`
	BaseImage      string            `cbor:"base_image"`
	NetworkPolicy  string            `cbor:"network_policy"`
	SecurityPolicy string            `cbor:"security_policy"`
	CustomScript   string            `cbor:"custom_script,omitempty"`
	Labels         map[string]string `cbor:"labels,omitempty"`
	CreatedAt      time.Time         `cbor:"created_at"`
}

// Registry persists instance metadata in SQLite so a restarted daemon
// can correlate backend domains with the requests that created them.
type Registry struct {
	pool *sqlitepool.Pool
}

const registrySchema = `
CREATE TABLE IF NOT EXISTS instances (
	id     TEXT PRIMARY KEY,
	record BLOB NOT NULL
) WITHOUT ROWID;`

// OpenRegistry opens (creating if necessary) the registry database at
// path. The caller must Close it.
func OpenRegistry(path string, logger *slog.Logger) (*Registry, error) {
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteTransient(conn, registrySchema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening instance registry: %w", err)
	}
	return &Registry{pool: pool}, nil
}

// Put inserts or replaces the record for record.InstanceID.
func (r *Registry) Put(ctx context.Context, record Record) error {
	blob, err := codec.Marshal(record)
	if err != nil {
		return fmt.Errorf("encoding registry record %q: %w", record.InstanceID, err)
	}

	conn, err := r.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer r.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT OR REPLACE INTO instances (id, record) VALUES (?, ?)`,
		&sqlitex.ExecOptions{Args: []any{record.InstanceID, blob}})
	if err != nil {
		return fmt.Errorf("storing registry record %q: %w", record.InstanceID, err)
	}
	return nil
}

// Get returns the record for an instance ID. The second return value
// reports whether a record exists.
func (r *Registry) Get(ctx context.Context, instanceID string) (Record, bool, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return Record{}, false, err
	}
	defer r.pool.Put(conn)

	var blob []byte
	err = sqlitex.Execute(conn,
		`SELECT record FROM instances WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{instanceID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				blob = make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, blob)
				return nil
			},
		})
	if err != nil {
		return Record{}, false, fmt.Errorf("reading registry record %q: %w", instanceID, err)
	}
	if blob == nil {
		return Record{}, false, nil
	}

	var record Record
	if err := codec.Unmarshal(blob, &record); err != nil {
		return Record{}, false, fmt.Errorf("decoding registry record %q: %w", instanceID, err)
	}
	return record, true, nil
}

// Delete removes the record for an instance ID. Deleting an absent
// record is a no-op: destroy must stay idempotent at the registry
// level too.
func (r *Registry) Delete(ctx context.Context, instanceID string) error {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer r.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`DELETE FROM instances WHERE id = ?`,
		&sqlitex.ExecOptions{Args: []any{instanceID}})
	if err != nil {
		return fmt.Errorf("deleting registry record %q: %w", instanceID, err)
	}
	return nil
}

// List returns every record, ordered by instance ID.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	conn, err := r.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Put(conn)

	var records []Record
	err = sqlitex.Execute(conn,
		`SELECT record FROM instances ORDER BY id`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				blob := make([]byte, stmt.ColumnLen(0))
				stmt.ColumnBytes(0, blob)
				var record Record
				if err := codec.Unmarshal(blob, &record); err != nil {
					return err
				}
				records = append(records, record)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("listing registry records: %w", err)
	}
	return records, nil
}

// Close releases the underlying connection pool.
func (r *Registry) Close() error {
	return r.pool.Close()
}
