// Package store is the local Record Store: five JSON tables (users, auth,
// notes, resources, chats) plus the session snapshot, persisted under the
// "btec_" key namespace.
//
// WHY A KEY-VALUE TABLE INSTEAD OF ONE SQL TABLE PER ENTITY?
// Every table is read and written whole. The client that owns this store
// replaces a table in a single call (last writer wins), so the natural unit
// of storage is "one key, one serialized table". SQLite gives us a durable,
// crash-safe file for those keys with no server to run.
//
// modernc.org/sqlite is a pure Go translation of SQLite and needs no CGo.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteKV implements KV on top of a single SQLite table.
type SQLiteKV struct {
	conn *sql.DB
}

// compile-time check
var _ KV = (*SQLiteKV)(nil)

// OpenSQLite opens (or creates) the database file and prepares the kv table.
//
// dbPath examples:
//   - "data/companion.db" → file-based database (persistent)
//   - ":memory:"          → in-memory database (tests)
func OpenSQLite(dbPath string) (*SQLiteKV, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: opening database: %w", err)
	}

	// One connection: SQLite serialises writers anyway, and ":memory:" gives
	// every pooled connection its own private database.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: pinging database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: setting WAL mode: %w", err)
	}

	kv := &SQLiteKV{conn: conn}
	if err := kv.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("store: running migrations: %w", err)
	}

	return kv, nil
}

// Close closes the database connection pool.
func (kv *SQLiteKV) Close() error {
	return kv.conn.Close()
}

func (kv *SQLiteKV) migrate() error {
	_, err := kv.conn.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating kv table: %w", err)
	}
	return nil
}

func (kv *SQLiteKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := kv.conn.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("store: reading %s: %w", key, err)
	}
	return value, true, nil
}

// Put upserts the value. INSERT ... ON CONFLICT keeps it a single statement,
// so a reader never sees a half-written table.
func (kv *SQLiteKV) Put(ctx context.Context, key string, value []byte) error {
	_, err := kv.conn.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("store: writing %s: %w", key, err)
	}
	return nil
}

func (kv *SQLiteKV) Delete(ctx context.Context, key string) error {
	if _, err := kv.conn.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("store: deleting %s: %w", key, err)
	}
	return nil
}
