// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/localserver/lib/sqlitepool"
)

// ConnectionConfig locates and tunes the web cache database.
type ConnectionConfig struct {
	// Path is the SQLite file. Required.
	Path string

	PoolSize    int
	BusyTimeout time.Duration
	Logger      *slog.Logger
}

// Connection is the session's handle on the web cache database. It
// pools SQLite connections underneath and carries the session-wide
// version check: once OpenAndVerifyVersion has seen a mismatch, every
// later operation fails with ErrVersionMismatch without touching the
// database.
type Connection struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
	bogus  atomic.Bool
}

// OpenConnection opens the database at cfg.Path, creating the schema
// if the file is new.
func OpenConnection(cfg ConnectionConfig) (*Connection, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:        cfg.Path,
		PoolSize:    cfg.PoolSize,
		BusyTimeout: cfg.BusyTimeout,
		Logger:      logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening web cache database: %w", err)
	}
	return &Connection{pool: pool, logger: logger}, nil
}

// OpenAndVerifyVersion compares expected with the persisted schema
// version. An empty expected version always succeeds. A mismatch marks
// the connection bogus for the rest of its life and returns
// ErrVersionMismatch.
func (c *Connection) OpenAndVerifyVersion(ctx context.Context, expected string) error {
	if expected == "" {
		return nil
	}
	persisted, err := c.PersistedVersion(ctx)
	if err != nil {
		return err
	}
	if persisted != expected {
		c.bogus.Store(true)
		c.logger.Error("web cache database version mismatch",
			"expected", expected,
			"persisted", persisted,
		)
		return fmt.Errorf("%w: expected %q, found %q", ErrVersionMismatch, expected, persisted)
	}
	return nil
}

// PersistedVersion returns the schema version stored in the database.
func (c *Connection) PersistedVersion(ctx context.Context) (string, error) {
	var version string
	err := c.Execute(ctx, "SELECT value FROM meta WHERE key = 'schema_version'", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version = stmt.ColumnText(0)
			return nil
		},
	})
	if err != nil {
		return "", err
	}
	return version, nil
}

// Bogus reports whether a version mismatch has been seen.
func (c *Connection) Bogus() bool { return c.bogus.Load() }

// Execute runs one statement outside any explicit transaction.
func (c *Connection) Execute(ctx context.Context, query string, opts *sqlitex.ExecOptions) error {
	return c.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, query, opts)
	})
}

// Read borrows a connection for fn. fn sees committed data only.
func (c *Connection) Read(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	if c.bogus.Load() {
		return ErrVersionMismatch
	}
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return err
	}
	defer c.pool.Put(conn)
	return storageError("read", fn(conn))
}

// Begin starts an immediate (write-locking) transaction. The caller
// must end it with Commit or Rollback; Rollback after Commit is a
// no-op, so
//
//	tx, err := connection.Begin(ctx)
//	if err != nil { return err }
//	defer tx.Rollback()
//	...
//	return tx.Commit()
//
// is the usual shape.
func (c *Connection) Begin(ctx context.Context) (*Tx, error) {
	if c.bogus.Load() {
		return nil, ErrVersionMismatch
	}
	conn, err := c.pool.Take(ctx)
	if err != nil {
		return nil, err
	}
	if err := sqlitex.ExecuteTransient(conn, "BEGIN IMMEDIATE", nil); err != nil {
		c.pool.Put(conn)
		return nil, storageError("begin", err)
	}
	return &Tx{owner: c, conn: conn}, nil
}

// Write runs fn inside a transaction and commits if fn succeeds.
func (c *Connection) Write(ctx context.Context, op string, fn func(conn *sqlite.Conn) error) error {
	tx, err := c.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx.Conn()); err != nil {
		return storageError(op, err)
	}
	return tx.Commit()
}

// Close closes the pool. It blocks until borrowed connections return.
func (c *Connection) Close() error {
	return c.pool.Close()
}

// Tx is an open write transaction on one pooled connection.
type Tx struct {
	owner *Connection
	conn  *sqlite.Conn
	done  bool
}

// Conn exposes the transaction's connection for sqlitex calls.
func (t *Tx) Conn() *sqlite.Conn { return t.conn }

// Execute runs one statement inside the transaction.
func (t *Tx) Execute(query string, opts *sqlitex.ExecOptions) error {
	if t.done {
		return fmt.Errorf("localserver: transaction already finished")
	}
	return storageError("execute", sqlitex.Execute(t.conn, query, opts))
}

// Commit makes the transaction's writes durable and visible.
func (t *Tx) Commit() error {
	if t.done {
		return fmt.Errorf("localserver: transaction already finished")
	}
	t.done = true
	defer t.owner.pool.Put(t.conn)
	if err := sqlitex.ExecuteTransient(t.conn, "COMMIT", nil); err != nil {
		// A failed COMMIT leaves the transaction open.
		sqlitex.ExecuteTransient(t.conn, "ROLLBACK", nil)
		return storageError("commit", err)
	}
	return nil
}

// Rollback discards the transaction's writes.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	defer t.owner.pool.Put(t.conn)
	return storageError("rollback", sqlitex.ExecuteTransient(t.conn, "ROLLBACK", nil))
}
