// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sqlitepool_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/localserver/lib/sqlitepool"
)

func queryInt(t *testing.T, conn *sqlite.Conn, query string) int64 {
	t.Helper()
	var value int64
	err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil {
		t.Fatalf("%s: %v", query, err)
	}
	return value
}

func TestPragmas(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{BusyTimeout: 1500 * time.Millisecond})

	err := pool.With(context.Background(), func(conn *sqlite.Conn) error {
		var journalMode string
		if err := sqlitex.Execute(conn, "PRAGMA journal_mode", &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				journalMode = stmt.ColumnText(0)
				return nil
			},
		}); err != nil {
			return err
		}
		if journalMode != "wal" {
			t.Errorf("journal_mode = %q, want wal", journalMode)
		}
		if synchronous := queryInt(t, conn, "PRAGMA synchronous"); synchronous != 1 {
			t.Errorf("synchronous = %d, want 1 (NORMAL)", synchronous)
		}
		if timeout := queryInt(t, conn, "PRAGMA busy_timeout"); timeout != 1500 {
			t.Errorf("busy_timeout = %d, want 1500", timeout)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("With: %v", err)
	}
}

func TestOnConnectCreatesSchema(t *testing.T) {
	var mutex sync.Mutex
	prepared := 0
	pool := openTestPool(t, sqlitepool.Config{
		OnConnect: func(conn *sqlite.Conn) error {
			mutex.Lock()
			prepared++
			mutex.Unlock()
			return sqlitex.ExecuteScript(conn, `
				CREATE TABLE IF NOT EXISTS captured (
					url TEXT PRIMARY KEY,
					body BLOB
				);
			`, nil)
		},
	})

	err := pool.With(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, "INSERT INTO captured (url, body) VALUES (?, ?)", &sqlitex.ExecOptions{
			Args: []any{"https://example.com/", []byte("<html>")},
		})
	})
	if err != nil {
		t.Fatalf("INSERT: %v", err)
	}

	mutex.Lock()
	defer mutex.Unlock()
	if prepared == 0 {
		t.Error("OnConnect was not called")
	}
}

func TestConcurrentReadersSeeCommittedRows(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, `CREATE TABLE IF NOT EXISTS sizes (bytes INTEGER NOT NULL);`, nil)
		},
	})
	err := pool.With(context.Background(), func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, `INSERT INTO sizes (bytes) VALUES (10), (20), (30);`, nil)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	const readers = 8
	var waitGroup sync.WaitGroup
	failures := make(chan error, readers)
	for range readers {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			err := pool.With(context.Background(), func(conn *sqlite.Conn) error {
				var total int64
				if err := sqlitex.Execute(conn, "SELECT bytes FROM sizes", &sqlitex.ExecOptions{
					ResultFunc: func(stmt *sqlite.Stmt) error {
						total += stmt.ColumnInt64(0)
						return nil
					},
				}); err != nil {
					return err
				}
				if total != 60 {
					return fmt.Errorf("total = %d, want 60", total)
				}
				return nil
			})
			if err != nil {
				failures <- err
			}
		}()
	}
	waitGroup.Wait()
	close(failures)
	for err := range failures {
		t.Error(err)
	}
}

func TestEmptyPathRejected(t *testing.T) {
	if _, err := sqlitepool.Open(sqlitepool.Config{}); err == nil {
		t.Fatal("Open with empty Path succeeded")
	}
}

func TestTakeHonorsContext(t *testing.T) {
	pool := openTestPool(t, sqlitepool.Config{PoolSize: 1})

	conn, err := pool.Take(context.Background())
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	defer pool.Put(conn)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Take(ctx); err == nil {
		t.Fatal("Take with cancelled context on an exhausted pool succeeded")
	}
}

// openTestPool opens cfg against a temporary database file and closes
// it when the test finishes.
func openTestPool(t *testing.T, cfg sqlitepool.Config) *sqlitepool.Pool {
	t.Helper()
	cfg.Path = filepath.Join(t.TempDir(), "cache.db")
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 4
	}
	pool, err := sqlitepool.Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := pool.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return pool
}
