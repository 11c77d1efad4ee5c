// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens the SQLite database behind the web cache
// as a fixed-size pool of zombiezen.com/go/sqlite connections.
//
// Connections are handed out with [Pool.Take] and returned with
// [Pool.Put], or borrowed for the length of a callback with
// [Pool.With]. A connection is used by one goroutine at a time. The
// pool itself is safe for concurrent use.
//
// Every connection is prepared with:
//
//   - journal_mode=WAL, so readers serving captured content never
//     wait on a capture that is writing, and never see its
//     uncommitted rows.
//   - synchronous=NORMAL. A committed capture survives a process
//     crash; an OS crash may lose the last few commits, which only
//     costs a re-fetch.
//   - busy_timeout, from [Config.BusyTimeout] (5s by default).
//   - foreign_keys=OFF. Deletes cascade in the store code, not in
//     the schema.
//   - an 8 MB page cache, 256 MB of mmap, and in-memory temp storage.
//
// The package exposes the zombiezen types directly: callers write SQL against *sqlite.Conn with sqlitex.Execute and
// manage transactions with sqlitex.ImmediateTransaction.
package sqlitepool
