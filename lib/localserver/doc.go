// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package localserver implements the web cache behind the local
// server: stores of captured responses kept in SQLite and served back
// by URL.
//
// A [ResourceStore] is filled by explicit captures. Each [Capture]
// call becomes a batch; batches of one store run one at a time, in
// request order, on a task goroutine. A batch stages its responses in
// a downloading version and merges them into the current version in a
// single transaction when it finishes, so readers never see half a
// batch. A failed download skips that URL; a storage failure or a
// cancellation discards everything the batch staged.
//
// A [ManagedResourceStore] follows a JSON manifest. [UpdateTask]
// fetches the manifest, records a new version when its label changes,
// downloads the entries, and promotes the version once every entry
// has a payload. Update tasks for one store exclude each other across
// processes through [updatelock]; a task that cannot take the lock
// ends as [UpdateSkipped] without touching the store.
//
// Store events reach a [Listener] from one dispatcher goroutine per
// store, in the order the tasks produced them.
//
// [LocalServer.Lookup] answers a request from the current versions of
// the enabled stores of the request's origin.
//
// [Capture]: ResourceStore.Capture
// [updatelock]: github.com/bureau-foundation/localserver/lib/updatelock
package localserver
