// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil bounds HTTP body reads and classifies connection
// teardown errors.
//
// Captured bodies are held in memory between the fetch and the
// database insert, so every read of a fetched body goes through
// [ReadBody] with the configured size limit. A body over the limit
// fails with [ErrBodyTooLarge] rather than being silently truncated.
package netutil
