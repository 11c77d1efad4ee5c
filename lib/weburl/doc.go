// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package weburl resolves, normalizes, and compares the http(s) URLs
// that identify captured resources.
//
// A stored URL is always absolute, has a lowercase scheme and host,
// omits the scheme's default port, has at least "/" as its path, and
// carries no fragment. Two URLs identify the same resource exactly
// when their normalized strings are equal.
//
// An [Origin] is the (scheme, host, port) triple that scopes a
// resource store: every URL a store holds must share the store's
// origin.
package weburl
