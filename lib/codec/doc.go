// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the one CBOR configuration used everywhere in
// the web cache: the daemon socket protocol and the payload header
// column in the database both go through it.
//
// Encoding is RFC 8949 Core Deterministic (sorted map keys, shortest
// integers, definite lengths), so equal values produce equal bytes.
// Decoding ignores unknown fields and decodes untyped maps as
// map[string]any.
//
// Types that only ever travel as CBOR use `cbor` struct tags. Types
// that are also printed as JSON by the CLI use `json` tags only;
// fxamacker/cbor falls back to them.
package codec
