// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package blob provides immutable, offset-addressable byte sources
// and the composite types that build new blobs out of existing ones
// without copying data.
//
// Every blob satisfies the same read contract:
//
//	n := b.Read(destination, offset, maxBytes)
//
// n is the number of bytes copied into destination (never more than
// maxBytes or len(destination)). Reading at or past [Blob.Length]
// returns 0, which is not an error. A negative offset or maxBytes,
// or an I/O failure in an underlying source, returns [ReadFailed]
// (-1) so callers can distinguish a failed read from an empty one.
//
// Concrete blobs:
//
//   - [NewBuffer] wraps a byte slice the caller hands over.
//   - [OpenFile] reads a file with positional reads. The descriptor
//     is shared between a blob and its clones and closed when the
//     last of them is released.
//   - [NewSlice] exposes a window of another blob. A slice may extend
//     past the end of its source; the excess reads as zero bytes.
//   - [NewJoin] concatenates blobs, addressed through a cumulative
//     offset table.
//   - [Builder] accumulates data and blobs and produces a join.
//
// [NewReader] adapts any blob to io.Reader and io.ReaderAt, which is
// how stored bodies are streamed to HTTP clients. [Equal] and [Hash]
// compare and fingerprint contents.
//
// Blobs are safe for concurrent reads. Clone returns an independent
// view sharing the underlying bytes; cloning a composite clones its
// members.
package blob
