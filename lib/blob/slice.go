// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"fmt"
	"math"
)

type sliceBlob struct {
	source Blob
	offset int64
	length int64
}

// NewSlice returns a window of length bytes of source starting at
// offset. The window may extend past the end of source; reads in that
// region return 0. NewSlice panics on a negative offset or length,
// which is a programming error.
//
// The slice retains source. Release the slice to release source.
func NewSlice(source Blob, offset, length int64) Blob {
	if offset < 0 || length < 0 {
		panic(fmt.Sprintf("blob: NewSlice with negative offset %d or length %d", offset, length))
	}
	if length > math.MaxInt64-offset {
		length = math.MaxInt64 - offset
	}
	return &sliceBlob{source: source, offset: offset, length: length}
}

func (s *sliceBlob) Length() int64 { return s.length }

func (s *sliceBlob) Read(destination []byte, offset, maxBytes int64) int64 {
	count, ok := clampRead(s.length, destination, offset, maxBytes)
	if !ok {
		return ReadFailed
	}
	if count == 0 {
		return 0
	}
	return s.source.Read(destination, s.offset+offset, count)
}

func (s *sliceBlob) Clone() Blob {
	return &sliceBlob{source: s.source.Clone(), offset: s.offset, length: s.length}
}

func (s *sliceBlob) Close() error { return Release(s.source) }
