// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

type bufferBlob struct {
	data []byte
}

// NewBuffer returns a blob over data. The blob takes ownership: the
// caller must not modify data afterwards.
func NewBuffer(data []byte) Blob {
	return &bufferBlob{data: data}
}

// FromString returns a blob holding a copy of s.
func FromString(s string) Blob {
	return &bufferBlob{data: []byte(s)}
}

func (b *bufferBlob) Length() int64 { return int64(len(b.data)) }

func (b *bufferBlob) Read(destination []byte, offset, maxBytes int64) int64 {
	count, ok := clampRead(int64(len(b.data)), destination, offset, maxBytes)
	if !ok {
		return ReadFailed
	}
	if count == 0 {
		return 0
	}
	return int64(copy(destination[:count], b.data[offset:offset+count]))
}

func (b *bufferBlob) Clone() Blob { return &bufferBlob{data: b.data} }
