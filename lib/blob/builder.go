// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

// Builder assembles a blob from byte data and existing blobs.
// Consecutive data appends are coalesced into one buffer member.
// The zero value is ready to use.
type Builder struct {
	members []Blob
	pending []byte
	length  int64
}

// AddData appends a copy of data.
func (b *Builder) AddData(data []byte) {
	b.pending = append(b.pending, data...)
	b.length += int64(len(data))
}

// AddString appends s.
func (b *Builder) AddString(s string) {
	b.pending = append(b.pending, s...)
	b.length += int64(len(s))
}

// AddBlob appends a clone of blob. The caller keeps ownership of blob.
func (b *Builder) AddBlob(blob Blob) {
	b.flush()
	b.members = append(b.members, blob.Clone())
	if length := blob.Length(); length > 0 {
		b.length += length
	}
}

// Length returns the number of bytes added so far.
func (b *Builder) Length() int64 { return b.length }

// Build returns the assembled blob and resets the builder.
func (b *Builder) Build() (Blob, error) {
	b.flush()
	members := b.members
	b.members = nil
	b.length = 0

	switch len(members) {
	case 0:
		return Empty(), nil
	case 1:
		return members[0], nil
	}
	return NewJoin(members)
}

func (b *Builder) flush() {
	if len(b.pending) == 0 {
		return
	}
	b.members = append(b.members, NewBuffer(b.pending))
	b.pending = nil
}
