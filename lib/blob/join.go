// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrTooLarge is returned by NewJoin when the combined length of the
// members does not fit in an int64.
var ErrTooLarge = errors.New("blob: joined length overflows")

type joinBlob struct {
	members []Blob
	// starts[i] is the offset of members[i] within the join.
	// Zero-length members share the start of their successor.
	starts []int64
	length int64
}

// NewJoin concatenates members. The join takes ownership of the
// member values; pass clones to keep using the originals. An empty
// member list yields an empty blob.
func NewJoin(members []Blob) (Blob, error) {
	join := &joinBlob{
		members: make([]Blob, 0, len(members)),
		starts:  make([]int64, 0, len(members)),
	}
	for i, member := range members {
		memberLength := member.Length()
		if memberLength < 0 {
			return nil, fmt.Errorf("blob: join member %d has no length: %w", i, ErrReadFailed)
		}
		if memberLength > math.MaxInt64-join.length {
			return nil, fmt.Errorf("blob: adding member %d (%d bytes) to %d bytes: %w",
				i, memberLength, join.length, ErrTooLarge)
		}
		join.members = append(join.members, member)
		join.starts = append(join.starts, join.length)
		join.length += memberLength
	}
	return join, nil
}

func (j *joinBlob) Length() int64 { return j.length }

func (j *joinBlob) Read(destination []byte, offset, maxBytes int64) int64 {
	remaining, ok := clampRead(j.length, destination, offset, maxBytes)
	if !ok {
		return ReadFailed
	}
	if remaining == 0 {
		return 0
	}

	// Last member whose start is at or before offset.
	index := sort.Search(len(j.starts), func(i int) bool { return j.starts[i] > offset }) - 1
	if index < 0 {
		return 0
	}

	var total int64
	for ; index < len(j.members) && remaining > 0; index++ {
		if j.starts[index] > offset {
			// Not contiguous with what has been read so far.
			break
		}
		member := j.members[index]
		local := offset - j.starts[index]
		want := min(remaining, member.Length()-local)
		if want <= 0 {
			continue
		}
		got := member.Read(destination[total:total+want], local, want)
		if got < 0 {
			return ReadFailed
		}
		total += got
		offset += got
		remaining -= got
		if got < want {
			break
		}
	}
	return total
}

func (j *joinBlob) Clone() Blob {
	clone := &joinBlob{
		members: make([]Blob, len(j.members)),
		starts:  j.starts,
		length:  j.length,
	}
	for i, member := range j.members {
		clone.members[i] = member.Clone()
	}
	return clone
}

func (j *joinBlob) Close() error {
	var errs []error
	for _, member := range j.members {
		if err := Release(member); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
