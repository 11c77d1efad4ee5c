// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"errors"
	"io"
)

// Reader adapts a Blob to io.Reader, io.ReaderAt and io.Seeker so it
// can be handed to http.ServeContent, io.Copy and hashers.
type Reader struct {
	blob   Blob
	offset int64
}

// NewReader returns a Reader positioned at the start of b. The reader
// does not take ownership of b.
func NewReader(b Blob) *Reader {
	return &Reader{blob: b}
}

// Size returns the length of the underlying blob.
func (r *Reader) Size() int64 { return r.blob.Length() }

func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := r.blob.Read(p, r.offset, int64(len(p)))
	if n < 0 {
		return 0, ErrReadFailed
	}
	if n == 0 {
		return 0, io.EOF
	}
	r.offset += n
	return int(n), nil
}

func (r *Reader) ReadAt(p []byte, offset int64) (int, error) {
	if offset < 0 {
		return 0, errors.New("blob: negative offset")
	}
	var total int
	for total < len(p) {
		n := r.blob.Read(p[total:], offset+int64(total), int64(len(p)-total))
		if n < 0 {
			return total, ErrReadFailed
		}
		if n == 0 {
			return total, io.EOF
		}
		total += int(n)
	}
	return total, nil
}

func (r *Reader) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = r.offset + offset
	case io.SeekEnd:
		target = r.blob.Length() + offset
	default:
		return 0, errors.New("blob: invalid whence")
	}
	if target < 0 {
		return 0, errors.New("blob: negative position")
	}
	r.offset = target
	return target, nil
}
