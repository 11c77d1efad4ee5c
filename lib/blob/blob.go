// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

// ReadFailed is returned by Read when the arguments are invalid or an
// underlying source fails. It is distinct from 0, which means the read
// started at or past the end of the blob.
const ReadFailed int64 = -1

// Blob is a read-only byte source of known length.
type Blob interface {
	// Length returns the number of bytes in the blob. It never
	// changes for the lifetime of the blob. A negative value means
	// the length could not be determined and every Read fails.
	Length() int64

	// Read copies up to maxBytes bytes starting at offset into
	// destination and returns the number copied. See the package
	// documentation for the full contract.
	Read(destination []byte, offset, maxBytes int64) int64

	// Clone returns an independent blob over the same bytes.
	Clone() Blob
}

// ErrReadFailed is the error form of ReadFailed, returned by the
// io adapters in this package.
var ErrReadFailed = errors.New("blob: read failed")

// Release frees any resources held by b. Blobs backed by memory hold
// nothing and Release is a no-op for them; file-backed blobs drop
// their reference to the shared descriptor.
func Release(b Blob) error {
	if closer, ok := b.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// clampRead validates read arguments and returns the number of bytes
// a blob of the given length may copy. ok is false when the arguments
// are invalid.
func clampRead(length int64, destination []byte, offset, maxBytes int64) (count int64, ok bool) {
	if offset < 0 || maxBytes < 0 {
		return 0, false
	}
	if offset >= length {
		return 0, true
	}
	count = maxBytes
	if remaining := length - offset; count > remaining {
		count = remaining
	}
	if capacity := int64(len(destination)); count > capacity {
		count = capacity
	}
	return count, true
}

type emptyBlob struct{}

// Empty returns a zero-length blob.
func Empty() Blob { return emptyBlob{} }

func (emptyBlob) Length() int64 { return 0 }

func (emptyBlob) Read(_ []byte, offset, maxBytes int64) int64 {
	if offset < 0 || maxBytes < 0 {
		return ReadFailed
	}
	return 0
}

func (emptyBlob) Clone() Blob { return emptyBlob{} }

// maxPresize caps the buffer ReadAll allocates up front.
const maxPresize = 1 << 20

// ReadAll returns every readable byte of b. For a slice that extends
// past the end of its source, the result is shorter than Length.
func ReadAll(b Blob) ([]byte, error) {
	length := b.Length()
	if length < 0 {
		return nil, fmt.Errorf("blob: length unavailable: %w", ErrReadFailed)
	}
	// Length is an upper bound, not a promise: a slice past the end
	// of its source can report far more than it will ever deliver.
	var buffer bytes.Buffer
	buffer.Grow(int(min(length, maxPresize)))
	if _, err := io.Copy(&buffer, NewReader(b)); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// compareChunkSize bounds the memory Equal uses per side.
const compareChunkSize = 32 * 1024

// Equal reports whether a and b have the same length and contents.
// Blobs that are the same value are equal without reading.
func Equal(a, b Blob) (bool, error) {
	if a == b {
		return true, nil
	}
	length := a.Length()
	if length != b.Length() {
		return false, nil
	}
	if length < 0 {
		return false, fmt.Errorf("blob: comparing unreadable blobs: %w", ErrReadFailed)
	}

	left := make([]byte, compareChunkSize)
	right := make([]byte, compareChunkSize)
	for offset := int64(0); offset < length; {
		want := min(length-offset, compareChunkSize)
		readLeft := a.Read(left, offset, want)
		readRight := b.Read(right, offset, want)
		if readLeft < 0 || readRight < 0 {
			return false, fmt.Errorf("blob: comparing at offset %d: %w", offset, ErrReadFailed)
		}
		if readLeft != readRight || !bytes.Equal(left[:readLeft], right[:readRight]) {
			return false, nil
		}
		if readLeft == 0 {
			// Both sides ran dry at the same point (slices past the
			// end of their sources). The readable prefixes match.
			return true, nil
		}
		offset += readLeft
	}
	return true, nil
}

// Digest is a 32-byte BLAKE3 hash of a blob's contents.
type Digest [32]byte

// String returns the lowercase hex encoding of the digest.
func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Hash computes the BLAKE3 digest of every readable byte in b.
func Hash(b Blob) (Digest, error) {
	hasher := blake3.New()
	if _, err := io.Copy(hasher, NewReader(b)); err != nil {
		return Digest{}, fmt.Errorf("blob: hashing: %w", err)
	}
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest, nil
}

// HashBytes computes the same digest as Hash for an in-memory buffer.
func HashBytes(data []byte) Digest {
	return Digest(blake3.Sum256(data))
}
