// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux || darwin

package blob

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// sharedFile is a read-only descriptor shared by a file blob and all
// of its clones. The descriptor is closed when the last reference is
// dropped.
type sharedFile struct {
	fd     int
	size   int64
	refs   atomic.Int64
	closed atomic.Bool
}

func (f *sharedFile) acquire() { f.refs.Add(1) }

func (f *sharedFile) release() error {
	if f.refs.Add(-1) != 0 {
		return nil
	}
	f.closed.Store(true)
	return unix.Close(f.fd)
}

// FileBlob reads a file with positional reads. The file length is
// captured at open; bytes appended later are not visible and a file
// truncated underneath the blob reads short.
type FileBlob struct {
	file     *sharedFile
	released atomic.Bool
}

// OpenFile opens path for reading. The returned blob holds a reference
// on the descriptor until [FileBlob.Close] (or [Release]) is called.
func OpenFile(path string) (*FileBlob, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("blob: opening %s: %w", path, err)
	}
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("blob: stat %s: %w", path, err)
	}
	if stat.Mode&unix.S_IFMT != unix.S_IFREG {
		unix.Close(fd)
		return nil, fmt.Errorf("blob: %s is not a regular file", path)
	}
	file := &sharedFile{fd: fd, size: stat.Size}
	file.acquire()
	return &FileBlob{file: file}, nil
}

// Length returns the file size at open time, or -1 once the blob has
// been closed.
func (b *FileBlob) Length() int64 {
	if b.released.Load() {
		return ReadFailed
	}
	return b.file.size
}

func (b *FileBlob) Read(destination []byte, offset, maxBytes int64) int64 {
	if b.released.Load() || b.file.closed.Load() {
		return ReadFailed
	}
	count, ok := clampRead(b.file.size, destination, offset, maxBytes)
	if !ok {
		return ReadFailed
	}
	var total int64
	for total < count {
		n, err := unix.Pread(b.file.fd, destination[total:count], offset+total)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return ReadFailed
		}
		if n == 0 {
			break
		}
		total += int64(n)
	}
	return total
}

// Clone returns a new blob sharing the descriptor. The clone must be
// closed independently.
func (b *FileBlob) Clone() Blob {
	b.file.acquire()
	return &FileBlob{file: b.file}
}

// Close drops this blob's reference on the descriptor. Closing twice
// is a no-op.
func (b *FileBlob) Close() error {
	if !b.released.CompareAndSwap(false, true) {
		return nil
	}
	return b.file.release()
}
