// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package updatelock

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"golang.org/x/sys/unix"
)

// ErrHeld is returned by TryLock when another holder has the lock.
var ErrHeld = errors.New("update already in progress")

// maxNameLength is the shortest named-primitive limit among the
// platforms the lock scheme has to fit.
const maxNameLength = 31

// Name returns the lock name for a server id. Names are stable across
// restarts and distinct for distinct ids.
func Name(serverID int64) string {
	return fmt.Sprintf("lsupd-%016x", uint64(serverID))
}

// Locker creates lock files in one directory.
type Locker struct {
	directory string
	logger    *slog.Logger
}

// New returns a Locker rooted at directory, creating it if needed.
func New(directory string, logger *slog.Logger) (*Locker, error) {
	if directory == "" {
		return nil, errors.New("updatelock: directory is required")
	}
	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, fmt.Errorf("updatelock: creating %s: %w", directory, err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Locker{directory: directory, logger: logger}, nil
}

// Path returns the lock file path for a server id.
func (l *Locker) Path(serverID int64) string {
	return filepath.Join(l.directory, Name(serverID))
}

// Lock is a held update lock.
type Lock struct {
	serverID int64
	path     string
	fd       int
	logger   *slog.Logger
}

// ServerID returns the id the lock was taken for.
func (l *Lock) ServerID() int64 { return l.serverID }

// TryLock acquires the lock for serverID without blocking. It returns
// ErrHeld if another holder has it.
func (l *Locker) TryLock(serverID int64) (*Lock, error) {
	path := l.Path(serverID)

	// A holder that is releasing unlinks the file before closing it.
	// If we lock a descriptor whose file was unlinked in between, the
	// lock protects nothing; detect that by comparing inodes and retry.
	for attempt := 0; attempt < 3; attempt++ {
		fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR|unix.O_CLOEXEC, 0o644)
		if err != nil {
			return nil, fmt.Errorf("updatelock: opening %s: %w", path, err)
		}
		request := wholeFile(unix.F_WRLCK)
		if err := unix.FcntlFlock(uintptr(fd), unix.F_OFD_SETLK, &request); err != nil {
			unix.Close(fd)
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EACCES) {
				return nil, ErrHeld
			}
			return nil, fmt.Errorf("updatelock: locking %s: %w", path, err)
		}

		current, err := sameFile(fd, path)
		if err != nil {
			unix.Close(fd)
			return nil, err
		}
		if !current {
			unix.Close(fd)
			continue
		}

		// The pid is informational; a failed write does not affect
		// the lock.
		unix.Ftruncate(fd, 0)
		unix.Pwrite(fd, []byte(strconv.Itoa(os.Getpid())+"\n"), 0)

		l.logger.Debug("update lock acquired", "server_id", serverID, "path", path)
		return &Lock{serverID: serverID, path: path, fd: fd, logger: l.logger}, nil
	}
	return nil, fmt.Errorf("updatelock: %s kept changing while locking", path)
}

// wholeFile describes a record lock of the given type covering the
// entire file. Pid must be zero for open file description locks.
func wholeFile(lockType int16) unix.Flock_t {
	return unix.Flock_t{Type: lockType, Whence: io.SeekStart}
}

// sameFile reports whether fd still refers to the file at path.
func sameFile(fd int, path string) (bool, error) {
	var held, named unix.Stat_t
	if err := unix.Fstat(fd, &held); err != nil {
		return false, fmt.Errorf("updatelock: stat %s: %w", path, err)
	}
	if err := unix.Stat(path, &named); err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, fmt.Errorf("updatelock: stat %s: %w", path, err)
	}
	return held.Dev == named.Dev && held.Ino == named.Ino, nil
}

// Unlock removes the lock file and releases the lock. It is safe to
// call on a nil Lock and more than once.
func (l *Lock) Unlock() error {
	if l == nil || l.fd < 0 {
		return nil
	}
	var errs []error
	if err := unix.Unlink(l.path); err != nil && !errors.Is(err, unix.ENOENT) {
		errs = append(errs, fmt.Errorf("updatelock: removing %s: %w", l.path, err))
	}
	if err := unix.Close(l.fd); err != nil {
		errs = append(errs, fmt.Errorf("updatelock: closing %s: %w", l.path, err))
	}
	l.fd = -1
	l.logger.Debug("update lock released", "server_id", l.serverID)
	return errors.Join(errs...)
}

// IsLocked reports whether an update holds the lock for serverID. It
// asks the kernel for a conflicting lock with F_OFD_GETLK and never
// takes one, so it cannot make a concurrent TryLock fail.
func (l *Locker) IsLocked(serverID int64) (bool, error) {
	path := l.Path(serverID)
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENOENT) {
			return false, nil
		}
		return false, fmt.Errorf("updatelock: opening %s: %w", path, err)
	}
	defer unix.Close(fd)

	query := wholeFile(unix.F_RDLCK)
	if err := unix.FcntlFlock(uintptr(fd), unix.F_OFD_GETLK, &query); err != nil {
		return false, fmt.Errorf("updatelock: probing %s: %w", path, err)
	}
	return query.Type != unix.F_UNLCK, nil
}
