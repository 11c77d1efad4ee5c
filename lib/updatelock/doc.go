// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package updatelock provides the cross-process lock that keeps at
// most one update running per managed store.
//
// Each store's lock is an advisory open file description record lock
// (F_OFD_SETLK) on a file named from the
// store's persistent 64-bit server id ("lsupd-" followed by 16 hex
// digits, short enough for any platform name limit). Acquisition is
// non-blocking: a held lock means another process is already updating
// the store and the caller skips its run. The kernel drops the lock
// when the holding process exits, so a crash never leaves a store
// permanently locked. On a clean release the lock file is unlinked.
//
// [Locker.IsLocked] tests for a conflicting lock with F_OFD_GETLK
// rather than taking one, so probing never races with an acquisition.
//
// The locks belong to the open file description, not the process, so
// two [Locker] values in one process contend exactly like two
// processes would. Tests rely on this. OFD locks are Linux-only.
package updatelock
