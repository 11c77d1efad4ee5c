// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/localserver/lib/updatelock"
)

// ManagedResourceStore is a store whose contents follow a manifest.
// Its entries are written only by update tasks.
type ManagedResourceStore struct {
	*storeBase

	mu     sync.Mutex
	update *UpdateTask
	closed bool
}

func newManagedStore(server *LocalServer, info StoreInfo) *ManagedResourceStore {
	store := &ManagedResourceStore{}
	store.storeBase = newStoreBase(server, info, store.handleEvent)
	return store
}

// ManifestURL returns the manifest the store follows, or "".
func (s *ManagedResourceStore) ManifestURL(ctx context.Context) (string, error) {
	info, err := s.Info(ctx)
	return info.ManifestURL, err
}

// SetManifestURL changes the manifest. The URL must be in the store's
// origin; relative URLs resolve against the origin root. An empty URL
// stops updates. A running update notices the change and starts over
// with the new manifest.
func (s *ManagedResourceStore) SetManifestURL(ctx context.Context, raw string) error {
	manifestURL := ""
	if raw != "" {
		resolved, err := s.resolve(raw)
		if err != nil {
			return err
		}
		manifestURL = resolved
	}
	return s.server.conn.Write(ctx, "set manifest url", func(conn *sqlite.Conn) error {
		return updateServer(conn, s.id, "manifest_url = ?", manifestURL)
	})
}

// UpdateInfo is the update state of a managed store.
type UpdateInfo struct {
	ManifestURL        string       `cbor:"manifest_url"`
	Status             UpdateStatus `cbor:"status"`
	LastCheck          time.Time    `cbor:"last_check"`
	LastError          string       `cbor:"last_error,omitempty"`
	ManifestDate       string       `cbor:"manifest_date,omitempty"`
	CurrentVersion     string       `cbor:"current_version,omitempty"`
	DownloadingVersion string       `cbor:"downloading_version,omitempty"`
}

// UpdateInfo reads the store's update state.
func (s *ManagedResourceStore) UpdateInfo(ctx context.Context) (UpdateInfo, error) {
	var info UpdateInfo
	err := s.server.conn.Read(ctx, func(conn *sqlite.Conn) error {
		server, err := serverByID(conn, s.id)
		if err != nil {
			return err
		}
		info = UpdateInfo{
			ManifestURL:  server.ManifestURL,
			Status:       server.UpdateStatus,
			LastCheck:    server.LastUpdateCheck,
			LastError:    server.LastErrorMessage,
			ManifestDate: server.ManifestDateHeader,
		}
		current, downloading, err := findVersions(conn, s.id)
		if err != nil {
			return err
		}
		if current != nil {
			info.CurrentVersion = current.Label
		}
		if downloading != nil {
			info.DownloadingVersion = downloading.Label
		}
		return nil
	})
	return info, err
}

// VersionInfo describes one stored version of a managed store.
type VersionInfo struct {
	Label              string `cbor:"label"`
	State              string `cbor:"state"`
	SessionRedirectURL string `cbor:"session_redirect_url,omitempty"`
	Entries            int    `cbor:"entries"`
	Ready              int    `cbor:"ready"`
}

// Versions lists the current and downloading versions, current first.
func (s *ManagedResourceStore) Versions(ctx context.Context) ([]VersionInfo, error) {
	var versions []VersionInfo
	err := s.server.conn.Read(ctx, func(conn *sqlite.Conn) error {
		current, downloading, err := findVersions(conn, s.id)
		if err != nil {
			return err
		}
		for _, version := range []*versionInfo{current, downloading} {
			if version == nil {
				continue
			}
			info := VersionInfo{
				Label:              version.Label,
				State:              "current",
				SessionRedirectURL: version.SessionRedirectURL,
			}
			if version.State == versionDownloading {
				info.State = "downloading"
			}
			err := sqlitex.Execute(conn, `SELECT COUNT(*),
				COUNT(CASE WHEN payload_id IS NOT NULL OR redirect != '' THEN 1 END)
				FROM entries WHERE version_id = ?`, &sqlitex.ExecOptions{
				Args: []any{version.ID},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					info.Entries = int(stmt.ColumnInt64(0))
					info.Ready = int(stmt.ColumnInt64(1))
					return nil
				},
			})
			if err != nil {
				return err
			}
			versions = append(versions, info)
		}
		return nil
	})
	return versions, err
}

// CheckForUpdate starts an update task, or returns the one this handle
// is already running. The task may still be skipped if another
// process holds the store's update lock.
func (s *ManagedResourceStore) CheckForUpdate() (*UpdateTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.update != nil {
		return s.update, nil
	}

	task := &UpdateTask{
		id:    uuid.NewString(),
		store: s,
		done:  make(chan struct{}),
	}
	s.update = task
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		task.result = task.run(s.ctx)
		s.dispatcher.post(EventUpdateTaskComplete, int(task.result.Outcome), task)
	}()
	return task, nil
}

// UpdateRunning reports whether this handle has an update task in
// flight. Use LocalServer.IsUpdateTaskRunning to include other
// processes.
func (s *ManagedResourceStore) UpdateRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update != nil
}

func (s *ManagedResourceStore) handleEvent(ev event) {
	if ev.code == EventUpdateTaskComplete {
		task, _ := ev.source.(*UpdateTask)
		s.mu.Lock()
		if s.update == task {
			s.update = nil
		}
		s.mu.Unlock()
		s.notify(ev)
		if task != nil {
			close(task.done)
		}
		return
	}
	s.notify(ev)
}

// RemoveStore deletes the store. It fails with ErrCaptureInProgress
// while an update is running in any process. The update lock is held
// for the deletion so no process can start an update on the store
// while its rows are going away.
func (s *ManagedResourceStore) RemoveStore(ctx context.Context) error {
	s.mu.Lock()
	if s.update != nil {
		s.mu.Unlock()
		return ErrCaptureInProgress
	}
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	lock, err := s.server.locks.TryLock(s.id)
	switch {
	case errors.Is(err, updatelock.ErrHeld):
		err = ErrCaptureInProgress
	case err == nil:
		err = s.remove(ctx)
		if unlockErr := lock.Unlock(); unlockErr != nil {
			s.logger.Warn("releasing update lock after removal failed", "error", unlockErr)
		}
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.logger.Info("store removed")
	s.server.forget(s.id)
	s.Close()
	return nil
}

// Close cancels a running update and waits for it to finish.
func (s *ManagedResourceStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.update != nil {
		s.update.aborted.Store(true)
	}
	s.mu.Unlock()
	s.shutdown()
}
