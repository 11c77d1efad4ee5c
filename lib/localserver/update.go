// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/localserver/lib/manifest"
	"github.com/bureau-foundation/localserver/lib/updatelock"
	"github.com/bureau-foundation/localserver/lib/weburl"
)

// UpdateOutcome is how an update task ended.
type UpdateOutcome int

const (
	UpdateSucceeded UpdateOutcome = iota
	UpdateFailed

	// UpdateSkipped means another task held the store's update lock.
	// Nothing was read or written.
	UpdateSkipped

	UpdateCancelled
)

func (o UpdateOutcome) String() string {
	switch o {
	case UpdateSucceeded:
		return "succeeded"
	case UpdateFailed:
		return "failed"
	case UpdateSkipped:
		return "skipped"
	case UpdateCancelled:
		return "cancelled"
	}
	return "unknown(" + strconv.Itoa(int(o)) + ")"
}

// MarshalText encodes the outcome by name on the socket.
func (o UpdateOutcome) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText accepts the names produced by String.
func (o *UpdateOutcome) UnmarshalText(text []byte) error {
	for candidate := UpdateSucceeded; candidate <= UpdateCancelled; candidate++ {
		if candidate.String() == string(text) {
			*o = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown update outcome %q", text)
}

// UpdateResult is the outcome of an update task.
type UpdateResult struct {
	Outcome UpdateOutcome

	// Version is the applied version label after a successful run.
	Version string

	// Err is set for UpdateFailed.
	Err error
}

// UpdateTask checks a managed store's manifest and downloads a new
// version when the manifest names one.
type UpdateTask struct {
	id      string
	store   *ManagedResourceStore
	aborted atomic.Bool

	done   chan struct{}
	result UpdateResult
}

// ID returns the task's unique identifier.
func (t *UpdateTask) ID() string { return t.id }

// StoreID returns the managed store's id.
func (t *UpdateTask) StoreID() int64 { return t.store.id }

// Done is closed after the completion event has been delivered.
func (t *UpdateTask) Done() <-chan struct{} { return t.done }

// Result returns the outcome. Only valid after Done is closed.
func (t *UpdateTask) Result() UpdateResult { return t.result }

// Wait blocks until the task finishes or ctx is done.
func (t *UpdateTask) Wait(ctx context.Context) (UpdateResult, error) {
	select {
	case <-t.done:
		return t.result, nil
	case <-ctx.Done():
		return UpdateResult{}, ctx.Err()
	}
}

// Abort asks the task to stop before its next download.
func (t *UpdateTask) Abort() { t.aborted.Store(true) }

func (t *UpdateTask) run(ctx context.Context) UpdateResult {
	store := t.store
	logger := store.logger.With("task", t.id)

	lock, err := store.server.locks.TryLock(store.id)
	if errors.Is(err, updatelock.ErrHeld) {
		logger.Info("update already in progress, skipping")
		return UpdateResult{Outcome: UpdateSkipped}
	}
	if err != nil {
		logger.Error("acquiring update lock failed", "error", err)
		return UpdateResult{Outcome: UpdateFailed, Err: err}
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			logger.Error("releasing update lock failed", "error", err)
		}
	}()

	if err := t.setStatus(ctx, updateInfo{status: StatusChecking, checkTime: store.server.clock.Now()}); err != nil {
		return UpdateResult{Outcome: UpdateFailed, Err: err}
	}

	var runErr error
	for {
		startURL, err := store.ManifestURL(ctx)
		if err != nil {
			runErr = err
			break
		}
		runErr = t.updateManifest(ctx, logger)
		if runErr == nil {
			runErr = t.downloadVersion(ctx)
		}
		endURL, err := store.ManifestURL(ctx)
		if err != nil {
			runErr = errors.Join(runErr, err)
			break
		}
		if startURL == endURL || t.aborted.Load() || ctx.Err() != nil {
			break
		}
		logger.Info("manifest url changed during update, starting over", "manifest_url", endURL)
	}

	// The final status is recorded even when ctx ended the run.
	finish := context.WithoutCancel(ctx)
	now := store.server.clock.Now()
	switch {
	case runErr == nil:
		if err := t.setStatus(finish, updateInfo{status: StatusOK, checkTime: now}); err != nil {
			return UpdateResult{Outcome: UpdateFailed, Err: err}
		}
		info, err := store.UpdateInfo(finish)
		if err != nil {
			return UpdateResult{Outcome: UpdateFailed, Err: err}
		}
		logger.Info("update succeeded", "version", info.CurrentVersion)
		return UpdateResult{Outcome: UpdateSucceeded, Version: info.CurrentVersion}

	case errors.Is(runErr, errCancelled) || t.aborted.Load() || ctx.Err() != nil:
		if err := t.setStatus(finish, updateInfo{status: StatusFailed, checkTime: now, errorMessage: "update cancelled"}); err != nil {
			logger.Error("recording cancelled update failed", "error", err)
		}
		logger.Info("update cancelled")
		return UpdateResult{Outcome: UpdateCancelled}

	default:
		if err := t.setStatus(finish, updateInfo{status: StatusFailed, checkTime: now, errorMessage: runErr.Error()}); err != nil {
			logger.Error("recording failed update failed", "error", err)
		}
		logger.Warn("update failed", "error", runErr)
		return UpdateResult{Outcome: UpdateFailed, Err: runErr}
	}
}

// setStatus writes the update info and reports the new status.
func (t *UpdateTask) setStatus(ctx context.Context, info updateInfo) error {
	store := t.store
	err := store.server.conn.Write(ctx, "set update info", func(conn *sqlite.Conn) error {
		return setUpdateInfo(conn, store.id, info)
	})
	if err != nil {
		return err
	}
	store.dispatcher.post(EventUpdateStatusChanged, int(info.status), t)
	return nil
}

// updateManifest fetches the manifest and, when it names a version
// that is neither current nor already downloading, records it as the
// downloading version.
func (t *UpdateTask) updateManifest(ctx context.Context, logger *slog.Logger) error {
	store := t.store
	info, err := store.Info(ctx)
	if err != nil {
		return err
	}
	if info.ManifestURL == "" {
		return errors.New("manifest URL is not set")
	}

	response, err := store.server.fetcher.Fetch(ctx, FetchRequest{
		URL:             info.ManifestURL,
		IfModifiedSince: info.ManifestDateHeader,
	})
	if err != nil {
		return &FetchError{URL: info.ManifestURL, Err: err}
	}
	actual, err := weburl.Parse(response.URL)
	if err != nil || !store.origin.Contains(actual) {
		return errors.New("illegal redirect to a different origin")
	}

	now := store.server.clock.Now()
	switch response.StatusCode {
	case http.StatusNotModified:
		logger.Info("manifest not modified")
		return t.recordCheck(ctx, StatusChecking, now, nil)

	case http.StatusOK:
	default:
		return &FetchError{URL: info.ManifestURL, StatusCode: response.StatusCode}
	}

	if len(response.Body) == 0 {
		return &manifest.Error{Message: "no content returned"}
	}
	parsed, err := manifest.Parse(actual.String(), response.Body)
	if err != nil {
		return err
	}

	added := false
	err = store.server.conn.Write(ctx, "apply manifest", func(conn *sqlite.Conn) error {
		current, downloading, err := findVersions(conn, store.id)
		if err != nil {
			return err
		}
		switch {
		case current != nil && current.Label == parsed.Version:
			if downloading != nil {
				if err := deleteVersion(conn, downloading.ID); err != nil {
					return err
				}
				return collectPayloads(conn, store.id)
			}
			return nil
		case downloading != nil && downloading.Label == parsed.Version:
			return nil
		}
		added = true
		return addDownloadingVersion(conn, store.id, parsed, downloading)
	})
	if err != nil {
		return err
	}
	if !added {
		logger.Info("manifest version already known", "version", parsed.Version)
		return t.recordCheck(ctx, StatusChecking, now, nil)
	}
	logger.Info("new manifest version", "version", parsed.Version, "entries", len(parsed.Entries))
	manifestDate := response.Headers.Get("Last-Modified")
	return t.recordCheck(ctx, StatusUpdateAvailable, now, &manifestDate)
}

func (t *UpdateTask) recordCheck(ctx context.Context, status UpdateStatus, now time.Time, manifestDate *string) error {
	return t.setStatus(ctx, updateInfo{status: status, checkTime: now, manifestDate: manifestDate})
}

// addDownloadingVersion replaces any downloading version with one
// built from m. Entries start without payloads.
func addDownloadingVersion(conn *sqlite.Conn, serverID int64, m *manifest.Manifest, previous *versionInfo) error {
	if previous != nil {
		if err := deleteVersion(conn, previous.ID); err != nil {
			return err
		}
		if err := collectPayloads(conn, serverID); err != nil {
			return err
		}
	}
	versionID, err := insertVersion(conn, serverID, m.Version, versionDownloading, m.RedirectURL)
	if err != nil {
		return err
	}
	for _, entry := range m.Entries {
		row := entryRow{
			VersionID:   versionID,
			URL:         entry.URL,
			Src:         entry.Src,
			Redirect:    entry.Redirect,
			IgnoreQuery: entry.IgnoreQuery,
		}
		if entry.Match != nil {
			row.Match = *entry.Match
		}
		if err := putEntry(conn, row); err != nil {
			return err
		}
	}
	return nil
}

// downloadVersion fetches every entry of the downloading version that
// has no payload yet, then promotes the version.
func (t *UpdateTask) downloadVersion(ctx context.Context) error {
	store := t.store
	var (
		versionID int64
		items     []captureItem
	)
	err := store.server.conn.Read(ctx, func(conn *sqlite.Conn) error {
		_, downloading, err := findVersions(conn, store.id)
		if err != nil || downloading == nil {
			return err
		}
		versionID = downloading.ID
		entries, err := entriesAwaitingPayload(conn, versionID)
		if err != nil {
			return err
		}
		var urls []string
		for _, entry := range entries {
			urls = append(urls, entry.fetchURL())
		}
		slices.Sort(urls)
		urls = slices.Compact(urls)

		for index, u := range urls {
			item := captureItem{index: index, url: u, fetchURL: u}
			previous, err := mostRecentPayload(conn, store.id, u)
			if err != nil {
				return err
			}
			if previous != nil {
				if modified := previous.Headers.Get("Last-Modified"); modified != "" {
					item.ifModifiedSince = modified
					item.previousPayload = previous.ID
				}
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if versionID == 0 {
		return nil
	}

	if err := t.setStatus(ctx, updateInfo{status: StatusChecking, checkTime: store.server.clock.Now()}); err != nil {
		return err
	}
	run := &captureRun{
		items: items,
		target: &downloadTarget{
			conn:     store.server.conn,
			clock:    store.server.clock,
			serverID: store.id,
			version:  versionID,
		},
		fetcher:  store.server.fetcher,
		origin:   store.origin,
		failFast: true,
		aborted:  &t.aborted,
		logger:   store.logger.With("task", t.id),
	}
	return run.execute(ctx).err
}
