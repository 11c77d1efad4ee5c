// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/localserver/lib/clock"
	"github.com/bureau-foundation/localserver/lib/weburl"
)

// captureItem is one download of a capture run.
type captureItem struct {
	// index is reported as the event parameter.
	index int

	// url is the entry the response is stored under.
	url string

	fetchURL string

	// ifModifiedSince and previousPayload come from an earlier
	// download of fetchURL; a 304 reuses previousPayload.
	ifModifiedSince string
	previousPayload int64
}

// captureTarget is where a run writes. Resource stores stage into a
// downloading version and merge it on commit; updates fill in the
// manifest's downloading version and promote it on commit.
type captureTarget interface {
	begin(ctx context.Context) error
	store(ctx context.Context, item captureItem, response *FetchResponse) error
	commit(ctx context.Context) error
	rollback(ctx context.Context) error
}

// captureRun downloads items sequentially into a target.
type captureRun struct {
	items   []captureItem
	target  captureTarget
	fetcher Fetcher
	origin  weburl.Origin

	// failFast makes a failed download end the run with an error.
	// Without it the URL is reported failed and the run continues.
	failFast bool

	// aborted is checked between items.
	aborted *atomic.Bool

	// notify, when set, receives per-item events.
	notify func(code EventCode, index int)

	logger *slog.Logger
}

type runResult struct {
	succeeded int
	failed    int
	cancelled bool
	err       error
}

// errCancelled is the error of a cancelled run.
var errCancelled = errors.New("cancelled")

func (r *captureRun) execute(ctx context.Context) runResult {
	var result runResult
	if err := r.target.begin(ctx); err != nil {
		result.err = err
		return result
	}

	for _, item := range r.items {
		if r.aborted.Load() || ctx.Err() != nil {
			result.cancelled = true
			break
		}

		response, err := r.fetch(ctx, item)
		if err != nil {
			if ctx.Err() != nil {
				result.cancelled = true
				break
			}
			r.logger.Info("capture download failed", "url", item.fetchURL, "error", err)
			result.failed++
			r.emit(EventCaptureURLFailed, item.index)
			if r.failFast {
				result.err = err
				break
			}
			continue
		}

		if err := r.target.store(ctx, item, response); err != nil {
			r.logger.Error("capture storage failed", "url", item.url, "error", err)
			result.failed++
			r.emit(EventCaptureURLFailed, item.index)
			result.err = err
			break
		}
		result.succeeded++
		r.emit(EventCaptureURLSucceeded, item.index)
	}

	if result.cancelled || result.err != nil {
		// Rollback must run even when ctx is what cancelled the run.
		if err := r.target.rollback(context.WithoutCancel(ctx)); err != nil {
			r.logger.Error("capture rollback failed", "error", err)
			if result.err == nil {
				result.err = err
			}
		}
		if result.cancelled && result.err == nil {
			result.err = errCancelled
		}
		return result
	}

	if err := r.target.commit(ctx); err != nil {
		result.err = err
	}
	return result
}

func (r *captureRun) emit(code EventCode, index int) {
	if r.notify != nil {
		r.notify(code, index)
	}
}

// fetch downloads one item and checks the answer: 200, or 304 for a
// conditional request, from the store's origin.
func (r *captureRun) fetch(ctx context.Context, item captureItem) (*FetchResponse, error) {
	response, err := r.fetcher.Fetch(ctx, FetchRequest{
		URL:             item.fetchURL,
		IfModifiedSince: item.ifModifiedSince,
		Capture:         true,
	})
	if err != nil {
		return nil, &FetchError{URL: item.fetchURL, Err: err}
	}
	final, err := weburl.Parse(response.URL)
	if err != nil || !r.origin.Contains(final) {
		return nil, &FetchError{URL: item.fetchURL, Err: weburl.ErrCrossOrigin}
	}
	switch {
	case response.StatusCode == http.StatusOK:
	case response.StatusCode == http.StatusNotModified && item.ifModifiedSince != "" && item.previousPayload != 0:
	default:
		return nil, &FetchError{URL: item.fetchURL, StatusCode: response.StatusCode}
	}
	return response, nil
}

func payloadFromResponse(url string, response *FetchResponse, clock clock.Clock) *Payload {
	return &Payload{
		URL:        url,
		Created:    clock.Now(),
		StatusCode: response.StatusCode,
		StatusLine: response.StatusLine,
		Headers:    response.Headers,
		Body:       response.Body,
	}
}

// stagingTarget is the resource store capture target.
type stagingTarget struct {
	conn     *Connection
	clock    clock.Clock
	serverID int64
	staging  int64
}

func (t *stagingTarget) begin(ctx context.Context) error {
	return t.conn.Write(ctx, "begin capture", func(conn *sqlite.Conn) error {
		if _, err := serverByID(conn, t.serverID); err != nil {
			return err
		}
		// A leftover staging version belongs to a capture that never
		// finished.
		_, leftover, err := findVersions(conn, t.serverID)
		if err != nil {
			return err
		}
		if leftover != nil {
			if err := deleteVersion(conn, leftover.ID); err != nil {
				return err
			}
			if err := collectPayloads(conn, t.serverID); err != nil {
				return err
			}
		}
		t.staging, err = insertVersion(conn, t.serverID, "", versionDownloading, "")
		return err
	})
}

func (t *stagingTarget) store(ctx context.Context, item captureItem, response *FetchResponse) error {
	return t.conn.Write(ctx, "store capture", func(conn *sqlite.Conn) error {
		payloadID, err := insertPayload(conn, t.serverID, payloadFromResponse(item.url, response, t.clock))
		if err != nil {
			return err
		}
		return putEntry(conn, entryRow{VersionID: t.staging, URL: item.url, PayloadID: payloadID})
	})
}

// commit moves the staged entries into the current version, replacing
// entries for the same URLs.
func (t *stagingTarget) commit(ctx context.Context) error {
	return t.conn.Write(ctx, "commit capture", func(conn *sqlite.Conn) error {
		current, err := currentVersionID(conn, t.serverID)
		if err != nil {
			return err
		}
		args := &sqlitex.ExecOptions{Named: map[string]any{":current": current, ":staging": t.staging}}
		for _, query := range []string{
			`DELETE FROM entries WHERE version_id = :current
				AND url IN (SELECT url FROM entries WHERE version_id = :staging)`,
			`UPDATE entries SET version_id = :current WHERE version_id = :staging`,
			`DELETE FROM versions WHERE version_id = :staging`,
		} {
			if err := sqlitex.Execute(conn, query, args); err != nil {
				return err
			}
		}
		return collectPayloads(conn, t.serverID)
	})
}

func (t *stagingTarget) rollback(ctx context.Context) error {
	if t.staging == 0 {
		return nil
	}
	return t.conn.Write(ctx, "rollback capture", func(conn *sqlite.Conn) error {
		if err := deleteVersion(conn, t.staging); err != nil {
			return err
		}
		return collectPayloads(conn, t.serverID)
	})
}

// downloadTarget is the update task's capture target. Each download
// commits on its own, so a failed or cancelled update leaves the
// downloading version partly filled and the next run resumes it.
type downloadTarget struct {
	conn     *Connection
	clock    clock.Clock
	serverID int64
	version  int64
}

func (t *downloadTarget) begin(context.Context) error { return nil }

func (t *downloadTarget) store(ctx context.Context, item captureItem, response *FetchResponse) error {
	return t.conn.Write(ctx, "store download", func(conn *sqlite.Conn) error {
		if _, err := serverByID(conn, t.serverID); err != nil {
			return err
		}
		payloadID := item.previousPayload
		if response.StatusCode != http.StatusNotModified {
			var err error
			payloadID, err = insertPayload(conn, t.serverID, payloadFromResponse(item.fetchURL, response, t.clock))
			if err != nil {
				return err
			}
		}
		return setEntriesPayload(conn, t.version, item.fetchURL, payloadID)
	})
}

func (t *downloadTarget) commit(ctx context.Context) error {
	return t.conn.Write(ctx, "promote version", func(conn *sqlite.Conn) error {
		remaining, err := entriesAwaitingPayload(conn, t.version)
		if err != nil {
			return err
		}
		if len(remaining) > 0 {
			return fmt.Errorf("version %d still has %d entries without a payload", t.version, len(remaining))
		}
		if err := promoteVersion(conn, t.serverID, t.version); err != nil {
			return err
		}
		return collectPayloads(conn, t.serverID)
	})
}

func (t *downloadTarget) rollback(context.Context) error { return nil }
