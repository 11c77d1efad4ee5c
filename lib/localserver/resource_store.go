// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/localserver/lib/blob"
	"github.com/bureau-foundation/localserver/lib/weburl"
)

// CaptureCallback is invoked once per URL of a batch, on the store's
// dispatcher goroutine.
type CaptureCallback func(url string, succeeded bool, captureID int64)

// CaptureOptions tune one Capture call.
type CaptureOptions struct {
	// Base resolves relative URLs, usually the location of the page
	// asking for the capture. It must be in the store's origin.
	// Defaults to the origin root.
	Base string

	Callback CaptureCallback
}

// CaptureResult summarizes a finished batch.
type CaptureResult struct {
	CaptureID int64
	Succeeded int
	Failed    int
	Cancelled bool

	// Err is the storage failure that aborted the batch, or nil. Failed
	// downloads alone do not set it.
	Err error
}

// CaptureHandle tracks one queued batch.
type CaptureHandle struct {
	id        string
	captureID int64
	storeID   int64
	urls      []string
	callback  CaptureCallback
	aborted   atomic.Bool

	done   chan struct{}
	result CaptureResult
}

// ID returns the batch's unique identifier.
func (h *CaptureHandle) ID() string { return h.id }

// StoreID returns the id of the store the batch writes to.
func (h *CaptureHandle) StoreID() int64 { return h.storeID }

// CaptureID returns the store-local batch number.
func (h *CaptureHandle) CaptureID() int64 { return h.captureID }

// URLs returns the normalized URLs of the batch, in request order.
func (h *CaptureHandle) URLs() []string { return slices.Clone(h.urls) }

// Done is closed once the batch has finished and its completion event
// has been delivered.
func (h *CaptureHandle) Done() <-chan struct{} { return h.done }

// Result returns the outcome. Only valid after Done is closed.
func (h *CaptureHandle) Result() CaptureResult { return h.result }

// Wait blocks until the batch finishes or ctx is done.
func (h *CaptureHandle) Wait(ctx context.Context) (CaptureResult, error) {
	select {
	case <-h.done:
		return h.result, nil
	case <-ctx.Done():
		return CaptureResult{}, ctx.Err()
	}
}

// ResourceStore is a store filled by explicit captures. Batches run one
// at a time in request order.
type ResourceStore struct {
	*storeBase

	mu            sync.Mutex
	current       *CaptureHandle
	pending       []*CaptureHandle
	nextCaptureID int64
	closed        bool
}

func newResourceStore(server *LocalServer, info StoreInfo) *ResourceStore {
	store := &ResourceStore{}
	store.storeBase = newStoreBase(server, info, store.handleEvent)
	return store
}

// Capture validates urls and queues them as one batch. Relative URLs
// are resolved against options.Base and fragments are dropped. Every
// URL must be in the store's origin; one bad URL rejects the whole
// call before anything is queued.
func (s *ResourceStore) Capture(urls []string, options CaptureOptions) (*CaptureHandle, error) {
	if len(urls) == 0 {
		return nil, inputError("urls", "at least one url is required")
	}
	base := s.root
	if options.Base != "" {
		parsed, err := weburl.Parse(options.Base)
		if err != nil {
			return nil, inputError("base", "%v", err)
		}
		if !s.origin.Contains(parsed) {
			return nil, inputError("base", "%s is not in origin %s", options.Base, s.origin)
		}
		base = parsed
	}
	normalized := make([]string, len(urls))
	for index, raw := range urls {
		if raw == "" {
			return nil, inputError("urls", "url %d is empty", index)
		}
		resolved, err := weburl.ResolveInOrigin(base, raw)
		if err != nil {
			return nil, inputError("urls", "url %d: %v", index, err)
		}
		normalized[index] = resolved.String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	s.nextCaptureID++
	handle := &CaptureHandle{
		id:        uuid.NewString(),
		captureID: s.nextCaptureID,
		storeID:   s.id,
		urls:      normalized,
		callback:  options.Callback,
		done:      make(chan struct{}),
		result:    CaptureResult{CaptureID: s.nextCaptureID},
	}
	if s.current == nil {
		s.startLocked(handle)
	} else {
		s.pending = append(s.pending, handle)
	}
	s.logger.Info("capture queued",
		"capture_id", handle.captureID,
		"task", handle.id,
		"urls", len(normalized),
		"queued_behind", len(s.pending),
	)
	return handle, nil
}

func (s *ResourceStore) startLocked(handle *CaptureHandle) {
	s.current = handle
	items := make([]captureItem, len(handle.urls))
	for index, u := range handle.urls {
		items[index] = captureItem{index: index, url: u, fetchURL: u}
	}
	run := &captureRun{
		items: items,
		target: &stagingTarget{
			conn:     s.server.conn,
			clock:    s.server.clock,
			serverID: s.id,
		},
		fetcher: s.server.fetcher,
		origin:  s.origin,
		aborted: &handle.aborted,
		notify: func(code EventCode, index int) {
			s.dispatcher.post(code, index, handle)
		},
		logger: s.logger.With("capture_id", handle.captureID, "task", handle.id),
	}

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		outcome := run.execute(s.ctx)
		handle.result = CaptureResult{
			CaptureID: handle.captureID,
			Succeeded: outcome.succeeded,
			Failed:    outcome.failed,
			Cancelled: outcome.cancelled,
		}
		if !outcome.cancelled {
			handle.result.Err = outcome.err
		}
		committed := 0
		if outcome.err == nil {
			committed = 1
		}
		s.dispatcher.post(EventCaptureTaskComplete, committed, handle)
	}()
}

// handleEvent runs on the dispatcher goroutine.
func (s *ResourceStore) handleEvent(ev event) {
	handle, _ := ev.source.(*CaptureHandle)

	switch ev.code {
	case EventCaptureURLSucceeded, EventCaptureURLFailed:
		if handle != nil && handle.callback != nil && ev.param < len(handle.urls) {
			handle.callback(handle.urls[ev.param], ev.code == EventCaptureURLSucceeded, handle.captureID)
		}
		s.notify(ev)

	case EventCaptureTaskComplete:
		s.mu.Lock()
		if s.current == handle {
			s.current = nil
			if len(s.pending) > 0 && !s.closed {
				next := s.pending[0]
				s.pending = s.pending[1:]
				s.startLocked(next)
			}
		}
		drained := s.current == nil && len(s.pending) == 0
		s.mu.Unlock()

		s.logger.Info("capture finished",
			"capture_id", handle.captureID,
			"succeeded", handle.result.Succeeded,
			"failed", handle.result.Failed,
			"cancelled", handle.result.Cancelled,
			"error", handle.result.Err,
		)
		s.notify(ev)
		close(handle.done)
		if drained {
			s.notify(event{code: EventCaptureQueueDrained, source: handle})
		}

	default:
		s.notify(ev)
	}
}

// AbortCapture cancels a batch. A running batch stops before its next
// URL and rolls back; a queued batch is dropped. It reports whether
// the batch was found.
func (s *ResourceStore) AbortCapture(captureID int64) bool {
	s.mu.Lock()
	if s.current != nil && s.current.captureID == captureID {
		s.current.aborted.Store(true)
		s.mu.Unlock()
		return true
	}
	index := slices.IndexFunc(s.pending, func(h *CaptureHandle) bool { return h.captureID == captureID })
	if index < 0 {
		s.mu.Unlock()
		return false
	}
	handle := s.pending[index]
	s.pending = slices.Delete(s.pending, index, index+1)
	s.mu.Unlock()

	s.finishUnstarted(handle)
	return true
}

// finishUnstarted completes a batch that never ran.
func (s *ResourceStore) finishUnstarted(handle *CaptureHandle) {
	handle.aborted.Store(true)
	handle.result.Cancelled = true
	s.dispatcher.post(EventCaptureTaskComplete, 0, handle)
}

// CaptureInProgress reports whether a batch is running or queued.
func (s *ResourceStore) CaptureInProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil || len(s.pending) > 0
}

// RemoveStore deletes the store with every version, entry and payload.
// It fails with ErrCaptureInProgress while a batch is running or
// queued. The handle is closed afterwards.
func (s *ResourceStore) RemoveStore(ctx context.Context) error {
	s.mu.Lock()
	if s.current != nil || len(s.pending) > 0 {
		s.mu.Unlock()
		return ErrCaptureInProgress
	}
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	err := s.remove(ctx)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.logger.Info("store removed")
	s.server.forget(s.id)
	s.Close()
	return nil
}

// Close aborts the running batch, drops the queued ones, and waits for
// their completion events to be delivered.
func (s *ResourceStore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.current != nil {
		s.current.aborted.Store(true)
	}
	dropped := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, handle := range dropped {
		s.finishUnstarted(handle)
	}
	s.shutdown()
}

// Remove deletes the committed entry for rawURL. It reports whether
// an entry existed.
func (s *ResourceStore) Remove(ctx context.Context, rawURL string) (bool, error) {
	key, err := s.resolve(rawURL)
	if err != nil {
		return false, err
	}
	removed := false
	err = s.server.conn.Write(ctx, "remove entry", func(conn *sqlite.Conn) error {
		current, _, err := findVersions(conn, s.id)
		if err != nil || current == nil {
			return err
		}
		if removed, err = deleteEntry(conn, current.ID, key); err != nil {
			return err
		}
		return collectPayloads(conn, s.id)
	})
	return removed, err
}

// Rename moves the entry for src to dst, replacing any entry at dst.
func (s *ResourceStore) Rename(ctx context.Context, src, dst string) error {
	return s.copyEntry(ctx, "rename", src, dst, true)
}

// Copy makes dst serve the same response as src. The payload is
// shared, not duplicated.
func (s *ResourceStore) Copy(ctx context.Context, src, dst string) error {
	return s.copyEntry(ctx, "copy", src, dst, false)
}

func (s *ResourceStore) copyEntry(ctx context.Context, op, src, dst string, move bool) error {
	srcKey, err := s.resolve(src)
	if err != nil {
		return err
	}
	dstKey, err := s.resolve(dst)
	if err != nil {
		return err
	}
	if srcKey == dstKey {
		return nil
	}
	return s.server.conn.Write(ctx, op, func(conn *sqlite.Conn) error {
		entry, err := s.currentEntry(conn, srcKey)
		if err != nil {
			return err
		}
		copied := *entry
		copied.URL = dstKey
		if err := putEntry(conn, copied); err != nil {
			return err
		}
		if move {
			if _, err := deleteEntry(conn, entry.VersionID, srcKey); err != nil {
				return err
			}
		}
		return collectPayloads(conn, s.id)
	})
}

// CaptureBlob stores body as the committed response for rawURL with a
// 200 status and the given content type.
func (s *ResourceStore) CaptureBlob(ctx context.Context, body blob.Blob, rawURL, contentType string) error {
	key, err := s.resolve(rawURL)
	if err != nil {
		return err
	}
	data, err := blob.ReadAll(body)
	if err != nil {
		return fmt.Errorf("reading blob for %s: %w", key, err)
	}
	return s.server.conn.Write(ctx, "capture blob", func(conn *sqlite.Conn) error {
		if _, err := serverByID(conn, s.id); err != nil {
			return err
		}
		current, err := currentVersionID(conn, s.id)
		if err != nil {
			return err
		}
		payloadID, err := insertPayload(conn, s.id, synthesizeBlobPayload(key, data, contentType, s.server.clock.Now()))
		if err != nil {
			return err
		}
		if err := putEntry(conn, entryRow{VersionID: current, URL: key, PayloadID: payloadID}); err != nil {
			return err
		}
		return collectPayloads(conn, s.id)
	})
}
