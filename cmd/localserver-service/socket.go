// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bureau-foundation/localserver/lib/blob"
	"github.com/bureau-foundation/localserver/lib/localserver"
	"github.com/bureau-foundation/localserver/lib/service"
	"github.com/bureau-foundation/localserver/lib/version"
)

// registerActions wires every socket action to its handler.
func (s *LocalServerService) registerActions(server *service.SocketServer) {
	server.Handle("status", s.handleStatus)
	server.Handle("list_stores", s.handleListStores)
	server.Handle("store_info", handled(s.handleStoreInfo))
	server.Handle("has_store", handled(s.handleHasStore))
	server.Handle("create_store", handled(s.handleCreateStore))
	server.Handle("create_managed_store", handled(s.handleCreateManagedStore))
	server.Handle("remove_store", handled(s.handleRemoveStore))
	server.Handle("set_enabled", handled(s.handleSetEnabled))

	server.Handle("capture", handled(s.handleCapture))
	server.Handle("capture_blob", handled(s.handleCaptureBlob))
	server.Handle("abort_capture", handled(s.handleAbortCapture))
	server.Handle("is_captured", handled(s.handleIsCaptured))
	server.Handle("remove", handled(s.handleRemove))
	server.Handle("rename", handled(s.handleRename))
	server.Handle("copy", handled(s.handleCopy))
	server.Handle("get_header", handled(s.handleGetHeader))
	server.Handle("get_all_headers", handled(s.handleGetAllHeaders))

	server.Handle("set_manifest_url", handled(s.handleSetManifestURL))
	server.Handle("check_for_update", handled(s.handleCheckForUpdate))
	server.Handle("update_info", handled(s.handleUpdateInfo))
	server.Handle("versions", handled(s.handleVersions))
	server.Handle("is_update_running", handled(s.handleIsUpdateRunning))

	server.Handle("task_status", handled(s.handleTaskStatus))
	server.Handle("abort_task", handled(s.handleAbortTask))
	server.Handle("lookup", handled(s.handleLookup))
}

// --- Status ---

type statusResponse struct {
	UptimeSeconds float64 `cbor:"uptime_seconds"`
	Version       string  `cbor:"version"`
	SchemaVersion string  `cbor:"schema_version"`
	Stores        int     `cbor:"stores"`
	ActiveTasks   int     `cbor:"active_tasks"`
}

func (s *LocalServerService) handleStatus(ctx context.Context, _ []byte) (any, error) {
	stores, err := s.server.Stores(ctx)
	if err != nil {
		return nil, classify(err)
	}
	schemaVersion, err := s.server.Connection().PersistedVersion(ctx)
	if err != nil {
		return nil, classify(err)
	}

	s.mu.Lock()
	active := len(s.tasks) - len(s.finished)
	s.mu.Unlock()

	return statusResponse{
		UptimeSeconds: s.clock.Now().Sub(s.startedAt).Seconds(),
		Version:       version.Info(),
		SchemaVersion: schemaVersion,
		Stores:        len(stores),
		ActiveTasks:   active,
	}, nil
}

// --- Stores ---

type storeRequest struct {
	ID int64 `cbor:"id"`
}

type identityRequest struct {
	Name           string `cbor:"name"`
	Origin         string `cbor:"origin"`
	RequiredCookie string `cbor:"required_cookie"`
	ManifestURL    string `cbor:"manifest_url"`
}

func (r identityRequest) identity() localserver.StoreIdentity {
	return localserver.StoreIdentity{
		Name:           r.Name,
		Origin:         r.Origin,
		RequiredCookie: r.RequiredCookie,
	}
}

func (s *LocalServerService) handleListStores(ctx context.Context, _ []byte) (any, error) {
	stores, err := s.server.Stores(ctx)
	if err != nil {
		return nil, classify(err)
	}
	if stores == nil {
		stores = []localserver.StoreInfo{}
	}
	return stores, nil
}

func (s *LocalServerService) handleStoreInfo(ctx context.Context, request storeRequest) (any, error) {
	if err := requireID(request.ID); err != nil {
		return nil, err
	}
	return s.server.StoreInfo(ctx, request.ID)
}

type hasStoreResponse struct {
	Exists bool  `cbor:"exists"`
	ID     int64 `cbor:"id,omitempty"`
}

func (s *LocalServerService) handleHasStore(ctx context.Context, request identityRequest) (any, error) {
	exists, id, err := s.server.HasStore(ctx, request.identity())
	if err != nil {
		return nil, err
	}
	return hasStoreResponse{Exists: exists, ID: id}, nil
}

func (s *LocalServerService) handleCreateStore(ctx context.Context, request identityRequest) (any, error) {
	store, err := s.server.CreateStore(ctx, request.identity())
	if err != nil {
		return nil, err
	}
	return store.Info(ctx)
}

func (s *LocalServerService) handleCreateManagedStore(ctx context.Context, request identityRequest) (any, error) {
	store, err := s.server.CreateManagedStore(ctx, request.identity(), request.ManifestURL)
	if err != nil {
		return nil, err
	}
	return store.Info(ctx)
}

func (s *LocalServerService) handleRemoveStore(ctx context.Context, request storeRequest) (any, error) {
	if err := requireID(request.ID); err != nil {
		return nil, err
	}
	store, err := s.openStore(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	if err := store.RemoveStore(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("store removed", "store_id", request.ID)
	return nil, nil
}

type setEnabledRequest struct {
	ID      int64 `cbor:"id"`
	Enabled bool  `cbor:"enabled"`
}

func (s *LocalServerService) handleSetEnabled(ctx context.Context, request setEnabledRequest) (any, error) {
	if err := requireID(request.ID); err != nil {
		return nil, err
	}
	store, err := s.openStore(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	return nil, store.SetEnabled(ctx, request.Enabled)
}

// --- Captures ---

type captureRequest struct {
	ID   int64    `cbor:"id"`
	URLs []string `cbor:"urls"`
	Base string   `cbor:"base"`
}

type captureResponse struct {
	TaskID    string   `cbor:"task_id"`
	CaptureID int64    `cbor:"capture_id"`
	URLs      []string `cbor:"urls"`
}

func (s *LocalServerService) handleCapture(ctx context.Context, request captureRequest) (any, error) {
	if err := requireID(request.ID); err != nil {
		return nil, err
	}
	store, err := s.server.OpenStore(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	entry := &taskEntry{kind: "capture", storeID: request.ID, started: s.clock.Now()}
	handle, err := store.Capture(request.URLs, localserver.CaptureOptions{
		Base:     request.Base,
		Callback: entry.recordURL,
	})
	if err != nil {
		return nil, err
	}
	entry.capture = handle
	s.track(handle.ID(), entry, handle.Done())
	s.logger.Info("capture queued",
		"store_id", request.ID,
		"capture_id", handle.CaptureID(),
		"task_id", handle.ID(),
		"urls", len(request.URLs),
	)
	return captureResponse{
		TaskID:    handle.ID(),
		CaptureID: handle.CaptureID(),
		URLs:      handle.URLs(),
	}, nil
}

type captureBlobRequest struct {
	ID          int64  `cbor:"id"`
	URL         string `cbor:"url"`
	ContentType string `cbor:"content_type"`
	Body        []byte `cbor:"body"`
}

func (s *LocalServerService) handleCaptureBlob(ctx context.Context, request captureBlobRequest) (any, error) {
	if err := requireID(request.ID); err != nil {
		return nil, err
	}
	store, err := s.server.OpenStore(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	return nil, store.CaptureBlob(ctx, blob.NewBuffer(request.Body), request.URL, request.ContentType)
}

type abortCaptureRequest struct {
	ID        int64 `cbor:"id"`
	CaptureID int64 `cbor:"capture_id"`
}

type abortCaptureResponse struct {
	Aborted bool `cbor:"aborted"`
}

func (s *LocalServerService) handleAbortCapture(ctx context.Context, request abortCaptureRequest) (any, error) {
	if err := requireID(request.ID); err != nil {
		return nil, err
	}
	store, err := s.server.OpenStore(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	return abortCaptureResponse{Aborted: store.AbortCapture(request.CaptureID)}, nil
}

type urlRequest struct {
	ID  int64  `cbor:"id"`
	URL string `cbor:"url"`
}

type capturedResponse struct {
	Captured bool `cbor:"captured"`
}

func (s *LocalServerService) handleIsCaptured(ctx context.Context, request urlRequest) (any, error) {
	if err := requireID(request.ID); err != nil {
		return nil, err
	}
	store, err := s.openStore(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	captured, err := store.IsCaptured(ctx, request.URL)
	if err != nil {
		return nil, err
	}
	return capturedResponse{Captured: captured}, nil
}

type removeResponse struct {
	Removed bool `cbor:"removed"`
}

func (s *LocalServerService) handleRemove(ctx context.Context, request urlRequest) (any, error) {
	if err := requireID(request.ID); err != nil {
		return nil, err
	}
	store, err := s.server.OpenStore(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	removed, err := store.Remove(ctx, request.URL)
	if err != nil {
		return nil, err
	}
	return removeResponse{Removed: removed}, nil
}

type moveRequest struct {
	ID  int64  `cbor:"id"`
	Src string `cbor:"src"`
	Dst string `cbor:"dst"`
}

func (s *LocalServerService) handleRename(ctx context.Context, request moveRequest) (any, error) {
	if err := requireID(request.ID); err != nil {
		return nil, err
	}
	store, err := s.server.OpenStore(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	return nil, store.Rename(ctx, request.Src, request.Dst)
}

func (s *LocalServerService) handleCopy(ctx context.Context, request moveRequest) (any, error) {
	if err := requireID(request.ID); err != nil {
		return nil, err
	}
	store, err := s.server.OpenStore(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	return nil, store.Copy(ctx, request.Src, request.Dst)
}

type headerRequest struct {
	ID   int64  `cbor:"id"`
	URL  string `cbor:"url"`
	Name string `cbor:"name"`
}

type headerResponse struct {
	Value string `cbor:"value"`
}

func (s *LocalServerService) handleGetHeader(ctx context.Context, request headerRequest) (any, error) {
	if err := requireID(request.ID); err != nil {
		return nil, err
	}
	if request.Name == "" {
		return nil, service.WithCode(service.CodeInvalidInput, fmt.Errorf("missing required field: name"))
	}
	store, err := s.openStore(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	value, err := store.GetHeader(ctx, request.URL, request.Name)
	if err != nil {
		return nil, err
	}
	return headerResponse{Value: value}, nil
}

type allHeadersResponse struct {
	Headers string `cbor:"headers"`
}

func (s *LocalServerService) handleGetAllHeaders(ctx context.Context, request urlRequest) (any, error) {
	if err := requireID(request.ID); err != nil {
		return nil, err
	}
	store, err := s.openStore(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	headers, err := store.GetAllHeaders(ctx, request.URL)
	if err != nil {
		return nil, err
	}
	return allHeadersResponse{Headers: headers}, nil
}

// --- Managed stores ---

type manifestURLRequest struct {
	ID          int64  `cbor:"id"`
	ManifestURL string `cbor:"manifest_url"`
}

func (s *LocalServerService) handleSetManifestURL(ctx context.Context, request manifestURLRequest) (any, error) {
	if err := requireID(request.ID); err != nil {
		return nil, err
	}
	store, err := s.server.OpenManagedStore(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	return nil, store.SetManifestURL(ctx, request.ManifestURL)
}

type checkForUpdateResponse struct {
	TaskID string `cbor:"task_id"`
}

func (s *LocalServerService) handleCheckForUpdate(ctx context.Context, request storeRequest) (any, error) {
	if err := requireID(request.ID); err != nil {
		return nil, err
	}
	store, err := s.server.OpenManagedStore(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	task, err := store.CheckForUpdate()
	if err != nil {
		return nil, err
	}
	if _, known := s.task(task.ID()); !known {
		s.track(task.ID(), &taskEntry{
			kind:    "update",
			storeID: request.ID,
			update:  task,
			started: s.clock.Now(),
		}, task.Done())
	}
	return checkForUpdateResponse{TaskID: task.ID()}, nil
}

func (s *LocalServerService) handleUpdateInfo(ctx context.Context, request storeRequest) (any, error) {
	if err := requireID(request.ID); err != nil {
		return nil, err
	}
	store, err := s.server.OpenManagedStore(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	return store.UpdateInfo(ctx)
}

func (s *LocalServerService) handleVersions(ctx context.Context, request storeRequest) (any, error) {
	if err := requireID(request.ID); err != nil {
		return nil, err
	}
	store, err := s.server.OpenManagedStore(ctx, request.ID)
	if err != nil {
		return nil, err
	}
	versions, err := store.Versions(ctx)
	if err != nil {
		return nil, err
	}
	if versions == nil {
		versions = []localserver.VersionInfo{}
	}
	return versions, nil
}

type updateRunningResponse struct {
	Running bool `cbor:"running"`
}

func (s *LocalServerService) handleIsUpdateRunning(_ context.Context, request storeRequest) (any, error) {
	if err := requireID(request.ID); err != nil {
		return nil, err
	}
	running, err := s.server.IsUpdateTaskRunning(request.ID)
	if err != nil {
		return nil, err
	}
	return updateRunningResponse{Running: running}, nil
}

// --- Tasks ---

type taskRequest struct {
	TaskID string `cbor:"task_id"`

	// Wait blocks until the task finishes or the request times out.
	Wait bool `cbor:"wait"`
}

type taskStatusResponse struct {
	TaskID  string    `cbor:"task_id"`
	Kind    string    `cbor:"kind"`
	StoreID int64     `cbor:"store_id"`
	Started time.Time `cbor:"started"`
	Done    bool      `cbor:"done"`

	// Capture results.
	CaptureID  int64    `cbor:"capture_id,omitempty"`
	Succeeded  int      `cbor:"succeeded,omitempty"`
	Failed     int      `cbor:"failed,omitempty"`
	FailedURLs []string `cbor:"failed_urls,omitempty"`
	Cancelled  bool     `cbor:"cancelled,omitempty"`

	// Update results.
	Outcome string `cbor:"outcome,omitempty"`
	Version string `cbor:"version,omitempty"`

	Error string `cbor:"error,omitempty"`
}

// taskWaitLimit keeps a waiting task_status call inside the client's
// response deadline.
const taskWaitLimit = 30 * time.Second

func (s *LocalServerService) handleTaskStatus(ctx context.Context, request taskRequest) (any, error) {
	if request.TaskID == "" {
		return nil, service.WithCode(service.CodeInvalidInput, fmt.Errorf("missing required field: task_id"))
	}
	entry, ok := s.task(request.TaskID)
	if !ok {
		return nil, service.WithCode(codeNotFound, fmt.Errorf("task %q not found", request.TaskID))
	}

	done := entry.done()
	if request.Wait {
		waitCtx, cancel := context.WithTimeout(ctx, taskWaitLimit)
		defer cancel()
		select {
		case <-done:
		case <-waitCtx.Done():
		}
	}
	return entry.status(request.TaskID), nil
}

// handleAbortTask stops a capture batch or update run started through
// the daemon. Aborted is false when the task had already finished.
func (s *LocalServerService) handleAbortTask(ctx context.Context, request taskRequest) (any, error) {
	if request.TaskID == "" {
		return nil, service.WithCode(service.CodeInvalidInput, fmt.Errorf("missing required field: task_id"))
	}
	entry, ok := s.task(request.TaskID)
	if !ok {
		return nil, service.WithCode(codeNotFound, fmt.Errorf("task %q not found", request.TaskID))
	}
	select {
	case <-entry.done():
		return abortCaptureResponse{}, nil
	default:
	}

	if entry.update != nil {
		entry.update.Abort()
		s.logger.Info("update task aborted", "task", request.TaskID, "store", entry.storeID)
		return abortCaptureResponse{Aborted: true}, nil
	}
	store, err := s.server.OpenStore(ctx, entry.storeID)
	if err != nil {
		return nil, err
	}
	aborted := store.AbortCapture(entry.capture.CaptureID())
	if aborted {
		s.logger.Info("capture task aborted", "task", request.TaskID, "store", entry.storeID)
	}
	return abortCaptureResponse{Aborted: aborted}, nil
}

// --- Lookup ---

type lookupRequest struct {
	URL    string `cbor:"url"`
	Cookie string `cbor:"cookie"`
}

type lookupResponse struct {
	StoreID         int64               `cbor:"store_id"`
	StatusCode      int                 `cbor:"status_code"`
	StatusLine      string              `cbor:"status_line"`
	Headers         localserver.Headers `cbor:"headers"`
	Body            []byte              `cbor:"body"`
	SessionRedirect bool                `cbor:"session_redirect,omitempty"`
}

func (s *LocalServerService) handleLookup(ctx context.Context, request lookupRequest) (any, error) {
	response, err := s.server.Lookup(ctx, request.URL, localserver.ParseCookieHeader(request.Cookie))
	if err != nil {
		return nil, err
	}
	body, err := blob.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("reading body of %s: %w", request.URL, err)
	}
	return lookupResponse{
		StoreID:         response.StoreID,
		StatusCode:      response.StatusCode,
		StatusLine:      response.StatusLine,
		Headers:         response.Headers,
		Body:            body,
		SessionRedirect: response.SessionRedirect,
	}, nil
}
