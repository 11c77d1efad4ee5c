// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/localserver/lib/blob"
	"github.com/bureau-foundation/localserver/lib/clock"
	"github.com/bureau-foundation/localserver/lib/localserver"
	"github.com/bureau-foundation/localserver/lib/manifest"
	"github.com/bureau-foundation/localserver/lib/service"
)

// Response codes beyond the socket layer's own.
const (
	codeNotFound        = "not_found"
	codeBusy            = "busy"
	codeVersionMismatch = "version_mismatch"
	codeFetchFailed     = "fetch_failed"
	codeInvalidManifest = "invalid_manifest"
)

// maxFinishedTasks bounds the finished tasks kept for task_status.
const maxFinishedTasks = 256

// LocalServerService exposes a LocalServer on the daemon socket.
type LocalServerService struct {
	server    *localserver.LocalServer
	clock     clock.Clock
	startedAt time.Time
	logger    *slog.Logger

	mu       sync.Mutex
	tasks    map[string]*taskEntry
	finished []string
}

// taskEntry tracks a capture batch or an update task started through
// the socket, so clients can poll it.
type taskEntry struct {
	kind    string
	storeID int64
	capture *localserver.CaptureHandle
	update  *localserver.UpdateTask
	started time.Time

	mu         sync.Mutex
	failedURLs []string
}

// recordURL is the capture callback.
func (e *taskEntry) recordURL(url string, succeeded bool, _ int64) {
	if succeeded {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failedURLs = append(e.failedURLs, url)
}

func (e *taskEntry) done() <-chan struct{} {
	if e.capture != nil {
		return e.capture.Done()
	}
	return e.update.Done()
}

func (e *taskEntry) status(id string) taskStatusResponse {
	status := taskStatusResponse{
		TaskID:  id,
		Kind:    e.kind,
		StoreID: e.storeID,
		Started: e.started,
	}
	select {
	case <-e.done():
		status.Done = true
	default:
	}

	if e.capture != nil {
		status.CaptureID = e.capture.CaptureID()
		if !status.Done {
			return status
		}
		result := e.capture.Result()
		status.Succeeded = result.Succeeded
		status.Failed = result.Failed
		status.Cancelled = result.Cancelled
		if result.Err != nil {
			status.Error = result.Err.Error()
		}
		e.mu.Lock()
		status.FailedURLs = append([]string(nil), e.failedURLs...)
		e.mu.Unlock()
		return status
	}

	if !status.Done {
		return status
	}
	result := e.update.Result()
	status.Outcome = result.Outcome.String()
	status.Version = result.Version
	if result.Err != nil {
		status.Error = result.Err.Error()
	}
	return status
}

func newLocalServerService(server *localserver.LocalServer, clk clock.Clock, logger *slog.Logger) *LocalServerService {
	return &LocalServerService{
		server:    server,
		clock:     clk,
		startedAt: clk.Now(),
		logger:    logger,
		tasks:     make(map[string]*taskEntry),
	}
}

// track registers a task and forgets the oldest finished tasks once
// more than maxFinishedTasks have completed.
func (s *LocalServerService) track(id string, entry *taskEntry, done <-chan struct{}) {
	s.mu.Lock()
	s.tasks[id] = entry
	s.mu.Unlock()

	go func() {
		<-done
		s.mu.Lock()
		defer s.mu.Unlock()
		s.finished = append(s.finished, id)
		for len(s.finished) > maxFinishedTasks {
			delete(s.tasks, s.finished[0])
			s.finished = s.finished[1:]
		}
	}()
}

func (s *LocalServerService) task(id string) (*taskEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.tasks[id]
	return entry, ok
}

// eventLogger logs every store event at debug level.
func eventLogger(logger *slog.Logger) localserver.Listener {
	return localserver.ListenerFunc(func(code localserver.EventCode, param int, source localserver.Task) {
		logger.Debug("store event",
			"event", code.String(),
			"param", param,
			"task", source.ID(),
			"store", source.StoreID(),
		)
	})
}

// anyStore is the part of the store API shared by both store types.
type anyStore interface {
	ID() int64
	Info(ctx context.Context) (localserver.StoreInfo, error)
	SetEnabled(ctx context.Context, enabled bool) error
	IsCaptured(ctx context.Context, rawURL string) (bool, error)
	GetHeader(ctx context.Context, rawURL, name string) (string, error)
	GetAllHeaders(ctx context.Context, rawURL string) (string, error)
	Body(ctx context.Context, rawURL string) (blob.Blob, error)
	RemoveStore(ctx context.Context) error
}

// openStore opens the store with id as whichever type it is.
func (s *LocalServerService) openStore(ctx context.Context, id int64) (anyStore, error) {
	info, err := s.server.StoreInfo(ctx, id)
	if err != nil {
		return nil, err
	}
	if info.Type == localserver.TypeManagedStore {
		return s.server.OpenManagedStore(ctx, id)
	}
	return s.server.OpenStore(ctx, id)
}

// classify attaches a response code to errors from the localserver
// package.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var (
		input           *localserver.InputError
		fetch           *localserver.FetchError
		invalidManifest *manifest.Error
		coded           service.CodedError
	)
	switch {
	case errors.As(err, &coded):
		return err
	case errors.As(err, &input):
		return service.WithCode(service.CodeInvalidInput, err)
	case errors.Is(err, localserver.ErrNotFound), errors.Is(err, localserver.ErrStoreNotFound):
		return service.WithCode(codeNotFound, err)
	case errors.Is(err, localserver.ErrCaptureInProgress):
		return service.WithCode(codeBusy, err)
	case errors.Is(err, localserver.ErrVersionMismatch):
		return service.WithCode(codeVersionMismatch, err)
	case errors.As(err, &fetch):
		return service.WithCode(codeFetchFailed, err)
	case errors.As(err, &invalidManifest):
		return service.WithCode(codeInvalidManifest, err)
	}
	return service.WithCode(service.CodeInternal, err)
}

// handled wraps a typed handler so every error it returns carries a
// response code.
func handled[Request any](handler func(ctx context.Context, request Request) (any, error)) service.ActionFunc {
	return service.Typed(func(ctx context.Context, request Request) (any, error) {
		result, err := handler(ctx, request)
		if err != nil {
			return nil, classify(err)
		}
		return result, nil
	})
}

func requireID(id int64) error {
	if id <= 0 {
		return service.WithCode(service.CodeInvalidInput, fmt.Errorf("missing required field: id"))
	}
	return nil
}
