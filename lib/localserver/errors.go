// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"context"
	"errors"
	"fmt"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/localserver/lib/manifest"
)

var (
	// ErrVersionMismatch is returned by every operation on a
	// Connection whose persisted schema version did not match the
	// version the caller expected.
	ErrVersionMismatch = errors.New("localserver: database version mismatch")

	// ErrCaptureInProgress is returned by RemoveStore while a capture
	// batch is running or queued.
	ErrCaptureInProgress = errors.New("localserver: capture in progress")

	// ErrStoreNotFound is returned when a store id or identity has no
	// row, including a store removed by another handle.
	ErrStoreNotFound = errors.New("localserver: store not found")

	// ErrNotFound is returned when a URL has no captured entry.
	ErrNotFound = errors.New("localserver: not captured")

	// ErrClosed is returned by operations on a closed store or server.
	ErrClosed = errors.New("localserver: closed")
)

// InputError reports malformed arguments. It is returned before any
// work is queued.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func inputError(field, format string, args ...any) error {
	return &InputError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StorageError carries the SQLite result code and message of a failed
// statement. The transaction it occurred in has been rolled back.
type StorageError struct {
	Op      string
	Code    sqlite.ResultCode
	Message string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %s (%s)", e.Op, e.Message, e.Code)
}

func (e *StorageError) Unwrap() error { return e.Err }

// storageError wraps an engine failure. Errors that already carry a
// classification pass through unchanged.
func storageError(op string, err error) error {
	if err == nil || classified(err) {
		return err
	}
	return &StorageError{
		Op:      op,
		Code:    sqlite.ErrCode(err),
		Message: err.Error(),
		Err:     err,
	}
}

func classified(err error) bool {
	var (
		storage         *StorageError
		input           *InputError
		fetch           *FetchError
		invalidManifest *manifest.Error
	)
	if errors.As(err, &storage) || errors.As(err, &input) ||
		errors.As(err, &fetch) || errors.As(err, &invalidManifest) {
		return true
	}
	for _, sentinel := range []error{
		ErrVersionMismatch, ErrCaptureInProgress, ErrStoreNotFound,
		ErrNotFound, ErrClosed, context.Canceled, context.DeadlineExceeded,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// FetchError reports a failed download of one URL. StatusCode is zero
// when no response was received.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("download of '%s' returned response code %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("download of '%s' failed: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("download of '%s' failed", e.URL)
}

func (e *FetchError) Unwrap() error { return e.Err }

func isNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
