// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/localserver/lib/blob"
	"github.com/bureau-foundation/localserver/lib/weburl"
)

// storeBase holds what resource stores and managed stores share: the
// identity, the event dispatcher, the task lifetime, and the read
// operations on the current version.
type storeBase struct {
	server    *LocalServer
	id        int64
	identity  StoreIdentity
	storeType StoreType
	origin    weburl.Origin
	root      *url.URL
	logger    *slog.Logger

	dispatcher *dispatcher

	// ctx is cancelled by close; task goroutines run under it.
	ctx    context.Context
	cancel context.CancelFunc
	tasks  sync.WaitGroup

	listenerMu sync.Mutex
	listener   Listener
}

func newStoreBase(server *LocalServer, info StoreInfo, handle func(event)) *storeBase {
	origin := info.Identity.origin()
	root, _ := weburl.Parse(origin.String() + "/")
	ctx, cancel := context.WithCancel(context.Background())
	base := &storeBase{
		server:    server,
		id:        info.ID,
		identity:  info.Identity,
		storeType: info.Type,
		origin:    origin,
		root:      root,
		logger:    server.logger.With("store_id", info.ID, "store", info.Identity.Name),
		ctx:       ctx,
		cancel:    cancel,
		listener:  server.listener,
	}
	base.dispatcher = newDispatcher(handle)
	return base
}

// ID returns the store's persistent server id.
func (s *storeBase) ID() int64 { return s.id }

// Identity returns the store's name, origin and cookie requirement.
func (s *storeBase) Identity() StoreIdentity { return s.identity }

// SetListener replaces the store's listener. Nil stops notification.
func (s *storeBase) SetListener(listener Listener) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listener = listener
}

func (s *storeBase) notify(ev event) {
	s.listenerMu.Lock()
	listener := s.listener
	s.listenerMu.Unlock()
	if listener != nil {
		listener.HandleEvent(ev.code, ev.param, ev.source)
	}
}

// Info reads the store's row.
func (s *storeBase) Info(ctx context.Context) (StoreInfo, error) {
	var info StoreInfo
	err := s.server.conn.Read(ctx, func(conn *sqlite.Conn) error {
		server, err := serverByID(conn, s.id)
		if err != nil {
			return err
		}
		info = *server
		return nil
	})
	return info, err
}

// Enabled reports whether the store serves its entries.
func (s *storeBase) Enabled(ctx context.Context) (bool, error) {
	info, err := s.Info(ctx)
	return info.Enabled, err
}

// SetEnabled turns serving on or off. Captures and updates continue
// either way.
func (s *storeBase) SetEnabled(ctx context.Context, enabled bool) error {
	return s.server.conn.Write(ctx, "set enabled", func(conn *sqlite.Conn) error {
		return updateServer(conn, s.id, "enabled = ?", boolInt(enabled))
	})
}

// resolve turns a caller URL into the entry key. Relative URLs are
// resolved against the origin root.
func (s *storeBase) resolve(raw string) (string, error) {
	resolved, err := weburl.ResolveInOrigin(s.root, raw)
	if err != nil {
		return "", inputError("url", "%v", err)
	}
	return resolved.String(), nil
}

// currentEntry returns the committed entry for key, or ErrNotFound.
func (s *storeBase) currentEntry(conn *sqlite.Conn, key string) (*entryRow, error) {
	current, _, err := findVersions(conn, s.id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	entry, err := findEntry(conn, current.ID, key)
	if err != nil {
		return nil, err
	}
	if entry == nil || (entry.PayloadID == 0 && entry.Redirect == "") {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	return entry, nil
}

// payloadFor loads the payload serving rawURL.
func (s *storeBase) payloadFor(ctx context.Context, rawURL string, withBody bool) (*Payload, error) {
	key, err := s.resolve(rawURL)
	if err != nil {
		return nil, err
	}
	var payload *Payload
	err = s.server.conn.Read(ctx, func(conn *sqlite.Conn) error {
		entry, err := s.currentEntry(conn, key)
		if err != nil {
			return err
		}
		if entry.Redirect != "" {
			payload = redirectPayload(key, entry.Redirect)
			return nil
		}
		payload, err = loadPayload(conn, entry.PayloadID, withBody)
		return err
	})
	return payload, err
}

// IsCaptured reports whether rawURL has a committed entry.
func (s *storeBase) IsCaptured(ctx context.Context, rawURL string) (bool, error) {
	key, err := s.resolve(rawURL)
	if err != nil {
		return false, err
	}
	captured := false
	err = s.server.conn.Read(ctx, func(conn *sqlite.Conn) error {
		_, err := s.currentEntry(conn, key)
		captured = err == nil
		if isNotFound(err) {
			return nil
		}
		return err
	})
	return captured, err
}

// GetHeader returns one header of the captured response.
func (s *storeBase) GetHeader(ctx context.Context, rawURL, name string) (string, error) {
	payload, err := s.payloadFor(ctx, rawURL, false)
	if err != nil {
		return "", err
	}
	return payload.Headers.Get(name), nil
}

// GetAllHeaders returns every header of the captured response as
// "Name: value\r\n" lines.
func (s *storeBase) GetAllHeaders(ctx context.Context, rawURL string) (string, error) {
	payload, err := s.payloadFor(ctx, rawURL, false)
	if err != nil {
		return "", err
	}
	return payload.Headers.String(), nil
}

// Body returns the captured body.
func (s *storeBase) Body(ctx context.Context, rawURL string) (blob.Blob, error) {
	payload, err := s.payloadFor(ctx, rawURL, true)
	if err != nil {
		return nil, err
	}
	return payload.BodyBlob(), nil
}

// Payload returns the captured response, body included.
func (s *storeBase) Payload(ctx context.Context, rawURL string) (*Payload, error) {
	return s.payloadFor(ctx, rawURL, true)
}

// remove deletes the store's rows. The caller has checked that no task
// is running.
func (s *storeBase) remove(ctx context.Context) error {
	return s.server.conn.Write(ctx, "remove store", func(conn *sqlite.Conn) error {
		if _, err := serverByID(conn, s.id); err != nil {
			return err
		}
		return deleteServer(conn, s.id)
	})
}

// shutdown cancels running tasks, waits for them, and stops the
// dispatcher after it has delivered their final events.
func (s *storeBase) shutdown() {
	s.cancel()
	s.tasks.Wait()
	s.dispatcher.close()
}
