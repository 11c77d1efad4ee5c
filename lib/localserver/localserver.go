// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/localserver/lib/clock"
	"github.com/bureau-foundation/localserver/lib/updatelock"
)

// Config configures a LocalServer.
type Config struct {
	// Connection is the web cache database. Required. The LocalServer
	// does not close it.
	Connection *Connection

	// Locks holds the cross-process update locks. Required. Every
	// process sharing the database must use the same directory.
	Locks *updatelock.Locker

	// Fetcher downloads captures, manifests and manifest entries.
	// Defaults to an HTTPFetcher with default settings.
	Fetcher Fetcher

	// Clock defaults to clock.Real.
	Clock clock.Clock

	Logger *slog.Logger

	// Listener is the initial listener of every store handle the
	// server opens.
	Listener Listener
}

// LocalServer opens the stores of one web cache database. It keeps one
// handle per store so each store has a single capture queue and a
// single update task within the process.
type LocalServer struct {
	conn     *Connection
	locks    *updatelock.Locker
	fetcher  Fetcher
	clock    clock.Clock
	logger   *slog.Logger
	listener Listener

	mu     sync.Mutex
	stores map[int64]storeHandle
	closed bool
}

type storeHandle interface {
	ID() int64
	Close()
}

// New returns a LocalServer for cfg.
func New(cfg Config) (*LocalServer, error) {
	if cfg.Connection == nil {
		return nil, errors.New("localserver: Connection is required")
	}
	if cfg.Locks == nil {
		return nil, errors.New("localserver: Locks is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher(HTTPFetcherConfig{Logger: logger})
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	return &LocalServer{
		conn:     cfg.Connection,
		locks:    cfg.Locks,
		fetcher:  fetcher,
		clock:    clk,
		logger:   logger,
		listener: cfg.Listener,
		stores:   make(map[int64]storeHandle),
	}, nil
}

// Connection returns the web cache database.
func (s *LocalServer) Connection() *Connection { return s.conn }

// HasStore reports whether a store with identity exists, and its id.
func (s *LocalServer) HasStore(ctx context.Context, identity StoreIdentity) (bool, int64, error) {
	normalized, err := identity.normalize()
	if err != nil {
		return false, 0, err
	}
	var id int64
	err = s.conn.Read(ctx, func(conn *sqlite.Conn) error {
		info, err := findServer(conn, normalized)
		if err != nil || info == nil {
			return err
		}
		id = info.ID
		return nil
	})
	return id != 0, id, err
}

// Stores lists every store in the database.
func (s *LocalServer) Stores(ctx context.Context) ([]StoreInfo, error) {
	var stores []StoreInfo
	err := s.conn.Read(ctx, func(conn *sqlite.Conn) error {
		var err error
		stores, err = queryServers(conn, "")
		return err
	})
	return stores, err
}

// StoreInfo returns the row of the store with the given id.
func (s *LocalServer) StoreInfo(ctx context.Context, id int64) (StoreInfo, error) {
	var info StoreInfo
	err := s.conn.Read(ctx, func(conn *sqlite.Conn) error {
		server, err := serverByID(conn, id)
		if err != nil {
			return err
		}
		info = *server
		return nil
	})
	return info, err
}

// createServer returns the row for identity, inserting it if needed.
// An existing row of the other store type is an input error.
func (s *LocalServer) createServer(ctx context.Context, identity StoreIdentity, storeType StoreType) (StoreInfo, error) {
	normalized, err := identity.normalize()
	if err != nil {
		return StoreInfo{}, err
	}
	var info StoreInfo
	err = s.conn.Write(ctx, "create store", func(conn *sqlite.Conn) error {
		existing, err := findServer(conn, normalized)
		if err != nil {
			return err
		}
		if existing == nil {
			id, err := insertServer(conn, normalized, storeType)
			if err != nil {
				return err
			}
			s.logger.Info("store created", "store_id", id, "store", normalized.Name,
				"origin", normalized.Origin, "type", storeType)
			existing, err = serverByID(conn, id)
			if err != nil {
				return err
			}
		}
		if existing.Type != storeType {
			return inputError("identity", "store %q of %s is a %s", normalized.Name, normalized.Origin, existing.Type)
		}
		info = *existing
		return nil
	})
	return info, err
}

// openServer reads the row for id and checks its type.
func (s *LocalServer) openServer(ctx context.Context, id int64, storeType StoreType) (StoreInfo, error) {
	info, err := s.StoreInfo(ctx, id)
	if err != nil {
		return StoreInfo{}, err
	}
	if info.Type != storeType {
		return StoreInfo{}, inputError("id", "store %d is a %s", id, info.Type)
	}
	return info, nil
}

// handle returns the cached handle for info, creating it if needed.
func (s *LocalServer) handle(info StoreInfo, create func(*LocalServer, StoreInfo) storeHandle) (storeHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if existing, ok := s.stores[info.ID]; ok {
		return existing, nil
	}
	store := create(s, info)
	s.stores[info.ID] = store
	return store, nil
}

func resourceHandle(server *LocalServer, info StoreInfo) storeHandle {
	return newResourceStore(server, info)
}

func managedHandle(server *LocalServer, info StoreInfo) storeHandle {
	return newManagedStore(server, info)
}

// CreateStore opens the resource store for identity, creating it if it
// does not exist.
func (s *LocalServer) CreateStore(ctx context.Context, identity StoreIdentity) (*ResourceStore, error) {
	info, err := s.createServer(ctx, identity, TypeResourceStore)
	if err != nil {
		return nil, err
	}
	store, err := s.handle(info, resourceHandle)
	if err != nil {
		return nil, err
	}
	return store.(*ResourceStore), nil
}

// OpenStore opens an existing resource store by id.
func (s *LocalServer) OpenStore(ctx context.Context, id int64) (*ResourceStore, error) {
	info, err := s.openServer(ctx, id, TypeResourceStore)
	if err != nil {
		return nil, err
	}
	store, err := s.handle(info, resourceHandle)
	if err != nil {
		return nil, err
	}
	return store.(*ResourceStore), nil
}

// CreateManagedStore opens the managed store for identity, creating it
// if it does not exist. A non-empty manifestURL replaces the stored
// one.
func (s *LocalServer) CreateManagedStore(ctx context.Context, identity StoreIdentity, manifestURL string) (*ManagedResourceStore, error) {
	info, err := s.createServer(ctx, identity, TypeManagedStore)
	if err != nil {
		return nil, err
	}
	handle, err := s.handle(info, managedHandle)
	if err != nil {
		return nil, err
	}
	store := handle.(*ManagedResourceStore)
	if manifestURL != "" {
		if err := store.SetManifestURL(ctx, manifestURL); err != nil {
			return nil, err
		}
	}
	return store, nil
}

// OpenManagedStore opens an existing managed store by id.
func (s *LocalServer) OpenManagedStore(ctx context.Context, id int64) (*ManagedResourceStore, error) {
	info, err := s.openServer(ctx, id, TypeManagedStore)
	if err != nil {
		return nil, err
	}
	store, err := s.handle(info, managedHandle)
	if err != nil {
		return nil, err
	}
	return store.(*ManagedResourceStore), nil
}

// IsUpdateTaskRunning reports whether any process is updating the
// store with the given id.
func (s *LocalServer) IsUpdateTaskRunning(id int64) (bool, error) {
	return s.locks.IsLocked(id)
}

// MaybeAutoUpdate starts an update task for every enabled managed
// store with a manifest URL whose last check is at least minInterval
// old and which no process is updating. It returns the started tasks.
func (s *LocalServer) MaybeAutoUpdate(ctx context.Context, minInterval time.Duration) ([]*UpdateTask, error) {
	cutoff := s.clock.Now().Add(-minInterval)
	var due []StoreInfo
	err := s.conn.Read(ctx, func(conn *sqlite.Conn) error {
		var err error
		due, err = queryServers(conn,
			"WHERE server_type = ? AND enabled = 1 AND manifest_url != '' AND last_update_check_time <= ?",
			int64(TypeManagedStore), toMillis(cutoff))
		return err
	})
	if err != nil {
		return nil, err
	}

	var (
		tasks []*UpdateTask
		errs  []error
	)
	for _, info := range due {
		running, err := s.IsUpdateTaskRunning(info.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if running {
			continue
		}
		store, err := s.OpenManagedStore(ctx, info.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("store %d: %w", info.ID, err))
			continue
		}
		if store.UpdateRunning() {
			continue
		}
		task, err := store.CheckForUpdate()
		if err != nil {
			errs = append(errs, fmt.Errorf("store %d: %w", info.ID, err))
			continue
		}
		tasks = append(tasks, task)
	}
	return tasks, errors.Join(errs...)
}

// forget drops a removed store's handle.
func (s *LocalServer) forget(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stores, id)
}

// Close closes every open store handle, cancelling their tasks and
// waiting for them. The Connection stays open.
func (s *LocalServer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stores := make([]storeHandle, 0, len(s.stores))
	for _, store := range s.stores {
		stores = append(stores, store)
	}
	s.stores = nil
	s.mu.Unlock()

	for _, store := range stores {
		store.Close()
	}
}
