// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/localserver/lib/blob"
	"github.com/bureau-foundation/localserver/lib/clock"
	"github.com/bureau-foundation/localserver/lib/testutil"
	"github.com/bureau-foundation/localserver/lib/updatelock"
)

const eventTimeout = 10 * time.Second

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordedEvent struct {
	code   EventCode
	param  int
	source Task
}

// eventRecorder is a Listener that buffers every event.
type eventRecorder struct {
	events chan recordedEvent
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{events: make(chan recordedEvent, 1024)}
}

func (r *eventRecorder) HandleEvent(code EventCode, param int, source Task) {
	r.events <- recordedEvent{code: code, param: param, source: source}
}

// next returns the next event, skipping those not in codes.
func (r *eventRecorder) next(t *testing.T, codes ...EventCode) recordedEvent {
	t.Helper()
	for {
		event := testutil.RequireReceive[recordedEvent](t, r.events, eventTimeout, "waiting for %v", codes)
		for _, code := range codes {
			if event.code == code {
				return event
			}
		}
	}
}

// statuses collects update status changes until the next update task
// completes.
func (r *eventRecorder) statuses(t *testing.T) ([]UpdateStatus, UpdateOutcome) {
	t.Helper()
	var statuses []UpdateStatus
	for {
		event := r.next(t, EventUpdateStatusChanged, EventUpdateTaskComplete)
		if event.code == EventUpdateTaskComplete {
			return statuses, UpdateOutcome(event.param)
		}
		statuses = append(statuses, UpdateStatus(event.param))
	}
}

type testEnv struct {
	dir    string
	origin *testutil.Origin
	clock  *clock.FakeClock
	conn   *Connection
	locks  *updatelock.Locker
	events *eventRecorder
	server *LocalServer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		dir:    t.TempDir(),
		origin: testutil.NewOrigin(t),
		clock:  clock.Fake(epoch),
		events: newEventRecorder(),
	}
	env.conn = openTestConnection(t, filepath.Join(env.dir, "webcache.db"))
	locks, err := updatelock.New(filepath.Join(env.dir, "locks"), nil)
	if err != nil {
		t.Fatalf("updatelock.New: %v", err)
	}
	env.locks = locks
	env.server = env.newServer(t, env.conn, env.events)
	return env
}

// newServer opens another LocalServer on the environment's database
// and lock directory, as a second process would.
func (e *testEnv) newServer(t *testing.T, conn *Connection, listener Listener) *LocalServer {
	t.Helper()
	server, err := New(Config{
		Connection: conn,
		Locks:      e.locks,
		Fetcher:    NewHTTPFetcher(HTTPFetcherConfig{Timeout: eventTimeout}),
		Clock:      e.clock,
		Listener:   listener,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(server.Close)
	return server
}

func (e *testEnv) identity(name string) StoreIdentity {
	return StoreIdentity{Name: name, Origin: e.origin.URL}
}

func (e *testEnv) resourceStore(t *testing.T, name string) *ResourceStore {
	t.Helper()
	store, err := e.server.CreateStore(context.Background(), e.identity(name))
	if err != nil {
		t.Fatalf("CreateStore(%q): %v", name, err)
	}
	return store
}

func (e *testEnv) managedStore(t *testing.T, name, manifestURL string) *ManagedResourceStore {
	t.Helper()
	store, err := e.server.CreateManagedStore(context.Background(), e.identity(name), manifestURL)
	if err != nil {
		t.Fatalf("CreateManagedStore(%q): %v", name, err)
	}
	return store
}

func openTestConnection(t *testing.T, path string) *Connection {
	t.Helper()
	conn, err := OpenConnection(ConnectionConfig{Path: path, PoolSize: 4})
	if err != nil {
		t.Fatalf("OpenConnection: %v", err)
	}
	t.Cleanup(func() {
		if err := conn.Close(); err != nil {
			t.Errorf("Connection.Close: %v", err)
		}
	})
	return conn
}

func waitCapture(t *testing.T, handle *CaptureHandle) CaptureResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	result, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("capture %d: %v", handle.CaptureID(), err)
	}
	return result
}

func waitUpdate(t *testing.T, task *UpdateTask) UpdateResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()
	result, err := task.Wait(ctx)
	if err != nil {
		t.Fatalf("update %s: %v", task.ID(), err)
	}
	return result
}

func runUpdate(t *testing.T, store *ManagedResourceStore) UpdateResult {
	t.Helper()
	task, err := store.CheckForUpdate()
	if err != nil {
		t.Fatalf("CheckForUpdate: %v", err)
	}
	return waitUpdate(t, task)
}

func bodyString(t *testing.T, b blob.Blob) string {
	t.Helper()
	data, err := blob.ReadAll(b)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	return string(data)
}

func countRows(t *testing.T, conn *Connection, table string) int64 {
	t.Helper()
	var count int64
	err := conn.Read(context.Background(), func(c *sqlite.Conn) error {
		return sqlitex.Execute(c, "SELECT COUNT(*) FROM "+table, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				count = stmt.ColumnInt64(0)
				return nil
			},
		})
	})
	if err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return count
}
