// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/localserver/lib/localserver"
	"github.com/bureau-foundation/localserver/lib/process"
	"github.com/bureau-foundation/localserver/lib/service"
	"github.com/bureau-foundation/localserver/lib/testutil"
)

// fakeDaemon serves canned responses on a socket and records the
// requests it receives.
type fakeDaemon struct {
	socketPath string
	requests   chan map[string]any
}

func startFakeDaemon(t *testing.T, handlers map[string]func(request map[string]any) (any, error)) *fakeDaemon {
	t.Helper()
	daemon := &fakeDaemon{
		socketPath: filepath.Join(testutil.SocketDir(t), "localserver.sock"),
		requests:   make(chan map[string]any, 64),
	}
	server := service.NewSocketServer(daemon.socketPath, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for action, handler := range handlers {
		server.Handle(action, service.Typed(func(_ context.Context, request map[string]any) (any, error) {
			daemon.requests <- request
			return handler(request)
		}))
	}

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()
	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "fake daemon ready")
	t.Cleanup(func() {
		cancel()
		testutil.RequireReceive[error](t, serveDone, 5*time.Second, "fake daemon shutdown")
	})
	return daemon
}

// execute runs the CLI with args plus --socket and returns stdout.
func (d *fakeDaemon) execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var output bytes.Buffer
	previous := stdout
	stdout = &output
	defer func() { stdout = previous }()

	err := root().Execute(append(args, "--socket", d.socketPath))
	return output.String(), err
}

var sampleStores = []localserver.StoreInfo{
	{
		ID:       1,
		Identity: localserver.StoreIdentity{Name: "docs", Origin: "https://example.com"},
		Type:     localserver.TypeResourceStore,
		Enabled:  true,
	},
	{
		ID:           2,
		Identity:     localserver.StoreIdentity{Name: "app", Origin: "https://example.com", RequiredCookie: "beta=1"},
		Type:         localserver.TypeManagedStore,
		Enabled:      false,
		ManifestURL:  "https://example.com/manifest.json",
		UpdateStatus: localserver.StatusUpdateAvailable,
	},
}

func TestStoreListTable(t *testing.T) {
	daemon := startFakeDaemon(t, map[string]func(map[string]any) (any, error){
		"list_stores": func(map[string]any) (any, error) { return sampleStores, nil },
	})

	output, err := daemon.execute(t, "store", "list")
	if err != nil {
		t.Fatalf("store list: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 3 {
		t.Fatalf("output has %d lines, want 3:\n%s", len(lines), output)
	}
	if !strings.HasPrefix(lines[0], "ID") || !strings.Contains(lines[0], "ORIGIN") {
		t.Errorf("header = %q", lines[0])
	}
	for _, want := range []string{"docs", "resource", "yes"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("row 1 %q missing %q", lines[1], want)
		}
	}
	for _, want := range []string{"app", "managed", "no", "beta=1", "update_available"} {
		if !strings.Contains(lines[2], want) {
			t.Errorf("row 2 %q missing %q", lines[2], want)
		}
	}
}

func TestStoreListJSONKeepsWireNames(t *testing.T) {
	daemon := startFakeDaemon(t, map[string]func(map[string]any) (any, error){
		"list_stores": func(map[string]any) (any, error) { return sampleStores, nil },
	})

	output, err := daemon.execute(t, "store", "list", "--json")
	if err != nil {
		t.Fatalf("store list --json: %v", err)
	}
	var stores []map[string]any
	if err := json.Unmarshal([]byte(output), &stores); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, output)
	}
	if len(stores) != 2 {
		t.Fatalf("got %d stores", len(stores))
	}
	if stores[1]["type"] != "managed" || stores[1]["update_status"] != "update_available" {
		t.Errorf("store 2 = %v", stores[1])
	}
	identity, ok := stores[0]["identity"].(map[string]any)
	if !ok || identity["name"] != "docs" {
		t.Errorf("store 1 identity = %v", stores[0]["identity"])
	}
}

func TestStoreCreateChoosesAction(t *testing.T) {
	daemon := startFakeDaemon(t, map[string]func(map[string]any) (any, error){
		"create_store":         func(map[string]any) (any, error) { return sampleStores[0], nil },
		"create_managed_store": func(map[string]any) (any, error) { return sampleStores[1], nil },
	})

	if _, err := daemon.execute(t, "store", "create", "--name", "docs", "--origin", "https://example.com"); err != nil {
		t.Fatalf("store create: %v", err)
	}
	request := testutil.RequireReceive[map[string]any](t, daemon.requests, 5*time.Second, "create_store request")
	if request["action"] != "create_store" || request["name"] != "docs" {
		t.Errorf("request = %v", request)
	}

	output, err := daemon.execute(t, "store", "create", "--name", "app", "--origin", "https://example.com",
		"--manifest", "/manifest.json")
	if err != nil {
		t.Fatalf("store create --manifest: %v", err)
	}
	request = testutil.RequireReceive[map[string]any](t, daemon.requests, 5*time.Second, "create_managed_store request")
	if request["action"] != "create_managed_store" || request["manifest_url"] != "/manifest.json" {
		t.Errorf("request = %v", request)
	}
	if !strings.Contains(output, "https://example.com/manifest.json") {
		t.Errorf("output missing manifest url:\n%s", output)
	}

	if _, err := daemon.execute(t, "store", "create", "--name", "x"); err == nil {
		t.Error("store create without --origin succeeded")
	}
}

func TestCapturedExitStatus(t *testing.T) {
	captured := map[string]bool{"https://example.com/a": true}
	daemon := startFakeDaemon(t, map[string]func(map[string]any) (any, error){
		"is_captured": func(request map[string]any) (any, error) {
			url, _ := request["url"].(string)
			return map[string]bool{"captured": captured[url]}, nil
		},
	})

	output, err := daemon.execute(t, "captured", "1", "https://example.com/a")
	if err != nil || strings.TrimSpace(output) != "captured" {
		t.Errorf("captured(a) = %q, %v", output, err)
	}

	output, err = daemon.execute(t, "captured", "1", "https://example.com/b")
	if process.ExitCode(err) != 1 || strings.TrimSpace(output) != "not captured" {
		t.Errorf("captured(b) = %q, %v; want exit status 1", output, err)
	}
}

func TestCaptureWaitReportsFailures(t *testing.T) {
	daemon := startFakeDaemon(t, map[string]func(map[string]any) (any, error){
		"capture": func(map[string]any) (any, error) {
			return captureResult{TaskID: "task-1", CaptureID: 7, URLs: []string{"https://example.com/a", "https://example.com/b"}}, nil
		},
		"task_status": func(map[string]any) (any, error) {
			return taskStatus{
				TaskID: "task-1", Kind: "capture", StoreID: 1, Done: true, CaptureID: 7,
				Succeeded: 1, Failed: 1, FailedURLs: []string{"https://example.com/b"},
			}, nil
		},
	})

	output, err := daemon.execute(t, "capture", "1", "/a", "/b", "--wait")
	if process.ExitCode(err) != 1 {
		t.Errorf("capture --wait err = %v, want exit status 1", err)
	}
	for _, want := range []string{"succeeded: 1", "failed:    1", "failed: https://example.com/b"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestDaemonErrorIsReturned(t *testing.T) {
	daemon := startFakeDaemon(t, map[string]func(map[string]any) (any, error){
		"update_info": func(map[string]any) (any, error) {
			return nil, service.WithCode("not_found", errors.New("store 9: localserver: store not found"))
		},
	})

	_, err := daemon.execute(t, "update", "info", "9")
	var serviceErr *service.ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code != "not_found" {
		t.Errorf("err = %v, want a not_found ServiceError", err)
	}
}

func TestArgumentErrors(t *testing.T) {
	daemon := startFakeDaemon(t, nil)
	tests := [][]string{
		{"store", "info"},
		{"store", "info", "abc"},
		{"rename", "1", "/a"},
		{"nonsense"},
	}
	for _, args := range tests {
		if _, err := daemon.execute(t, args...); err == nil {
			t.Errorf("%v succeeded, want an error", args)
		}
	}
}
