// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/bureau-foundation/localserver/lib/blob"
	"github.com/bureau-foundation/localserver/lib/localserver"
)

func newTestHandler(t *testing.T) (*testEnv, http.Handler, localserver.StoreInfo) {
	t.Helper()
	env := newTestEnv(t)
	store := env.createStore(t, "docs")

	resourceStore, err := env.server.OpenStore(context.Background(), store.ID)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	if err := resourceStore.CaptureBlob(context.Background(), blob.FromString("<p>cached</p>"), "/page.html", "text/html"); err != nil {
		t.Fatalf("CaptureBlob: %v", err)
	}
	return env, newContentHandler(env.server, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestContentHandlerLookupRoute(t *testing.T) {
	env, handler, store := newTestHandler(t)

	request := httptest.NewRequest(http.MethodGet, "/lookup?url="+url.QueryEscape(env.origin.URL+"/page.html"), nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, body %q", recorder.Code, recorder.Body.String())
	}
	if got := recorder.Body.String(); got != "<p>cached</p>" {
		t.Errorf("body = %q", got)
	}
	if got := recorder.Header().Get("Content-Type"); got != "text/html" {
		t.Errorf("content-type = %q", got)
	}
	if got := recorder.Header().Get(storeHeader); got != strconv.FormatInt(store.ID, 10) {
		t.Errorf("%s = %q, want %d", storeHeader, got, store.ID)
	}
}

func TestContentHandlerProxyRequest(t *testing.T) {
	env, handler, _ := newTestHandler(t)

	request := httptest.NewRequest(http.MethodGet, env.origin.URL+"/page.html", nil)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK || recorder.Body.String() != "<p>cached</p>" {
		t.Fatalf("proxy GET = %d %q", recorder.Code, recorder.Body.String())
	}

	request = httptest.NewRequest(http.MethodHead, env.origin.URL+"/page.html", nil)
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK || recorder.Body.Len() != 0 {
		t.Errorf("proxy HEAD = %d with %d body bytes", recorder.Code, recorder.Body.Len())
	}
	if got := recorder.Header().Get("Content-Length"); got != "13" {
		t.Errorf("HEAD content-length = %q, want 13", got)
	}

	request = httptest.NewRequest(http.MethodPost, env.origin.URL+"/page.html", nil)
	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusMethodNotAllowed {
		t.Errorf("proxy POST status = %d, want 405", recorder.Code)
	}
}

func TestContentHandlerErrors(t *testing.T) {
	env, handler, _ := newTestHandler(t)

	tests := []struct {
		name   string
		target string
		want   int
	}{
		{"not captured", "/lookup?url=" + url.QueryEscape(env.origin.URL+"/other.html"), http.StatusNotFound},
		{"missing url", "/lookup", http.StatusBadRequest},
		{"malformed url", "/lookup?url=" + url.QueryEscape("ftp://example.com/x"), http.StatusBadRequest},
		{"unknown route", "/nothing", http.StatusNotFound},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			recorder := httptest.NewRecorder()
			handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, test.target, nil))
			if recorder.Code != test.want {
				t.Errorf("status = %d, want %d", recorder.Code, test.want)
			}
		})
	}
}

func TestContentHandlerHealth(t *testing.T) {
	_, handler, _ := newTestHandler(t)
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if recorder.Code != http.StatusOK || recorder.Body.String() != "ok\n" {
		t.Errorf("healthz = %d %q", recorder.Code, recorder.Body.String())
	}
}
