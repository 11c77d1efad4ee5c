// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bureau-foundation/localserver/lib/blob"
	"github.com/bureau-foundation/localserver/lib/localserver"
)

// storeHeader names the store that served a response.
const storeHeader = "X-Localserver-Store"

// contentHandler serves captured responses over HTTP. It answers
// proxy-style requests (absolute request URIs) for any captured URL,
// and GET /lookup?url=... for clients that cannot use a proxy.
type contentHandler struct {
	server *localserver.LocalServer
	logger *slog.Logger
}

func newContentHandler(server *localserver.LocalServer, logger *slog.Logger) http.Handler {
	handler := &contentHandler{server: server, logger: logger}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(middleware.GetHead)
	router.Use(handler.proxyRequests)

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, "ok\n")
	})
	router.Get("/lookup", func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		if target == "" {
			http.Error(w, "missing url parameter", http.StatusBadRequest)
			return
		}
		handler.serve(w, r, target)
	})
	return router
}

// proxyRequests serves absolute-form requests before routing, so a
// captured URL whose path is /healthz or /lookup is still served from
// the cache.
func (h *contentHandler) proxyRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !r.URL.IsAbs() {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.serve(w, r, r.URL.String())
	})
}

func (h *contentHandler) serve(w http.ResponseWriter, r *http.Request, target string) {
	cookies := localserver.ParseCookieHeader(r.Header.Get("Cookie"))
	response, err := h.server.Lookup(r.Context(), target, cookies)
	if err != nil {
		var input *localserver.InputError
		switch {
		case errors.Is(err, localserver.ErrNotFound):
			http.Error(w, "not captured", http.StatusNotFound)
		case errors.As(err, &input):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.logger.Error("lookup failed", "url", target, "error", err)
			http.Error(w, "lookup failed", http.StatusInternalServerError)
		}
		return
	}
	defer blob.Release(response.Body)

	header := w.Header()
	for name, values := range response.Headers.HTTP() {
		header[name] = values
	}
	// Bodies are stored decoded, so the captured length may not apply.
	header.Del("Content-Encoding")
	header.Set("Content-Length", strconv.FormatInt(response.Body.Length(), 10))
	header.Set(storeHeader, strconv.FormatInt(response.StoreID, 10))
	w.WriteHeader(response.StatusCode)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, blob.NewReader(response.Body)); err != nil {
		h.logger.Debug("writing captured body failed", "url", target, "error", err)
	}
}
