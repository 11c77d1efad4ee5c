// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

// Resource is a response an Origin serves for one path.
type Resource struct {
	// Status defaults to 200.
	Status int

	Body        string
	ContentType string

	// LastModified, when set, is sent as Last-Modified, and requests
	// whose If-Modified-Since is not earlier get 304.
	LastModified time.Time

	// Location is sent for redirect statuses.
	Location string

	// Hold, when non-nil, delays the response until it is closed or
	// the request is cancelled.
	Hold <-chan struct{}
}

// Origin is a fake web origin backed by httptest.
type Origin struct {
	*httptest.Server

	mu        sync.Mutex
	resources map[string]Resource
	requests  map[string]int
	started   chan string
}

// NewOrigin starts an Origin that is closed when the test completes.
// Paths with no registered resource return 404.
func NewOrigin(t *testing.T) *Origin {
	t.Helper()
	origin := &Origin{
		resources: make(map[string]Resource),
		requests:  make(map[string]int),
		started:   make(chan string, 64),
	}
	origin.Server = httptest.NewServer(http.HandlerFunc(origin.serve))
	t.Cleanup(origin.Close)
	return origin
}

// Set registers or replaces the resource served at path.
func (o *Origin) Set(path string, resource Resource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.resources[path] = resource
}

// Remove makes path return 404.
func (o *Origin) Remove(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.resources, path)
}

// Requests returns how many requests path has received.
func (o *Origin) Requests(path string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.requests[path]
}

// Started delivers the path of every request as it arrives. Sends are
// dropped when nobody is reading.
func (o *Origin) Started() <-chan string { return o.started }

// Link returns the absolute URL of path on this origin.
func (o *Origin) Link(path string) string { return o.URL + path }

func (o *Origin) serve(w http.ResponseWriter, r *http.Request) {
	o.mu.Lock()
	o.requests[r.URL.Path]++
	resource, found := o.resources[r.URL.Path]
	o.mu.Unlock()

	select {
	case o.started <- r.URL.Path:
	default:
	}

	if !found {
		http.NotFound(w, r)
		return
	}
	if resource.Hold != nil {
		select {
		case <-resource.Hold:
		case <-r.Context().Done():
			return
		}
	}

	if !resource.LastModified.IsZero() {
		w.Header().Set("Last-Modified", resource.LastModified.UTC().Format(http.TimeFormat))
		if since, err := http.ParseTime(r.Header.Get("If-Modified-Since")); err == nil &&
			!resource.LastModified.Truncate(time.Second).After(since) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	if resource.ContentType != "" {
		w.Header().Set("Content-Type", resource.ContentType)
	}
	if resource.Location != "" {
		w.Header().Set("Location", resource.Location)
	}
	status := resource.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(resource.Body))
}
