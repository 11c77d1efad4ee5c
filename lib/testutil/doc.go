// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides helpers shared by the web cache tests.
//
// [RequireReceive] and [RequireClosed] wrap a channel
// operation in a wall-clock timeout so a broken test fails instead of
// hanging. They are the only place tests wait on real time.
//
// [SocketDir] returns a short directory under /tmp for Unix sockets,
// whose paths are limited to 108 bytes.
//
// [NewOrigin] starts an httptest server that plays the part of a web
// origin: tests register resources on it, count requests, make
// responses conditional on If-Modified-Since, and hold responses open
// to pin a capture mid-flight.
//
// Helpers call t.Fatalf on failure.
package testutil
