// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Localserver-service is the daemon that owns a web cache database. It
// opens the database, verifies its schema version, and serves the
// store, capture and update operations of package localserver over a
// Unix socket using the CBOR request protocol of package service.
//
// # Startup
//
// Configuration comes from --config or the file named by
// LOCALSERVER_CONFIG, falling back to built-in defaults. Flags override
// the socket path, enable the HTTP listener, and turn off automatic
// updates. Every process sharing a database must use the same lock
// directory so update tasks exclude each other across processes.
//
// # Socket API
//
// Each connection carries one request with an "action" field:
// status, list_stores, store_info, has_store, create_store,
// create_managed_store, remove_store, set_enabled, capture,
// capture_blob, abort_capture, is_captured, remove, rename, copy,
// get_header, get_all_headers, set_manifest_url, check_for_update,
// update_info, versions, is_update_running, task_status and lookup.
//
// Captures and update checks run asynchronously. The capture and
// check_for_update actions return a task id that task_status reports
// on, optionally waiting for the task to finish.
//
// # Serving content
//
// With http.enabled the daemon also answers HTTP requests from the
// cache: absolute-form (proxy) requests for any captured URL, and
// GET /lookup?url=... for direct clients. The Cookie header selects
// among stores with required cookies.
//
// # Automatic updates
//
// With update.enabled a scheduler polls for enabled managed stores
// whose last check is older than update.min_check_interval and starts
// an update task for each.
package main
