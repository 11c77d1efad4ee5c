// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process holds the entrypoint helpers for the localserver
// binaries: reporting a fatal error to stderr before or after the
// structured logger exists, and exiting with a chosen status.
package process
