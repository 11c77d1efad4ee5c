// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build identity of the localserver
// binaries.
//
// The variables are injected with -ldflags -X at build time:
//
//	go build -ldflags "-X github.com/bureau-foundation/localserver/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Unset, they read "unknown" and "0.1.0-dev". [UserAgent] is the
// default User-Agent of capture and manifest requests.
package version
