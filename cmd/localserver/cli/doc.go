// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli holds the command tree, output formatting and socket
// resolution shared by the localserver commands.
package cli
