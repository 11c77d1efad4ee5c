// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the YAML configuration of the localserver
// daemon and CLI.
//
// Configuration comes from exactly one file, named either by the
// LOCALSERVER_CONFIG environment variable ([Load]) or by a --config
// flag ([LoadFile]). There is no search path and no per-field
// environment override. Path fields may reference ${HOME},
// ${LOCALSERVER_ROOT}, or any ${VAR:-default}; those are expanded
// after the file is read.
//
// A minimal file:
//
//	paths:
//	  root: ${HOME}/.cache/localserver
//	update:
//	  poll_interval: 1m
//	  min_check_interval: 24h
//	http:
//	  enabled: true
//	  address: 127.0.0.1:8765
//
// Everything not given keeps the value from [Default]. [Config.Validate]
// reports every problem at once.
package config
