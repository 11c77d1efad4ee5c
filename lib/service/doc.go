// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service provides the transports of the localserver daemon:
// a CBOR request/response server on a Unix socket, its client, and
// the lifecycle wrapper for the HTTP listener that serves captured
// content.
//
// # Socket protocol
//
// Each connection carries one request and one response. The request
// is a CBOR map with an "action" field naming the operation plus the
// operation's own fields. The response is
//
//	{ok: bool, error: string, code: string, data: any}
//
// where code is a short machine-readable classification of the
// error ("not_found", "invalid_input", ...), present only when the
// handler's error carries one (see [CodedError]).
//
// Operations are declared up front in a table: the daemon calls
// [SocketServer.Handle] once per action name, usually wrapping a
// typed function with [Typed] so request decoding lives in one
// place. Unknown actions are answered with an error response.
package service
