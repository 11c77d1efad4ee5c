// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package manifest parses the JSON documents that describe the
// resource set of a managed store.
//
// A manifest looks like:
//
//	{
//	  // format 1 or 2; format 2 adds matchQuery
//	  "betaManifestVersion": 2,
//	  "version": "v42",
//	  "redirectUrl": "login.html",
//	  "entries": [
//	    {"url": "index.html"},
//	    {"url": "app.js", "src": "app.min.js"},
//	    {"url": "old.html", "redirect": "index.html"},
//	    {"url": "search", "ignoreQuery": true},
//	    {"url": "view", "matchQuery": {"hasAll": "mode=full", "hasNone": "debug"}},
//	  ],
//	}
//
// Manifests are authored by hand, so comments and trailing commas are
// accepted (JSONC). Every URL is resolved relative to the manifest's
// own URL and normalized. Entry url and src values must share the
// manifest's origin; redirect targets and the session redirectUrl may
// point anywhere.
//
// A matchQuery serves one stored entry for many query strings. Each
// of hasAll, hasSome, and hasNone is a query-string-shaped list of
// terms joined by '&'. A term "name" tests that a parameter is
// present; "name=value" tests for that exact parameter value. A
// request matches when every hasAll term, at least one hasSome term
// (if any are given), and no hasNone term is satisfied. A matchQuery
// with no terms at all is equivalent to ignoreQuery.
package manifest
