// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/bureau-foundation/localserver/lib/blob"
	"github.com/bureau-foundation/localserver/lib/testutil"
)

const queryManifest = `{
	"betaManifestVersion": 2,
	"version": "q1",
	"entries": [
		{ "url": "/search", "ignoreQuery": true },
		{ "url": "/page", "matchQuery": { "hasAll": "a", "hasNone": "debug" } },
		{ "url": "/exact?x=1" }
	]
}`

func TestLookupQueryMatching(t *testing.T) {
	env := newTestEnv(t)
	env.origin.Set("/manifest.json", testutil.Resource{Body: queryManifest})
	env.origin.Set("/search", testutil.Resource{Body: "search"})
	env.origin.Set("/page", testutil.Resource{Body: "page"})
	env.origin.Set("/exact", testutil.Resource{Body: "exact"})
	store := env.managedStore(t, "queries", "/manifest.json")
	if result := runUpdate(t, store); result.Outcome != UpdateSucceeded {
		t.Fatalf("update = %+v", result)
	}
	ctx := context.Background()

	for _, test := range []struct {
		path string
		body string
	}{
		{"/search", "search"},
		{"/search?q=go&page=2", "search"},
		{"/page?a", "page"},
		{"/page?a=1&b=2", "page"},
		{"/page", ""},
		{"/page?b=1", ""},
		{"/page?a=1&debug", ""},
		{"/exact?x=1", "exact"},
		{"/exact?x=2", ""},
		{"/exact", ""},
		{"/unlisted", ""},
	} {
		t.Run(test.path, func(t *testing.T) {
			response, err := env.server.Lookup(ctx, env.origin.Link(test.path), nil)
			if test.body == "" {
				if !errors.Is(err, ErrNotFound) {
					t.Errorf("Lookup = %v, want ErrNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			if response.StoreID != store.ID() || response.StatusCode != http.StatusOK {
				t.Errorf("response = store %d status %d", response.StoreID, response.StatusCode)
			}
			if got := bodyString(t, response.Body); got != test.body {
				t.Errorf("body = %q, want %q", got, test.body)
			}
		})
	}
}

func TestLookupRequiredCookie(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	identity := env.identity("private")
	identity.RequiredCookie = "session=abc"
	store, err := env.server.CreateStore(ctx, identity)
	if err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	if err := store.CaptureBlob(ctx, blob.FromString("secret"), "/inbox", "text/plain"); err != nil {
		t.Fatalf("CaptureBlob: %v", err)
	}
	target := env.origin.Link("/inbox")

	if _, err := env.server.Lookup(ctx, target, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup without cookie = %v, want ErrNotFound", err)
	}
	if _, err := env.server.Lookup(ctx, target, ParseCookieHeader("session=other")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup with the wrong cookie = %v, want ErrNotFound", err)
	}
	response, err := env.server.Lookup(ctx, target, ParseCookieHeader("theme=dark; session=abc"))
	if err != nil {
		t.Fatalf("Lookup with cookie: %v", err)
	}
	if got := bodyString(t, response.Body); got != "secret" {
		t.Errorf("body = %q", got)
	}
}

func TestLookupSessionRedirect(t *testing.T) {
	env := newTestEnv(t)
	env.origin.Set("/manifest.json", testutil.Resource{Body: `{
		"betaManifestVersion": 1,
		"version": "s1",
		"redirectUrl": "/login",
		"entries": [{ "url": "/mail" }]
	}`})
	env.origin.Set("/mail", testutil.Resource{Body: "mail"})
	ctx := context.Background()
	identity := env.identity("mail")
	identity.RequiredCookie = "user"
	store, err := env.server.CreateManagedStore(ctx, identity, "/manifest.json")
	if err != nil {
		t.Fatalf("CreateManagedStore: %v", err)
	}
	if result := runUpdate(t, store); result.Outcome != UpdateSucceeded {
		t.Fatalf("update = %+v", result)
	}

	response, err := env.server.Lookup(ctx, env.origin.Link("/mail"), nil)
	if err != nil {
		t.Fatalf("Lookup without cookie: %v", err)
	}
	if !response.SessionRedirect || response.StatusCode != http.StatusFound ||
		response.Headers.Get("Location") != env.origin.Link("/login") {
		t.Errorf("response = %+v, want a session redirect to /login", response)
	}
	if _, err := env.server.Lookup(ctx, env.origin.Link("/other"), nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup of an unlisted url = %v, want ErrNotFound", err)
	}

	response, err = env.server.Lookup(ctx, env.origin.Link("/mail"), map[string]string{"user": ""})
	if err != nil {
		t.Fatalf("Lookup with cookie: %v", err)
	}
	if response.SessionRedirect || bodyString(t, response.Body) != "mail" {
		t.Errorf("response = %+v, want the stored page", response)
	}
}

func TestLookupRejectsMalformedURL(t *testing.T) {
	env := newTestEnv(t)
	var input *InputError
	if _, err := env.server.Lookup(context.Background(), "/relative", nil); !errors.As(err, &input) {
		t.Errorf("Lookup of a relative url = %v, want *InputError", err)
	}
}
