// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"errors"
	"strings"
	"testing"
)

const manifestURL = "https://example.com/app/manifest.json"

func TestParse(t *testing.T) {
	data := []byte(`{
		// hand-written manifest
		"betaManifestVersion": 2,
		"version": "v7",
		"redirectUrl": "https://login.example.net/start",
		"entries": [
			{"url": "index.html"},
			{"url": "app.js", "src": "build/app.min.js"},
			{"url": "legacy.html", "redirect": "index.html"},
			{"url": "search", "ignoreQuery": true},
			{"url": "view", "matchQuery": {"hasAll": "mode=full&&lang", "hasNone": "debug"}},
			{"url": "plain", "matchQuery": {}},
		],
	}`)

	manifest, err := Parse(manifestURL, data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if manifest.Version != "v7" || manifest.FormatVersion != 2 {
		t.Errorf("version = %q format %d", manifest.Version, manifest.FormatVersion)
	}
	if manifest.RedirectURL != "https://login.example.net/start" {
		t.Errorf("RedirectURL = %q", manifest.RedirectURL)
	}
	if len(manifest.Entries) != 6 {
		t.Fatalf("got %d entries, want 6", len(manifest.Entries))
	}

	index := manifest.Entries[0]
	if index.URL != "https://example.com/app/index.html" {
		t.Errorf("index url = %q", index.URL)
	}

	script := manifest.Entries[1]
	if script.Src != "https://example.com/app/build/app.min.js" {
		t.Errorf("src = %q", script.Src)
	}
	if script.FetchURL() != script.Src {
		t.Errorf("FetchURL = %q, want src", script.FetchURL())
	}

	legacy := manifest.Entries[2]
	if legacy.Redirect != "https://example.com/app/index.html" || legacy.FetchURL() != "" {
		t.Errorf("redirect entry = %+v", legacy)
	}

	if !manifest.Entries[3].IgnoreQuery {
		t.Error("ignoreQuery entry lost its flag")
	}

	view := manifest.Entries[4]
	if view.Match == nil {
		t.Fatal("matchQuery entry has no Match")
	}
	if view.Match.HasAll != "mode=full&lang" {
		t.Errorf("canonical hasAll = %q", view.Match.HasAll)
	}

	plain := manifest.Entries[5]
	if plain.Match != nil || !plain.IgnoreQuery {
		t.Errorf("empty matchQuery = %+v, want ignoreQuery", plain)
	}

	fetch := manifest.FetchURLs()
	want := []string{
		"https://example.com/app/index.html",
		"https://example.com/app/build/app.min.js",
		"https://example.com/app/search",
		"https://example.com/app/view",
		"https://example.com/app/plain",
	}
	if strings.Join(fetch, "\n") != strings.Join(want, "\n") {
		t.Errorf("FetchURLs = %v, want %v", fetch, want)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name     string
		data     string
		contains string
	}{
		{"not json", `{`, ""},
		{"array root", `[]`, ""},
		{"bad format version", `{"betaManifestVersion": 3, "version": "1", "entries": []}`, "betaManifestVersion"},
		{"missing format version", `{"version": "1", "entries": []}`, "betaManifestVersion"},
		{"missing version", `{"betaManifestVersion": 1, "entries": []}`, "'version'"},
		{"empty version", `{"betaManifestVersion": 1, "version": "", "entries": []}`, "'version'"},
		{"missing entries", `{"betaManifestVersion": 1, "version": "1"}`, "'entries'"},
		{"entry without url", `{"betaManifestVersion": 1, "version": "1", "entries": [{"src": "a"}]}`, "'url'"},
		{"src and redirect", `{"betaManifestVersion": 1, "version": "1", "entries": [{"url": "a", "src": "b", "redirect": "c"}]}`, "cannot both"},
		{"ignoreQuery with query", `{"betaManifestVersion": 1, "version": "1", "entries": [{"url": "a?x=1", "ignoreQuery": true}]}`, "ignoreQuery"},
		{"cross-origin url", `{"betaManifestVersion": 1, "version": "1", "entries": [{"url": "https://evil.example.org/a"}]}`, "same origin"},
		{"cross-origin src", `{"betaManifestVersion": 1, "version": "1", "entries": [{"url": "a", "src": "http://example.com/a"}]}`, "same origin"},
		{"matchQuery and ignoreQuery", `{"betaManifestVersion": 2, "version": "1", "entries": [{"url": "a", "ignoreQuery": true, "matchQuery": {"hasAll": "x"}}]}`, "cannot both"},
		{"matchQuery url with query", `{"betaManifestVersion": 2, "version": "1", "entries": [{"url": "a?b", "matchQuery": {"hasAll": "x"}}]}`, "'?'"},
		{"matchQuery leading question mark", `{"betaManifestVersion": 2, "version": "1", "entries": [{"url": "a", "matchQuery": {"hasSome": "?x"}}]}`, "'?'"},
		{"matchQuery escaped", `{"betaManifestVersion": 2, "version": "1", "entries": [{"url": "a", "matchQuery": {"hasNone": "x=%20"}}]}`, "escaped"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Parse(manifestURL, []byte(test.data))
			if err == nil {
				t.Fatal("Parse succeeded, want error")
			}
			var manifestErr *Error
			if !errors.As(err, &manifestErr) {
				t.Fatalf("error %v is not a *manifest.Error", err)
			}
			if test.contains != "" && !strings.Contains(err.Error(), test.contains) {
				t.Errorf("error %q does not mention %q", err, test.contains)
			}
		})
	}
}

func TestVersion1IgnoresMatchQuery(t *testing.T) {
	manifest, err := Parse(manifestURL, []byte(`{
		"betaManifestVersion": 1,
		"version": "1",
		"entries": [{"url": "a?b=1", "matchQuery": {"hasAll": "?bad"}}]
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if manifest.Entries[0].Match != nil {
		t.Error("format 1 manifest produced a matchQuery")
	}
}

func TestMatchQuery(t *testing.T) {
	match := MatchQuery{HasAll: "mode=full&lang", HasSome: "a&b=2", HasNone: "debug"}
	tests := []struct {
		query string
		want  bool
	}{
		{"mode=full&lang=en&a", true},
		{"mode=full&lang=en&b=2", true},
		{"mode=full&lang=en&b=3", false},
		{"mode=lite&lang=en&a", false},
		{"mode=full&a", false},
		{"mode=full&lang=en&a&debug=1", false},
		{"", false},
	}
	for _, test := range tests {
		if got := match.Matches(test.query); got != test.want {
			t.Errorf("Matches(%q) = %v, want %v", test.query, got, test.want)
		}
	}

	onlyNone := MatchQuery{HasNone: "debug"}
	if !onlyNone.Matches("") {
		t.Error("hasNone-only query rejected an empty query string")
	}
}
