// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package weburl

import (
	"errors"
	"testing"
)

func TestParseNormalizes(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"HTTP://Example.COM", "http://example.com/"},
		{"https://example.com:443/a/b?x=1#frag", "https://example.com/a/b?x=1"},
		{"http://example.com:8080/", "http://example.com:8080/"},
		{"http://user:pw@example.com/p", "http://example.com/p"},
		{"http://[::1]:80/", "http://[::1]/"},
	}
	for _, test := range tests {
		got, err := Parse(test.input)
		if err != nil {
			t.Errorf("Parse(%q): %v", test.input, err)
			continue
		}
		if got.String() != test.want {
			t.Errorf("Parse(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}

func TestParseRejects(t *testing.T) {
	for _, input := range []string{
		"/relative/path",
		"ftp://example.com/",
		"mailto:someone@example.com",
		"http:///nohost",
	} {
		if _, err := Parse(input); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", input)
		}
	}
}

func TestResolveInOrigin(t *testing.T) {
	base, err := Parse("https://example.com/app/manifest.json")
	if err != nil {
		t.Fatal(err)
	}

	resolved, err := ResolveInOrigin(base, "img/logo.png#top")
	if err != nil {
		t.Fatalf("ResolveInOrigin: %v", err)
	}
	if resolved.String() != "https://example.com/app/img/logo.png" {
		t.Errorf("resolved = %q", resolved)
	}

	_, err = ResolveInOrigin(base, "https://other.example.com/x")
	if !errors.Is(err, ErrCrossOrigin) {
		t.Errorf("cross-origin error = %v, want ErrCrossOrigin", err)
	}
	_, err = ResolveInOrigin(base, "http://example.com/x")
	if !errors.Is(err, ErrCrossOrigin) {
		t.Errorf("scheme change error = %v, want ErrCrossOrigin", err)
	}
}

func TestOrigin(t *testing.T) {
	origin, err := ParseOrigin("https://Example.com:443/some/path")
	if err != nil {
		t.Fatal(err)
	}
	if origin.String() != "https://example.com" {
		t.Errorf("String = %q", origin.String())
	}
	if origin.Port != "443" {
		t.Errorf("Port = %q, want explicit 443", origin.Port)
	}

	custom, err := ParseOrigin("http://localhost:8080")
	if err != nil {
		t.Fatal(err)
	}
	if custom.String() != "http://localhost:8080" {
		t.Errorf("String = %q", custom.String())
	}
	if custom == origin {
		t.Error("distinct origins compare equal")
	}
}

func TestWithoutQuery(t *testing.T) {
	parsed, err := Parse("https://example.com/search?q=go")
	if err != nil {
		t.Fatal(err)
	}
	if got := WithoutQuery(parsed); got != "https://example.com/search" {
		t.Errorf("WithoutQuery = %q", got)
	}
}
