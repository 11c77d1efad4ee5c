// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package weburl

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ErrCrossOrigin is returned when a URL resolves outside the origin
// it is required to share.
var ErrCrossOrigin = errors.New("url is not in the same origin")

// Origin identifies a web origin. The zero value is not a valid origin.
type Origin struct {
	Scheme string
	Host   string
	// Port is always explicit, including the scheme default.
	Port string
}

// String returns the serialized origin, omitting a default port:
// "https://example.com" or "http://example.com:8080".
func (o Origin) String() string {
	if o.Port == defaultPort(o.Scheme) {
		return o.Scheme + "://" + o.Host
	}
	return o.Scheme + "://" + net.JoinHostPort(o.Host, o.Port)
}

// IsZero reports whether o is the zero Origin.
func (o Origin) IsZero() bool { return o == Origin{} }

// ParseOrigin parses a serialized origin. Any path, query, or
// fragment is ignored.
func ParseOrigin(raw string) (Origin, error) {
	parsed, err := Parse(raw)
	if err != nil {
		return Origin{}, err
	}
	return OriginOf(parsed), nil
}

// OriginOf returns the origin of an already normalized URL.
func OriginOf(u *url.URL) Origin {
	port := u.Port()
	if port == "" {
		port = defaultPort(u.Scheme)
	}
	return Origin{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   port,
	}
}

// Contains reports whether u belongs to the origin.
func (o Origin) Contains(u *url.URL) bool {
	return OriginOf(u) == o
}

func defaultPort(scheme string) string {
	switch scheme {
	case "http":
		return "80"
	case "https":
		return "443"
	}
	return ""
}

// Parse parses and normalizes an absolute http or https URL.
func Parse(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parsing url %q: %w", raw, err)
	}
	if !parsed.IsAbs() {
		return nil, fmt.Errorf("url %q is not absolute", raw)
	}
	return normalize(parsed)
}

// Resolve resolves reference against base and normalizes the result.
// base must already be absolute.
func Resolve(base *url.URL, reference string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(reference))
	if err != nil {
		return nil, fmt.Errorf("parsing url %q: %w", reference, err)
	}
	return normalize(base.ResolveReference(parsed))
}

// ResolveInOrigin resolves reference against base and requires the
// result to share base's origin.
func ResolveInOrigin(base *url.URL, reference string) (*url.URL, error) {
	resolved, err := Resolve(base, reference)
	if err != nil {
		return nil, err
	}
	if !OriginOf(base).Contains(resolved) {
		return nil, fmt.Errorf("%s relative to %s: %w", reference, OriginOf(base), ErrCrossOrigin)
	}
	return resolved, nil
}

// WithoutQuery returns the normalized URL with its query removed.
func WithoutQuery(u *url.URL) string {
	stripped := *u
	stripped.RawQuery = ""
	stripped.ForceQuery = false
	return stripped.String()
}

func normalize(u *url.URL) (*url.URL, error) {
	normalized := *u
	normalized.Scheme = strings.ToLower(normalized.Scheme)
	if normalized.Scheme != "http" && normalized.Scheme != "https" {
		return nil, fmt.Errorf("url %q: scheme must be http or https", u.String())
	}
	if normalized.Opaque != "" {
		return nil, fmt.Errorf("url %q: opaque urls are not supported", u.String())
	}
	host := strings.ToLower(normalized.Hostname())
	if host == "" {
		return nil, fmt.Errorf("url %q has no host", u.String())
	}
	port := normalized.Port()
	if port == defaultPort(normalized.Scheme) {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	normalized.Host = host
	normalized.User = nil
	normalized.Fragment = ""
	normalized.RawFragment = ""
	if normalized.Path == "" {
		normalized.Path = "/"
		normalized.RawPath = ""
	}
	return &normalized, nil
}
