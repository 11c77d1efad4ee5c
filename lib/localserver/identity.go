// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"strings"
	"unicode"

	"github.com/bureau-foundation/localserver/lib/weburl"
)

const maxStoreNameLength = 255

// StoreIdentity names a store. No two stores share all three fields.
type StoreIdentity struct {
	Name string `cbor:"name"`

	// Origin is the store's security origin, "scheme://host[:port]".
	// Every captured URL belongs to it.
	Origin string `cbor:"origin"`

	// RequiredCookie restricts serving to requests carrying a cookie:
	// "name=value" requires that value, "name" requires the cookie
	// with any value, and "name=;NONE;" requires its absence. Empty
	// means no requirement.
	RequiredCookie string `cbor:"required_cookie,omitempty"`
}

// normalize validates the identity and canonicalizes its origin.
func (id StoreIdentity) normalize() (StoreIdentity, error) {
	if id.Name == "" {
		return id, inputError("name", "store name is required")
	}
	if len(id.Name) > maxStoreNameLength {
		return id, inputError("name", "store name exceeds %d bytes", maxStoreNameLength)
	}
	for _, r := range id.Name {
		if unicode.IsControl(r) || r == '/' || r == '\\' {
			return id, inputError("name", "store name contains %q", r)
		}
	}
	origin, err := weburl.ParseOrigin(id.Origin)
	if err != nil {
		return id, inputError("origin", "%v", err)
	}
	id.Origin = origin.String()
	if _, err := parseCookieRequirement(id.RequiredCookie); err != nil {
		return id, err
	}
	return id, nil
}

func (id StoreIdentity) origin() weburl.Origin {
	origin, _ := weburl.ParseOrigin(id.Origin)
	return origin
}

// noneValue marks a cookie that must be absent.
const noneValue = ";NONE;"

type cookieRequirement struct {
	name         string
	value        string
	anyValue     bool
	absent       bool
	unrestricted bool
}

func parseCookieRequirement(raw string) (cookieRequirement, error) {
	if raw == "" {
		return cookieRequirement{unrestricted: true}, nil
	}
	name, value, hasValue := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, "; \t") {
		return cookieRequirement{}, inputError("required_cookie", "malformed cookie requirement %q", raw)
	}
	switch {
	case !hasValue:
		return cookieRequirement{name: name, anyValue: true}, nil
	case value == noneValue:
		return cookieRequirement{name: name, absent: true}, nil
	}
	return cookieRequirement{name: name, value: value}, nil
}

// satisfied reports whether cookies meet the requirement.
func (r cookieRequirement) satisfied(cookies map[string]string) bool {
	if r.unrestricted {
		return true
	}
	value, present := cookies[r.name]
	switch {
	case r.absent:
		return !present
	case r.anyValue:
		return present
	}
	return present && value == r.value
}

// cookieSatisfied is parseCookieRequirement plus satisfied. A malformed
// stored requirement matches nothing.
func cookieSatisfied(requirement string, cookies map[string]string) bool {
	parsed, err := parseCookieRequirement(requirement)
	if err != nil {
		return false
	}
	return parsed.satisfied(cookies)
}

// ParseCookieHeader splits a Cookie header into a name to value map.
// The first occurrence of a name wins.
func ParseCookieHeader(header string) map[string]string {
	cookies := make(map[string]string)
	for _, part := range strings.Split(header, ";") {
		name, value, _ := strings.Cut(strings.TrimSpace(part), "=")
		if name == "" {
			continue
		}
		if _, seen := cookies[name]; !seen {
			cookies[name] = value
		}
	}
	return cookies
}
