// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"fmt"
	"net/url"
	"strings"
)

// MatchQuery holds the canonical term lists of a matchQuery entry.
// Each list is a '&'-joined string of "name" or "name=value" terms.
type MatchQuery struct {
	HasAll  string
	HasSome string
	HasNone string
}

// IsEmpty reports whether the query has no terms.
func (m MatchQuery) IsEmpty() bool {
	return m.HasAll == "" && m.HasSome == "" && m.HasNone == ""
}

func parseMatchQuery(object map[string]any) (MatchQuery, error) {
	var match MatchQuery
	for _, field := range []struct {
		name   string
		target *string
	}{
		{"hasAll", &match.HasAll},
		{"hasSome", &match.HasSome},
		{"hasNone", &match.HasNone},
	} {
		value, _ := stringField(object, field.name)
		canonical, err := CanonicalizeTerms(value)
		if err != nil {
			return MatchQuery{}, fmt.Errorf("matchQuery %s: %w", field.name, err)
		}
		*field.target = canonical
	}
	return match, nil
}

// CanonicalizeTerms validates a term list. Values must not start with
// '?' and must not need escaping; empty terms are dropped.
func CanonicalizeTerms(terms string) (string, error) {
	if terms == "" {
		return "", nil
	}
	if strings.HasPrefix(terms, "?") {
		return "", fmt.Errorf("value %q should not start with '?'", terms)
	}
	if strings.ContainsAny(terms, "%+") {
		return "", fmt.Errorf("value %q cannot contain escaped characters", terms)
	}
	if strings.ContainsAny(terms, " #\t\r\n") {
		return "", fmt.Errorf("value %q is not a valid query", terms)
	}
	var kept []string
	for _, term := range strings.Split(terms, "&") {
		if term == "" {
			continue
		}
		if strings.HasPrefix(term, "=") {
			return "", fmt.Errorf("term %q has no parameter name", term)
		}
		kept = append(kept, term)
	}
	return strings.Join(kept, "&"), nil
}

// Matches reports whether a request query string satisfies m.
func (m MatchQuery) Matches(rawQuery string) bool {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return false
	}
	for _, term := range splitTerms(m.HasAll) {
		if !termPresent(values, term) {
			return false
		}
	}
	if some := splitTerms(m.HasSome); len(some) > 0 {
		found := false
		for _, term := range some {
			if termPresent(values, term) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, term := range splitTerms(m.HasNone) {
		if termPresent(values, term) {
			return false
		}
	}
	return true
}

func splitTerms(terms string) []string {
	if terms == "" {
		return nil
	}
	return strings.Split(terms, "&")
}

func termPresent(values url.Values, term string) bool {
	name, value, hasValue := strings.Cut(term, "=")
	candidates, present := values[name]
	if !present {
		return false
	}
	if !hasValue {
		return true
	}
	for _, candidate := range candidates {
		if candidate == value {
			return true
		}
	}
	return false
}
