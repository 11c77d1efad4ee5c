// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package manifest

import (
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/localserver/lib/weburl"
)

// Supported values of the betaManifestVersion field.
const (
	FormatVersion1 = 1
	FormatVersion2 = 2
)

// Manifest is a parsed and validated manifest. All URLs are absolute
// and normalized.
type Manifest struct {
	// URL is the manifest's own URL, the base for relative references.
	URL string

	FormatVersion int

	// Version labels the resource set. Managed stores compare it to
	// the applied version to decide whether an update is needed.
	Version string

	// RedirectURL, when set, is where a session is sent if the
	// required cookie is missing. Empty when absent.
	RedirectURL string

	Entries []Entry
}

// Entry is one resource listed in a manifest.
type Entry struct {
	// URL is the address the resource is served under.
	URL string

	// Src, when set, is where the body is fetched from instead of URL.
	Src string

	// Redirect, when set, makes URL answer with a redirect to this
	// address. Redirect entries are never fetched.
	Redirect string

	// IgnoreQuery serves this entry for URL with any query string.
	IgnoreQuery bool

	// Match restricts which query strings this entry serves. Nil
	// unless the entry carries a non-empty matchQuery.
	Match *MatchQuery
}

// FetchURL returns the address the entry's body is downloaded from,
// or "" for redirect entries.
func (e Entry) FetchURL() string {
	switch {
	case e.Redirect != "":
		return ""
	case e.Src != "":
		return e.Src
	}
	return e.URL
}

// Error reports why a manifest was rejected.
type Error struct {
	Message string
}

func (e *Error) Error() string { return "invalid manifest: " + e.Message }

func invalid(format string, args ...any) error {
	return &Error{Message: fmt.Sprintf(format, args...)}
}

// Parse parses data as the manifest fetched from manifestURL.
// Comments and trailing commas are stripped before decoding.
func Parse(manifestURL string, data []byte) (*Manifest, error) {
	base, err := weburl.Parse(manifestURL)
	if err != nil {
		return nil, invalid("manifest url: %v", err)
	}

	var root map[string]any
	if err := json.Unmarshal(jsonc.ToJSON(data), &root); err != nil {
		return nil, invalid("%v", err)
	}
	if root == nil {
		return nil, invalid("not an object")
	}

	formatVersion, _ := integerField(root, "betaManifestVersion")
	if formatVersion != FormatVersion1 && formatVersion != FormatVersion2 {
		return nil, invalid("invalid 'betaManifestVersion' attribute")
	}

	manifest := &Manifest{
		URL:           base.String(),
		FormatVersion: formatVersion,
	}

	manifest.Version, _ = stringField(root, "version")
	if manifest.Version == "" {
		return nil, invalid("missing 'version' attribute")
	}

	if redirect, ok := stringField(root, "redirectUrl"); ok && redirect != "" {
		resolved, err := weburl.Resolve(base, redirect)
		if err != nil {
			return nil, invalid("failed to resolve url %q: %v", redirect, err)
		}
		manifest.RedirectURL = resolved.String()
	}

	rawEntries, ok := root["entries"].([]any)
	if !ok {
		return nil, invalid("missing 'entries' array")
	}
	manifest.Entries = make([]Entry, 0, len(rawEntries))
	for index, raw := range rawEntries {
		object, ok := raw.(map[string]any)
		if !ok {
			return nil, invalid("entry %d is not an object", index)
		}
		entry, err := parseEntry(base, formatVersion, object)
		if err != nil {
			return nil, err
		}
		manifest.Entries = append(manifest.Entries, entry)
	}

	return manifest, nil
}

func parseEntry(base *url.URL, formatVersion int, object map[string]any) (Entry, error) {
	var entry Entry

	rawURL, ok := stringField(object, "url")
	if !ok {
		return entry, invalid("entry is missing the 'url' attribute")
	}
	src, _ := stringField(object, "src")
	redirect, _ := stringField(object, "redirect")
	if src != "" && redirect != "" {
		return entry, invalid("entry %q: 'src' and 'redirect' cannot both be present", rawURL)
	}

	entry.IgnoreQuery, _ = object["ignoreQuery"].(bool)
	if entry.IgnoreQuery && strings.Contains(rawURL, "?") {
		return entry, invalid("entry %q: ignoreQuery never matches a url containing '?'", rawURL)
	}

	if formatVersion >= FormatVersion2 {
		if rawMatch, present := object["matchQuery"].(map[string]any); present {
			if entry.IgnoreQuery {
				return entry, invalid("entry %q: 'ignoreQuery' and 'matchQuery' cannot both be present", rawURL)
			}
			if strings.Contains(rawURL, "?") {
				return entry, invalid("entry %q: a matchQuery url cannot contain '?'", rawURL)
			}
			match, err := parseMatchQuery(rawMatch)
			if err != nil {
				return entry, invalid("entry %q: %v", rawURL, err)
			}
			if match.IsEmpty() {
				entry.IgnoreQuery = true
			} else {
				entry.Match = &match
			}
		}
	}

	resolved, err := resolve(base, rawURL, true)
	if err != nil {
		return entry, err
	}
	entry.URL = resolved
	if src != "" {
		if entry.Src, err = resolve(base, src, true); err != nil {
			return entry, err
		}
	}
	if redirect != "" {
		if entry.Redirect, err = resolve(base, redirect, false); err != nil {
			return entry, err
		}
	}
	return entry, nil
}

func resolve(base *url.URL, reference string, sameOrigin bool) (string, error) {
	var (
		resolved *url.URL
		err      error
	)
	if sameOrigin {
		resolved, err = weburl.ResolveInOrigin(base, reference)
	} else {
		resolved, err = weburl.Resolve(base, reference)
	}
	if err != nil {
		return "", invalid("url %q: %v", reference, err)
	}
	return resolved.String(), nil
}

// stringField returns a string-valued field. Fields of other types
// are treated as absent.
func stringField(object map[string]any, name string) (string, bool) {
	value, ok := object[name].(string)
	return value, ok
}

// integerField returns an integral numeric field.
func integerField(object map[string]any, name string) (int, bool) {
	number, ok := object[name].(float64)
	if !ok || number != math.Trunc(number) || math.Abs(number) > math.MaxInt32 {
		return 0, false
	}
	return int(number), true
}

// FetchURLs returns the distinct download addresses of the manifest's
// entries in manifest order, skipping redirect entries.
func (m *Manifest) FetchURLs() []string {
	seen := make(map[string]struct{}, len(m.Entries))
	var urls []string
	for _, entry := range m.Entries {
		fetch := entry.FetchURL()
		if fetch == "" {
			continue
		}
		if _, duplicate := seen[fetch]; duplicate {
			continue
		}
		seen[fetch] = struct{}{}
		urls = append(urls, fetch)
	}
	return urls
}
