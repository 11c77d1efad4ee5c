// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"context"
	"fmt"
	"net/http"

	"zombiezen.com/go/sqlite"

	"github.com/bureau-foundation/localserver/lib/blob"
	"github.com/bureau-foundation/localserver/lib/weburl"
)

// Response is what the local server serves for a request.
type Response struct {
	StoreID    int64
	StatusCode int
	StatusLine string
	Headers    Headers
	Body       blob.Blob

	// SessionRedirect is set when the store's required cookie was
	// missing and the response sends the client to the version's
	// session redirect URL instead.
	SessionRedirect bool
}

func responseFrom(storeID int64, payload *Payload) *Response {
	return &Response{
		StoreID:    storeID,
		StatusCode: payload.StatusCode,
		StatusLine: payload.StatusLine,
		Headers:    payload.Headers,
		Body:       payload.BodyBlob(),
	}
}

// redirectPayload is the synthesized response of a redirect entry.
func redirectPayload(url, location string) *Payload {
	return &Payload{
		URL:        url,
		StatusCode: http.StatusFound,
		StatusLine: statusLine(http.StatusFound),
		Headers:    Headers{}.Set("Location", location).Set("Content-Length", "0"),
	}
}

// matchEntry finds the entry of a version serving a request: the exact
// URL first, then a query-insensitive entry for the URL without its
// query. Entries with a match query only serve queries that satisfy it.
func matchEntry(conn *sqlite.Conn, versionID int64, key, bare, rawQuery string) (*entryRow, error) {
	usable := func(entry *entryRow) bool {
		if entry == nil || (entry.PayloadID == 0 && entry.Redirect == "") {
			return false
		}
		return entry.Match.IsEmpty() || entry.Match.Matches(rawQuery)
	}

	entry, err := findEntry(conn, versionID, key)
	if err != nil {
		return nil, err
	}
	if usable(entry) {
		return entry, nil
	}
	if bare == key {
		return nil, nil
	}
	entry, err = findEntry(conn, versionID, bare)
	if err != nil || entry == nil {
		return nil, err
	}
	if entry.IgnoreQuery && entry.Match.IsEmpty() && usable(entry) {
		return entry, nil
	}
	if !entry.Match.IsEmpty() && usable(entry) {
		return entry, nil
	}
	return nil, nil
}

// Lookup finds the response an enabled store of the URL's origin has
// for rawURL. Stores whose required cookie is not in cookies are
// skipped; when one of them has a match and a session redirect URL,
// that redirect is returned if no other store serves the URL. Lookup
// returns ErrNotFound when nothing matches.
func (s *LocalServer) Lookup(ctx context.Context, rawURL string, cookies map[string]string) (*Response, error) {
	target, err := weburl.Parse(rawURL)
	if err != nil {
		return nil, inputError("url", "%v", err)
	}
	key := target.String()
	bare := weburl.WithoutQuery(target)
	origin := weburl.OriginOf(target).String()

	var response *Response
	err = s.conn.Read(ctx, func(conn *sqlite.Conn) error {
		servers, err := queryServers(conn, "WHERE security_origin = ? AND enabled = 1", origin)
		if err != nil {
			return err
		}
		var sessionRedirect *Response
		for _, server := range servers {
			current, _, err := findVersions(conn, server.ID)
			if err != nil {
				return err
			}
			if current == nil {
				continue
			}
			entry, err := matchEntry(conn, current.ID, key, bare, target.RawQuery)
			if err != nil {
				return err
			}
			if entry == nil {
				continue
			}
			if !cookieSatisfied(server.Identity.RequiredCookie, cookies) {
				if sessionRedirect == nil && current.SessionRedirectURL != "" {
					sessionRedirect = responseFrom(server.ID, redirectPayload(key, current.SessionRedirectURL))
					sessionRedirect.SessionRedirect = true
				}
				continue
			}

			payload := redirectPayload(key, entry.Redirect)
			if entry.Redirect == "" {
				payload, err = loadPayload(conn, entry.PayloadID, true)
				if err != nil {
					return err
				}
			}
			response = responseFrom(server.ID, payload)
			return nil
		}
		if sessionRedirect != nil {
			response = sessionRedirect
			return nil
		}
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	})
	if err != nil {
		return nil, err
	}
	return response, nil
}
