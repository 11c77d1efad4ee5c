// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/localserver/lib/blob"
	"github.com/bureau-foundation/localserver/lib/codec"
	"github.com/bureau-foundation/localserver/lib/manifest"
)

// Row-level access to the web cache tables. Every function takes the
// connection of an open read or transaction; none of them start
// transactions of their own.

// StoreInfo is a servers row.
type StoreInfo struct {
	ID       int64         `cbor:"id"`
	Identity StoreIdentity `cbor:"identity"`
	Type     StoreType     `cbor:"type"`
	Enabled  bool          `cbor:"enabled"`

	// The remaining fields are meaningful for managed stores only.
	ManifestURL        string       `cbor:"manifest_url,omitempty"`
	UpdateStatus       UpdateStatus `cbor:"update_status"`
	LastUpdateCheck    time.Time    `cbor:"last_update_check"`
	ManifestDateHeader string       `cbor:"manifest_date_header,omitempty"`
	LastErrorMessage   string       `cbor:"last_error_message,omitempty"`
}

const serverColumns = `server_id, enabled, security_origin, name, required_cookie, server_type,
	manifest_url, update_status, last_update_check_time, manifest_date_header, last_error_message`

func scanServer(stmt *sqlite.Stmt) StoreInfo {
	return StoreInfo{
		ID:      stmt.ColumnInt64(0),
		Enabled: stmt.ColumnInt64(1) != 0,
		Identity: StoreIdentity{
			Origin:         stmt.ColumnText(2),
			Name:           stmt.ColumnText(3),
			RequiredCookie: stmt.ColumnText(4),
		},
		Type:               StoreType(stmt.ColumnInt64(5)),
		ManifestURL:        stmt.ColumnText(6),
		UpdateStatus:       UpdateStatus(stmt.ColumnInt64(7)),
		LastUpdateCheck:    fromMillis(stmt.ColumnInt64(8)),
		ManifestDateHeader: stmt.ColumnText(9),
		LastErrorMessage:   stmt.ColumnText(10),
	}
}

func boolInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(millis int64) time.Time {
	if millis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(millis).UTC()
}

func queryServers(conn *sqlite.Conn, where string, args ...any) ([]StoreInfo, error) {
	var servers []StoreInfo
	err := sqlitex.Execute(conn, "SELECT "+serverColumns+" FROM servers "+where+" ORDER BY server_id", &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			servers = append(servers, scanServer(stmt))
			return nil
		},
	})
	return servers, err
}

func findServer(conn *sqlite.Conn, identity StoreIdentity) (*StoreInfo, error) {
	servers, err := queryServers(conn, "WHERE security_origin = ? AND name = ? AND required_cookie = ?",
		identity.Origin, identity.Name, identity.RequiredCookie)
	if err != nil || len(servers) == 0 {
		return nil, err
	}
	return &servers[0], nil
}

func serverByID(conn *sqlite.Conn, id int64) (*StoreInfo, error) {
	servers, err := queryServers(conn, "WHERE server_id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("store %d: %w", id, ErrStoreNotFound)
	}
	return &servers[0], nil
}

func insertServer(conn *sqlite.Conn, identity StoreIdentity, storeType StoreType) (int64, error) {
	err := sqlitex.Execute(conn, `INSERT INTO servers (security_origin, name, required_cookie, server_type)
		VALUES (?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{identity.Origin, identity.Name, identity.RequiredCookie, int64(storeType)},
	})
	if err != nil {
		return 0, err
	}
	return conn.LastInsertRowID(), nil
}

// deleteServer removes the server row with its versions, entries and
// payloads.
func deleteServer(conn *sqlite.Conn, id int64) error {
	for _, query := range []string{
		"DELETE FROM entries WHERE version_id IN (SELECT version_id FROM versions WHERE server_id = ?)",
		"DELETE FROM versions WHERE server_id = ?",
		"DELETE FROM payloads WHERE server_id = ?",
		"DELETE FROM servers WHERE server_id = ?",
	} {
		if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: []any{id}}); err != nil {
			return err
		}
	}
	return nil
}

// updateServer runs an UPDATE against one server row and reports
// ErrStoreNotFound when the row is gone.
func updateServer(conn *sqlite.Conn, id int64, set string, args ...any) error {
	err := sqlitex.Execute(conn, "UPDATE servers SET "+set+" WHERE server_id = ?", &sqlitex.ExecOptions{
		Args: append(args, id),
	})
	if err != nil {
		return err
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("store %d: %w", id, ErrStoreNotFound)
	}
	return nil
}

// updateInfo is what the update task records after each step. A nil
// manifestDate leaves the stored date unchanged.
type updateInfo struct {
	status       UpdateStatus
	checkTime    time.Time
	manifestDate *string
	errorMessage string
}

func setUpdateInfo(conn *sqlite.Conn, id int64, info updateInfo) error {
	if info.manifestDate != nil {
		return updateServer(conn, id,
			"update_status = ?, last_update_check_time = ?, manifest_date_header = ?, last_error_message = ?",
			int64(info.status), toMillis(info.checkTime), *info.manifestDate, info.errorMessage)
	}
	return updateServer(conn, id,
		"update_status = ?, last_update_check_time = ?, last_error_message = ?",
		int64(info.status), toMillis(info.checkTime), info.errorMessage)
}

// versionInfo is a versions row.
type versionInfo struct {
	ID                 int64
	ServerID           int64
	Label              string
	State              readyState
	SessionRedirectURL string
}

// findVersions returns the current and downloading versions of a
// server, either of which may be nil.
func findVersions(conn *sqlite.Conn, serverID int64) (current, downloading *versionInfo, err error) {
	err = sqlitex.Execute(conn, `SELECT version_id, version_string, ready_state, session_redirect_url
		FROM versions WHERE server_id = ?`, &sqlitex.ExecOptions{
		Args: []any{serverID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			version := &versionInfo{
				ID:                 stmt.ColumnInt64(0),
				ServerID:           serverID,
				Label:              stmt.ColumnText(1),
				State:              readyState(stmt.ColumnInt64(2)),
				SessionRedirectURL: stmt.ColumnText(3),
			}
			switch version.State {
			case versionCurrent:
				current = version
			case versionDownloading:
				downloading = version
			default:
				return fmt.Errorf("version %d has unknown ready state %d", version.ID, version.State)
			}
			return nil
		},
	})
	return current, downloading, err
}

func insertVersion(conn *sqlite.Conn, serverID int64, label string, state readyState, sessionRedirect string) (int64, error) {
	err := sqlitex.Execute(conn, `INSERT INTO versions (server_id, version_string, ready_state, session_redirect_url)
		VALUES (?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{serverID, label, int64(state), sessionRedirect},
	})
	if err != nil {
		return 0, err
	}
	return conn.LastInsertRowID(), nil
}

// currentVersionID returns the current version, creating an empty one
// for resource stores that have never committed a capture.
func currentVersionID(conn *sqlite.Conn, serverID int64) (int64, error) {
	current, _, err := findVersions(conn, serverID)
	if err != nil {
		return 0, err
	}
	if current != nil {
		return current.ID, nil
	}
	return insertVersion(conn, serverID, "", versionCurrent, "")
}

// deleteVersion removes a version and its entries. Payloads are left
// for collectPayloads.
func deleteVersion(conn *sqlite.Conn, versionID int64) error {
	if err := sqlitex.Execute(conn, "DELETE FROM entries WHERE version_id = ?", &sqlitex.ExecOptions{
		Args: []any{versionID},
	}); err != nil {
		return err
	}
	return sqlitex.Execute(conn, "DELETE FROM versions WHERE version_id = ?", &sqlitex.ExecOptions{
		Args: []any{versionID},
	})
}

// promoteVersion makes versionID the server's current version,
// dropping the previous current version.
func promoteVersion(conn *sqlite.Conn, serverID, versionID int64) error {
	current, _, err := findVersions(conn, serverID)
	if err != nil {
		return err
	}
	if current != nil {
		if err := deleteVersion(conn, current.ID); err != nil {
			return err
		}
	}
	return sqlitex.Execute(conn, "UPDATE versions SET ready_state = ? WHERE version_id = ?", &sqlitex.ExecOptions{
		Args: []any{int64(versionCurrent), versionID},
	})
}

// entryRow is an entries row. PayloadID is zero while the entry has
// not been downloaded.
type entryRow struct {
	ID          int64
	VersionID   int64
	URL         string
	Src         string
	Redirect    string
	IgnoreQuery bool
	Match       manifest.MatchQuery
	PayloadID   int64
}

func (e entryRow) fetchURL() string {
	if e.Src != "" {
		return e.Src
	}
	return e.URL
}

const entryColumns = `entry_id, version_id, url, src, redirect, ignore_query, match_all, match_some, match_none, payload_id`

func scanEntry(stmt *sqlite.Stmt) entryRow {
	return entryRow{
		ID:          stmt.ColumnInt64(0),
		VersionID:   stmt.ColumnInt64(1),
		URL:         stmt.ColumnText(2),
		Src:         stmt.ColumnText(3),
		Redirect:    stmt.ColumnText(4),
		IgnoreQuery: stmt.ColumnInt64(5) != 0,
		Match: manifest.MatchQuery{
			HasAll:  stmt.ColumnText(6),
			HasSome: stmt.ColumnText(7),
			HasNone: stmt.ColumnText(8),
		},
		PayloadID: stmt.ColumnInt64(9),
	}
}

func queryEntries(conn *sqlite.Conn, where string, args ...any) ([]entryRow, error) {
	var entries []entryRow
	err := sqlitex.Execute(conn, "SELECT "+entryColumns+" FROM entries "+where+" ORDER BY entry_id", &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entries = append(entries, scanEntry(stmt))
			return nil
		},
	})
	return entries, err
}

func findEntry(conn *sqlite.Conn, versionID int64, url string) (*entryRow, error) {
	entries, err := queryEntries(conn, "WHERE version_id = ? AND url = ?", versionID, url)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// putEntry inserts an entry, replacing any entry for the same URL in
// the same version.
func putEntry(conn *sqlite.Conn, entry entryRow) error {
	var payload any
	if entry.PayloadID != 0 {
		payload = entry.PayloadID
	}
	return sqlitex.Execute(conn, `INSERT OR REPLACE INTO entries
		(version_id, url, src, redirect, ignore_query, match_all, match_some, match_none, payload_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			entry.VersionID, entry.URL, entry.Src, entry.Redirect, boolInt(entry.IgnoreQuery),
			entry.Match.HasAll, entry.Match.HasSome, entry.Match.HasNone, payload,
		},
	})
}

func deleteEntry(conn *sqlite.Conn, versionID int64, url string) (bool, error) {
	err := sqlitex.Execute(conn, "DELETE FROM entries WHERE version_id = ? AND url = ?", &sqlitex.ExecOptions{
		Args: []any{versionID, url},
	})
	return conn.Changes() > 0, err
}

// entriesAwaitingPayload lists the entries of a version that still
// need a download. Redirect entries never do.
func entriesAwaitingPayload(conn *sqlite.Conn, versionID int64) ([]entryRow, error) {
	return queryEntries(conn, "WHERE version_id = ? AND payload_id IS NULL AND redirect = ''", versionID)
}

// setEntriesPayload points every entry of the version that downloads
// from fetchURL at payloadID.
func setEntriesPayload(conn *sqlite.Conn, versionID int64, fetchURL string, payloadID int64) error {
	return sqlitex.Execute(conn, `UPDATE entries SET payload_id = ?
		WHERE version_id = ? AND redirect = '' AND (src = ? OR (src = '' AND url = ?))`, &sqlitex.ExecOptions{
		Args: []any{payloadID, versionID, fetchURL, fetchURL},
	})
}

func insertPayload(conn *sqlite.Conn, serverID int64, payload *Payload) (int64, error) {
	headers, err := codec.Marshal(payload.Headers)
	if err != nil {
		return 0, fmt.Errorf("encoding headers: %w", err)
	}
	stored, algorithm := compressBody(payload.Body, payload.Headers.Get("Content-Type"))
	digest := blob.HashBytes(payload.Body)
	err = sqlitex.Execute(conn, `INSERT INTO payloads
		(server_id, url, creation_date, status_code, status_line, headers, body, body_length, compression, body_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			serverID, payload.URL, toMillis(payload.Created), payload.StatusCode, payload.StatusLine,
			headers, stored, int64(len(payload.Body)), int64(algorithm), digest[:],
		},
	})
	if err != nil {
		return 0, err
	}
	payload.ID = conn.LastInsertRowID()
	return payload.ID, nil
}

// loadPayload reads a payload. The body is skipped unless withBody.
func loadPayload(conn *sqlite.Conn, payloadID int64, withBody bool) (*Payload, error) {
	var (
		payload   *Payload
		decodeErr error
	)
	err := sqlitex.Execute(conn, `SELECT url, creation_date, status_code, status_line, headers,
		body, body_length, compression FROM payloads WHERE payload_id = ?`, &sqlitex.ExecOptions{
		Args: []any{payloadID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			payload = &Payload{
				ID:         payloadID,
				URL:        stmt.ColumnText(0),
				Created:    fromMillis(stmt.ColumnInt64(1)),
				StatusCode: int(stmt.ColumnInt64(2)),
				StatusLine: stmt.ColumnText(3),
			}
			headers := make([]byte, stmt.ColumnLen(4))
			stmt.ColumnBytes(4, headers)
			if err := codec.Unmarshal(headers, &payload.Headers); err != nil {
				decodeErr = fmt.Errorf("payload %d: decoding headers: %w", payloadID, err)
				return nil
			}
			if !withBody {
				return nil
			}
			stored := make([]byte, stmt.ColumnLen(5))
			stmt.ColumnBytes(5, stored)
			payload.Body, decodeErr = decompressBody(stored, compression(stmt.ColumnInt64(7)), stmt.ColumnInt64(6))
			if decodeErr != nil {
				decodeErr = fmt.Errorf("payload %d: %w", payloadID, decodeErr)
			}
			return nil
		},
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	if payload == nil {
		return nil, fmt.Errorf("payload %d: %w", payloadID, ErrNotFound)
	}
	return payload, nil
}

// mostRecentPayload returns the newest payload downloaded from url for
// a server, without its body, or nil.
func mostRecentPayload(conn *sqlite.Conn, serverID int64, url string) (*Payload, error) {
	var payloadID int64
	err := sqlitex.Execute(conn, `SELECT payload_id FROM payloads WHERE server_id = ? AND url = ?
		ORDER BY creation_date DESC, payload_id DESC LIMIT 1`, &sqlitex.ExecOptions{
		Args: []any{serverID, url},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			payloadID = stmt.ColumnInt64(0)
			return nil
		},
	})
	if err != nil || payloadID == 0 {
		return nil, err
	}
	return loadPayload(conn, payloadID, false)
}

// collectPayloads deletes the server's payloads no entry refers to.
func collectPayloads(conn *sqlite.Conn, serverID int64) error {
	return sqlitex.Execute(conn, `DELETE FROM payloads WHERE server_id = ? AND payload_id NOT IN
		(SELECT payload_id FROM entries WHERE payload_id IS NOT NULL)`, &sqlitex.ExecOptions{
		Args: []any{serverID},
	})
}
