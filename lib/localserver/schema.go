// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"fmt"
	"strconv"
)

// SchemaVersion is written to the meta table of a new database.
const SchemaVersion = "1"

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS servers (
	server_id              INTEGER PRIMARY KEY AUTOINCREMENT,
	enabled                INTEGER NOT NULL DEFAULT 1,
	security_origin        TEXT NOT NULL,
	name                   TEXT NOT NULL,
	required_cookie        TEXT NOT NULL DEFAULT '',
	server_type            INTEGER NOT NULL,
	manifest_url           TEXT NOT NULL DEFAULT '',
	update_status          INTEGER NOT NULL DEFAULT 0,
	last_update_check_time INTEGER NOT NULL DEFAULT 0,
	manifest_date_header   TEXT NOT NULL DEFAULT '',
	last_error_message     TEXT NOT NULL DEFAULT '',
	UNIQUE (security_origin, name, required_cookie)
);

CREATE TABLE IF NOT EXISTS versions (
	version_id           INTEGER PRIMARY KEY AUTOINCREMENT,
	server_id            INTEGER NOT NULL,
	version_string       TEXT NOT NULL,
	ready_state          INTEGER NOT NULL,
	session_redirect_url TEXT NOT NULL DEFAULT '',
	UNIQUE (server_id, ready_state)
);

CREATE TABLE IF NOT EXISTS entries (
	entry_id     INTEGER PRIMARY KEY AUTOINCREMENT,
	version_id   INTEGER NOT NULL,
	url          TEXT NOT NULL,
	src          TEXT NOT NULL DEFAULT '',
	redirect     TEXT NOT NULL DEFAULT '',
	ignore_query INTEGER NOT NULL DEFAULT 0,
	match_all    TEXT NOT NULL DEFAULT '',
	match_some   TEXT NOT NULL DEFAULT '',
	match_none   TEXT NOT NULL DEFAULT '',
	payload_id   INTEGER,
	UNIQUE (version_id, url)
);
CREATE INDEX IF NOT EXISTS entries_by_url ON entries (url);
CREATE INDEX IF NOT EXISTS entries_by_payload ON entries (payload_id);

CREATE TABLE IF NOT EXISTS payloads (
	payload_id    INTEGER PRIMARY KEY AUTOINCREMENT,
	server_id     INTEGER NOT NULL,
	url           TEXT NOT NULL,
	creation_date INTEGER NOT NULL,
	status_code   INTEGER NOT NULL,
	status_line   TEXT NOT NULL,
	headers       BLOB NOT NULL,
	body          BLOB,
	body_length   INTEGER NOT NULL,
	compression   INTEGER NOT NULL,
	body_hash     BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS payloads_by_url ON payloads (server_id, url, creation_date);

INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', '` + SchemaVersion + `');
`

// StoreType distinguishes plain resource stores from managed stores.
type StoreType int

const (
	TypeResourceStore StoreType = 0
	TypeManagedStore  StoreType = 1
)

func (t StoreType) String() string {
	switch t {
	case TypeResourceStore:
		return "resource"
	case TypeManagedStore:
		return "managed"
	}
	return "unknown(" + strconv.Itoa(int(t)) + ")"
}

// MarshalText encodes the type by name on the socket.
func (t StoreType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText accepts the names produced by String.
func (t *StoreType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "resource":
		*t = TypeResourceStore
	case "managed":
		*t = TypeManagedStore
	default:
		return fmt.Errorf("unknown store type %q", text)
	}
	return nil
}

// UpdateStatus is the state of a managed store's most recent update
// check. Only the update task writes it.
type UpdateStatus int

const (
	StatusOK              UpdateStatus = 0
	StatusChecking        UpdateStatus = 1
	StatusUpdateAvailable UpdateStatus = 2
	StatusFailed          UpdateStatus = 3
)

func (s UpdateStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusChecking:
		return "checking"
	case StatusUpdateAvailable:
		return "update_available"
	case StatusFailed:
		return "failed"
	}
	return "unknown(" + strconv.Itoa(int(s)) + ")"
}

// MarshalText encodes the status by name on the socket.
func (s UpdateStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText accepts the names produced by String.
func (s *UpdateStatus) UnmarshalText(text []byte) error {
	for candidate := StatusOK; candidate <= StatusFailed; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown update status %q", text)
}

// readyState marks a version row. A store has at most one of each.
type readyState int

const (
	versionCurrent     readyState = 0
	versionDownloading readyState = 1
)
