// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultExpandsUnderRoot(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil): %v", err)
	}
	if cfg.Paths.Root != "/home/tester/.cache/localserver" {
		t.Errorf("Root = %q", cfg.Paths.Root)
	}
	if cfg.Paths.Database != "/home/tester/.cache/localserver/webcache.db" {
		t.Errorf("Database = %q", cfg.Paths.Database)
	}
	if cfg.Update.MinCheckInterval != 24*time.Hour {
		t.Errorf("MinCheckInterval = %v", cfg.Update.MinCheckInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadRequiresEnvironmentVariable(t *testing.T) {
	t.Setenv(EnvironmentVariable, "")
	_, err := Load()
	if err == nil {
		t.Fatal("Load without LOCALSERVER_CONFIG succeeded")
	}
	if !strings.HasPrefix(err.Error(), "LOCALSERVER_CONFIG environment variable not set") {
		t.Errorf("error = %q", err)
	}
}

func TestLoadFromEnvironmentVariable(t *testing.T) {
	directory := t.TempDir()
	path := filepath.Join(directory, "localserver.yaml")
	content := `
paths:
  root: ` + directory + `/data
  socket: ${LOCALSERVER_SOCKET_DIR:-/run/localserver}/daemon.sock
database:
  expected_version: "3"
capture:
  fetch_timeout: 15s
  max_redirects: 3
update:
  poll_interval: 30s
  min_check_interval: 1h
http:
  enabled: true
  address: 127.0.0.1:0
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvironmentVariable, path)
	t.Setenv("LOCALSERVER_SOCKET_DIR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.Database != directory+"/data/webcache.db" {
		t.Errorf("Database = %q, want default under the configured root", cfg.Paths.Database)
	}
	if cfg.Paths.Socket != "/run/localserver/daemon.sock" {
		t.Errorf("Socket = %q, want the ${VAR:-default} fallback", cfg.Paths.Socket)
	}
	if cfg.Database.ExpectedVersion != "3" {
		t.Errorf("ExpectedVersion = %q", cfg.Database.ExpectedVersion)
	}
	if cfg.Capture.FetchTimeout != 15*time.Second || cfg.Capture.MaxRedirects != 3 {
		t.Errorf("Capture = %+v", cfg.Capture)
	}
	if cfg.Capture.MaxBodySize != 64<<20 {
		t.Errorf("unset MaxBodySize = %d, want default", cfg.Capture.MaxBodySize)
	}
	if cfg.Update.PollInterval != 30*time.Second || cfg.Update.MinCheckInterval != time.Hour {
		t.Errorf("Update = %+v", cfg.Update)
	}
	if !cfg.HTTP.Enabled || cfg.HTTP.Address != "127.0.0.1:0" {
		t.Errorf("HTTP = %+v", cfg.HTTP)
	}
	if cfg.Log.SlogLevel() != slog.LevelDebug {
		t.Errorf("SlogLevel = %v", cfg.Log.SlogLevel())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestEnsurePaths(t *testing.T) {
	root := filepath.Join(t.TempDir(), "root")
	cfg, err := Parse([]byte("paths:\n  root: " + root + "\n  socket: " + root + "/run/sock\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, directory := range []string{root, cfg.Paths.Locks, filepath.Join(root, "run")} {
		if info, err := os.Stat(directory); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", directory, err)
		}
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("LoadFile on a missing file succeeded")
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.expandVariables()
	cfg.Paths.Locks = ""
	cfg.Capture.MaxBodySize = 0
	cfg.Update.PollInterval = 0
	cfg.HTTP.Enabled = true
	cfg.HTTP.Address = ""
	cfg.Log.Level = "verbose"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate succeeded")
	}
	for _, want := range []string{
		"paths.locks is required",
		"capture.max_body_size",
		"update.poll_interval",
		"http.address",
		"log.level",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate error does not mention %q:\n%v", want, err)
		}
	}
}

func TestExpandVars(t *testing.T) {
	t.Setenv("LS_TEST_SET", "from-env")
	vars := map[string]string{"LOCALSERVER_ROOT": "/srv/ls"}
	tests := []struct {
		input string
		want  string
	}{
		{"${LOCALSERVER_ROOT}/db", "/srv/ls/db"},
		{"${LS_TEST_SET}/x", "from-env/x"},
		{"${LS_TEST_UNSET:-fallback}/x", "fallback/x"},
		{"${LS_TEST_UNSET}/x", "/x"},
		{"/plain/path", "/plain/path"},
	}
	for _, test := range tests {
		if got := expandVars(test.input, vars); got != test.want {
			t.Errorf("expandVars(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}
