// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux || darwin

package blob

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenFileMissing(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing"))
	if err == nil {
		t.Fatal("OpenFile on a missing path succeeded")
	}
}

func TestFileBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "body")
	if err := os.WriteFile(path, []byte("file contents"), 0o600); err != nil {
		t.Fatal(err)
	}

	file, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if file.Length() != 13 {
		t.Fatalf("Length = %d, want 13", file.Length())
	}
	if got := readString(t, file, 5, 100); got != "contents" {
		t.Errorf("read = %q, want %q", got, "contents")
	}
	if got := readString(t, NewSlice(file, 0, 4), 0, 100); got != "file" {
		t.Errorf("slice of file = %q, want %q", got, "file")
	}

	clone := file.Clone()
	if err := file.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := file.Read(make([]byte, 4), 0, 4); n != ReadFailed {
		t.Errorf("Read after Close = %d, want %d", n, ReadFailed)
	}
	if file.Length() != ReadFailed {
		t.Errorf("Length after Close = %d, want %d", file.Length(), ReadFailed)
	}
	if got := readString(t, clone, 0, 4); got != "file" {
		t.Errorf("clone read after original closed = %q", got)
	}
	if err := Release(clone); err != nil {
		t.Fatalf("Release clone: %v", err)
	}
	if err := file.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestOpenFileRejectsDirectory(t *testing.T) {
	if _, err := OpenFile(t.TempDir()); err == nil {
		t.Error("OpenFile on a directory succeeded")
	}
}
