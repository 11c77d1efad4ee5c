// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"bytes"
	"errors"
	"io"
	"math"
	"testing"
)

// failingBlob reports a length but every read fails.
type failingBlob struct{ length int64 }

func (f failingBlob) Length() int64 { return f.length }

func (f failingBlob) Read(_ []byte, _, _ int64) int64 { return ReadFailed }

func (f failingBlob) Clone() Blob { return f }

func readString(t *testing.T, b Blob, offset, maxBytes int64) string {
	t.Helper()
	buffer := make([]byte, maxBytes)
	n := b.Read(buffer, offset, maxBytes)
	if n < 0 {
		t.Fatalf("Read(%d, %d) = %d, want success", offset, maxBytes, n)
	}
	return string(buffer[:n])
}

func TestBufferRead(t *testing.T) {
	b := FromString("0123456789")
	if b.Length() != 10 {
		t.Fatalf("Length = %d, want 10", b.Length())
	}
	if got := readString(t, b, 0, 10); got != "0123456789" {
		t.Errorf("full read = %q", got)
	}
	if got := readString(t, b, 7, 10); got != "789" {
		t.Errorf("tail read = %q, want %q", got, "789")
	}
	if got := readString(t, b, 10, 5); got != "" {
		t.Errorf("read at end = %q, want empty", got)
	}
	if got := readString(t, b, 200, 5); got != "" {
		t.Errorf("read past end = %q, want empty", got)
	}
}

func TestReadClampsToDestination(t *testing.T) {
	b := FromString("abcdef")
	destination := make([]byte, 2)
	if n := b.Read(destination, 0, 100); n != 2 {
		t.Fatalf("Read into 2-byte buffer = %d, want 2", n)
	}
	if string(destination) != "ab" {
		t.Errorf("destination = %q, want %q", destination, "ab")
	}
}

func TestNegativeArgumentsFail(t *testing.T) {
	source := FromString("abcdef")
	slice := NewSlice(source, 1, 3)
	join, err := NewJoin([]Blob{FromString("ab"), FromString("cd")})
	if err != nil {
		t.Fatalf("NewJoin: %v", err)
	}
	destination := make([]byte, 8)
	for name, b := range map[string]Blob{
		"buffer": source,
		"slice":  slice,
		"join":   join,
		"empty":  Empty(),
	} {
		if n := b.Read(destination, -1, 4); n != ReadFailed {
			t.Errorf("%s: negative offset returned %d, want %d", name, n, ReadFailed)
		}
		if n := b.Read(destination, 0, -4); n != ReadFailed {
			t.Errorf("%s: negative maxBytes returned %d, want %d", name, n, ReadFailed)
		}
	}
}

func TestSlice(t *testing.T) {
	source := FromString("0123456789")

	slice := NewSlice(source, 2, 5)
	if slice.Length() != 5 {
		t.Fatalf("Length = %d, want 5", slice.Length())
	}
	if got := readString(t, slice, 0, 10); got != "23456" {
		t.Errorf("read = %q, want %q", got, "23456")
	}
	if got := readString(t, slice, 3, 10); got != "56" {
		t.Errorf("offset read = %q, want %q", got, "56")
	}
	if got := readString(t, slice, 5, 10); got != "" {
		t.Errorf("read at slice end = %q, want empty", got)
	}

	nested := NewSlice(slice, 1, 2)
	if got := readString(t, nested, 0, 10); got != "34" {
		t.Errorf("nested read = %q, want %q", got, "34")
	}
}

func TestSlicePastSourceEnd(t *testing.T) {
	source := FromString("abc")
	slice := NewSlice(source, 1, 100)
	if slice.Length() != 100 {
		t.Errorf("Length = %d, want the declared 100", slice.Length())
	}
	if got := readString(t, slice, 0, 100); got != "bc" {
		t.Errorf("read = %q, want %q", got, "bc")
	}
	if got := readString(t, slice, 50, 10); got != "" {
		t.Errorf("read beyond source = %q, want empty", got)
	}
	all, err := ReadAll(slice)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(all) != "bc" {
		t.Errorf("ReadAll = %q, want %q", all, "bc")
	}
}

func TestSliceNegativeConstructionPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewSlice with negative offset did not panic")
		}
	}()
	NewSlice(FromString("x"), -1, 1)
}

func TestJoin(t *testing.T) {
	join, err := NewJoin([]Blob{
		FromString("abc"),
		Empty(),
		FromString("de"),
		FromString(""),
		FromString("fghi"),
	})
	if err != nil {
		t.Fatalf("NewJoin: %v", err)
	}
	if join.Length() != 9 {
		t.Fatalf("Length = %d, want 9", join.Length())
	}
	if got := readString(t, join, 0, 20); got != "abcdefghi" {
		t.Errorf("full read = %q", got)
	}
	if got := readString(t, join, 2, 4); got != "cdef" {
		t.Errorf("spanning read = %q, want %q", got, "cdef")
	}
	if got := readString(t, join, 3, 2); got != "de" {
		t.Errorf("member-aligned read = %q, want %q", got, "de")
	}
	if got := readString(t, join, 9, 2); got != "" {
		t.Errorf("read at end = %q, want empty", got)
	}
}

func TestJoinEmpty(t *testing.T) {
	join, err := NewJoin(nil)
	if err != nil {
		t.Fatalf("NewJoin(nil): %v", err)
	}
	if join.Length() != 0 {
		t.Errorf("Length = %d, want 0", join.Length())
	}
	if n := join.Read(make([]byte, 4), 0, 4); n != 0 {
		t.Errorf("Read = %d, want 0", n)
	}
}

func TestJoinStopsAtShortMember(t *testing.T) {
	// The first member declares 5 bytes but only 2 are readable.
	short := NewSlice(FromString("xy"), 0, 5)
	join, err := NewJoin([]Blob{short, FromString("zzz")})
	if err != nil {
		t.Fatalf("NewJoin: %v", err)
	}
	if got := readString(t, join, 0, 8); got != "xy" {
		t.Errorf("read = %q, want the short member's %q", got, "xy")
	}
	if got := readString(t, join, 5, 8); got != "zzz" {
		t.Errorf("read at second member = %q, want %q", got, "zzz")
	}
}

func TestJoinPropagatesFailure(t *testing.T) {
	join, err := NewJoin([]Blob{FromString("ok"), failingBlob{length: 4}})
	if err != nil {
		t.Fatalf("NewJoin: %v", err)
	}
	if n := join.Read(make([]byte, 6), 0, 6); n != ReadFailed {
		t.Errorf("Read = %d, want %d", n, ReadFailed)
	}
	if got := readString(t, join, 0, 2); got != "ok" {
		t.Errorf("read within healthy member = %q", got)
	}
}

func TestJoinOverflow(t *testing.T) {
	huge := NewSlice(FromString(""), 0, math.MaxInt64-1)
	_, err := NewJoin([]Blob{huge, FromString("ab")})
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("NewJoin error = %v, want ErrTooLarge", err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	join, err := NewJoin([]Blob{FromString("hello "), NewSlice(FromString("xxworldxx"), 2, 5)})
	if err != nil {
		t.Fatalf("NewJoin: %v", err)
	}
	clone := join.Clone()
	if err := Release(join); err != nil {
		t.Fatalf("Release: %v", err)
	}
	equal, err := Equal(clone, FromString("hello world"))
	if err != nil {
		t.Fatalf("Equal: %v", err)
	}
	if !equal {
		t.Error("clone contents differ after releasing the original")
	}
}

func TestBuilder(t *testing.T) {
	var builder Builder
	builder.AddString("GET ")
	builder.AddData([]byte("/index"))
	builder.AddBlob(FromString(".html"))
	builder.AddString(" HTTP/1.1")
	if builder.Length() != 24 {
		t.Errorf("builder Length = %d, want 24", builder.Length())
	}

	built, err := builder.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	all, err := ReadAll(built)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(all) != "GET /index.html HTTP/1.1" {
		t.Errorf("built = %q", all)
	}

	empty, err := builder.Build()
	if err != nil {
		t.Fatalf("second Build: %v", err)
	}
	if empty.Length() != 0 {
		t.Errorf("reset builder produced %d bytes", empty.Length())
	}
}

func TestReader(t *testing.T) {
	join, err := NewJoin([]Blob{FromString("stream"), FromString("ing")})
	if err != nil {
		t.Fatalf("NewJoin: %v", err)
	}
	reader := NewReader(join)

	var out bytes.Buffer
	if _, err := io.Copy(&out, reader); err != nil {
		t.Fatalf("io.Copy: %v", err)
	}
	if out.String() != "streaming" {
		t.Errorf("copied %q", out.String())
	}

	window := make([]byte, 4)
	n, err := reader.ReadAt(window, 4)
	if err != nil || n != 4 || string(window) != "ngin" {
		t.Errorf("ReadAt = %d, %v, %q", n, err, window[:n])
	}
	n, err = reader.ReadAt(window, 7)
	if n != 2 || err != io.EOF {
		t.Errorf("short ReadAt = %d, %v; want 2, io.EOF", n, err)
	}

	if _, err := reader.Seek(-3, io.SeekEnd); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	rest, err := io.ReadAll(reader)
	if err != nil || string(rest) != "ing" {
		t.Errorf("after Seek read %q, %v", rest, err)
	}

	_, err = io.ReadAll(NewReader(failingBlob{length: 3}))
	if !errors.Is(err, ErrReadFailed) {
		t.Errorf("reading failing blob error = %v, want ErrReadFailed", err)
	}
}

func TestEqualAndHash(t *testing.T) {
	joined, err := NewJoin([]Blob{FromString("abc"), FromString("def")})
	if err != nil {
		t.Fatalf("NewJoin: %v", err)
	}
	flat := FromString("abcdef")

	equal, err := Equal(joined, flat)
	if err != nil || !equal {
		t.Errorf("Equal(joined, flat) = %v, %v", equal, err)
	}
	equal, err = Equal(flat, FromString("abcdeX"))
	if err != nil || equal {
		t.Errorf("Equal with different byte = %v, %v", equal, err)
	}
	equal, err = Equal(flat, FromString("abc"))
	if err != nil || equal {
		t.Errorf("Equal with different length = %v, %v", equal, err)
	}

	joinedDigest, err := Hash(joined)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if joinedDigest != HashBytes([]byte("abcdef")) {
		t.Errorf("Hash(joined) = %s, want %s", joinedDigest, HashBytes([]byte("abcdef")))
	}
	if joinedDigest == HashBytes([]byte("abcdeg")) {
		t.Error("different contents produced the same digest")
	}
}

func TestReadAllUnboundedSlice(t *testing.T) {
	slice := NewSlice(FromString("abc"), 1, math.MaxInt64)
	if slice.Length() <= 3 {
		t.Fatalf("Length = %d, want the unclamped slice length", slice.Length())
	}
	data, err := ReadAll(slice)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "bc" {
		t.Errorf("ReadAll = %q, want %q", data, "bc")
	}
}
