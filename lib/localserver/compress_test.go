// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"bytes"
	"crypto/rand"
	"strings"
	"testing"
)

func TestSelectCompression(t *testing.T) {
	for _, test := range []struct {
		contentType string
		want        compression
	}{
		{"text/html; charset=utf-8", compressionZstd},
		{"application/json", compressionZstd},
		{"application/ld+json", compressionZstd},
		{"image/svg+xml", compressionZstd},
		{"image/png", compressionNone},
		{"font/woff2", compressionNone},
		{"application/octet-stream", compressionLZ4},
		{"", compressionLZ4},
	} {
		if got := selectCompression(test.contentType); got != test.want {
			t.Errorf("selectCompression(%q) = %v, want %v", test.contentType, got, test.want)
		}
	}
}

func TestCompressionRoundTrip(t *testing.T) {
	random := make([]byte, 4096)
	if _, err := rand.Read(random); err != nil {
		t.Fatal(err)
	}
	for _, test := range []struct {
		name        string
		body        []byte
		contentType string
		stored      compression
	}{
		{"text", []byte(strings.Repeat("<p>captured</p>\n", 256)), "text/html", compressionZstd},
		{"binary", bytes.Repeat([]byte{0, 1, 2, 3, 4, 5, 6, 7}, 512), "application/octet-stream", compressionLZ4},
		{"incompressible", random, "application/octet-stream", compressionNone},
		{"image", []byte(strings.Repeat("x", 1024)), "image/jpeg", compressionNone},
		{"empty", nil, "text/plain", compressionNone},
	} {
		t.Run(test.name, func(t *testing.T) {
			stored, algorithm := compressBody(test.body, test.contentType)
			if algorithm != test.stored {
				t.Fatalf("stored with %v, want %v", algorithm, test.stored)
			}
			if algorithm != compressionNone && len(stored) >= len(test.body) {
				t.Errorf("compressed %d bytes to %d", len(test.body), len(stored))
			}
			restored, err := decompressBody(stored, algorithm, int64(len(test.body)))
			if err != nil {
				t.Fatalf("decompressBody: %v", err)
			}
			if !bytes.Equal(restored, test.body) {
				t.Error("round trip changed the body")
			}
		})
	}
}

func TestDecompressRejectsWrongLength(t *testing.T) {
	stored, algorithm := compressBody([]byte(strings.Repeat("abc", 100)), "text/plain")
	if _, err := decompressBody(stored, algorithm, 10); err == nil {
		t.Error("decompressBody accepted a wrong length")
	}
	if _, err := decompressBody([]byte("raw"), compressionNone, 4); err == nil {
		t.Error("raw body with a wrong length accepted")
	}
	if _, err := decompressBody([]byte("raw"), compression(9), 3); err == nil {
		t.Error("unknown compression accepted")
	}
}
