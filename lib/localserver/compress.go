// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"fmt"
	"mime"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// compression identifies how a payload body is stored. The values are
// written to the payloads table.
type compression int

const (
	compressionNone compression = 0
	compressionZstd compression = 1
	compressionLZ4  compression = 2
)

func (c compression) String() string {
	switch c {
	case compressionNone:
		return "none"
	case compressionZstd:
		return "zstd"
	case compressionLZ4:
		return "lz4"
	}
	return fmt.Sprintf("unknown(%d)", int(c))
}

// Encoder and decoder are safe for concurrent use.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("localserver: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("localserver: zstd decoder initialization failed: " + err.Error())
	}
}

// selectCompression picks an algorithm from the response's content
// type: zstd for text, nothing for formats that are already
// compressed, LZ4 for everything else.
func selectCompression(contentType string) compression {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return compressionLZ4
	}
	switch {
	case strings.HasPrefix(mediaType, "text/"),
		strings.HasSuffix(mediaType, "+json"),
		strings.HasSuffix(mediaType, "+xml"),
		mediaType == "application/json",
		mediaType == "application/javascript",
		mediaType == "application/xml",
		mediaType == "application/manifest+json",
		mediaType == "image/svg+xml":
		return compressionZstd
	case strings.HasPrefix(mediaType, "image/"),
		strings.HasPrefix(mediaType, "video/"),
		strings.HasPrefix(mediaType, "audio/"),
		strings.HasPrefix(mediaType, "font/woff"),
		mediaType == "application/zip",
		mediaType == "application/gzip",
		mediaType == "application/x-gzip",
		mediaType == "application/zstd":
		return compressionNone
	}
	return compressionLZ4
}

// compressBody returns the stored form of body. Bodies that do not
// shrink are stored raw.
func compressBody(body []byte, contentType string) ([]byte, compression) {
	if len(body) == 0 {
		return body, compressionNone
	}
	switch selectCompression(contentType) {
	case compressionZstd:
		compressed := zstdEncoder.EncodeAll(body, nil)
		if len(compressed) < len(body) {
			return compressed, compressionZstd
		}
	case compressionLZ4:
		destination := make([]byte, lz4.CompressBlockBound(len(body)))
		// CompressBlock returns 0 for incompressible input.
		written, err := lz4.CompressBlock(body, destination, nil)
		if err == nil && written > 0 && written < len(body) {
			return destination[:written], compressionLZ4
		}
	}
	return body, compressionNone
}

// decompressBody reverses compressBody and checks the length.
func decompressBody(stored []byte, algorithm compression, length int64) ([]byte, error) {
	switch algorithm {
	case compressionNone:
		if int64(len(stored)) != length {
			return nil, fmt.Errorf("stored body is %d bytes, expected %d", len(stored), length)
		}
		return stored, nil

	case compressionZstd:
		result, err := zstdDecoder.DecodeAll(stored, make([]byte, 0, length))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if int64(len(result)) != length {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), length)
		}
		return result, nil

	case compressionLZ4:
		destination := make([]byte, length)
		read, err := lz4.UncompressBlock(stored, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if int64(read) != length {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, length)
		}
		return destination, nil
	}
	return nil, fmt.Errorf("unsupported compression %s", algorithm)
}
