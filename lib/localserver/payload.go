// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/localserver/lib/blob"
)

// Header is one response header line.
type Header struct {
	Name  string `cbor:"name"`
	Value string `cbor:"value"`
}

// Headers is an ordered header list. Names compare case-insensitively.
type Headers []Header

// Get returns the first value of name, or "".
func (h Headers) Get(name string) string {
	value, _ := h.Lookup(name)
	return value
}

// Lookup returns the first value of name.
func (h Headers) Lookup(name string) (string, bool) {
	for _, header := range h {
		if strings.EqualFold(header.Name, name) {
			return header.Value, true
		}
	}
	return "", false
}

// Set replaces every value of name with value.
func (h Headers) Set(name, value string) Headers {
	result := h[:0:0]
	for _, header := range h {
		if !strings.EqualFold(header.Name, name) {
			result = append(result, header)
		}
	}
	return append(result, Header{Name: name, Value: value})
}

// String renders the headers as "Name: value\r\n" lines.
func (h Headers) String() string {
	var builder strings.Builder
	for _, header := range h {
		builder.WriteString(header.Name)
		builder.WriteString(": ")
		builder.WriteString(header.Value)
		builder.WriteString("\r\n")
	}
	return builder.String()
}

// HTTP converts to an http.Header.
func (h Headers) HTTP() http.Header {
	result := make(http.Header, len(h))
	for _, header := range h {
		result.Add(header.Name, header.Value)
	}
	return result
}

// headersFromHTTP orders header names alphabetically and keeps each
// name's values in received order.
func headersFromHTTP(source http.Header) Headers {
	names := make([]string, 0, len(source))
	for name := range source {
		names = append(names, name)
	}
	sort.Strings(names)
	var result Headers
	for _, name := range names {
		for _, value := range source[name] {
			result = append(result, Header{Name: http.CanonicalHeaderKey(name), Value: value})
		}
	}
	return result
}

// Payload is a captured response.
type Payload struct {
	ID         int64
	URL        string
	Created    time.Time
	StatusCode int
	StatusLine string
	Headers    Headers
	Body       []byte
}

// BodyBlob returns the body as a blob.
func (p *Payload) BodyBlob() blob.Blob { return blob.NewBuffer(p.Body) }

// synthesizeBlobPayload builds the payload CaptureBlob stores for a
// caller-supplied body.
func synthesizeBlobPayload(url string, body []byte, contentType string, now time.Time) *Payload {
	headers := Headers{
		{Name: "Content-Length", Value: strconv.Itoa(len(body))},
	}
	if contentType != "" {
		headers = append(headers, Header{Name: "Content-Type", Value: contentType})
	}
	return &Payload{
		URL:        url,
		Created:    now,
		StatusCode: http.StatusOK,
		StatusLine: statusLine(http.StatusOK),
		Headers:    headers,
		Body:       body,
	}
}

func statusLine(code int) string {
	return fmt.Sprintf("HTTP/1.1 %d %s", code, http.StatusText(code))
}
