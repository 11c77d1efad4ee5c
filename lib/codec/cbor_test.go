// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"fmt"
	"testing"
	"time"
)

type captureRequest struct {
	Store string   `cbor:"store"`
	URLs  []string `cbor:"urls"`
	Base  string   `cbor:"base,omitempty"`
}

type storeStatus struct {
	Name        string    `json:"name"`
	UpdateState string    `json:"update_status"`
	LastCheck   time.Time `json:"last_check"`
}

func TestDeterministicEncoding(t *testing.T) {
	first, err := Marshal(map[string]any{"urls": []string{"a"}, "action": "capture", "store": "docs"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 20 {
		again, err := Marshal(map[string]any{"store": "docs", "action": "capture", "urls": []string{"a"}})
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("map encoding depends on insertion order:\n%x\n%x", first, again)
		}
	}
}

func TestOmitEmptyAndJSONTagFallback(t *testing.T) {
	data, err := Marshal(captureRequest{Store: "docs", URLs: []string{"https://example.com/"}})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var fields map[string]any
	if err := Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal into map: %v", err)
	}
	if _, present := fields["base"]; present {
		t.Error("omitempty field was encoded")
	}

	checked := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	data, err = Marshal(storeStatus{Name: "docs", UpdateState: "ok", LastCheck: checked})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	fields = nil
	if err := Unmarshal(data, &fields); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if fields["update_status"] != "ok" {
		t.Errorf("json tag not honored: %v", fields)
	}
	var decoded storeStatus
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal into struct: %v", err)
	}
	if !decoded.LastCheck.Equal(checked) {
		t.Errorf("LastCheck = %v, want %v", decoded.LastCheck, checked)
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	data, err := Marshal(map[string]any{"store": "docs", "future_field": 12})
	if err != nil {
		t.Fatal(err)
	}
	var request captureRequest
	if err := Unmarshal(data, &request); err != nil {
		t.Fatalf("Unmarshal with unknown field: %v", err)
	}
	if request.Store != "docs" {
		t.Errorf("Store = %q", request.Store)
	}
}

func TestStream(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for _, store := range []string{"one", "two"} {
		if err := encoder.Encode(captureRequest{Store: store}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for _, want := range []string{"one", "two"} {
		var request captureRequest
		if err := decoder.Decode(&request); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if request.Store != want {
			t.Errorf("Store = %q, want %q", request.Store, want)
		}
	}
}


type level int

const (
	levelLow level = iota
	levelHigh
)

func (l level) MarshalText() ([]byte, error) {
	switch l {
	case levelLow:
		return []byte("low"), nil
	case levelHigh:
		return []byte("high"), nil
	}
	return nil, fmt.Errorf("invalid level %d", int(l))
}

func (l *level) UnmarshalText(text []byte) error {
	switch string(text) {
	case "low":
		*l = levelLow
	case "high":
		*l = levelHigh
	default:
		return fmt.Errorf("invalid level %q", text)
	}
	return nil
}

func TestTextMarshalerAndGenericMaps(t *testing.T) {
	type tagged struct {
		Level level `cbor:"level"`
	}
	data, err := Marshal(tagged{Level: levelHigh})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var generic any
	if err := Unmarshal(data, &generic); err != nil {
		t.Fatalf("Unmarshal into any: %v", err)
	}
	fields, ok := generic.(map[string]any)
	if !ok {
		t.Fatalf("generic decode = %T, want map[string]any", generic)
	}
	if fields["level"] != "high" {
		t.Errorf("level encoded as %v, want the text name", fields["level"])
	}

	var decoded tagged
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Level != levelHigh {
		t.Errorf("round trip = %v, want levelHigh", decoded.Level)
	}
}
