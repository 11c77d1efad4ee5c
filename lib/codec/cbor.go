// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding (RFC 8949 §4.2): map keys
// sorted, integers in their shortest form, no indefinite-length
// items. The payload table stores response headers as an encoded CBOR
// column, and two captures of identical headers must produce identical
// bytes so payload comparison can work on the column directly.
var encMode cbor.EncMode

// decMode accepts any well-formed CBOR. Fields the target struct does
// not declare are dropped, so an older CLI can talk to a newer daemon.
var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Check times and task start times cross the socket as RFC 3339
	// strings, which the CLI's JSON output can show unchanged.
	encOptions.Time = cbor.TimeRFC3339Nano
	// Enumerations with a MarshalText method (store types, update
	// statuses) encode as their names. Without this they would encode
	// as bare integers and the wire form would depend on iota order.
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Decoding into an any-typed target (the CLI's --json path,
		// generic socket handlers) must produce map[string]any, which
		// encoding/json accepts. The CBOR default of
		// map[interface{}]interface{} would fail there. Struct targets
		// are unaffected.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// The mirror of TextMarshaler above, so enumerations round-trip.
		TextUnmarshaler: cbor.TextUnmarshalerTextString,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v with Core Deterministic Encoding. Equal values
// always produce equal bytes.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v. Unknown fields are ignored.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder writes a stream of CBOR items.
type Encoder = cbor.Encoder

// Decoder reads a stream of CBOR items.
type Decoder = cbor.Decoder

// RawMessage is an encoded CBOR item whose decoding is deferred.
type RawMessage = cbor.RawMessage

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
