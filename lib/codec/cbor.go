// Copyright 2026 The Repofleet Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the wire serialization layer: CBOR with Core
// Deterministic Encoding (RFC 8949 §4.2). The same logical frame
// always produces identical bytes, and unknown fields are ignored on
// decode for forward compatibility between agent and control plane
// versions. Consumers import only this package, never fxamacker/cbor
// directly.
package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Frame payloads carry string-keyed maps only. When the decode
		// target is any, pick map[string]any so the result interops
		// with encoding/json and ordinary Go code.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is a raw encoded CBOR value, used to delay decoding of
// command arguments until the handler knows the expected shape.
type RawMessage = cbor.RawMessage

// Encoder is a CBOR stream encoder.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// NewEncoder returns a stream encoder writing deterministic CBOR to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a stream decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
