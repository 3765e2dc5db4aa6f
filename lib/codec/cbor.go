// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// RawMessage holds an encoded value whose decoding is deferred, such
// as the params of a control request before its action is known.
type RawMessage = cbor.RawMessage

var (
	encoding = mustEncMode()
	decoding = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	options := cbor.CoreDetEncOptions()
	options.Time = cbor.TimeRFC3339Nano
	mode, err := options.EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: building encoder: %v", err))
	}
	return mode
}

func mustDecMode() cbor.DecMode {
	mode, err := cbor.DecOptions{
		// Untyped targets get string-keyed maps so the CLI can hand
		// them straight to encoding/json.
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		MaxNestedLevels:  32,
		MaxArrayElements: 65536,
		MaxMapPairs:      65536,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: building decoder: %v", err))
	}
	return mode
}

// Marshal encodes v in Core Deterministic CBOR: equal values always
// produce equal bytes.
func Marshal(v any) ([]byte, error) { return encoding.Marshal(v) }

// Unmarshal decodes one CBOR item from data into v.
func Unmarshal(data []byte, v any) error { return decoding.Unmarshal(data, v) }

// NewEncoder writes a stream of deterministic CBOR items to w.
func NewEncoder(w io.Writer) *cbor.Encoder { return encoding.NewEncoder(w) }

// NewDecoder reads a stream of CBOR items from r.
func NewDecoder(r io.Reader) *cbor.Decoder { return decoding.NewDecoder(r) }
