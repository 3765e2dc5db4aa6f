// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the single CBOR configuration used on the control
// socket. Encoding is Core Deterministic (RFC 8949 §4.2) so the same
// value always produces the same bytes; decoding ignores unknown fields
// and decodes untyped maps as map[string]any.
//
// Consumers import this package rather than fxamacker/cbor directly so
// the options stay in one place.
package codec
