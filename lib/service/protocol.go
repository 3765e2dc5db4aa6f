// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"fmt"

	"github.com/bureau-foundation/agentbridge/lib/codec"
)

// Request is the envelope a client writes. Params holds the
// action-specific fields and is absent for actions that take none.
type Request struct {
	Action string           `cbor:"action"`
	ID     string           `cbor:"id"`
	Params codec.RawMessage `cbor:"params,omitempty"`
}

// Response echoes the request ID. Exactly one of Error and Data is
// meaningful: Error when OK is false, Data (possibly empty) otherwise.
type Response struct {
	ID    string           `cbor:"id"`
	OK    bool             `cbor:"ok"`
	Error *Error           `cbor:"error,omitempty"`
	Data  codec.RawMessage `cbor:"data,omitempty"`
}

// ErrorCode classifies a failed request.
type ErrorCode string

const (
	CodeInvalidRequest ErrorCode = "invalid_request"
	CodeUnknownAction  ErrorCode = "unknown_action"
	CodeForbidden      ErrorCode = "forbidden"
	CodeNotFound       ErrorCode = "not_found"
	// CodeFailed is used for handler errors that carry no code.
	CodeFailed   ErrorCode = "failed"
	CodeInternal ErrorCode = "internal"
)

// Error is a failure reported by the server. Handlers return one to
// choose the code; any other error is reported as CodeFailed.
type Error struct {
	Code    ErrorCode `cbor:"code"`
	Message string    `cbor:"message"`

	// Action is filled in by the client.
	Action string `cbor:"-"`
}

func (e *Error) Error() string {
	if e.Action == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

// Errorf builds an *Error.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// DecodeParams decodes request params into target. Missing params
// leave target untouched.
func DecodeParams(params codec.RawMessage, target any) error {
	if len(params) == 0 {
		return nil
	}
	if err := codec.Unmarshal(params, target); err != nil {
		return Errorf(CodeInvalidRequest, "decoding params: %v", err)
	}
	return nil
}
