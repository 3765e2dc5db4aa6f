// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds small helpers for talking to HTTP JSON APIs
// such as the Matrix client-server API.
package netutil

import (
	"fmt"
	"io"
)

// DefaultBodyLimit caps a response body read with ReadBody: 64 MiB.
// Matrix /sync responses after a long absence are the largest the
// bridge sees.
const DefaultBodyLimit int64 = 64 << 20

// ErrBodyTooLarge is returned when a body exceeds its limit.
type ErrBodyTooLarge struct {
	Limit int64
}

func (e *ErrBodyTooLarge) Error() string {
	return fmt.Sprintf("response body exceeds %d bytes", e.Limit)
}

// ReadBody reads all of body, failing with *ErrBodyTooLarge rather
// than returning a truncated document when more than limit bytes
// arrive. A non-positive limit means DefaultBodyLimit.
func ReadBody(body io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, &ErrBodyTooLarge{Limit: limit}
	}
	return data, nil
}
