// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a session or interaction does not
	// exist, including interactions that already settled.
	ErrNotFound = errors.New("not found")

	// ErrInvalidOption is returned when a resolution names neither an
	// option id nor a valid option index.
	ErrInvalidOption = errors.New("invalid option")

	// ErrBusy is returned when a selection is requested while the
	// session already has a pending interaction.
	ErrBusy = errors.New("session busy")

	// ErrAgentUnavailable is returned when a session's agent could not
	// be constructed or started.
	ErrAgentUnavailable = errors.New("agent unavailable")

	// ErrSessionClosed is returned for operations on a session that has
	// been reset.
	ErrSessionClosed = errors.New("session closed")

	// ErrNoOptions is returned when a selection has nothing to offer.
	ErrNoOptions = errors.New("no options available")
)

// sentinelError carries a complete user-facing message while still
// matching its sentinel with errors.Is.
type sentinelError struct {
	sentinel error
	message  string
}

func (e *sentinelError) Error() string { return e.message }

func (e *sentinelError) Unwrap() error { return e.sentinel }

func newError(sentinel error, format string, args ...any) error {
	return &sentinelError{sentinel: sentinel, message: fmt.Sprintf(format, args...)}
}
