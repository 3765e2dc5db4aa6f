// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process ends a binary from main once the command tree has
// returned, before or without any structured logger.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// exitCoder is implemented by errors that carry their own exit status
// and have already reported themselves.
type exitCoder interface {
	ExitCode() int
}

// Exit terminates the process for err. A nil err exits 0. An error with
// an ExitCode method exits with that code silently; anything else is
// printed to stderr as "error: ..." and exits 1.
func Exit(err error) {
	os.Exit(report(os.Stderr, err))
}

func report(w io.Writer, err error) int {
	if err == nil {
		return 0
	}
	var coder exitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	fmt.Fprintf(w, "error: %v\n", err)
	return 1
}
