// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"fmt"
	"os"
)

// ReadFile loads the credential stored at path into a Buffer the
// caller must Close. Leading and trailing whitespace is dropped, so a
// token file written with echo works. Files readable or writable by
// group or others are refused.
func ReadFile(path string) (*Buffer, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("secret file: %w", err)
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return nil, fmt.Errorf("secret file %s has mode %04o; restrict it to the owner (chmod 600)", path, mode)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("secret file: %w", err)
	}
	defer Zero(contents)

	value := bytes.TrimSpace(contents)
	if len(value) == 0 {
		return nil, fmt.Errorf("secret file %s holds no value", path)
	}
	return NewFromBytes(value)
}
