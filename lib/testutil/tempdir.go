// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"testing"
)

// SocketDir returns a fresh directory under os.TempDir for tests that
// bind Unix sockets. t.TempDir nests deeply enough to push socket paths
// past the kernel's sun_path limit.
func SocketDir(t *testing.T) string {
	t.Helper()
	path, err := os.MkdirTemp("", "abr-")
	if err != nil {
		t.Fatalf("SocketDir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(path) })
	return path
}
