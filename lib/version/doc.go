// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version reports the build of the agentbridge binary.
//
// Release builds inject [Version], [GitCommit] and [BuildTime] with
// -ldflags -X. Builds without them (go install, go test) fall back to
// the VCS stamp the Go toolchain records in the binary.
package version
