// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret holds the Matrix access token outside the Go heap, in
// a mapping excluded from core dumps and, where the memlock limit
// allows, pinned against swap.
package secret
