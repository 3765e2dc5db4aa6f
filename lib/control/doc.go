// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package control is the operator surface of a running bridge: a CBOR
// Unix socket (see lib/service) through which the agentbridge CLI
// lists sessions, answers pending interactions and resets sessions
// without going through the chat transport.
package control
