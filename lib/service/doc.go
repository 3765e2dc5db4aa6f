// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package service holds the plumbing the bridge's daemon is built
// from.
//
// [SocketServer] answers one CBOR request per Unix socket connection,
// dispatching on the request's action name; [ServiceClient] is its
// counterpart. The bridge's control surface (status, resolve, reset)
// is served this way.
//
// [Syncer] drives the Matrix /sync long-poll: an initial snapshot, then
// incremental polls with backoff on failure until the context ends or
// the homeserver revokes the token.
//
// # Access
//
// The socket file is created with mode 0600. On Linux the server also
// reads the peer's credentials and refuses connections from other
// users.
package service
