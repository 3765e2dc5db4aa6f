// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package messaging is the slice of the Matrix client-server API the
// bridge needs to act as a chat bot.
//
// [Client] holds the homeserver URL and HTTP transport. [Session]
// wraps a Client with an access token kept in mmap-backed
// secret.Buffer memory; callers must call Session.Close to release it.
// A Session can verify its token (WhoAmI), join rooms, send messages
// and long-poll /sync.
//
// All API errors are returned as [*MatrixError] with the standard
// Matrix error code and HTTP status. [HasErrorCode] tests for a
// specific code. Rate-limited requests (M_LIMIT_EXCEEDED) are retried
// a few times after the wait the homeserver asks for.
//
// Replies can be plain ([NewTextMessage]), threaded ([NewThreadReply])
// or rendered from Markdown ([NewMarkdownMessage]), which fills the
// HTML formatted_body using goldmark.
package messaging
