// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport holds what every chat transport shares: the
// interfaces a transport consumes (a message [Handler] and the
// registry's [Events]), rendering of session events into [Outbound]
// messages, and [Lanes] for serial per-conversation processing.
//
// Concrete transports live in subpackages: transport/matrix talks to a
// Matrix homeserver, transport/console to a local terminal.
package transport
