// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [RequireReceive] and [RequireClosed] wrap the select-with-timeout
// safety valve so that a broken test fails instead of hanging.
// [RequireEventually] polls a condition for state that is only
// observable by inspection (queue idleness, interaction counts).
// These helpers are the only place tests use wall-clock timeouts;
// behaviour that depends on time itself is tested with clock.Fake.
//
// [SocketDir] creates a short temporary directory for Unix sockets.
//
// All helpers call t.Fatalf on failure.
package testutil
