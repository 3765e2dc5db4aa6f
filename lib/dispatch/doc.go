// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch turns inbound chat messages into session
// operations.
//
// Text that does not start with "/" is a prompt for the agent. Slash
// commands are handled by the bridge when it knows them (/status,
// /stop, /reset, /mode, /model, /select, /repos, /help) and passed
// through to the agent as command tasks otherwise.
//
// When the conversation has an unanswered interaction, three rules run
// before normal handling:
//
//   - a purely numeric message answers the oldest interaction by
//     option index;
//   - /mode and /model are refused until the interaction is answered;
//   - any other free text cancels the running task, settles every
//     pending interaction as cancelled, and is then queued as a new
//     prompt.
package dispatch
