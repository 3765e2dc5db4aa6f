// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent defines the contract between the bridge and a
// long-running agent process.
//
// A [Handle] is one session's connection to its agent. The session
// registry creates handles through a [Factory], starts them once, sends
// prompts and commands through them one at a time, and stops them on
// reset. While a prompt is running the handle may call the
// [PermissionFunc] it was constructed with; the call blocks until a
// human (or the timeout policy) picks one of the offered options.
//
// Implementations live in subpackages: acp speaks JSON-RPC to an
// external agent over stdio, mockagent is a scripted in-process agent
// for tests and demos.
package agent
