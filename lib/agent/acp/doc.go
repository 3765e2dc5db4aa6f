// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package acp implements agent.Handle for agents that speak the Agent
// Client Protocol: newline-delimited JSON-RPC 2.0 over the agent
// process's stdin and stdout.
//
// One [Agent] owns one agent process and one ACP session. Start runs
// initialize and session/new (with the project path as cwd) and
// records the mode and model inventories the agent reports. SendPrompt
// issues session/prompt and concatenates the agent_message_chunk text
// streamed through session/update notifications into the outcome
// message. While a prompt runs, session/request_permission requests
// from the agent are passed to the handle's PermissionFunc on their own
// goroutine, so notifications and the prompt response keep flowing.
//
// The client advertises no filesystem or terminal capabilities; any
// other agent-to-client request is answered with "method not found".
package acp
