// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Agentbridge connects a chat transport to coding agents. "agentbridge
// serve" runs the bridge; the other subcommands talk to a running
// bridge over its control socket.
//
// Usage:
//
//	agentbridge serve [--config path]
//	agentbridge status [--json]
//	agentbridge resolve <session-id> <option> [--request id]
//	agentbridge reset <session-id>
//	agentbridge reset-all
//	agentbridge version
package main
