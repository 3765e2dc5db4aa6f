// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/bureau-foundation/agentbridge/cmd/agentbridge/commands"
	"github.com/bureau-foundation/agentbridge/lib/process"
)

func main() {
	process.Exit(commands.Root().Execute(os.Args[1:]))
}
