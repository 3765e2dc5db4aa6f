// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the agentbridge command tree.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/agentbridge/cmd/agentbridge/cli"
	"github.com/bureau-foundation/agentbridge/lib/version"
)

// Root returns the complete command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "agentbridge",
		Description: `agentbridge: chat with coding agents.

Each user and conversation gets its own agent session. Messages are
queued per session, permission requests from the agent are posted back
as numbered choices, and slash commands control the session.`,
		Subcommands: []*cli.Command{
			serveCommand(),
			statusCommand(),
			resolveCommand(),
			resetCommand(),
			resetAllCommand(),
			versionCommand(),
		},
	}
}

func versionCommand() *cli.Command {
	var asJSON bool
	return &cli.Command{
		Name:    "version",
		Summary: "Print version information",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("version", pflag.ContinueOnError)
			flagSet.BoolVar(&asJSON, "json", false, "output as JSON")
			return flagSet
		},
		Run: func(args []string) error {
			build := version.Current()
			if asJSON {
				return cli.WriteJSON(os.Stdout, build)
			}
			fmt.Printf("agentbridge %s\n", build.Full())
			return nil
		},
	}
}
