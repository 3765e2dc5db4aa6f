// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/agentbridge/cmd/agentbridge/cli"
	"github.com/bureau-foundation/agentbridge/lib/control"
	"github.com/bureau-foundation/agentbridge/lib/dispatch"
)

// controlTimeout bounds one control socket round trip.
const controlTimeout = 10 * time.Second

func controlClient(flags *controlFlags) (*control.Client, context.Context, context.CancelFunc, error) {
	socketPath, err := flags.resolveSocket()
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	return control.NewClient(socketPath), ctx, cancel, nil
}

func statusCommand() *cli.Command {
	var flags controlFlags
	var asJSON bool
	return &cli.Command{
		Name:    "status",
		Summary: "Show the sessions of a running bridge",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("status", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.BoolVar(&asJSON, "json", false, "output as JSON")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "List sessions of the bridge configured in $AGENTBRIDGE_CONFIG", Command: "agentbridge status"},
			{Command: "agentbridge status --socket /run/agentbridge/control.sock --json"},
		},
		Run: func(args []string) error {
			client, ctx, cancel, err := controlClient(&flags)
			if err != nil {
				return err
			}
			defer cancel()

			status, err := client.Status(ctx)
			if err != nil {
				return fmt.Errorf("querying the bridge: %w", err)
			}
			if asJSON {
				return cli.WriteJSON(os.Stdout, status)
			}
			writeStatus(os.Stdout, status)
			return nil
		},
	}
}

func writeStatus(w io.Writer, status control.StatusResponse) {
	fmt.Fprintf(w, "Transport: %s\n", status.Transport)
	fmt.Fprintf(w, "Project: %s\n", status.ProjectPath)
	fmt.Fprintf(w, "Up since: %s\n", status.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Interaction timeout: %s\n", status.InteractionTimeout)
	if len(status.Sessions) == 0 {
		fmt.Fprintln(w, "\nNo sessions.")
		return
	}

	fmt.Fprintln(w)
	table := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintln(table, "SESSION\tUSER\tCONTEXT\tSTATE\tQUEUED\tWAITING")
	for _, current := range status.Sessions {
		state := "idle"
		if current.Processing {
			state = "running"
		}
		fmt.Fprintf(table, "%s\t%s\t%s\t%s\t%d\t%d\n",
			current.ID, current.Key.UserID, current.Key.ContextID, state,
			len(current.Pending), len(current.Interactions))
	}
	table.Flush()

	for _, current := range status.Sessions {
		for _, interaction := range current.Interactions {
			fmt.Fprintf(w, "\nSession %s is waiting on %s:\n", current.ID, interaction.RequestID)
			fmt.Fprintln(w, dispatch.FormatInteraction(interaction))
		}
	}
}

func resolveCommand() *cli.Command {
	var flags controlFlags
	var requestID string
	return &cli.Command{
		Name:    "resolve",
		Summary: "Answer a pending permission or selection request",
		Usage:   "agentbridge resolve <session-id> <option> [flags]",
		Description: `Answer a pending interaction on behalf of the user.

The option is an option id or its number in the list. Without
--request the session's oldest pending interaction is answered.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("resolve", pflag.ContinueOnError)
			flags.register(flagSet)
			flagSet.StringVar(&requestID, "request", "", "request id (default: the oldest pending)")
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Deny the oldest request", Command: "agentbridge resolve 6f0c2a9e-... deny"},
		},
		Run: func(args []string) error {
			if len(args) != 2 {
				return errors.New("usage: agentbridge resolve <session-id> <option>")
			}
			client, ctx, cancel, err := controlClient(&flags)
			if err != nil {
				return err
			}
			defer cancel()

			resolution, err := client.Resolve(ctx, args[0], requestID, args[1])
			if err != nil {
				return err
			}
			fmt.Println(dispatch.FormatResolution(resolution))
			return nil
		},
	}
}

func resetCommand() *cli.Command {
	var flags controlFlags
	return &cli.Command{
		Name:    "reset",
		Summary: "Stop one session's agent",
		Usage:   "agentbridge reset <session-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("reset", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return errors.New("usage: agentbridge reset <session-id>")
			}
			client, ctx, cancel, err := controlClient(&flags)
			if err != nil {
				return err
			}
			defer cancel()

			if _, err := client.Reset(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Session %s reset.\n", args[0])
			return nil
		},
	}
}

func resetAllCommand() *cli.Command {
	var flags controlFlags
	return &cli.Command{
		Name:    "reset-all",
		Summary: "Stop every session's agent",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("reset-all", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Run: func(args []string) error {
			client, ctx, cancel, err := controlClient(&flags)
			if err != nil {
				return err
			}
			defer cancel()

			count, err := client.ResetAll(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Reset %d sessions.\n", count)
			return nil
		},
	}
}
