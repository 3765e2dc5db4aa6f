// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/agentbridge/cmd/agentbridge/cli"
	"github.com/bureau-foundation/agentbridge/lib/agent"
	"github.com/bureau-foundation/agentbridge/lib/agent/acp"
	"github.com/bureau-foundation/agentbridge/lib/agent/mockagent"
	"github.com/bureau-foundation/agentbridge/lib/clock"
	"github.com/bureau-foundation/agentbridge/lib/config"
	"github.com/bureau-foundation/agentbridge/lib/control"
	"github.com/bureau-foundation/agentbridge/lib/dispatch"
	"github.com/bureau-foundation/agentbridge/lib/instance"
	"github.com/bureau-foundation/agentbridge/lib/repo"
	"github.com/bureau-foundation/agentbridge/lib/secret"
	"github.com/bureau-foundation/agentbridge/lib/service"
	"github.com/bureau-foundation/agentbridge/lib/session"
	"github.com/bureau-foundation/agentbridge/lib/version"
	"github.com/bureau-foundation/agentbridge/messaging"
	"github.com/bureau-foundation/agentbridge/transport/console"
	"github.com/bureau-foundation/agentbridge/transport/matrix"
)

func serveCommand() *cli.Command {
	var flags configFlags
	return &cli.Command{
		Name:    "serve",
		Summary: "Run the bridge",
		Description: `Run the bridge in the foreground until SIGINT or SIGTERM.

The transport is chosen by the config file. With the console transport
the bridge reads messages from stdin and exits at end of input.`,
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("serve", pflag.ContinueOnError)
			flags.register(flagSet)
			return flagSet
		},
		Examples: []cli.Example{
			{Description: "Serve with an explicit config file", Command: "agentbridge serve --config ~/.config/agentbridge.yaml"},
		},
		Run: func(args []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			logger, err := cli.NewLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, os.Stdin, os.Stdout, clock.Real(), logger)
		},
	}
}

// serve runs the bridge until ctx ends or the transport stops. Every
// session is stopped before it returns.
func serve(ctx context.Context, cfg *config.Config, stdin io.Reader, stdout io.Writer, clk clock.Clock, logger *slog.Logger) error {
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}
	lock, err := instance.Acquire(cfg.Paths.State)
	if err != nil {
		return err
	}
	defer lock.Release()

	logger.Info("agentbridge starting",
		"version", version.Current().Info(),
		"transport", cfg.Transport,
		"agent", cfg.Agent.Kind,
		"project", cfg.Project.Path,
	)

	factory, err := agentFactory(cfg, clk)
	if err != nil {
		return err
	}
	registry, err := session.NewRegistry(session.Config{
		ProjectPath:        cfg.Project.Path,
		NewHandle:          factory,
		InteractionTimeout: cfg.InteractionTimeout(),
		StartTimeout:       cfg.AgentStartTimeout(),
		Clock:              clk,
		Logger:             logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		count := registry.ResetAllSessions()
		logger.Info("agentbridge stopped", "sessions_stopped", count)
	}()

	entries := make([]repo.Entry, 0, len(cfg.Project.Repositories))
	for _, entry := range cfg.Project.Repositories {
		entries = append(entries, repo.Entry{Name: entry.Name, Path: entry.Path})
	}
	var repositories dispatch.RepositoryCatalog
	if len(cfg.Project.RepositoryRoots) > 0 || len(entries) > 0 {
		repositories = repo.NewCatalog(cfg.Project.RepositoryRoots, entries, logger)
	}

	dispatcher, err := dispatch.New(dispatch.Config{
		Registry:     registry,
		Queue:        session.NewTaskQueue(registry),
		Repositories: repositories,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(cfg.Control.SocketPath), 0o755); err != nil {
		return fmt.Errorf("creating control socket directory: %w", err)
	}
	socketServer := service.NewSocketServer(cfg.Control.SocketPath, logger)
	control.Register(socketServer, control.ServerConfig{
		Registry:  registry,
		Transport: cfg.Transport,
		Clock:     clk,
	})
	socketDone := make(chan error, 1)
	go func() { socketDone <- socketServer.Serve(ctx) }()

	transportErr := runTransport(ctx, cfg, dispatcher, registry, stdin, stdout, clk, logger)

	cancel()
	socketErr := <-socketDone
	return errors.Join(transportErr, socketErr)
}

func agentFactory(cfg *config.Config, clk clock.Clock) (agent.Factory, error) {
	switch cfg.Agent.Kind {
	case config.AgentACP:
		return acp.NewFactory(acp.Config{
			Command: cfg.Agent.Command,
			Env:     cfg.Agent.Env,
			Clock:   clk,
		}), nil
	case config.AgentMock:
		return (&mockagent.Factory{}).New, nil
	default:
		return nil, fmt.Errorf("unknown agent kind %q", cfg.Agent.Kind)
	}
}

func runTransport(ctx context.Context, cfg *config.Config, dispatcher *dispatch.Dispatcher, registry *session.Registry, stdin io.Reader, stdout io.Writer, clk clock.Clock, logger *slog.Logger) error {
	switch cfg.Transport {
	case config.TransportConsole:
		consoleTransport, err := console.New(console.Config{
			Input:    stdin,
			Output:   stdout,
			Handler:  dispatcher,
			Events:   registry,
			Sessions: registry,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		return consoleTransport.Run(ctx)

	case config.TransportMatrix:
		matrixSession, err := openMatrixSession(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer matrixSession.Close()

		matrixTransport, err := matrix.New(matrix.Config{
			Session:      matrixSession,
			Handler:      dispatcher,
			Events:       registry,
			AllowedUsers: cfg.Matrix.AllowedUsers,
			SyncTimeout:  cfg.MatrixSyncTimeout(),
			Clock:        clk,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		return matrixTransport.Run(ctx)

	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// openMatrixSession reads the access token and checks it belongs to
// the configured user.
func openMatrixSession(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*messaging.Session, error) {
	token, err := secret.ReadFile(cfg.Matrix.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("reading matrix token: %w", err)
	}
	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Matrix.Homeserver,
		Logger:        logger,
	})
	if err != nil {
		token.Close()
		return nil, err
	}
	matrixSession := client.SessionFromBuffer(cfg.Matrix.UserID, token)

	userID, err := matrixSession.WhoAmI(ctx)
	if err != nil {
		matrixSession.Close()
		return nil, fmt.Errorf("validating matrix token: %w", err)
	}
	if userID != cfg.Matrix.UserID {
		matrixSession.Close()
		return nil, fmt.Errorf("matrix token belongs to %s, config says %s", userID, cfg.Matrix.UserID)
	}
	logger.Info("matrix session valid", "user_id", userID, "homeserver", cfg.Matrix.Homeserver)
	return matrixSession, nil
}
