// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package acp

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
)

// Process is a running agent process as seen by the client.
type Process interface {
	// Stdin carries client-to-agent messages. Closing it tells a
	// well-behaved agent to exit.
	Stdin() io.WriteCloser

	// Stdout carries agent-to-client messages.
	Stdout() io.Reader

	Interrupt() error
	Kill() error

	// Wait blocks until the process exits. It is called once.
	Wait() error
}

// LaunchSpec describes the process to start.
type LaunchSpec struct {
	Args []string
	Env  []string
	Dir  string

	// Logger receives the process's stderr, one record per line.
	Logger *slog.Logger
}

// Launcher starts an agent process.
type Launcher func(ctx context.Context, launch LaunchSpec) (Process, error)

// ExecLauncher starts the agent as a child process. The process
// inherits the bridge's environment plus launch.Env, and outlives ctx:
// it is ended by Agent.Stop, not by context cancellation.
func ExecLauncher(ctx context.Context, launch LaunchSpec) (Process, error) {
	if len(launch.Args) == 0 {
		return nil, fmt.Errorf("agent command is empty")
	}

	command := exec.Command(launch.Args[0], launch.Args[1:]...)
	command.Dir = launch.Dir
	command.Env = append(os.Environ(), launch.Env...)

	stdin, err := command.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := command.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := command.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := command.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", launch.Args[0], err)
	}

	logger := launch.Logger
	if logger == nil {
		logger = slog.Default()
	}
	go forwardStderr(stderr, logger)

	return &execProcess{command: command, stdin: stdin, stdout: stdout}, nil
}

type execProcess struct {
	command *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.Reader
}

func (p *execProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *execProcess) Stdout() io.Reader     { return p.stdout }
func (p *execProcess) Interrupt() error      { return p.command.Process.Signal(os.Interrupt) }
func (p *execProcess) Kill() error           { return p.command.Process.Kill() }
func (p *execProcess) Wait() error           { return p.command.Wait() }

func forwardStderr(stderr io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		logger.Debug("agent stderr", "line", scanner.Text())
	}
}
