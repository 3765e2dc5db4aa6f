// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package console runs the bridge on a terminal: each input line is a
// message from a single local user, and replies and session events are
// printed as they happen. It is meant for trying out an agent without
// a chat server.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/bureau-foundation/agentbridge/lib/dispatch"
	"github.com/bureau-foundation/agentbridge/lib/session"
	"github.com/bureau-foundation/agentbridge/transport"
)

const (
	// DefaultUserID identifies the terminal user to the registry.
	DefaultUserID = "console"

	// ContextID is the only conversation a console has.
	ContextID = "console"
)

// Sessions looks up the console's session. *session.Registry
// implements it.
type Sessions interface {
	GetSession(userID, contextID string) (*session.Session, bool)
}

// Config configures a Transport.
type Config struct {
	Input   io.Reader
	Output  io.Writer
	Handler transport.Handler
	Events  transport.Events

	// Sessions, when set, lets Run finish the conversation's work
	// after input ends instead of returning at once.
	Sessions Sessions

	// UserID defaults to DefaultUserID.
	UserID string

	Logger *slog.Logger
}

// Transport reads messages from Input and writes to Output.
type Transport struct {
	input    io.Reader
	handler  transport.Handler
	events   transport.Events
	sessions Sessions
	userID   string
	logger   *slog.Logger

	// interactive is set when Input is a terminal; a prompt is shown
	// before each line.
	interactive bool

	outputMutex sync.Mutex
	output      io.Writer
	styles      styles
}

type styles struct {
	reply       lipgloss.Style
	interaction lipgloss.Style
	resolution  lipgloss.Style
	completion  lipgloss.Style
	prompt      lipgloss.Style
}

func newStyles(renderer *lipgloss.Renderer) styles {
	return styles{
		reply: renderer.NewStyle().Foreground(lipgloss.Color("245")),
		interaction: renderer.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1),
		resolution: renderer.NewStyle().Faint(true).Italic(true),
		completion: renderer.NewStyle().Foreground(lipgloss.Color("252")),
		prompt:     renderer.NewStyle().Foreground(lipgloss.Color("39")).Bold(true),
	}
}

// New creates a Transport.
func New(config Config) (*Transport, error) {
	if config.Input == nil || config.Output == nil {
		return nil, errors.New("console transport requires input and output")
	}
	if config.Handler == nil || config.Events == nil {
		return nil, errors.New("console transport requires a handler and events")
	}
	if config.UserID == "" {
		config.UserID = DefaultUserID
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	interactive := false
	if file, ok := config.Input.(*os.File); ok {
		interactive = term.IsTerminal(int(file.Fd()))
	}

	return &Transport{
		input:       config.Input,
		handler:     config.Handler,
		events:      config.Events,
		sessions:    config.Sessions,
		userID:      config.UserID,
		logger:      config.Logger,
		interactive: interactive,
		output:      config.Output,
		styles:      newStyles(lipgloss.NewRenderer(config.Output)),
	}, nil
}

// Run handles input lines until Input is exhausted or ctx ends. Lines
// are handled one at a time, in order. At end of input Run waits for
// the session to go idle, so piped prompts print their results; an
// unanswered question holds it until its timeout settles it.
func (t *Transport) Run(ctx context.Context) error {
	unsubscribe := transport.Subscribe(t.events, t.print)
	defer unsubscribe()

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(t.input)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	t.showPrompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("reading console input: %w", err)
					}
				default:
				}
				return t.drain(ctx)
			}
			if strings.TrimSpace(line) != "" {
				reply := t.handler.Handle(ctx, dispatch.Message{
					UserID:    t.userID,
					ContextID: ContextID,
					Text:      line,
				})
				if reply.Text != "" {
					t.print(transport.Outbound{
						UserID:    t.userID,
						ContextID: ContextID,
						Kind:      transport.KindReply,
						Text:      reply.Text,
					})
				}
			}
			t.showPrompt()
		}
	}
}

// drain waits until the conversation has nothing running, queued or
// waiting on an answer. Cancelling ctx stops the wait without error.
func (t *Transport) drain(ctx context.Context) error {
	if t.sessions == nil {
		return nil
	}
	current, ok := t.sessions.GetSession(t.userID, ContextID)
	if !ok {
		return nil
	}
	if err := current.WaitIdle(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// print writes one outbound message. Events for other users or
// conversations cannot occur on a console but are dropped if they do.
func (t *Transport) print(message transport.Outbound) {
	if message.UserID != t.userID || message.ContextID != ContextID {
		t.logger.Debug("dropping event for another conversation",
			"user_id", message.UserID,
			"context_id", message.ContextID,
		)
		return
	}

	var style lipgloss.Style
	switch message.Kind {
	case transport.KindInteraction:
		style = t.styles.interaction
	case transport.KindResolution:
		style = t.styles.resolution
	case transport.KindCompletion:
		style = t.styles.completion
	default:
		style = t.styles.reply
	}

	t.outputMutex.Lock()
	defer t.outputMutex.Unlock()
	fmt.Fprintln(t.output, style.Render(strings.TrimRight(message.Text, "\n")))
}

func (t *Transport) showPrompt() {
	if !t.interactive {
		return
	}
	t.outputMutex.Lock()
	defer t.outputMutex.Unlock()
	fmt.Fprint(t.output, t.styles.prompt.Render("> "))
}
