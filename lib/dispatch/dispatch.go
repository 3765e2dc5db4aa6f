// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/shlex"

	"github.com/bureau-foundation/agentbridge/lib/agent"
	"github.com/bureau-foundation/agentbridge/lib/repo"
	"github.com/bureau-foundation/agentbridge/lib/session"
)

// BusyMessage is the reply to /mode or /model while an interaction is
// waiting.
const BusyMessage = "A request is waiting for your answer. Reply with an option number, use /select, or send a new message to cancel it."

// Message is one inbound chat message.
type Message struct {
	// UserID identifies the sender on the transport.
	UserID string

	// ContextID scopes the conversation within the transport (a room,
	// a thread). Empty is a valid context of its own.
	ContextID string

	Text string
}

// Reply is the dispatcher's immediate answer. An empty Text means
// there is nothing to say right now; results arrive later through the
// registry's subscriptions.
type Reply struct {
	Text string
}

// RepositoryCatalog lists the repositories /repos offers.
type RepositoryCatalog interface {
	List() ([]repo.Repository, error)
}

// Config configures a Dispatcher.
type Config struct {
	Registry *session.Registry
	Queue    *session.TaskQueue

	// Repositories backs /repos. Nil disables the command.
	Repositories RepositoryCatalog

	// Logger receives dispatch logs. Nil uses slog.Default.
	Logger *slog.Logger
}

// Dispatcher routes messages. It is safe for concurrent use; ordering
// guarantees come from the per-session queue, not from the dispatcher.
type Dispatcher struct {
	registry     *session.Registry
	queue        *session.TaskQueue
	repositories RepositoryCatalog
	logger       *slog.Logger
	commands     map[string]commandHandler
}

type commandHandler func(ctx context.Context, message Message, args []string) Reply

// New creates a Dispatcher.
func New(config Config) (*Dispatcher, error) {
	if config.Registry == nil || config.Queue == nil {
		return nil, errors.New("dispatcher requires a registry and a task queue")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	dispatcher := &Dispatcher{
		registry:     config.Registry,
		queue:        config.Queue,
		repositories: config.Repositories,
		logger:       config.Logger,
	}
	dispatcher.commands = map[string]commandHandler{
		"help":   dispatcher.help,
		"status": dispatcher.status,
		"stop":   dispatcher.stop,
		"reset":  dispatcher.reset,
		"mode":   dispatcher.mode,
		"model":  dispatcher.model,
		"select": dispatcher.selectOption,
		"repos":  dispatcher.repos,
	}
	return dispatcher, nil
}

// Handle processes one message.
func (dispatcher *Dispatcher) Handle(ctx context.Context, message Message) Reply {
	text := strings.TrimSpace(message.Text)
	if text == "" {
		return Reply{}
	}
	message.Text = text
	name, args := parseCommand(text)

	if current, ok := dispatcher.registry.GetSession(message.UserID, message.ContextID); ok && current.HasPendingInteractions() {
		switch {
		case isNumeric(text):
			return dispatcher.resolveOldest(current, text)
		case name == "mode" || name == "model":
			return Reply{Text: BusyMessage}
		case name == "":
			dispatcher.cancelPending(current)
		}
	}

	if name == "" {
		return dispatcher.enqueue(ctx, message, text, session.TaskPrompt)
	}
	if handler, ok := dispatcher.commands[name]; ok {
		return handler(ctx, message, args)
	}
	return dispatcher.enqueue(ctx, message, text, session.TaskCommand)
}

// cancelPending implements implicit cancellation: the running task is
// asked to stop and every pending interaction is settled as cancelled,
// so the agent call waiting on one unblocks.
func (dispatcher *Dispatcher) cancelPending(current *session.Session) {
	if _, err := dispatcher.queue.CancelCurrent(current); err != nil {
		dispatcher.logger.Warn("cancelling current task", "session_id", current.ID, "error", err)
	}
	count := dispatcher.registry.CancelInteractions(current)
	dispatcher.logger.Info("pending interactions cancelled by new message",
		"session_id", current.ID,
		"count", count,
	)
}

func (dispatcher *Dispatcher) enqueue(ctx context.Context, message Message, text string, kind session.TaskKind) Reply {
	current, err := dispatcher.registry.GetOrCreateSession(ctx, message.UserID, message.ContextID)
	if err != nil {
		dispatcher.logger.Warn("session unavailable",
			"user_id", message.UserID,
			"context_id", message.ContextID,
			"error", err,
		)
		return unavailableReply(err)
	}
	ack := dispatcher.queue.Enqueue(current, text, kind)
	return Reply{Text: ack.Message}
}

func (dispatcher *Dispatcher) resolveOldest(current *session.Session, optionIDOrIndex string) Reply {
	resolution, err := dispatcher.registry.ResolveOldest(current, optionIDOrIndex)
	if err != nil {
		return Reply{Text: err.Error()}
	}
	return Reply{Text: FormatResolution(resolution)}
}

// parseCommand splits "/name args..." into the lower-cased name and
// its arguments. Free text yields an empty name. Arguments follow
// shell quoting; unbalanced quotes fall back to whitespace splitting.
func parseCommand(text string) (string, []string) {
	if !strings.HasPrefix(text, "/") || len(text) == 1 {
		return "", nil
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	args, err := shlex.Split(rest)
	if err != nil {
		args = strings.Fields(rest)
	}
	return strings.ToLower(head), args
}

func isNumeric(text string) bool {
	if text == "" {
		return false
	}
	for _, character := range text {
		if character < '0' || character > '9' {
			return false
		}
	}
	return true
}

func (dispatcher *Dispatcher) help(ctx context.Context, message Message, args []string) Reply {
	return Reply{Text: HelpText}
}

// HelpText lists the bridge's own commands.
const HelpText = `Commands:
/status - show the running task, queue and pending requests
/stop [taskId|all] - stop the running task, remove a queued task, or stop everything
/reset - stop the agent and start fresh on the next message
/mode [name] - choose the agent mode
/model [name] - choose the agent model
/select [requestId] <option> - answer a pending request by option id or number
/repos [name] - switch to another repository (resets all sessions)
/help - show this message
Other /commands are passed to the agent. Anything else is a prompt.`

func (dispatcher *Dispatcher) status(ctx context.Context, message Message, args []string) Reply {
	current, ok := dispatcher.registry.GetSession(message.UserID, message.ContextID)
	if !ok {
		return Reply{Text: fmt.Sprintf("No active session. Project: %s", dispatcher.registry.ProjectPath())}
	}
	return Reply{Text: FormatStatus(current.Status())}
}

func (dispatcher *Dispatcher) stop(ctx context.Context, message Message, args []string) Reply {
	current, ok := dispatcher.registry.GetSession(message.UserID, message.ContextID)
	if !ok {
		return Reply{Text: "No active session."}
	}

	if len(args) > 0 && args[0] != "all" {
		taskID := args[0]
		if status := dispatcher.queue.Status(current); status.Current != nil && status.Current.ID == taskID {
			return dispatcher.stopCurrent(current)
		}
		if dispatcher.queue.RemovePending(current, taskID) {
			return Reply{Text: fmt.Sprintf("Removed queued task %s.", taskID)}
		}
		return Reply{Text: fmt.Sprintf("No task %s.", taskID)}
	}

	if len(args) > 0 {
		cleared := dispatcher.queue.ClearPending(current)
		dispatcher.registry.CancelInteractions(current)
		running, err := dispatcher.queue.CancelCurrent(current)
		if err != nil {
			return Reply{Text: err.Error()}
		}
		if !running && cleared == 0 {
			return Reply{Text: "Nothing to stop."}
		}
		return Reply{Text: fmt.Sprintf("Stopping the current task and cleared %d queued %s.", cleared, plural(cleared, "task", "tasks"))}
	}
	return dispatcher.stopCurrent(current)
}

func (dispatcher *Dispatcher) stopCurrent(current *session.Session) Reply {
	dispatcher.registry.CancelInteractions(current)
	running, err := dispatcher.queue.CancelCurrent(current)
	if err != nil {
		return Reply{Text: err.Error()}
	}
	if !running {
		return Reply{Text: "Nothing is running."}
	}
	return Reply{Text: "Stopping the current task."}
}

func (dispatcher *Dispatcher) reset(ctx context.Context, message Message, args []string) Reply {
	if !dispatcher.registry.ResetSession(message.UserID, message.ContextID) {
		return Reply{Text: "No active session to reset."}
	}
	return Reply{Text: "Session reset. The next message starts a new agent."}
}

func (dispatcher *Dispatcher) mode(ctx context.Context, message Message, args []string) Reply {
	current, err := dispatcher.registry.GetOrCreateSession(ctx, message.UserID, message.ContextID)
	if err != nil {
		return unavailableReply(err)
	}
	if len(args) == 0 {
		_, err := dispatcher.registry.TriggerModeSelection(current)
		return selectionReply(err)
	}

	state := current.ModeState()
	for _, mode := range state.Available {
		if strings.EqualFold(mode.ID, args[0]) || strings.EqualFold(mode.Name, args[0]) {
			return outcomeReply(dispatcher.registry.SetMode(ctx, current, mode.ID))
		}
	}
	return Reply{Text: fmt.Sprintf("Unknown mode %q. Available: %s", args[0], modeNames(state.Available))}
}

func (dispatcher *Dispatcher) model(ctx context.Context, message Message, args []string) Reply {
	current, err := dispatcher.registry.GetOrCreateSession(ctx, message.UserID, message.ContextID)
	if err != nil {
		return unavailableReply(err)
	}
	if len(args) == 0 {
		_, err := dispatcher.registry.TriggerModelSelection(current)
		return selectionReply(err)
	}

	state := current.ModelState()
	for _, model := range state.Available {
		if strings.EqualFold(model.ID, args[0]) || strings.EqualFold(model.Name, args[0]) {
			return outcomeReply(dispatcher.registry.SetModel(ctx, current, model.ID))
		}
	}
	return Reply{Text: fmt.Sprintf("Unknown model %q. Available: %s", args[0], modelNames(state.Available))}
}

func (dispatcher *Dispatcher) selectOption(ctx context.Context, message Message, args []string) Reply {
	current, ok := dispatcher.registry.GetSession(message.UserID, message.ContextID)
	if !ok {
		return Reply{Text: "No active session."}
	}

	switch len(args) {
	case 1:
		return dispatcher.resolveOldest(current, args[0])
	case 2:
		resolution, err := dispatcher.registry.ResolveInteraction(current.ID, args[0], args[1])
		if err != nil {
			return Reply{Text: err.Error()}
		}
		return Reply{Text: FormatResolution(resolution)}
	default:
		return Reply{Text: "Usage: /select [requestId] <optionId or number>"}
	}
}

func (dispatcher *Dispatcher) repos(ctx context.Context, message Message, args []string) Reply {
	if dispatcher.repositories == nil {
		return Reply{Text: "No repositories are configured."}
	}
	repositories, err := dispatcher.repositories.List()
	if err != nil {
		return Reply{Text: "Listing repositories: " + err.Error()}
	}
	if len(repositories) == 0 {
		return Reply{Text: "No repositories found."}
	}

	if len(args) > 0 {
		for _, repository := range repositories {
			if repository.Name == args[0] || repository.Path == args[0] {
				return outcomeReply(dispatcher.switchRepository(repository))
			}
		}
		return Reply{Text: fmt.Sprintf("Unknown repository %q.", args[0])}
	}

	current, err := dispatcher.registry.GetOrCreateSession(ctx, message.UserID, message.ContextID)
	if err != nil {
		return unavailableReply(err)
	}

	byPath := make(map[string]repo.Repository, len(repositories))
	options := make([]agent.PermissionOption, 0, len(repositories))
	activePath := dispatcher.registry.ProjectPath()
	for _, repository := range repositories {
		byPath[repository.Path] = repository
		label := repository.Name
		if repository.Branch != "" {
			label += " (" + repository.Branch + ")"
		}
		if repository.Path == activePath {
			label += " (current)"
		}
		options = append(options, agent.PermissionOption{ID: repository.Path, Label: label})
	}

	_, err = dispatcher.registry.TriggerSelection(current, session.SelectionRequest{
		Type:    session.InteractionRepoSelection,
		Title:   "Select a repository",
		Options: options,
		Apply: func(ctx context.Context, path string) agent.Outcome {
			return dispatcher.switchRepository(byPath[path])
		},
	})
	return selectionReply(err)
}

// switchRepository points new sessions at the repository and resets
// every existing one.
func (dispatcher *Dispatcher) switchRepository(repository repo.Repository) agent.Outcome {
	count := dispatcher.registry.SwitchProject(repository.Path)
	dispatcher.logger.Info("repository selected",
		"name", repository.Name,
		"path", repository.Path,
		"sessions_reset", count,
	)
	return agent.Succeeded(fmt.Sprintf("Switched to %s. All sessions were reset.", repository.Name))
}

// selectionReply is empty on success: the selection card is delivered
// through the interaction subscription.
func selectionReply(err error) Reply {
	switch {
	case err == nil:
		return Reply{}
	case errors.Is(err, session.ErrBusy):
		return Reply{Text: BusyMessage}
	default:
		return Reply{Text: err.Error()}
	}
}

func unavailableReply(err error) Reply {
	return Reply{Text: "Could not start the agent: " + err.Error()}
}

func outcomeReply(outcome agent.Outcome) Reply {
	return Reply{Text: outcome.Message}
}

func modeNames(modes []agent.Mode) string {
	names := make([]string, len(modes))
	for index, mode := range modes {
		names[index] = mode.ID
	}
	return strings.Join(names, ", ")
}

func modelNames(models []agent.Model) string {
	names := make([]string, len(models))
	for index, model := range models {
		names[index] = model.ID
	}
	return strings.Join(names, ", ")
}

func plural(count int, singular, many string) string {
	if count == 1 {
		return singular
	}
	return many
}
