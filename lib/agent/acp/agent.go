// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package acp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/agentbridge/lib/agent"
	"github.com/bureau-foundation/agentbridge/lib/clock"
)

// DefaultStopGrace is how long Stop waits after each escalation step
// (close stdin, interrupt) before the next one.
const DefaultStopGrace = 5 * time.Second

// Config describes how to run the agent. It is shared by every session.
type Config struct {
	// Command is the agent's argv.
	Command []string

	// Env is added to the agent's environment.
	Env map[string]string

	// Launcher starts the process. Nil means ExecLauncher.
	Launcher Launcher

	// StopGrace overrides DefaultStopGrace.
	StopGrace time.Duration

	// Clock times the stop escalation. Nil means the real clock.
	Clock clock.Clock
}

// NewFactory returns an agent.Factory that builds ACP handles.
func NewFactory(config Config) agent.Factory {
	return func(handleConfig agent.HandleConfig) (agent.Handle, error) {
		if len(config.Command) == 0 && config.Launcher == nil {
			return nil, fmt.Errorf("acp agent requires a command")
		}
		return New(config, handleConfig), nil
	}
}

// Agent is one ACP agent process serving one bridge session.
type Agent struct {
	config     Config
	permission agent.PermissionFunc
	projectDir string
	logger     *slog.Logger

	process Process
	conn    *conn
	exited  chan struct{}

	mutex            sync.Mutex
	sessionID        string
	modes            agent.ModeState
	models           agent.ModelState
	transcript       *strings.Builder
	permissionCancel context.CancelFunc
	permissionCtx    context.Context
	stopped          bool
}

// New constructs an unstarted Agent.
func New(config Config, handleConfig agent.HandleConfig) *Agent {
	if config.Launcher == nil {
		config.Launcher = ExecLauncher
	}
	if config.StopGrace <= 0 {
		config.StopGrace = DefaultStopGrace
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	logger := handleConfig.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		config:     config,
		permission: handleConfig.Permission,
		projectDir: handleConfig.ProjectPath,
		logger:     logger,
		exited:     make(chan struct{}),
	}
}

// Start launches the process, negotiates the protocol version and
// opens an ACP session rooted at the project directory.
func (a *Agent) Start(ctx context.Context) error {
	env := make([]string, 0, len(a.config.Env))
	for key, value := range a.config.Env {
		env = append(env, key+"="+value)
	}
	sort.Strings(env)

	process, err := a.config.Launcher(ctx, LaunchSpec{
		Args:   a.config.Command,
		Env:    env,
		Dir:    a.projectDir,
		Logger: a.logger,
	})
	if err != nil {
		close(a.exited)
		return fmt.Errorf("launching agent: %w", err)
	}
	a.process = process
	a.conn = newConn(process.Stdin(), a.handleRequest, a.handleNotification, a.logger)

	go func() {
		a.conn.run(process.Stdout())
		if err := process.Wait(); err != nil {
			a.logger.Debug("agent process exited", "error", err)
		}
		close(a.exited)
	}()

	var initialized initializeResult
	if err := a.conn.call(ctx, methodInitialize, initializeParams{ProtocolVersion: protocolVersion}, &initialized); err != nil {
		return fmt.Errorf("initializing agent: %w", err)
	}
	if initialized.ProtocolVersion != protocolVersion {
		return fmt.Errorf("agent speaks protocol version %d, want %d", initialized.ProtocolVersion, protocolVersion)
	}

	var created newSessionResult
	if err := a.conn.call(ctx, methodSessionNew, newSessionParams{CWD: a.projectDir, MCPServers: []any{}}, &created); err != nil {
		return fmt.Errorf("creating agent session: %w", err)
	}
	if created.SessionID == "" {
		return fmt.Errorf("agent returned an empty session id")
	}

	a.mutex.Lock()
	a.sessionID = created.SessionID
	if created.Modes != nil {
		a.modes.CurrentID = created.Modes.CurrentModeID
		for _, mode := range created.Modes.AvailableModes {
			a.modes.Available = append(a.modes.Available, agent.Mode{ID: mode.ID, Name: mode.Name, Description: mode.Description})
		}
	}
	if created.Models != nil {
		a.models.CurrentID = created.Models.CurrentModelID
		for _, model := range created.Models.AvailableModels {
			a.models.Available = append(a.models.Available, agent.Model{ID: model.ModelID, Name: model.Name, Description: model.Description})
		}
	}
	modeCount, modelCount := len(a.modes.Available), len(a.models.Available)
	a.mutex.Unlock()

	a.logger.Info("agent session started",
		"acp_session_id", created.SessionID,
		"modes", modeCount,
		"models", modelCount,
	)
	return nil
}

// Stop closes stdin and escalates to interrupt and then kill if the
// process does not exit within the grace period after each step.
func (a *Agent) Stop() error {
	a.mutex.Lock()
	if a.stopped {
		a.mutex.Unlock()
		return nil
	}
	a.stopped = true
	if a.permissionCancel != nil {
		a.permissionCancel()
	}
	a.mutex.Unlock()

	if a.process == nil {
		return nil
	}

	closeErr := a.process.Stdin().Close()
	select {
	case <-a.exited:
		return nil
	case <-a.config.Clock.After(a.config.StopGrace):
	}

	a.logger.Warn("agent did not exit after stdin closed, interrupting")
	if err := a.process.Interrupt(); err != nil {
		a.logger.Debug("interrupting agent", "error", err)
	}
	select {
	case <-a.exited:
		return nil
	case <-a.config.Clock.After(a.config.StopGrace):
	}

	a.logger.Warn("agent did not exit after interrupt, killing")
	if err := a.process.Kill(); err != nil {
		return errors.Join(closeErr, fmt.Errorf("killing agent: %w", err))
	}
	<-a.exited
	return nil
}

// SendPrompt runs one prompt turn and returns the agent's text.
func (a *Agent) SendPrompt(ctx context.Context, text string) (agent.Outcome, error) {
	permissionCtx, permissionCancel := context.WithCancel(ctx)
	defer permissionCancel()

	var transcript strings.Builder
	a.mutex.Lock()
	if a.stopped {
		a.mutex.Unlock()
		return agent.Outcome{}, ErrClosed
	}
	sessionID := a.sessionID
	a.transcript = &transcript
	a.permissionCtx = permissionCtx
	a.permissionCancel = permissionCancel
	a.mutex.Unlock()

	var result promptResult
	err := a.conn.call(ctx, methodSessionPrompt, promptParams{
		SessionID: sessionID,
		Prompt:    []contentBlock{{Type: "text", Text: text}},
	}, &result)

	a.mutex.Lock()
	a.transcript = nil
	a.permissionCtx = nil
	a.permissionCancel = nil
	response := transcript.String()
	a.mutex.Unlock()

	if err != nil {
		return agent.Outcome{}, err
	}

	switch result.StopReason {
	case stopCancelled:
		return agent.Failed("cancelled"), nil
	case stopRefusal:
		return agent.Failed("The agent declined to continue."), nil
	}
	if response == "" {
		response = "(no response)"
	}
	if result.StopReason != stopEndTurn && result.StopReason != "" {
		response += fmt.Sprintf("\n\n(stopped: %s)", result.StopReason)
	}
	return agent.Succeeded(response), nil
}

// SendCommand sends a slash command. ACP agents receive commands as
// prompt text.
func (a *Agent) SendCommand(ctx context.Context, text string) (agent.Outcome, error) {
	return a.SendPrompt(ctx, text)
}

// CancelCurrentTask sends session/cancel and cancels any permission
// request the running turn is waiting on.
func (a *Agent) CancelCurrentTask() error {
	a.mutex.Lock()
	sessionID := a.sessionID
	if a.permissionCancel != nil {
		a.permissionCancel()
	}
	a.mutex.Unlock()

	if a.conn == nil || sessionID == "" {
		return nil
	}
	return a.conn.notify(methodSessionCancel, cancelParams{SessionID: sessionID})
}

// ModeState implements agent.Handle.
func (a *Agent) ModeState() agent.ModeState {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	state := a.modes
	state.Available = append([]agent.Mode(nil), state.Available...)
	return state
}

// ModelState implements agent.Handle.
func (a *Agent) ModelState() agent.ModelState {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	state := a.models
	state.Available = append([]agent.Model(nil), state.Available...)
	return state
}

// SetMode implements agent.Handle.
func (a *Agent) SetMode(ctx context.Context, modeID string) (agent.Outcome, error) {
	a.mutex.Lock()
	sessionID := a.sessionID
	name := modeID
	for _, mode := range a.modes.Available {
		if mode.ID == modeID {
			name = mode.Name
		}
	}
	a.mutex.Unlock()

	if err := a.conn.call(ctx, methodSessionSetMode, setModeParams{SessionID: sessionID, ModeID: modeID}, nil); err != nil {
		return agent.Outcome{}, err
	}

	a.mutex.Lock()
	a.modes.CurrentID = modeID
	a.mutex.Unlock()
	return agent.Succeeded("Mode set to " + name), nil
}

// SetModel implements agent.Handle.
func (a *Agent) SetModel(ctx context.Context, modelID string) (agent.Outcome, error) {
	a.mutex.Lock()
	sessionID := a.sessionID
	name := modelID
	for _, model := range a.models.Available {
		if model.ID == modelID {
			name = model.Name
		}
	}
	a.mutex.Unlock()

	if err := a.conn.call(ctx, methodSessionSetModel, setModelParams{SessionID: sessionID, ModelID: modelID}, nil); err != nil {
		return agent.Outcome{}, err
	}

	a.mutex.Lock()
	a.models.CurrentID = modelID
	a.mutex.Unlock()
	return agent.Succeeded("Model set to " + name), nil
}

func (a *Agent) handleNotification(method string, params json.RawMessage) {
	if method != methodSessionUpdate {
		a.logger.Debug("ignoring agent notification", "method", method)
		return
	}

	var notification sessionNotification
	if err := json.Unmarshal(params, &notification); err != nil {
		a.logger.Warn("malformed session/update", "error", err)
		return
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()
	switch notification.Update.SessionUpdate {
	case "agent_message_chunk":
		content := notification.Update.Content
		if a.transcript != nil && content != nil && content.Type == "text" {
			a.transcript.WriteString(content.Text)
		}
	case "current_mode_update":
		a.modes.CurrentID = notification.Update.CurrentModeID
	}
}

func (a *Agent) handleRequest(method string, params json.RawMessage) (any, *rpcError) {
	if method != methodRequestPermission {
		return nil, &rpcError{Code: codeMethodNotFound, Message: "method not found: " + method}
	}

	var request requestPermissionParams
	if err := json.Unmarshal(params, &request); err != nil {
		return nil, &rpcError{Code: codeInvalidParams, Message: err.Error()}
	}
	if a.permission == nil {
		return nil, &rpcError{Code: codeInternalError, Message: "client cannot answer permission requests"}
	}

	a.mutex.Lock()
	ctx := a.permissionCtx
	a.mutex.Unlock()
	if ctx == nil {
		// A request outside a prompt turn has nothing to attach to.
		return cancelledPermission(), nil
	}

	options := make([]agent.PermissionOption, len(request.Options))
	for index, option := range request.Options {
		options[index] = agent.PermissionOption{ID: option.OptionID, Label: option.Name, Kind: option.Kind}
	}
	title := request.ToolCall.Title
	if title == "" {
		title = "The agent wants to run a tool"
	}

	choice, err := a.permission(ctx, agent.PermissionRequest{
		Title:      title,
		ToolCallID: request.ToolCall.ToolCallID,
		Options:    options,
	})
	if err != nil || choice == agent.CancelOptionID {
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Info("permission request ended without an answer", "error", err)
		}
		return cancelledPermission(), nil
	}
	return requestPermissionResult{Outcome: permissionOutcome{Outcome: "selected", OptionID: choice}}, nil
}

func cancelledPermission() requestPermissionResult {
	return requestPermissionResult{Outcome: permissionOutcome{Outcome: "cancelled"}}
}
