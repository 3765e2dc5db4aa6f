// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package mockagent provides a scripted in-process agent.
//
// The agent answers prompts without any external process:
//
//   - "trigger_permission" asks the human to allow or deny a mock tool
//     call and reports the decision ("Permission result: allow").
//   - "wait_for_cancel" runs until CancelCurrentTask or context
//     cancellation, then fails with "cancelled".
//   - anything else is echoed back as "Echo: <text>".
//
// Commands are answered as "Command: <text>". The agent offers two
// modes (default, plan) and two models (fast, smart).
//
// Tests use [Factory] hooks to block start-up or prompts, inject start
// failures, and count calls on each created [Agent].
package mockagent

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/agentbridge/lib/agent"
)

// Script keywords recognized by SendPrompt.
const (
	TriggerPermission = "trigger_permission"
	WaitForCancel     = "wait_for_cancel"
)

// Permission option ids offered by TriggerPermission.
const (
	OptionAllow = "allow"
	OptionDeny  = "deny"
)

// ErrStopped is returned by calls on an agent that has been stopped.
var ErrStopped = errors.New("mock agent stopped")

var modes = []agent.Mode{
	{ID: "default", Name: "Default", Description: "Ask before editing files"},
	{ID: "plan", Name: "Plan", Description: "Read-only planning"},
}

var models = []agent.Model{
	{ID: "fast", Name: "Fast", Description: "Lower latency"},
	{ID: "smart", Name: "Smart", Description: "Higher quality"},
}

// Factory builds mock agents and keeps every agent it built.
type Factory struct {
	// StartError, when set, is returned by every Start.
	StartError error

	// BeforeStart, when set, runs at the beginning of Start. A non-nil
	// error fails the start.
	BeforeStart func(ctx context.Context) error

	// BeforePrompt, when set, runs at the beginning of SendPrompt with
	// the prompt's context (cancelled by CancelCurrentTask).
	BeforePrompt func(ctx context.Context, text string)

	// BeforeStop, when set, runs at the beginning of Stop.
	BeforeStop func()

	mutex  sync.Mutex
	agents []*Agent
}

// New constructs an unstarted agent. It satisfies agent.Factory.
func (factory *Factory) New(config agent.HandleConfig) (agent.Handle, error) {
	mock := &Agent{
		factory: factory,
		config:  config,
		modeID:  modes[0].ID,
		modelID: models[0].ID,
	}
	factory.mutex.Lock()
	factory.agents = append(factory.agents, mock)
	factory.mutex.Unlock()
	return mock, nil
}

// Agents returns every agent built so far, in construction order.
func (factory *Factory) Agents() []*Agent {
	factory.mutex.Lock()
	defer factory.mutex.Unlock()
	return append([]*Agent(nil), factory.agents...)
}

// Stats counts calls on one agent.
type Stats struct {
	Starts   int
	Stops    int
	Prompts  int
	Commands int
	Cancels  int
}

// Agent is one scripted agent handle.
type Agent struct {
	factory *Factory
	config  agent.HandleConfig

	mutex         sync.Mutex
	stats         Stats
	started       bool
	stopped       bool
	modeID        string
	modelID       string
	cancelCurrent context.CancelFunc
	prompts       []string
}

// SessionID returns the session id the agent was built for.
func (mock *Agent) SessionID() string {
	return mock.config.SessionID
}

// Stats returns a snapshot of the call counters.
func (mock *Agent) Stats() Stats {
	mock.mutex.Lock()
	defer mock.mutex.Unlock()
	return mock.stats
}

// Prompts returns every prompt text received, in order.
func (mock *Agent) Prompts() []string {
	mock.mutex.Lock()
	defer mock.mutex.Unlock()
	return append([]string(nil), mock.prompts...)
}

// Start implements agent.Handle.
func (mock *Agent) Start(ctx context.Context) error {
	mock.mutex.Lock()
	mock.stats.Starts++
	mock.mutex.Unlock()

	if mock.factory.BeforeStart != nil {
		if err := mock.factory.BeforeStart(ctx); err != nil {
			return err
		}
	}
	if mock.factory.StartError != nil {
		return mock.factory.StartError
	}

	mock.mutex.Lock()
	defer mock.mutex.Unlock()
	if mock.stopped {
		return ErrStopped
	}
	mock.started = true
	return nil
}

// Stop implements agent.Handle.
func (mock *Agent) Stop() error {
	if mock.factory.BeforeStop != nil {
		mock.factory.BeforeStop()
	}
	mock.mutex.Lock()
	defer mock.mutex.Unlock()
	mock.stats.Stops++
	mock.stopped = true
	if mock.cancelCurrent != nil {
		mock.cancelCurrent()
	}
	return nil
}

// SendPrompt implements agent.Handle.
func (mock *Agent) SendPrompt(ctx context.Context, text string) (agent.Outcome, error) {
	promptContext, cancel := context.WithCancel(ctx)
	defer cancel()

	mock.mutex.Lock()
	if mock.stopped {
		mock.mutex.Unlock()
		return agent.Outcome{}, ErrStopped
	}
	mock.stats.Prompts++
	mock.prompts = append(mock.prompts, text)
	mock.cancelCurrent = cancel
	mock.mutex.Unlock()

	defer func() {
		mock.mutex.Lock()
		mock.cancelCurrent = nil
		mock.mutex.Unlock()
	}()

	if mock.factory.BeforePrompt != nil {
		mock.factory.BeforePrompt(promptContext, text)
	}
	if promptContext.Err() != nil {
		return agent.Failed("cancelled"), nil
	}

	switch text {
	case TriggerPermission:
		return mock.askPermission(promptContext)
	case WaitForCancel:
		<-promptContext.Done()
		return agent.Failed("cancelled"), nil
	default:
		return agent.Succeeded("Echo: " + text), nil
	}
}

func (mock *Agent) askPermission(ctx context.Context) (agent.Outcome, error) {
	if mock.config.Permission == nil {
		return agent.Outcome{}, fmt.Errorf("mock agent has no permission handler")
	}

	choice, err := mock.config.Permission(ctx, agent.PermissionRequest{
		Title:      "Allow mock tool call?",
		ToolCallID: "mock-tool-1",
		Options: []agent.PermissionOption{
			{ID: OptionAllow, Label: "Allow", Kind: "allow_once"},
			{ID: OptionDeny, Label: "Deny", Kind: "reject_once"},
		},
	})
	if err != nil {
		return agent.Outcome{}, fmt.Errorf("permission request: %w", err)
	}
	if choice == agent.CancelOptionID {
		return agent.Failed("cancelled"), nil
	}
	return agent.Succeeded("Permission result: " + choice), nil
}

// SendCommand implements agent.Handle.
func (mock *Agent) SendCommand(ctx context.Context, text string) (agent.Outcome, error) {
	mock.mutex.Lock()
	defer mock.mutex.Unlock()
	if mock.stopped {
		return agent.Outcome{}, ErrStopped
	}
	mock.stats.Commands++
	return agent.Succeeded("Command: " + text), nil
}

// CancelCurrentTask implements agent.Handle.
func (mock *Agent) CancelCurrentTask() error {
	mock.mutex.Lock()
	defer mock.mutex.Unlock()
	mock.stats.Cancels++
	if mock.cancelCurrent != nil {
		mock.cancelCurrent()
	}
	return nil
}

// ModeState implements agent.Handle.
func (mock *Agent) ModeState() agent.ModeState {
	mock.mutex.Lock()
	defer mock.mutex.Unlock()
	return agent.ModeState{
		Available: append([]agent.Mode(nil), modes...),
		CurrentID: mock.modeID,
	}
}

// ModelState implements agent.Handle.
func (mock *Agent) ModelState() agent.ModelState {
	mock.mutex.Lock()
	defer mock.mutex.Unlock()
	return agent.ModelState{
		Available: append([]agent.Model(nil), models...),
		CurrentID: mock.modelID,
	}
}

// SetMode implements agent.Handle.
func (mock *Agent) SetMode(ctx context.Context, modeID string) (agent.Outcome, error) {
	mock.mutex.Lock()
	defer mock.mutex.Unlock()
	for _, mode := range modes {
		if mode.ID == modeID {
			mock.modeID = modeID
			return agent.Succeeded("Mode set to " + mode.Name), nil
		}
	}
	return agent.Failed("Unknown mode: " + modeID), nil
}

// SetModel implements agent.Handle.
func (mock *Agent) SetModel(ctx context.Context, modelID string) (agent.Outcome, error) {
	mock.mutex.Lock()
	defer mock.mutex.Unlock()
	for _, model := range models {
		if model.ID == modelID {
			mock.modelID = modelID
			return agent.Succeeded("Model set to " + model.Name), nil
		}
	}
	return agent.Failed("Unknown model: " + modelID), nil
}
