// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"log/slog"
)

// Outcome is the user-facing result of a prompt, command or setting
// change.
type Outcome struct {
	Success bool   `json:"success" cbor:"success"`
	Message string `json:"message" cbor:"message"`
}

// Succeeded returns a successful Outcome.
func Succeeded(message string) Outcome {
	return Outcome{Success: true, Message: message}
}

// Failed returns a failed Outcome.
func Failed(message string) Outcome {
	return Outcome{Success: false, Message: message}
}

// Mode is one operating mode the agent offers (e.g. "default", "plan").
type Mode struct {
	ID          string `json:"id" cbor:"id"`
	Name        string `json:"name" cbor:"name"`
	Description string `json:"description,omitempty" cbor:"description,omitempty"`
}

// ModeState is the agent's mode inventory and the active mode.
type ModeState struct {
	Available []Mode `json:"available" cbor:"available"`
	CurrentID string `json:"current_id" cbor:"current_id"`
}

// Model is one model the agent can run with.
type Model struct {
	ID          string `json:"id" cbor:"id"`
	Name        string `json:"name" cbor:"name"`
	Description string `json:"description,omitempty" cbor:"description,omitempty"`
}

// ModelState is the agent's model inventory and the active model.
type ModelState struct {
	Available []Model `json:"available" cbor:"available"`
	CurrentID string  `json:"current_id" cbor:"current_id"`
}

// Handle is one session's connection to its agent process.
//
// The session registry guarantees that SendPrompt and SendCommand are
// never called concurrently on one handle. CancelCurrentTask, Stop and
// the state accessors may be called from other goroutines at any time.
type Handle interface {
	// Start launches or connects to the agent. A handle that failed to
	// start must not be used.
	Start(ctx context.Context) error

	// Stop terminates the agent. Errors are informational; the handle
	// is unusable afterwards either way.
	Stop() error

	// SendPrompt runs one prompt to completion. It may invoke the
	// handle's PermissionFunc any number of times before returning.
	SendPrompt(ctx context.Context, text string) (Outcome, error)

	// SendCommand passes an agent-side slash command through.
	SendCommand(ctx context.Context, text string) (Outcome, error)

	// CancelCurrentTask asks the agent to abandon the running prompt.
	// It is best-effort and does not wait for the agent to comply.
	CancelCurrentTask() error

	// ModeState returns the mode inventory. Empty when the agent
	// offers no modes.
	ModeState() ModeState

	// ModelState returns the model inventory. Empty when the agent
	// offers no model choice.
	ModelState() ModelState

	// SetMode switches the active mode.
	SetMode(ctx context.Context, modeID string) (Outcome, error)

	// SetModel switches the active model.
	SetModel(ctx context.Context, modelID string) (Outcome, error)
}

// HandleConfig is what a Factory receives for each new session.
type HandleConfig struct {
	// SessionID is the bridge session's id, for logging and process
	// naming.
	SessionID string

	// ProjectPath is the working directory for the agent.
	ProjectPath string

	// Permission is called by the handle whenever the agent needs a
	// human decision. It blocks until resolved.
	Permission PermissionFunc

	// Logger is scoped to the session.
	Logger *slog.Logger
}

// Factory constructs an unstarted Handle.
type Factory func(config HandleConfig) (Handle, error)
