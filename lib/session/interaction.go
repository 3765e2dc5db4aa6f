// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/agentbridge/lib/agent"
	"github.com/bureau-foundation/agentbridge/lib/clock"
)

// InteractionType classifies what an interaction is asking.
type InteractionType string

const (
	InteractionPermission     InteractionType = "permission"
	InteractionModeSelection  InteractionType = "mode_selection"
	InteractionModelSelection InteractionType = "model_selection"
	InteractionRepoSelection  InteractionType = "repo_selection"
)

// ResolutionReason records which path settled an interaction.
type ResolutionReason string

const (
	// ResolvedExplicit: a user picked an option.
	ResolvedExplicit ResolutionReason = "explicit"
	// ResolvedTimeout: nobody answered before the timeout.
	ResolvedTimeout ResolutionReason = "timeout"
	// ResolvedCancel: superseded by a new instruction, or the waiting
	// prompt went away.
	ResolvedCancel ResolutionReason = "cancel"
	// ResolvedReset: the session was reset.
	ResolvedReset ResolutionReason = "reset"
)

// defaultDenyFallback is returned by timed-out permission requests
// that offered no options at all.
const defaultDenyFallback = "deny"

// Interaction is a question waiting for a human.
type Interaction struct {
	RequestID  string                   `json:"request_id" cbor:"request_id"`
	Type       InteractionType          `json:"type" cbor:"type"`
	Title      string                   `json:"title" cbor:"title"`
	ToolCallID string                   `json:"tool_call_id,omitempty" cbor:"tool_call_id,omitempty"`
	Options    []agent.PermissionOption `json:"options" cbor:"options"`
	CreatedAt  time.Time                `json:"created_at" cbor:"created_at"`
}

func (interaction Interaction) clone() Interaction {
	interaction.Options = append([]agent.PermissionOption(nil), interaction.Options...)
	return interaction
}

// ValidOptions describes the accepted answers, e.g. "allow, deny or
// 0-1".
func (interaction Interaction) ValidOptions() string {
	if len(interaction.Options) == 0 {
		return "none"
	}
	ids := make([]string, len(interaction.Options))
	for index, option := range interaction.Options {
		ids[index] = option.ID
	}
	return fmt.Sprintf("%s or 0-%d", strings.Join(ids, ", "), len(interaction.Options)-1)
}

// match maps an option id or zero-based index to an option. Exact id
// matches take precedence over index interpretation.
func (interaction Interaction) match(optionIDOrIndex string) (agent.PermissionOption, bool) {
	for _, option := range interaction.Options {
		if option.ID == optionIDOrIndex {
			return option, true
		}
	}
	index, err := strconv.Atoi(optionIDOrIndex)
	if err != nil || index < 0 || index >= len(interaction.Options) {
		return agent.PermissionOption{}, false
	}
	return interaction.Options[index], true
}

// labelFor returns the display label of optionID, or optionID itself.
func (interaction Interaction) labelFor(optionID string) string {
	for _, option := range interaction.Options {
		if option.ID == optionID {
			return option.DisplayLabel()
		}
	}
	return optionID
}

// DefaultDenyOption is the option a timed-out permission request
// resolves to: the first option whose label (or id, when unlabelled)
// contains "deny" or "cancel" case-insensitively, else the first
// option the agent classified as a reject kind, else the first
// option, else "deny". Only the last two fallbacks can grant access,
// and only when the agent offered nothing that refuses.
func DefaultDenyOption(options []agent.PermissionOption) string {
	for _, option := range options {
		label := strings.ToLower(option.DisplayLabel())
		if strings.Contains(label, "deny") || strings.Contains(label, "cancel") {
			return option.ID
		}
	}
	for _, option := range options {
		if strings.HasPrefix(option.Kind, "reject") {
			return option.ID
		}
	}
	if len(options) > 0 {
		return options[0].ID
	}
	return defaultDenyFallback
}

// Resolution describes how an interaction settled.
type Resolution struct {
	SessionID string           `json:"session_id" cbor:"session_id"`
	UserID    string           `json:"user_id" cbor:"user_id"`
	ContextID string           `json:"context_id" cbor:"context_id"`
	RequestID string           `json:"request_id" cbor:"request_id"`
	Type      InteractionType  `json:"type" cbor:"type"`
	OptionID  string           `json:"option_id" cbor:"option_id"`
	Label     string           `json:"label" cbor:"label"`
	Reason    ResolutionReason `json:"reason" cbor:"reason"`

	// Outcome is set for selections, whose continuation applies the
	// choice (e.g. switches the mode) before the resolution returns.
	Outcome *agent.Outcome `json:"outcome,omitempty" cbor:"outcome,omitempty"`
}

// pendingInteraction is an Interaction with its continuation. settle
// runs at most once, on the goroutine that took the interaction.
type pendingInteraction struct {
	Interaction
	settle func(optionID string, reason ResolutionReason) *agent.Outcome
	timer  *clock.Timer
}

// SelectionRequest describes a bridge-initiated choice.
type SelectionRequest struct {
	Type    InteractionType
	Title   string
	Options []agent.PermissionOption

	// Apply runs when an option other than the cancel option is
	// chosen. Its outcome is reported in the Resolution.
	Apply func(ctx context.Context, optionID string) agent.Outcome
}

// permissionResult is what a settled permission request hands back to
// the blocked agent call.
type permissionResult struct {
	optionID string
	err      error
}

// requestPermission is the agent.PermissionFunc bound to a session. It
// blocks until the interaction settles or ctx ends.
func (registry *Registry) requestPermission(ctx context.Context, session *Session, request agent.PermissionRequest) (string, error) {
	results := make(chan permissionResult, 1)
	pending := &pendingInteraction{
		Interaction: Interaction{
			RequestID:  uuid.NewString(),
			Type:       InteractionPermission,
			Title:      request.Title,
			ToolCallID: request.ToolCallID,
			Options:    append([]agent.PermissionOption(nil), request.Options...),
			CreatedAt:  registry.clock.Now(),
		},
		settle: func(optionID string, reason ResolutionReason) *agent.Outcome {
			if reason == ResolvedReset {
				results <- permissionResult{err: ErrSessionClosed}
			} else {
				results <- permissionResult{optionID: optionID}
			}
			return nil
		},
	}

	if err := registry.store(session, pending, false); err != nil {
		return "", err
	}

	select {
	case result := <-results:
		return result.optionID, result.err
	case <-ctx.Done():
		// The waiting prompt went away. If nobody else settled the
		// interaction yet, settle it as cancelled; otherwise the
		// result is already on its way.
		if registry.finishIfPending(session, pending.RequestID, agent.CancelOptionID, ResolvedCancel) {
			return "", ctx.Err()
		}
		result := <-results
		return result.optionID, result.err
	}
}

// TriggerSelection stores a bridge-initiated selection. It fails with
// ErrBusy when the session already has a pending interaction. A
// trailing cancel option is appended; timeouts resolve to it.
func (registry *Registry) TriggerSelection(session *Session, request SelectionRequest) (Interaction, error) {
	if len(request.Options) == 0 {
		return Interaction{}, newError(ErrNoOptions, "%s: nothing to choose from", request.Type)
	}

	options := append([]agent.PermissionOption(nil), request.Options...)
	options = append(options, agent.PermissionOption{ID: agent.CancelOptionID, Label: "Cancel"})

	sessionContext := session.ctx
	pending := &pendingInteraction{
		Interaction: Interaction{
			RequestID: uuid.NewString(),
			Type:      request.Type,
			Title:     request.Title,
			Options:   options,
			CreatedAt: registry.clock.Now(),
		},
		settle: func(optionID string, reason ResolutionReason) *agent.Outcome {
			var outcome agent.Outcome
			switch {
			case reason == ResolvedReset:
				outcome = agent.Failed("Selection cancelled: session was reset")
			case optionID == agent.CancelOptionID:
				outcome = agent.Failed("Selection cancelled")
			default:
				outcome = request.Apply(sessionContext, optionID)
			}
			return &outcome
		},
	}

	if err := registry.store(session, pending, true); err != nil {
		return Interaction{}, err
	}
	return pending.Interaction.clone(), nil
}

// TriggerModeSelection offers the agent's modes. Choosing one switches
// the agent and updates the session's current mode.
func (registry *Registry) TriggerModeSelection(session *Session) (Interaction, error) {
	state := session.ModeState()
	options := make([]agent.PermissionOption, 0, len(state.Available))
	for _, mode := range state.Available {
		options = append(options, agent.PermissionOption{ID: mode.ID, Label: markCurrent(mode.Name, mode.ID == state.CurrentID)})
	}
	if len(options) == 0 {
		return Interaction{}, newError(ErrNoOptions, "the agent does not offer modes")
	}

	return registry.TriggerSelection(session, SelectionRequest{
		Type:    InteractionModeSelection,
		Title:   "Select a mode",
		Options: options,
		Apply: func(ctx context.Context, modeID string) agent.Outcome {
			return registry.SetMode(ctx, session, modeID)
		},
	})
}

// TriggerModelSelection offers the agent's models.
func (registry *Registry) TriggerModelSelection(session *Session) (Interaction, error) {
	state := session.ModelState()
	options := make([]agent.PermissionOption, 0, len(state.Available))
	for _, model := range state.Available {
		options = append(options, agent.PermissionOption{ID: model.ID, Label: markCurrent(model.Name, model.ID == state.CurrentID)})
	}
	if len(options) == 0 {
		return Interaction{}, newError(ErrNoOptions, "the agent does not offer model selection")
	}

	return registry.TriggerSelection(session, SelectionRequest{
		Type:    InteractionModelSelection,
		Title:   "Select a model",
		Options: options,
		Apply: func(ctx context.Context, modelID string) agent.Outcome {
			return registry.SetModel(ctx, session, modelID)
		},
	})
}

func markCurrent(label string, current bool) string {
	if current {
		return label + " (current)"
	}
	return label
}

// SetMode switches the session's agent to modeID and records it on
// success.
func (registry *Registry) SetMode(ctx context.Context, session *Session, modeID string) agent.Outcome {
	handle := session.Handle()
	if handle == nil {
		return agent.Failed("Agent unavailable")
	}
	outcome, err := handle.SetMode(ctx, modeID)
	if err != nil {
		return agent.Failed("Failed to set mode: " + err.Error())
	}
	if outcome.Success {
		session.mutex.Lock()
		session.modes.CurrentID = modeID
		session.mutex.Unlock()
	}
	return outcome
}

// SetModel switches the session's agent to modelID and records it on
// success.
func (registry *Registry) SetModel(ctx context.Context, session *Session, modelID string) agent.Outcome {
	handle := session.Handle()
	if handle == nil {
		return agent.Failed("Agent unavailable")
	}
	outcome, err := handle.SetModel(ctx, modelID)
	if err != nil {
		return agent.Failed("Failed to set model: " + err.Error())
	}
	if outcome.Success {
		session.mutex.Lock()
		session.models.CurrentID = modelID
		session.mutex.Unlock()
	}
	return outcome
}

// store registers an interaction, announces it, and arms its timeout.
// The timer is armed only after the interaction is stored, so a
// timeout can never fire for an interaction that does not exist.
func (registry *Registry) store(session *Session, pending *pendingInteraction, requireIdle bool) error {
	session.mutex.Lock()
	if session.closed {
		session.mutex.Unlock()
		return newError(ErrSessionClosed, "session %s was reset", session.ID)
	}
	if requireIdle && len(session.interactionOrder) > 0 {
		session.mutex.Unlock()
		return newError(ErrBusy, "another request is pending; answer it first")
	}
	session.interactions[pending.RequestID] = pending
	session.interactionOrder = append(session.interactionOrder, pending.RequestID)
	session.mutex.Unlock()

	registry.logger.Info("interaction pending",
		"session_id", session.ID,
		"request_id", pending.RequestID,
		"type", pending.Type,
		"options", len(pending.Options),
	)
	registry.notifyInteraction(InteractionNotice{
		SessionID:   session.ID,
		UserID:      session.Key.UserID,
		ContextID:   session.Key.ContextID,
		Interaction: pending.Interaction.clone(),
	})

	requestID := pending.RequestID
	timer := registry.clock.AfterFunc(registry.interactionTimeout, func() {
		registry.expire(session, requestID)
	})

	session.mutex.Lock()
	if current, ok := session.interactions[requestID]; ok && current == pending {
		pending.timer = timer
		session.mutex.Unlock()
		return nil
	}
	session.mutex.Unlock()
	timer.Stop()
	return nil
}

// expire is the timeout path.
func (registry *Registry) expire(session *Session, requestID string) {
	session.mutex.Lock()
	pending, ok := session.takeInteractionLocked(requestID)
	session.mutex.Unlock()
	if !ok {
		return
	}

	optionID := agent.CancelOptionID
	if pending.Type == InteractionPermission {
		optionID = DefaultDenyOption(pending.Options)
	}
	registry.logger.Info("interaction timed out, applying default",
		"session_id", session.ID,
		"request_id", requestID,
		"type", pending.Type,
		"option_id", optionID,
		"timeout", registry.interactionTimeout,
	)
	registry.finish(session, pending, optionID, ResolvedTimeout)
}

// finishIfPending settles requestID if it is still pending. It reports
// whether this call did the settling.
func (registry *Registry) finishIfPending(session *Session, requestID, optionID string, reason ResolutionReason) bool {
	session.mutex.Lock()
	pending, ok := session.takeInteractionLocked(requestID)
	session.mutex.Unlock()
	if !ok {
		return false
	}
	registry.finish(session, pending, optionID, reason)
	return true
}

// finish stops the timer, runs the continuation and announces the
// resolution. Only the goroutine that took the interaction calls it.
func (registry *Registry) finish(session *Session, pending *pendingInteraction, optionID string, reason ResolutionReason) Resolution {
	pending.timer.Stop()

	outcome := pending.settle(optionID, reason)
	resolution := Resolution{
		SessionID: session.ID,
		UserID:    session.Key.UserID,
		ContextID: session.Key.ContextID,
		RequestID: pending.RequestID,
		Type:      pending.Type,
		OptionID:  optionID,
		Label:     pending.labelFor(optionID),
		Reason:    reason,
		Outcome:   outcome,
	}

	registry.logger.Debug("interaction resolved",
		"session_id", session.ID,
		"request_id", pending.RequestID,
		"option_id", optionID,
		"reason", reason,
	)
	registry.notifyResolution(resolution)
	return resolution
}

// ResolveInteraction answers a pending interaction. optionIDOrIndex is
// matched against option ids first, then as a zero-based index. An
// interaction that already settled by any path is ErrNotFound.
func (registry *Registry) ResolveInteraction(sessionID, requestID, optionIDOrIndex string) (Resolution, error) {
	session, ok := registry.SessionByID(sessionID)
	if !ok {
		return Resolution{}, newError(ErrNotFound, "session %s not found", sessionID)
	}

	session.mutex.Lock()
	pending, ok := session.interactions[requestID]
	if !ok {
		session.mutex.Unlock()
		return Resolution{}, newError(ErrNotFound, "interaction %s not found or expired", requestID)
	}
	option, ok := pending.match(optionIDOrIndex)
	if !ok {
		session.mutex.Unlock()
		return Resolution{}, newError(ErrInvalidOption, "invalid option %q for interaction %s; valid options: %s",
			optionIDOrIndex, requestID, pending.ValidOptions())
	}
	session.takeInteractionLocked(requestID)
	session.mutex.Unlock()

	return registry.finish(session, pending, option.ID, ResolvedExplicit), nil
}

// ResolveOldest answers the session's oldest pending interaction.
func (registry *Registry) ResolveOldest(session *Session, optionIDOrIndex string) (Resolution, error) {
	oldest, ok := session.OldestInteraction()
	if !ok {
		return Resolution{}, newError(ErrNotFound, "no pending request to answer")
	}
	return registry.ResolveInteraction(session.ID, oldest.RequestID, optionIDOrIndex)
}

// CancelInteractions settles every pending interaction of the session
// with the cancel option, oldest first, and returns how many there
// were. Blocked permission requests see agent.CancelOptionID.
func (registry *Registry) CancelInteractions(session *Session) int {
	session.mutex.Lock()
	taken := session.takeAllInteractionsLocked()
	session.mutex.Unlock()

	for _, pending := range taken {
		registry.finish(session, pending, agent.CancelOptionID, ResolvedCancel)
	}
	return len(taken)
}
