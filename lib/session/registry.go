// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bureau-foundation/agentbridge/lib/agent"
	"github.com/bureau-foundation/agentbridge/lib/clock"
)

// DefaultInteractionTimeout applies when Config.InteractionTimeout is
// zero.
const DefaultInteractionTimeout = 300 * time.Second

// Config configures a Registry.
type Config struct {
	// ProjectPath is the initial working directory for new sessions.
	ProjectPath string

	// NewHandle builds the agent handle for each new session. Required.
	NewHandle agent.Factory

	// InteractionTimeout is how long an interaction waits before it is
	// auto-resolved. Zero means DefaultInteractionTimeout.
	InteractionTimeout time.Duration

	// StartTimeout bounds Handle.Start. Zero means no bound beyond the
	// caller's context.
	StartTimeout time.Duration

	// Clock drives interaction timeouts and timestamps. Nil means the
	// real clock.
	Clock clock.Clock

	// Logger receives registry logs. Nil discards them.
	Logger *slog.Logger
}

// Registry maps conversations to sessions. All methods are safe for
// concurrent use.
type Registry struct {
	newHandle          agent.Factory
	interactionTimeout time.Duration
	startTimeout       time.Duration
	clock              clock.Clock
	logger             *slog.Logger

	mutex       sync.Mutex
	projectPath string
	sessions    map[Key]*Session
	starting    map[Key]*startCall

	interactionSubscribers subscribers[InteractionNotice]
	resolutionSubscribers  subscribers[Resolution]
	completionSubscribers  subscribers[Completion]
}

// startCall is one in-flight session start-up, shared by every caller
// asking for the same key meanwhile.
type startCall struct {
	done    chan struct{}
	session *Session
	err     error

	// invalidated is set under the registry mutex by a reset that
	// happened while the start-up was running. The result is then
	// discarded and its handle stopped.
	invalidated bool
}

// NewRegistry creates an empty registry.
func NewRegistry(config Config) (*Registry, error) {
	if config.NewHandle == nil {
		return nil, fmt.Errorf("session registry requires an agent factory")
	}
	if config.InteractionTimeout <= 0 {
		config.InteractionTimeout = DefaultInteractionTimeout
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Registry{
		newHandle:          config.NewHandle,
		interactionTimeout: config.InteractionTimeout,
		startTimeout:       config.StartTimeout,
		clock:              config.Clock,
		logger:             config.Logger,
		projectPath:        config.ProjectPath,
		sessions:           make(map[Key]*Session),
		starting:           make(map[Key]*startCall),
	}, nil
}

// InteractionTimeout returns the configured auto-resolution timeout.
func (registry *Registry) InteractionTimeout() time.Duration {
	return registry.interactionTimeout
}

// ProjectPath returns the working directory new sessions use.
func (registry *Registry) ProjectPath() string {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	return registry.projectPath
}

// SwitchProject changes the working directory for new sessions and
// resets every existing session, since their agents run in the old
// directory.
func (registry *Registry) SwitchProject(projectPath string) int {
	registry.mutex.Lock()
	registry.projectPath = projectPath
	registry.mutex.Unlock()

	registry.logger.Info("project switched", "project_path", projectPath)
	return registry.ResetAllSessions()
}

// GetOrCreateSession returns the session for (userID, contextID) under
// the current project path, creating and starting its agent if needed.
// Concurrent callers for the same key share one start-up. A start-up
// failure is returned to every waiting caller and nothing is
// registered.
func (registry *Registry) GetOrCreateSession(ctx context.Context, userID, contextID string) (*Session, error) {
	registry.mutex.Lock()
	key := Key{UserID: userID, ContextID: contextID, ProjectPath: registry.projectPath}
	if session, ok := registry.sessions[key]; ok {
		registry.mutex.Unlock()
		return session, nil
	}
	if call, ok := registry.starting[key]; ok {
		registry.mutex.Unlock()
		select {
		case <-call.done:
			return call.session, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &startCall{done: make(chan struct{})}
	registry.starting[key] = call
	registry.mutex.Unlock()

	session, err := registry.startSession(ctx, key)

	registry.mutex.Lock()
	if registry.starting[key] == call {
		delete(registry.starting, key)
	}
	invalidated := call.invalidated
	if err == nil && !invalidated {
		registry.sessions[key] = session
	}
	registry.mutex.Unlock()

	if err == nil && invalidated {
		registry.stopSession(session, ResolvedReset)
		session = nil
		err = newError(ErrAgentUnavailable, "session for %s was reset during start-up", userID)
	}

	call.session, call.err = session, err
	close(call.done)
	return session, err
}

func (registry *Registry) startSession(ctx context.Context, key Key) (*Session, error) {
	session := newSession(uuid.NewString(), key, registry.clock.Now())
	logger := registry.logger.With(
		"session_id", session.ID,
		"user_id", key.UserID,
		"context_id", key.ContextID,
	)

	handle, err := registry.newHandle(agent.HandleConfig{
		SessionID:   session.ID,
		ProjectPath: key.ProjectPath,
		Permission: func(ctx context.Context, request agent.PermissionRequest) (string, error) {
			return registry.requestPermission(ctx, session, request)
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating agent: %w", ErrAgentUnavailable, err)
	}

	startContext := ctx
	if registry.startTimeout > 0 {
		var cancel context.CancelFunc
		startContext, cancel = context.WithTimeout(ctx, registry.startTimeout)
		defer cancel()
	}
	if err := handle.Start(startContext); err != nil {
		if stopErr := handle.Stop(); stopErr != nil {
			logger.Debug("stopping agent after failed start", "error", stopErr)
		}
		logger.Warn("agent start failed", "error", err)
		return nil, fmt.Errorf("%w: %w", ErrAgentUnavailable, err)
	}

	session.handle = handle
	session.modes = handle.ModeState()
	session.models = handle.ModelState()

	logger.Info("session created",
		"project_path", key.ProjectPath,
		"mode_id", session.modes.CurrentID,
		"model_id", session.models.CurrentID,
	)
	return session, nil
}

// GetSession looks up the session for (userID, contextID) under the
// current project path without creating one.
func (registry *Registry) GetSession(userID, contextID string) (*Session, bool) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	session, ok := registry.sessions[Key{UserID: userID, ContextID: contextID, ProjectPath: registry.projectPath}]
	return session, ok
}

// SessionByID finds a session by its id.
func (registry *Registry) SessionByID(sessionID string) (*Session, bool) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	for _, session := range registry.sessions {
		if session.ID == sessionID {
			return session, true
		}
	}
	return nil, false
}

// Sessions returns every registered session, oldest first.
func (registry *Registry) Sessions() []*Session {
	registry.mutex.Lock()
	sessions := make([]*Session, 0, len(registry.sessions))
	for _, session := range registry.sessions {
		sessions = append(sessions, session)
	}
	registry.mutex.Unlock()

	slices.SortFunc(sessions, func(a, b *Session) int {
		if order := a.CreatedAt.Compare(b.CreatedAt); order != 0 {
			return order
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return sessions
}

// ResetSession removes the session for (userID, contextID), stops its
// agent, rejects its pending interactions and discards its queued
// tasks. Resetting an unknown key does nothing. It reports whether a
// session was removed.
func (registry *Registry) ResetSession(userID, contextID string) bool {
	registry.mutex.Lock()
	key := Key{UserID: userID, ContextID: contextID, ProjectPath: registry.projectPath}
	session, ok := registry.sessions[key]
	if ok {
		delete(registry.sessions, key)
	}
	if call, starting := registry.starting[key]; starting {
		call.invalidated = true
		delete(registry.starting, key)
	}
	registry.mutex.Unlock()

	if !ok {
		return false
	}
	registry.stopSession(session, ResolvedReset)
	return true
}

// ResetAllSessions empties the registry and stops every agent. The map
// is swapped under the lock, so concurrent creators see either the old
// registry or an empty one. Start-ups in flight are invalidated.
// Agents are stopped concurrently and ResetAllSessions returns once
// all of them have stopped. It returns the number of sessions removed.
func (registry *Registry) ResetAllSessions() int {
	registry.mutex.Lock()
	previous := registry.sessions
	registry.sessions = make(map[Key]*Session)
	for _, call := range registry.starting {
		call.invalidated = true
	}
	registry.starting = make(map[Key]*startCall)
	registry.mutex.Unlock()

	var stopping sync.WaitGroup
	for _, session := range previous {
		stopping.Add(1)
		go func() {
			defer stopping.Done()
			registry.stopSession(session, ResolvedReset)
		}()
	}
	stopping.Wait()
	if len(previous) > 0 {
		registry.logger.Info("all sessions reset", "count", len(previous))
	}
	return len(previous)
}

// stopSession closes a session that is no longer registered: pending
// interactions are rejected, then the agent is stopped. Stop errors
// are logged, never returned.
func (registry *Registry) stopSession(session *Session, reason ResolutionReason) {
	handle, taken := session.close()
	for _, pending := range taken {
		registry.finish(session, pending, agent.CancelOptionID, reason)
	}
	if handle != nil {
		if err := handle.Stop(); err != nil {
			registry.logger.Warn("stopping agent", "session_id", session.ID, "error", err)
		}
	}
	registry.logger.Info("session reset", "session_id", session.ID, "user_id", session.Key.UserID)
}
