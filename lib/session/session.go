// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
	"time"

	"github.com/bureau-foundation/agentbridge/lib/agent"
)

// Key identifies a session. An empty ContextID is a key of its own;
// there is no wildcard matching.
type Key struct {
	UserID      string `json:"user_id" cbor:"user_id"`
	ContextID   string `json:"context_id" cbor:"context_id"`
	ProjectPath string `json:"project_path" cbor:"project_path"`
}

// Session is one conversation's agent and queue. The ID, Key and
// CreatedAt fields never change after creation.
type Session struct {
	ID        string
	Key       Key
	CreatedAt time.Time

	// ctx is passed to every agent call and cancelled on reset.
	ctx    context.Context
	cancel context.CancelFunc

	// mutex guards everything below. It is the gate for queue
	// decisions and the single-fire lock for interactions.
	mutex sync.Mutex

	handle agent.Handle
	closed bool

	pending    []*Task
	current    *Task
	processing bool

	interactions     map[string]*pendingInteraction
	interactionOrder []string

	modes  agent.ModeState
	models agent.ModelState

	// changed is closed and replaced each time the session may have
	// become idle.
	changed chan struct{}
}

func newSession(id string, key Key, createdAt time.Time) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ID:           id,
		Key:          key,
		CreatedAt:    createdAt,
		ctx:          ctx,
		cancel:       cancel,
		interactions: make(map[string]*pendingInteraction),
		changed:      make(chan struct{}),
	}
}

// Handle returns the session's agent handle, or nil once the session
// has been reset.
func (session *Session) Handle() agent.Handle {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.handle
}

// Closed reports whether the session has been reset.
func (session *Session) Closed() bool {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.closed
}

// ModeState returns the mode inventory captured at start-up with the
// current mode id kept up to date by mode selections.
func (session *Session) ModeState() agent.ModeState {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	state := session.modes
	state.Available = append([]agent.Mode(nil), state.Available...)
	return state
}

// ModelState is the model counterpart of ModeState.
func (session *Session) ModelState() agent.ModelState {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	state := session.models
	state.Available = append([]agent.Model(nil), state.Available...)
	return state
}

// PendingInteractions returns the unresolved interactions, oldest
// first.
func (session *Session) PendingInteractions() []Interaction {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return session.pendingInteractionsLocked()
}

func (session *Session) pendingInteractionsLocked() []Interaction {
	interactions := make([]Interaction, 0, len(session.interactionOrder))
	for _, requestID := range session.interactionOrder {
		interactions = append(interactions, session.interactions[requestID].Interaction.clone())
	}
	return interactions
}

// OldestInteraction returns the earliest unresolved interaction.
func (session *Session) OldestInteraction() (Interaction, bool) {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	if len(session.interactionOrder) == 0 {
		return Interaction{}, false
	}
	return session.interactions[session.interactionOrder[0]].Interaction.clone(), true
}

// HasPendingInteractions reports whether any interaction is waiting.
func (session *Session) HasPendingInteractions() bool {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	return len(session.interactionOrder) > 0
}

// WaitIdle blocks until the session has no running or queued task and
// no unanswered interaction, or has been reset. It returns ctx.Err() if
// ctx ends first.
func (session *Session) WaitIdle(ctx context.Context) error {
	for {
		session.mutex.Lock()
		idle := session.idleLocked()
		changed := session.changed
		session.mutex.Unlock()
		if idle {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (session *Session) idleLocked() bool {
	if session.closed {
		return true
	}
	return !session.processing && len(session.pending) == 0 && len(session.interactionOrder) == 0
}

// signalLocked wakes WaitIdle callers so they re-check. The caller
// must hold session.mutex.
func (session *Session) signalLocked() {
	close(session.changed)
	session.changed = make(chan struct{})
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	ID           string        `json:"id" cbor:"id"`
	Key          Key           `json:"key" cbor:"key"`
	CreatedAt    time.Time     `json:"created_at" cbor:"created_at"`
	Processing   bool          `json:"processing" cbor:"processing"`
	Current      *Task         `json:"current,omitempty" cbor:"current,omitempty"`
	Pending      []Task        `json:"pending" cbor:"pending"`
	Interactions []Interaction `json:"interactions" cbor:"interactions"`
	ModeID       string        `json:"mode_id,omitempty" cbor:"mode_id,omitempty"`
	ModelID      string        `json:"model_id,omitempty" cbor:"model_id,omitempty"`
}

// Status returns a snapshot of the session's queue and interactions.
func (session *Session) Status() Status {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	status := Status{
		ID:           session.ID,
		Key:          session.Key,
		CreatedAt:    session.CreatedAt,
		Processing:   session.processing,
		Pending:      make([]Task, 0, len(session.pending)),
		Interactions: session.pendingInteractionsLocked(),
		ModeID:       session.modes.CurrentID,
		ModelID:      session.models.CurrentID,
	}
	if session.current != nil {
		current := *session.current
		status.Current = &current
	}
	for _, task := range session.pending {
		status.Pending = append(status.Pending, *task)
	}
	return status
}

// takeInteractionLocked removes an interaction and returns it with its timer.
// Exactly one caller can take a given interaction. The caller must
// hold session.mutex.
func (session *Session) takeInteractionLocked(requestID string) (*pendingInteraction, bool) {
	pending, ok := session.interactions[requestID]
	if !ok {
		return nil, false
	}
	delete(session.interactions, requestID)
	for index, id := range session.interactionOrder {
		if id == requestID {
			session.interactionOrder = append(session.interactionOrder[:index:index], session.interactionOrder[index+1:]...)
			break
		}
	}
	session.signalLocked()
	return pending, true
}

// takeAllInteractionsLocked removes every interaction, oldest first.
// The caller must hold session.mutex.
func (session *Session) takeAllInteractionsLocked() []*pendingInteraction {
	taken := make([]*pendingInteraction, 0, len(session.interactionOrder))
	for _, requestID := range session.interactionOrder {
		taken = append(taken, session.interactions[requestID])
	}
	session.interactions = make(map[string]*pendingInteraction)
	session.interactionOrder = nil
	session.signalLocked()
	return taken
}

// close marks the session reset, discards queued tasks and removes all
// interactions. It returns the handle to stop and the interactions to
// settle; both must be handled by the caller after unlocking.
func (session *Session) close() (agent.Handle, []*pendingInteraction) {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	if session.closed {
		return nil, nil
	}
	session.closed = true
	session.pending = nil
	handle := session.handle
	session.handle = nil
	taken := session.takeAllInteractionsLocked()
	session.cancel()
	return handle, taken
}
