// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"

	"github.com/bureau-foundation/agentbridge/lib/agent"
)

// Ack is the immediate answer to Enqueue.
type Ack struct {
	TaskID string

	// Immediate is true when the task started right away.
	Immediate bool

	// Position is the 1-based queue position for a queued task.
	Position int

	// Message is shown to the user for queued or rejected tasks. Empty
	// when the task started immediately.
	Message string

	// Rejected is true when the session was already reset.
	Rejected bool
}

// QueueStatus is a snapshot of one session's queue.
type QueueStatus struct {
	Processing bool
	Current    *Task
	Pending    []Task
}

// TaskQueue runs each session's tasks one at a time in arrival order.
// Sessions are independent: there is no ordering or fairness across
// them.
type TaskQueue struct {
	registry *Registry
}

// NewTaskQueue creates a queue that reports completions through the
// registry's completion subscribers.
func NewTaskQueue(registry *Registry) *TaskQueue {
	return &TaskQueue{registry: registry}
}

// Enqueue adds a task to the session. If the session is idle the task
// starts immediately on a new goroutine; otherwise it is appended. The
// idle check and the state change happen under the session mutex, so
// at most one task per session is ever executing.
func (queue *TaskQueue) Enqueue(session *Session, content string, kind TaskKind) Ack {
	task := &Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		Content:   content,
		CreatedAt: queue.registry.clock.Now(),
	}

	session.mutex.Lock()
	if session.closed {
		session.mutex.Unlock()
		return Ack{TaskID: task.ID, Rejected: true, Message: "Session was reset; send the message again"}
	}
	if !session.processing {
		session.processing = true
		session.current = task
		session.mutex.Unlock()

		queue.registry.logger.Debug("task started",
			"session_id", session.ID,
			"task_id", task.ID,
			"kind", kind,
		)
		go queue.process(session, task)
		return Ack{TaskID: task.ID, Immediate: true}
	}
	session.pending = append(session.pending, task)
	position := len(session.pending)
	session.mutex.Unlock()

	queue.registry.logger.Debug("task queued",
		"session_id", session.ID,
		"task_id", task.ID,
		"position", position,
	)
	return Ack{
		TaskID:   task.ID,
		Position: position,
		Message:  fmt.Sprintf("Queued at position %d", position),
	}
}

// process executes one task, reports its completion, and advances the
// queue. The deferred advance is the only place the queue moves on.
func (queue *TaskQueue) process(session *Session, task *Task) {
	defer queue.advance(session)

	outcome := queue.execute(session, task)

	if !outcome.Success {
		queue.registry.logger.Info("task failed",
			"session_id", session.ID,
			"task_id", task.ID,
			"message", outcome.Message,
		)
	}
	queue.registry.notifyCompletion(Completion{
		SessionID: session.ID,
		UserID:    session.Key.UserID,
		ContextID: session.Key.ContextID,
		Task:      *task,
		Outcome:   outcome,
	})
}

// execute runs the task against the agent. Every failure, including a
// panic in the handle, becomes a failed outcome.
func (queue *TaskQueue) execute(session *Session, task *Task) (outcome agent.Outcome) {
	defer func() {
		if recovered := recover(); recovered != nil {
			queue.registry.logger.Error("agent handle panicked",
				"session_id", session.ID,
				"task_id", task.ID,
				"panic", recovered,
				"stack", string(debug.Stack()),
			)
			outcome = agent.Failed(fmt.Sprintf("Task failed: %v", recovered))
		}
	}()

	handle := session.Handle()
	if handle == nil {
		return agent.Failed("Agent unavailable: the session was reset")
	}

	var err error
	switch task.Kind {
	case TaskCommand:
		outcome, err = handle.SendCommand(session.ctx, task.Content)
	default:
		outcome, err = handle.SendPrompt(session.ctx, task.Content)
	}
	if err != nil {
		return agent.Failed("Task failed: " + err.Error())
	}
	return outcome
}

// advance starts the next pending task, or marks the session idle.
// processing is cleared only after observing an empty queue, under
// the same lock Enqueue uses for its idle check.
func (queue *TaskQueue) advance(session *Session) {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	if len(session.pending) > 0 {
		next := session.pending[0]
		session.pending[0] = nil
		session.pending = session.pending[1:]
		session.current = next
		go queue.process(session, next)
		return
	}
	session.current = nil
	session.processing = false
	session.signalLocked()
}

// Status returns the session's queue state.
func (queue *TaskQueue) Status(session *Session) QueueStatus {
	session.mutex.Lock()
	defer session.mutex.Unlock()

	status := QueueStatus{
		Processing: session.processing,
		Pending:    make([]Task, 0, len(session.pending)),
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

// CancelCurrent asks the agent to abandon the running task. It reports
// whether a task was running. The task still completes through the
// normal path, typically with a "cancelled" outcome.
func (queue *TaskQueue) CancelCurrent(session *Session) (bool, error) {
	session.mutex.Lock()
	running := session.current != nil
	handle := session.handle
	session.mutex.Unlock()

	if !running || handle == nil {
		return false, nil
	}
	if err := handle.CancelCurrentTask(); err != nil {
		return true, fmt.Errorf("cancelling task: %w", err)
	}
	return true, nil
}

// RemovePending drops a queued (not yet running) task. It reports
// whether the task was found.
func (queue *TaskQueue) RemovePending(session *Session, taskID string) bool {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	for index, task := range session.pending {
		if task.ID == taskID {
			session.pending = append(session.pending[:index:index], session.pending[index+1:]...)
			return true
		}
	}
	return false
}

// ClearPending drops every queued task and returns how many there were.
func (queue *TaskQueue) ClearPending(session *Session) int {
	session.mutex.Lock()
	defer session.mutex.Unlock()
	count := len(session.pending)
	session.pending = nil
	return count
}
